// Package vision wraps the OpenCV pieces of the pipeline: stereo capture,
// rectification maps and the ONNX detectors.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

var ErrCaptureFailed = errors.New("vision: camera returned no frame")

// CameraConfig selects the two capture devices. A zero Width or Height
// keeps the driver default.
type CameraConfig struct {
	Left   int
	Right  int
	Width  int
	Height int
}

// StereoCamera grabs a frame from each of two capture devices.
type StereoCamera struct {
	mu    sync.Mutex
	left  *gocv.VideoCapture
	right *gocv.VideoCapture
	lmat  gocv.Mat
	rmat  gocv.Mat
}

// OpenStereoCamera opens both devices. On error nothing is left open.
func OpenStereoCamera(cfg CameraConfig) (*StereoCamera, error) {
	left, err := openDevice(cfg.Left, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	right, err := openDevice(cfg.Right, cfg.Width, cfg.Height)
	if err != nil {
		left.Close()
		return nil, err
	}
	diagf("opened cameras %d and %d", cfg.Left, cfg.Right)
	return &StereoCamera{
		left:  left,
		right: right,
		lmat:  gocv.NewMat(),
		rmat:  gocv.NewMat(),
	}, nil
}

func openDevice(id, width, height int) (*gocv.VideoCapture, error) {
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", id, err)
	}
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	// keep only the newest frame so each iteration sees the present
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return vc, nil
}

// Next reads one frame from each camera. The images are copies and stay
// valid after the next call.
func (c *StereoCamera) Next(ctx context.Context) (image.Image, image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if ok := c.left.Read(&c.lmat); !ok || c.lmat.Empty() {
		return nil, nil, fmt.Errorf("%w: left", ErrCaptureFailed)
	}
	if ok := c.right.Read(&c.rmat); !ok || c.rmat.Empty() {
		return nil, nil, fmt.Errorf("%w: right", ErrCaptureFailed)
	}
	left, err := c.lmat.ToImage()
	if err != nil {
		return nil, nil, fmt.Errorf("left frame: %w", err)
	}
	right, err := c.rmat.ToImage()
	if err != nil {
		return nil, nil, fmt.Errorf("right frame: %w", err)
	}
	return left, right, nil
}

// Close releases both devices.
func (c *StereoCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lmat.Close()
	c.rmat.Close()
	return errors.Join(c.left.Close(), c.right.Close())
}
