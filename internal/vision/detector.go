package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/vision/yolo"
)

// DetectorConfig describes one ONNX detection model.
type DetectorConfig struct {
	ModelPath  string
	InputSize  int
	Confidence float32
	NMS        float32
	// Labels maps class ids to names. Ignored when Label is set.
	Labels []string
	// Label, when set, names every detection regardless of class.
	Label string
	// Clip bounds boxes to the frame.
	Clip bool
}

// ObjectDetectorConfig is the general COCO model as run in the field:
// 320 px input, boxes scaled back to the frame.
func ObjectDetectorConfig(path string, confidence float64, inputSize int) DetectorConfig {
	return DetectorConfig{
		ModelPath:  path,
		InputSize:  inputSize,
		Confidence: float32(confidence),
		NMS:        0.45,
		Labels:     yolo.COCO,
	}
}

// CrosswalkDetectorConfig is the single-class crosswalk model.
func CrosswalkDetectorConfig(path string, confidence float64, inputSize int) DetectorConfig {
	return DetectorConfig{
		ModelPath:  path,
		InputSize:  inputSize,
		Confidence: float32(confidence),
		NMS:        0.45,
		Label:      fusion.CrosswalkLabel,
		Clip:       true,
	}
}

// Detector runs a YOLO-family ONNX model through OpenCV's DNN module.
type Detector struct {
	mu  sync.Mutex
	net gocv.Net
	cfg DetectorConfig
}

// NewDetector loads the model at cfg.ModelPath.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("vision: input size %d", cfg.InputSize)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	diagf("loaded %s (input %d, conf %.2f)", cfg.ModelPath, cfg.InputSize, cfg.Confidence)
	return &Detector{net: net, cfg: cfg}, nil
}

// Detect returns the detections in img, boxes in img's pixel coordinates.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]fusion.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer src.Close()
	if src.Empty() {
		return nil, fmt.Errorf("vision: empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	start := time.Now()

	size := image.Pt(d.cfg.InputSize, d.cfg.InputSize)
	blob := gocv.BlobFromImage(src, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	cands, err := yolo.Decode(data, out.Size(), d.cfg.Confidence, yolo.Geometry{
		InputSize:   d.cfg.InputSize,
		ImageWidth:  src.Cols(),
		ImageHeight: src.Rows(),
		Clip:        d.cfg.Clip,
	})
	if err != nil {
		return nil, err
	}
	dets := d.suppress(cands)
	tracef("%s: %d candidates, %d kept in %v", d.name(), len(cands), len(dets), time.Since(start))
	return dets, nil
}

func (d *Detector) suppress(cands []yolo.Candidate) []fusion.Detection {
	if len(cands) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = image.Rect(c.X1, c.Y1, c.X2, c.Y2)
		scores[i] = c.Score
	}
	keep := gocv.NMSBoxes(boxes, scores, d.cfg.Confidence, d.cfg.NMS)

	dets := make([]fusion.Detection, 0, len(keep))
	for _, i := range keep {
		c := cands[i]
		label := d.cfg.Label
		if label == "" {
			label = yolo.Label(d.cfg.Labels, c.Class)
		}
		dets = append(dets, fusion.Detection{
			Label:      label,
			Confidence: float64(c.Score),
			Box:        fusion.Box{X1: c.X1, Y1: c.Y1, X2: c.X2, Y2: c.Y2},
		})
	}
	return dets
}

func (d *Detector) name() string {
	if d.cfg.Label != "" {
		return d.cfg.Label
	}
	return "objects"
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
