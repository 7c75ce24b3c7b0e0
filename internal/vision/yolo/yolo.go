// Package yolo decodes raw YOLOv8/YOLO11 detection heads into boxes in
// source-image pixels. It has no OpenCV dependency so it can be tested on
// any host; the gocv detectors in internal/vision feed it tensor data.
package yolo

import "fmt"

// Candidate is one anchor that cleared the confidence threshold, before
// non-maximum suppression.
type Candidate struct {
	X1, Y1, X2, Y2 int
	Score          float32
	Class          int
}

// Width and Height return the box extent in pixels.
func (c Candidate) Width() int  { return c.X2 - c.X1 }
func (c Candidate) Height() int { return c.Y2 - c.Y1 }

// Geometry maps model-input coordinates back to the source frame.
type Geometry struct {
	InputSize   int // square model input, e.g. 320 or 512
	ImageWidth  int
	ImageHeight int
	// Clip bounds boxes to [0, W-1] x [0, H-1].
	Clip bool
}

// Decode walks a [1, 4+classes, anchors] head laid out channel-major, as
// produced by the Ultralytics ONNX export. Single-class heads (5 channels)
// use channel 4 as the score.
func Decode(data []float32, dims []int, minScore float32, g Geometry) ([]Candidate, error) {
	channels, anchors, err := shape(dims)
	if err != nil {
		return nil, err
	}
	if len(data) < channels*anchors {
		return nil, fmt.Errorf("yolo: %d values for %dx%d head", len(data), channels, anchors)
	}
	if g.InputSize <= 0 || g.ImageWidth <= 0 || g.ImageHeight <= 0 {
		return nil, fmt.Errorf("yolo: bad geometry %+v", g)
	}

	sx := float64(g.ImageWidth) / float64(g.InputSize)
	sy := float64(g.ImageHeight) / float64(g.InputSize)

	var out []Candidate
	for i := 0; i < anchors; i++ {
		best, class := float32(0), 0
		for c := 4; c < channels; c++ {
			if s := data[c*anchors+i]; s > best {
				best, class = s, c-4
			}
		}
		if best < minScore {
			continue
		}
		cx := float64(data[i])
		cy := float64(data[anchors+i])
		w := float64(data[2*anchors+i])
		h := float64(data[3*anchors+i])

		c := Candidate{
			X1:    int((cx - w/2) * sx),
			Y1:    int((cy - h/2) * sy),
			X2:    int((cx + w/2) * sx),
			Y2:    int((cy + h/2) * sy),
			Score: best,
			Class: class,
		}
		if g.Clip {
			c.X1, c.Y1 = max(c.X1, 0), max(c.Y1, 0)
			c.X2, c.Y2 = min(c.X2, g.ImageWidth-1), min(c.Y2, g.ImageHeight-1)
		}
		out = append(out, c)
	}
	return out, nil
}

func shape(dims []int) (channels, anchors int, err error) {
	switch len(dims) {
	case 3:
		if dims[0] != 1 {
			return 0, 0, fmt.Errorf("yolo: batch %d not supported", dims[0])
		}
		channels, anchors = dims[1], dims[2]
	case 2:
		channels, anchors = dims[0], dims[1]
	default:
		return 0, 0, fmt.Errorf("yolo: unexpected output dims %v", dims)
	}
	if channels < 5 || anchors <= 0 {
		return 0, 0, fmt.Errorf("yolo: unexpected output dims %v", dims)
	}
	return channels, anchors, nil
}

// Label returns names[class], or "class N" when the model has more classes
// than names.
func Label(names []string, class int) string {
	if class >= 0 && class < len(names) {
		return names[class]
	}
	return fmt.Sprintf("class %d", class)
}

// COCO holds the 80 class names YOLOv8 and YOLO11 are trained on.
var COCO = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
