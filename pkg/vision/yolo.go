package vision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"gocv.io/x/gocv"
)

// Detection is one object found by the detector.
type Detection struct {
	Label      string
	Confidence float32
	Box        image.Rectangle
}

// DetectorConfig configures a [Detector].
type DetectorConfig struct {
	// ModelPath is a YOLOv8 ONNX export.
	ModelPath string

	// LabelsPath lists one class name per line, in model order.
	LabelsPath string

	// InputSize is the square network input. Default: 640.
	InputSize int

	// ScoreThreshold drops candidates before NMS. Default: 0.25.
	ScoreThreshold float32

	// NMSThreshold is the IoU threshold for non-maximum suppression.
	// Default: 0.45.
	NMSThreshold float32
}

// Detector runs a YOLOv8 model. It is not safe for concurrent use.
type Detector struct {
	net    gocv.Net
	labels []string
	cfg    DetectorConfig
}

// NewDetector loads the model and the class names.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.25
	}
	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = 0.45
	}

	labels, err := readLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("vision: load model %q", cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("vision: set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("vision: set target: %w", err)
	}

	return &Detector{net: net, labels: labels, cfg: cfg}, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	return d.net.Close()
}

// Detect runs the network on frame and returns the detections surviving NMS.
func (d *Detector) Detect(ctx context.Context, frame *Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil || frame.mat.Empty() {
		return nil, errors.New("vision: empty frame")
	}

	size := d.cfg.InputSize
	blob := gocv.BlobFromImage(frame.mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	// YOLOv8 output is [1, 4+classes, candidates]: cx, cy, w, h then one
	// score per class, stored channel-major.
	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("vision: unexpected output shape %v", dims)
	}
	rows, candidates := dims[1], dims[2]
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("vision: read output: %w", err)
	}
	if len(data) < rows*candidates {
		return nil, fmt.Errorf("vision: short output: %d values", len(data))
	}

	sx := float32(frame.mat.Cols()) / float32(size)
	sy := float32(frame.mat.Rows()) / float32(size)

	var (
		boxes   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < candidates; i++ {
		best, class := float32(0), -1
		for c := 4; c < rows; c++ {
			if s := data[c*candidates+i]; s > best {
				best, class = s, c-4
			}
		}
		if class < 0 || best < d.cfg.ScoreThreshold {
			continue
		}
		cx, cy := data[i]*sx, data[candidates+i]*sy
		w, h := data[2*candidates+i]*sx, data[3*candidates+i]*sy
		boxes = append(boxes, image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
		scores = append(scores, best)
		classes = append(classes, class)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, d.cfg.ScoreThreshold, d.cfg.NMSThreshold)
	dets := make([]Detection, 0, len(keep))
	for _, k := range keep {
		dets = append(dets, Detection{
			Label:      d.label(classes[k]),
			Confidence: scores[k],
			Box:        boxes[k],
		})
	}
	return dets, nil
}

func (d *Detector) label(class int) string {
	if class >= 0 && class < len(d.labels) {
		return d.labels[class]
	}
	return fmt.Sprintf("class_%d", class)
}

func readLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vision: open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vision: read labels: %w", err)
	}
	return labels, nil
}
