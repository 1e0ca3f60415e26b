package vision

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// candidate is one scored box in original image coordinates.
type candidate struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// RetinaDetector runs the RetinaFace det_10g model through ONNX Runtime.
// A session owns fixed input/output tensors, so Detect calls are serialized.
type RetinaDetector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	nmsThreshold  float32
	inputW        int
	inputH        int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// NewRetinaDetector loads the det_10g ONNX model. The ONNX Runtime
// environment must already be initialized. opts may be nil.
func NewRetinaDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*RetinaDetector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// scores, then boxes, per stride 8/16/32; landmark heads are not bound
	outputs := []struct {
		name  string
		shape ort.Shape
	}{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	for i, out := range outputs {
		t, err := ort.NewEmptyTensor[float32](out.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, out.name, err)
		}
		outputNames[i] = out.name
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &RetinaDetector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		nmsThreshold:  0.4,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect implements Detector.
func (d *RetinaDetector) Detect(buf *PixelBuffer) ([]image.Rectangle, error) {
	input := imageToFloat32CHW(buf, d.inputW, d.inputH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})

	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	outputs := make([][]float32, len(d.outputTensors))
	for i, t := range d.outputTensors {
		outputs[i] = t.GetData()
	}
	return d.faces(outputs, buf.Width, buf.Height), nil
}

// faces turns raw head outputs into suppressed face rectangles in
// original image coordinates.
func (d *RetinaDetector) faces(outputs [][]float32, origW, origH int) []image.Rectangle {
	cands := decodeAnchors(outputs, d.inputW, d.inputH, origW, origH, d.threshold)
	cands = nms(cands, d.nmsThreshold)
	rects := make([]image.Rectangle, 0, len(cands))
	for _, c := range cands {
		rects = append(rects, image.Rect(int(c.BBox[0]), int(c.BBox[1]), int(c.BBox[2]), int(c.BBox[3])))
	}
	return rects
}

// decodeAnchors decodes anchor-based outputs at strides 8, 16, 32.
// outputs holds the score heads followed by the box heads, one per stride.
// Box offsets are distances from the anchor centre in stride units.
func decodeAnchors(outputs [][]float32, inputW, inputH, origW, origH int, threshold float32) []candidate {
	var out []candidate

	scaleW := float32(origW) / float32(inputW)
	scaleH := float32(origH) / float32(inputH)

	for si, stride := range strides {
		scores := outputs[si]
		boxes := outputs[si+len(strides)]

		fmW := inputW / stride
		fmH := inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if score := scores[idx]; score >= threshold {
						ax := float32(cx) * st
						ay := float32(cy) * st
						out = append(out, candidate{
							BBox: [4]float32{
								clampF((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
								clampF((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
								clampF((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
								clampF((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
							},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *RetinaDetector) Close() error {
	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			return err
		}
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
	return nil
}

// nms performs Non-Maximum Suppression, highest confidence first.
func nms(cands []candidate, iouThreshold float32) []candidate {
	if len(cands) == 0 {
		return cands
	}

	sort.Slice(cands, func(i, j int) bool {
		return cands[i].Confidence > cands[j].Confidence
	})

	keep := make([]bool, len(cands))
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < len(cands); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if keep[j] && iou(cands[i].BBox, cands[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []candidate
	for i, c := range cands {
		if keep[i] {
			result = append(result, c)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
