// Package haar provides the OpenCV Haar cascade face detector backend.
// It needs OpenCV at build time, so it lives apart from package vision.
package haar

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/your-org/faceid/internal/vision"
)

// Detector runs a multi-scale sliding-window cascade classifier.
type Detector struct {
	mu           sync.Mutex
	classifier   gocv.CascadeClassifier
	scaleFactor  float64
	minNeighbors int
	minSize      image.Point
}

// New loads the cascade XML (e.g. haarcascade_frontalface_default.xml).
func New(cascadePath string, scaleFactor float64, minNeighbors, minFaceSize int) (*Detector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadePath) {
		_ = classifier.Close()
		return nil, fmt.Errorf("load cascade classifier %s", cascadePath)
	}
	return &Detector{
		classifier:   classifier,
		scaleFactor:  scaleFactor,
		minNeighbors: minNeighbors,
		minSize:      image.Pt(minFaceSize, minFaceSize),
	}, nil
}

// Detect implements vision.Detector.
func (d *Detector) Detect(buf *vision.PixelBuffer) ([]image.Rectangle, error) {
	gray, err := gocv.ImageGrayToMatGray(buf.Gray())
	if err != nil {
		return nil, fmt.Errorf("convert to mat: %w", err)
	}
	defer gray.Close()

	// CascadeClassifier is not safe for concurrent use
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.DetectMultiScaleWithParams(gray, d.scaleFactor, d.minNeighbors, 0, d.minSize, image.Point{}), nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
