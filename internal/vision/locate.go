package vision

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/your-org/faceid/internal/faceerr"
)

// Detector finds candidate face rectangles in a decoded image.
type Detector interface {
	Detect(buf *PixelBuffer) ([]image.Rectangle, error)
	Close() error
}

// Locator applies the single-face policy on top of a Detector and returns
// the grayscale face crop.
type Locator struct {
	det           Detector
	minFaceSize   int
	normalizeSize int
}

// NewLocator wraps det. Crops smaller than minFaceSize on either side are
// rejected. When normalizeSize > 0 every crop is resized to a square of
// that side; 0 keeps the native detection size.
func NewLocator(det Detector, minFaceSize, normalizeSize int) *Locator {
	return &Locator{det: det, minFaceSize: minFaceSize, normalizeSize: normalizeSize}
}

// Locate returns the only face in buf.
func (l *Locator) Locate(buf *PixelBuffer) (*image.Gray, error) {
	rects, err := l.det.Detect(buf)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	switch len(rects) {
	case 0:
		return nil, faceerr.ErrNoFaceDetected
	case 1:
	default:
		return nil, fmt.Errorf("%w (%d found)", faceerr.ErrAmbiguousFace, len(rects))
	}

	r := rects[0].Intersect(buf.Bounds())
	if r.Empty() {
		return nil, faceerr.ErrNoFaceDetected
	}
	if r.Dx() < l.minFaceSize || r.Dy() < l.minFaceSize {
		return nil, fmt.Errorf("%w: %dx%d, need %d", faceerr.ErrFaceTooSmall, r.Dx(), r.Dy(), l.minFaceSize)
	}

	face := cropGray(buf.Gray(), r)
	if l.normalizeSize > 0 {
		face = grayFromNRGBA(imaging.Resize(face, l.normalizeSize, l.normalizeSize, imaging.Linear))
	}
	return face, nil
}

func (l *Locator) Close() error {
	return l.det.Close()
}

// cropGray copies r out of g into a new image anchored at (0,0).
func cropGray(g *image.Gray, r image.Rectangle) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		src := g.Pix[g.PixOffset(r.Min.X, r.Min.Y+y):]
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], src[:r.Dx()])
	}
	return out
}

func grayFromNRGBA(src *image.NRGBA) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = row[4*x]
		}
	}
	return out
}
