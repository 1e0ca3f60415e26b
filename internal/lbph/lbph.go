// Package lbph implements a Local Binary Patterns Histograms face
// signature model: every training sample is reduced to a spatial histogram
// of circular LBP codes and a probe is classified by its nearest stored
// histogram under the chi-square distance.
package lbph

import (
	"fmt"
	"image"
	"math"

	"github.com/your-org/faceid/internal/faceerr"
)

// Params controls the LBP operator and the spatial grid.
type Params struct {
	Radius    int
	Neighbors int
	GridX     int
	GridY     int
}

// DefaultParams matches the classic LBPH face recognizer defaults.
func DefaultParams() Params {
	return Params{Radius: 1, Neighbors: 8, GridX: 8, GridY: 8}
}

func (p Params) validate() error {
	if p.Radius < 1 {
		return fmt.Errorf("lbph: radius must be >= 1, got %d", p.Radius)
	}
	if p.Neighbors < 1 || p.Neighbors > 16 {
		return fmt.Errorf("lbph: neighbors must be in [1,16], got %d", p.Neighbors)
	}
	if p.GridX < 1 || p.GridY < 1 {
		return fmt.Errorf("lbph: grid must be at least 1x1, got %dx%d", p.GridX, p.GridY)
	}
	return nil
}

// bins is the number of distinct LBP codes.
func (p Params) bins() int {
	return 1 << p.Neighbors
}

// SignatureLen is the length of one spatial histogram.
func (p Params) SignatureLen() int {
	return p.GridX * p.GridY * p.bins()
}

// MinSize returns the smallest face crop (width, height) these params accept.
func (p Params) MinSize() (int, int) {
	return p.GridX + 2*p.Radius, p.GridY + 2*p.Radius
}

// Signature computes the spatial LBP histogram of a grayscale face.
func Signature(face *image.Gray, p Params) ([]float32, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if face == nil {
		return nil, fmt.Errorf("lbph: nil face")
	}
	b := face.Bounds()
	minW, minH := p.MinSize()
	if b.Dx() < minW || b.Dy() < minH {
		return nil, fmt.Errorf("lbph: face %dx%d below %dx%d: %w", b.Dx(), b.Dy(), minW, minH, faceerr.ErrFaceTooSmall)
	}

	codes, w, h := elbp(face, p.Radius, p.Neighbors)
	return spatialHistogram(codes, w, h, p), nil
}

// elbp computes extended (circular) LBP codes with bilinear interpolation.
// The result is (w-2r) x (h-2r), row-major.
func elbp(src *image.Gray, radius, neighbors int) ([]uint32, int, int) {
	b := src.Bounds()
	rows, cols := b.Dy(), b.Dx()
	outW, outH := cols-2*radius, rows-2*radius
	dst := make([]uint32, outW*outH)

	// coordinates are relative to the bounds origin, which is how Pix is laid out
	at := func(y, x int) float64 {
		return float64(src.Pix[y*src.Stride+x])
	}

	const eps = 1.1920929e-07 // float32 machine epsilon
	for n := 0; n < neighbors; n++ {
		angle := 2.0 * math.Pi * float64(n) / float64(neighbors)
		x := float64(radius) * math.Cos(angle)
		y := -float64(radius) * math.Sin(angle)

		fx, fy := int(math.Floor(x)), int(math.Floor(y))
		cx, cy := int(math.Ceil(x)), int(math.Ceil(y))
		ty := y - float64(fy)
		tx := x - float64(fx)

		w1 := (1 - tx) * (1 - ty)
		w2 := tx * (1 - ty)
		w3 := (1 - tx) * ty
		w4 := tx * ty

		for i := radius; i < rows-radius; i++ {
			for j := radius; j < cols-radius; j++ {
				t := w1*at(i+fy, j+fx) + w2*at(i+fy, j+cx) + w3*at(i+cy, j+fx) + w4*at(i+cy, j+cx)
				c := at(i, j)
				if t > c || math.Abs(t-c) < eps {
					dst[(i-radius)*outW+(j-radius)] += 1 << uint(n)
				}
			}
		}
	}
	return dst, outW, outH
}

// spatialHistogram splits the code image into GridX x GridY cells and
// concatenates one normalized histogram per cell.
func spatialHistogram(codes []uint32, w, h int, p Params) []float32 {
	bins := p.bins()
	cellW := w / p.GridX
	cellH := h / p.GridY
	out := make([]float32, p.SignatureLen())

	for gy := 0; gy < p.GridY; gy++ {
		for gx := 0; gx < p.GridX; gx++ {
			hist := out[(gy*p.GridX+gx)*bins : (gy*p.GridX+gx+1)*bins]
			for y := gy * cellH; y < (gy+1)*cellH; y++ {
				row := codes[y*w : (y+1)*w]
				for x := gx * cellW; x < (gx+1)*cellW; x++ {
					hist[row[x]]++
				}
			}
			total := float32(cellW * cellH)
			for i := range hist {
				hist[i] /= total
			}
		}
	}
	return out
}

// ChiSquare returns the alternative chi-square distance between two
// histograms: sum(2*(a-b)^2/(a+b)).
func ChiSquare(a, b []float32) float64 {
	var sum float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		s := x + y
		if math.Abs(s) > math.SmallestNonzeroFloat64 {
			d := x - y
			sum += 2 * d * d / s
		}
	}
	return sum
}
