package vision

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// PixelBuffer is a decoded 3-channel image in RGB order, row-major with a
// stride of 3*Width bytes. It implements image.Image.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewPixelBuffer converts any image into an RGB buffer, dropping alpha.
func NewPixelBuffer(img image.Image) *PixelBuffer {
	src := imaging.Clone(img) // *image.NRGBA anchored at (0,0)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	buf := &PixelBuffer{Width: w, Height: h, Pix: make([]uint8, 3*w*h)}
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+4*w]
		dst := buf.Pix[y*3*w : (y+1)*3*w]
		for x := 0; x < w; x++ {
			dst[3*x+0] = row[4*x+0]
			dst[3*x+1] = row[4*x+1]
			dst[3*x+2] = row[4*x+2]
		}
	}
	return buf
}

func (b *PixelBuffer) ColorModel() color.Model { return color.RGBAModel }

func (b *PixelBuffer) Bounds() image.Rectangle { return image.Rect(0, 0, b.Width, b.Height) }

func (b *PixelBuffer) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return color.RGBA{}
	}
	i := 3 * (y*b.Width + x)
	return color.RGBA{R: b.Pix[i], G: b.Pix[i+1], B: b.Pix[i+2], A: 0xff}
}

// Gray returns the single-channel luma image (0.299R + 0.587G + 0.114B).
func (b *PixelBuffer) Gray() *image.Gray {
	return grayFromNRGBA(imaging.Grayscale(b))
}
