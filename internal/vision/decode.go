package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/your-org/faceid/internal/faceerr"
)

// MaxPixels bounds the decoded size of a single payload.
const MaxPixels = 40_000_000

// Decode turns an encoded image payload (JPEG, PNG, GIF, BMP, TIFF, WebP)
// into an RGB pixel buffer.
func Decode(payload []byte) (*PixelBuffer, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", faceerr.ErrDecode)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faceerr.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s image has no pixels", faceerr.ErrDecode, format)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d %s image exceeds %d pixels",
			faceerr.ErrDecode, cfg.Width, cfg.Height, format, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", faceerr.ErrDecode, format, err)
	}
	return NewPixelBuffer(img), nil
}
