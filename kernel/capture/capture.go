// Package capture prepares raw screen captures for upload: decode,
// downscale oversized frames, re-encode as PNG.
package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// DefaultMaxDim bounds the longer capture edge; larger frames are scaled
// down before upload to keep request sizes sane.
const DefaultMaxDim = 1568

// Prepare decodes raw capture bytes and returns PNG bytes, scaled down
// with Catmull-Rom resampling when the longer edge exceeds maxDim.
// maxDim <= 0 applies DefaultMaxDim.
func Prepare(raw []byte, maxDim int) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("capture: empty image")
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("capture: decode image: %w", err)
	}
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longer := max(width, height)
	if longer <= maxDim {
		if format == "png" {
			return raw, nil
		}
		return encodePNG(src)
	}
	scale := float64(maxDim) / float64(longer)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(width)*scale), int(float64(height)*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return encodePNG(dst)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("capture: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
