// Package thumbnail renders downscaled WebP previews of selected images.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDimension is the maximum width or height of a preview.
const DefaultMaxDimension = 1024

// MIMEType is the content type of every generated thumbnail.
const MIMEType = "image/webp"

// Generate decodes data, scales it to fit within maxDimension while
// preserving the aspect ratio, and encodes the result as lossy WebP.
// Images already within bounds are re-encoded without scaling.
func Generate(data []byte, maxDimension int) ([]byte, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := FitWithin(bounds.Dx(), bounds.Dy(), maxDimension)

	var img image.Image = src
	if w != bounds.Dx() || h != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		img = dst
	}

	opts, err := encoder.NewLossyEncoderOptions(encoder.PresetPhoto, 80)
	if err != nil {
		return nil, fmt.Errorf("failed to build WebP options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail as WebP: %w", err)
	}

	log.Debug().
		Str("source_format", format).
		Int("source_width", bounds.Dx()).
		Int("source_height", bounds.Dy()).
		Int("width", w).
		Int("height", h).
		Int("output_size", buf.Len()).
		Msg("Thumbnail generation complete")

	return buf.Bytes(), nil
}

// FitWithin returns dimensions no larger than maxDimension on either side,
// preserving the aspect ratio. Sizes already within bounds are unchanged.
func FitWithin(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width >= height {
		h := height * maxDimension / width
		return maxDimension, max(h, 1)
	}
	w := width * maxDimension / height
	return max(w, 1), maxDimension
}
