package local

import (
	"fmt"
	"image"
	"math"
)

// effect rewrites a frame in place.
type effect func(img *image.RGBA)

func newEffect(s Spec) (effect, error) {
	switch s.Effect {
	case "", "none":
		return nil, nil
	case "grayscale":
		return grayscale, nil
	case "sepia":
		return sepia, nil
	case "invert":
		return invert, nil
	case "pixelate":
		size := s.Size
		if size <= 1 {
			size = 8
		}
		return func(img *image.RGBA) { pixelate(img, size) }, nil
	case "posterize":
		levels := s.Levels
		if levels < 2 {
			levels = 4
		}
		return func(img *image.RGBA) { posterize(img, levels) }, nil
	case "vignette":
		strength := s.Strength
		if strength <= 0 || strength > 1 {
			strength = 0.7
		}
		return func(img *image.RGBA) { vignette(img, strength) }, nil
	case "thermal":
		return thermal, nil
	default:
		return nil, fmt.Errorf("unknown effect %q", s.Effect)
	}
}

func forEachPixel(img *image.RGBA, fn func(p []uint8)) {
	b := img.Rect
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			fn(row[i : i+4])
		}
	}
}

func luma(p []uint8) uint8 {
	return uint8((299*uint32(p[0]) + 587*uint32(p[1]) + 114*uint32(p[2])) / 1000)
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

func grayscale(img *image.RGBA) {
	forEachPixel(img, func(p []uint8) {
		y := luma(p)
		p[0], p[1], p[2] = y, y, y
	})
}

func sepia(img *image.RGBA) {
	forEachPixel(img, func(p []uint8) {
		r, g, b := float64(p[0]), float64(p[1]), float64(p[2])
		p[0] = clamp(0.393*r + 0.769*g + 0.189*b)
		p[1] = clamp(0.349*r + 0.686*g + 0.168*b)
		p[2] = clamp(0.272*r + 0.534*g + 0.131*b)
	})
}

func invert(img *image.RGBA) {
	forEachPixel(img, func(p []uint8) {
		p[0], p[1], p[2] = 255-p[0], 255-p[1], 255-p[2]
	})
}

func posterize(img *image.RGBA, levels int) {
	step := 255 / float64(levels-1)
	q := func(v uint8) uint8 {
		return clamp(math.Round(float64(v)/step) * step)
	}
	forEachPixel(img, func(p []uint8) {
		p[0], p[1], p[2] = q(p[0]), q(p[1]), q(p[2])
	})
}

// pixelate fills each size×size block with its top-left pixel.
func pixelate(img *image.RGBA, size int) {
	b := img.Rect
	for by := b.Min.Y; by < b.Max.Y; by += size {
		for bx := b.Min.X; bx < b.Max.X; bx += size {
			o := img.PixOffset(bx, by)
			c := [4]uint8{img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3]}
			for y := by; y < by+size && y < b.Max.Y; y++ {
				for x := bx; x < bx+size && x < b.Max.X; x++ {
					i := img.PixOffset(x, y)
					copy(img.Pix[i:i+4], c[:])
				}
			}
		}
	}
}

// vignette darkens pixels by their distance from the centre.
func vignette(img *image.RGBA, strength float64) {
	b := img.Rect
	cx := float64(b.Min.X+b.Max.X) / 2
	cy := float64(b.Min.Y+b.Max.Y) / 2
	maxDist := math.Hypot(cx-float64(b.Min.X), cy-float64(b.Min.Y))
	if maxDist == 0 {
		return
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) / maxDist
			f := 1 - strength*d*d
			i := img.PixOffset(x, y)
			img.Pix[i] = clamp(float64(img.Pix[i]) * f)
			img.Pix[i+1] = clamp(float64(img.Pix[i+1]) * f)
			img.Pix[i+2] = clamp(float64(img.Pix[i+2]) * f)
		}
	}
}

// thermal maps brightness onto a blue → red → yellow palette.
func thermal(img *image.RGBA) {
	forEachPixel(img, func(p []uint8) {
		t := float64(luma(p)) / 255
		switch {
		case t < 0.5:
			k := t / 0.5
			p[0], p[1], p[2] = clamp(255*k), 0, clamp(255*(1-k))
		default:
			k := (t - 0.5) / 0.5
			p[0], p[1], p[2] = 255, clamp(255*k), 0
		}
	})
}
