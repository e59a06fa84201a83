package media

import (
	"fmt"
	"image"
)

// Transform is a per-frame geometric transform.
type Transform int

const (
	// Identity passes frames through unchanged.
	Identity Transform = iota
	// MirrorX flips frames horizontally, the way a front camera preview is shown.
	MirrorX
)

func (t Transform) String() string {
	switch t {
	case Identity:
		return "identity"
	case MirrorX:
		return "mirror-x"
	default:
		return fmt.Sprintf("Transform(%d)", int(t))
	}
}

// Apply returns the transformed image. src is never modified.
func (t Transform) Apply(src *image.RGBA) *image.RGBA {
	if t != MirrorX || src == nil {
		return src
	}
	b := src.Rect
	dst := image.NewRGBA(b)
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+w*4]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w; x++ {
			copy(drow[(w-1-x)*4:(w-x)*4], srow[x*4:x*4+4])
		}
	}
	return dst
}
