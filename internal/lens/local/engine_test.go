package local

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/fpang/meme-studio/internal/lens"
	"github.com/fpang/meme-studio/internal/media"
)

type chanSource chan media.Frame

func (c chanSource) Frames() <-chan media.Frame { return c }

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("embedded catalog: %v", err)
	}
	entries, err := cat.Entries(lens.DefaultGroupID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("default group should not be empty")
	}
	for _, e := range entries {
		if e.GroupID != lens.DefaultGroupID || e.ID == "" || e.Name == "" {
			t.Errorf("unexpected entry %+v", e)
		}
	}
}

func TestLoadCatalogRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{name: "syntax", toml: "[[groups]\n"},
		{name: "unknown effect", toml: "[[groups]]\nid = \"g\"\n[[groups.lenses]]\nid = \"l\"\neffect = \"sparkle\"\n"},
		{name: "duplicate lens", toml: "[[groups]]\nid = \"g\"\n[[groups.lenses]]\nid = \"l\"\n[[groups.lenses]]\nid = \"l\"\n"},
		{name: "missing group id", toml: "[[groups]]\nname = \"g\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadCatalog(strings.NewReader(tt.toml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBootstrapRequiresToken(t *testing.T) {
	if _, err := NewBootstrap(nil)(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLoadUnknownGroup(t *testing.T) {
	eng, err := NewBootstrap(nil)(context.Background(), "token")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.LoadLensGroups(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown group")
	}
}

func TestProcessorHotSwap(t *testing.T) {
	cat, err := LoadCatalog(strings.NewReader(`
[[groups]]
id = "g"
  [[groups.lenses]]
  id = "gray"
  effect = "grayscale"
  [[groups.lenses]]
  id = "neg"
  effect = "invert"
`))
	if err != nil {
		t.Fatal(err)
	}
	eng, err := NewBootstrap(cat)(context.Background(), "token")
	if err != nil {
		t.Fatal(err)
	}
	proc, err := eng.NewProcessor(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	src := make(chanSource)
	if err := proc.SetSource(src); err != nil {
		t.Fatal(err)
	}
	if err := proc.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := proc.ApplyLens(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown lens")
	}

	next := func(c color.RGBA) color.RGBA {
		t.Helper()
		src <- media.Frame{Image: solid(2, 2, c)}
		select {
		case f := <-proc.Output():
			return f.Image.RGBAAt(0, 0)
		case <-time.After(2 * time.Second):
			t.Fatal("no output frame")
			return color.RGBA{}
		}
	}

	if got := next(color.RGBA{R: 10, G: 20, B: 30, A: 255}); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("no lens should pass frames through, got %v", got)
	}

	if err := proc.ApplyLens(context.Background(), "neg"); err != nil {
		t.Fatal(err)
	}
	if got := next(color.RGBA{R: 10, G: 20, B: 30, A: 255}); got != (color.RGBA{R: 245, G: 235, B: 225, A: 255}) {
		t.Errorf("expected inverted pixel, got %v", got)
	}

	if err := proc.ApplyLens(context.Background(), "gray"); err != nil {
		t.Fatal(err)
	}
	if got := next(color.RGBA{R: 200, G: 200, B: 200, A: 255}); got.R != got.G || got.G != got.B {
		t.Errorf("expected gray pixel, got %v", got)
	}

	if err := proc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := proc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-proc.Output(); ok {
		t.Error("output should be closed")
	}
}

func TestProcessorLeavesSourceFrameUntouched(t *testing.T) {
	cat, err := LoadCatalog(strings.NewReader("[[groups]]\nid = \"g\"\n[[groups.lenses]]\nid = \"neg\"\neffect = \"invert\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	eng, _ := NewBootstrap(cat)(context.Background(), "token")
	proc, _ := eng.NewProcessor(context.Background())
	src := make(chanSource)
	_ = proc.SetSource(src)
	_ = proc.Play(context.Background())
	defer proc.Close()
	if err := proc.ApplyLens(context.Background(), "neg"); err != nil {
		t.Fatal(err)
	}

	in := solid(2, 2, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src <- media.Frame{Image: in}
	select {
	case f := <-proc.Output():
		if got := f.Image.RGBAAt(0, 0); got != (color.RGBA{R: 245, G: 235, B: 225, A: 255}) {
			t.Errorf("expected inverted output, got %v", got)
		}
		if f.Image == in {
			t.Error("output should not share the source buffer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no output frame")
	}
	if got := in.RGBAAt(0, 0); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("source frame was modified: %v", got)
	}
}

func TestProcessorEndsWithSource(t *testing.T) {
	eng, _ := NewBootstrap(nil)(context.Background(), "token")
	proc, _ := eng.NewProcessor(context.Background())
	src := make(chanSource)
	_ = proc.SetSource(src)
	_ = proc.Play(context.Background())
	close(src)

	select {
	case _, ok := <-proc.Output():
		if ok {
			t.Error("expected closed output")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output not closed when source ended")
	}
	_ = proc.Close()
}

func TestProcessorCloseWithoutPlay(t *testing.T) {
	eng, _ := NewBootstrap(nil)(context.Background(), "token")
	proc, _ := eng.NewProcessor(context.Background())
	if err := proc.Play(context.Background()); err == nil {
		t.Error("play without a source should fail")
	}
	if err := proc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-proc.Output(); ok {
		t.Error("output should be closed")
	}
}

func TestControllerWithLocalEngine(t *testing.T) {
	c := lens.NewController(lens.ControllerConfig{
		Device:    &media.TestPattern{Width: 8, Height: 8, FPS: 50},
		Bootstrap: NewBootstrap(nil),
		Token:     "token",
	})
	sess, err := c.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sess.ActiveLensID == "" || sess.ActiveLensID != sess.Lenses[0].ID {
		t.Errorf("expected first lens active, got %+v", sess)
	}

	select {
	case f, ok := <-c.Output():
		if !ok || f.Width() != 8 {
			t.Errorf("unexpected frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no rendered frame")
	}

	if err := c.SwitchLens(context.Background(), sess.Lenses[len(sess.Lenses)-1].ID); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestEffects(t *testing.T) {
	img := solid(4, 4, color.RGBA{R: 100, G: 150, B: 200, A: 255})
	posterize(img, 2)
	if got := img.RGBAAt(0, 0); got.R != 0 || got.G != 255 || got.B != 255 {
		t.Errorf("unexpected posterized pixel %v", got)
	}

	img = solid(4, 4, color.RGBA{A: 255})
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	pixelate(img, 2)
	if got := img.RGBAAt(1, 1); got.R != 255 {
		t.Errorf("pixelate should spread the block colour, got %v", got)
	}
	if got := img.RGBAAt(2, 2); got.R != 0 {
		t.Errorf("pixelate leaked into the next block, got %v", got)
	}

	img = solid(9, 9, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	vignette(img, 0.8)
	if centre, corner := img.RGBAAt(4, 4), img.RGBAAt(0, 0); corner.R >= centre.R {
		t.Errorf("corner %v should be darker than centre %v", corner, centre)
	}

	img = solid(1, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	thermal(img)
	if got := img.RGBAAt(0, 0); got.R != 255 || got.G != 255 || got.B != 0 {
		t.Errorf("white should map to yellow, got %v", got)
	}
}
