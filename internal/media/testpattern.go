package media

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TestPatternName is the device name that selects the synthetic device.
const TestPatternName = "testpattern"

// TestPattern is a synthetic camera producing moving colour bars.
type TestPattern struct {
	Width  int
	Height int
	FPS    int
}

// NewTestPattern returns a 320x240 pattern at 15 frames per second.
func NewTestPattern() *TestPattern {
	return &TestPattern{Width: 320, Height: 240, FPS: 15}
}

// Name implements Device.
func (p *TestPattern) Name() string {
	return TestPatternName
}

// Open implements Device. The stream runs until closed or ctx is done.
func (p *TestPattern) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DeviceError{Device: p.Name(), Op: "open", Err: err}
	}
	fps := p.FPS
	if fps <= 0 {
		fps = 15
	}
	s := &patternStream{
		frames: make(chan Frame, 1),
		stop:   make(chan struct{}),
	}
	go s.run(ctx, p.Width, p.Height, time.Second/time.Duration(fps))
	return s, nil
}

type patternStream struct {
	frames chan Frame
	stop   chan struct{}
	once   sync.Once
}

func (s *patternStream) Frames() <-chan Frame {
	return s.frames
}

func (s *patternStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *patternStream) run(ctx context.Context, w, h int, interval time.Duration) {
	defer close(s.frames)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			seq++
			f := Frame{
				Seq:       seq,
				Timestamp: now,
				TraceID:   uuid.New(),
				Image:     colourBars(w, h, int(seq)),
			}
			select {
			case s.frames <- f:
			case <-s.stop:
				return
			default:
				// Consumer is behind; drop the frame like a live camera would.
			}
		}
	}
}

var barColours = [][3]uint8{
	{255, 255, 255}, {255, 255, 0}, {0, 255, 255}, {0, 255, 0},
	{255, 0, 255}, {255, 0, 0}, {0, 0, 255}, {0, 0, 0},
}

// colourBars draws vertical bars shifted by offset pixels.
func colourBars(w, h, offset int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if w <= 0 {
		return img
	}
	bar := w / len(barColours)
	if bar == 0 {
		bar = 1
	}
	for x := 0; x < w; x++ {
		c := barColours[((x+offset)/bar)%len(barColours)]
		for y := 0; y < h; y++ {
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c[0], c[1], c[2], 255
		}
	}
	return img
}
