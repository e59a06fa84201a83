// Package local is a lens engine that runs on the CPU in-process. Lenses are
// simple per-frame image effects described by a TOML catalog; the default
// catalog is embedded.
package local

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/fpang/meme-studio/internal/lens"
	"github.com/fpang/meme-studio/internal/media"
)

// ErrUnauthorized is returned by the bootstrap when no credential is given.
var ErrUnauthorized = errors.New("lens engine: missing credential")

// Engine implements lens.Engine over a Catalog.
type Engine struct {
	catalog *Catalog
}

// NewBootstrap returns a lens.Bootstrap serving cat. A nil cat uses the
// embedded catalog.
func NewBootstrap(cat *Catalog) lens.Bootstrap {
	return func(ctx context.Context, token string) (lens.Engine, error) {
		if token == "" {
			return nil, ErrUnauthorized
		}
		c := cat
		if c == nil {
			var err error
			if c, err = DefaultCatalog(); err != nil {
				return nil, err
			}
		}
		log.Debug().Int("groups", len(c.Groups)).Msg("Local lens engine ready")
		return &Engine{catalog: c}, nil
	}
}

// NewProcessor implements lens.Engine.
func (e *Engine) NewProcessor(ctx context.Context) (lens.Processor, error) {
	return &Processor{
		catalog: e.catalog,
		out:     make(chan media.Frame, 1),
		done:    make(chan struct{}),
	}, nil
}

// LoadLensGroups implements lens.Engine.
func (e *Engine) LoadLensGroups(ctx context.Context, groupIDs ...string) ([]lens.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.catalog.Entries(groupIDs...)
}

type activeLens struct {
	id     string
	effect effect
}

// Processor applies the active lens to every frame of its source. The lens
// can be swapped at any time; the next frame uses it.
type Processor struct {
	catalog *Catalog

	mu      sync.Mutex
	source  lens.FrameSource
	playing bool
	closed  bool

	active  atomic.Pointer[activeLens]
	out     chan media.Frame
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// SetSource implements lens.Processor.
func (p *Processor) SetSource(src lens.FrameSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("lens processor closed")
	}
	if p.playing {
		return errors.New("lens processor already playing")
	}
	p.source = src
	return nil
}

// Play implements lens.Processor.
func (p *Processor) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return errors.New("lens processor closed")
	case p.source == nil:
		return errors.New("lens processor has no source")
	case p.playing:
		return nil
	}
	p.playing = true
	p.wg.Add(1)
	go p.run(p.source.Frames())
	return nil
}

// ApplyLens implements lens.Processor.
func (p *Processor) ApplyLens(ctx context.Context, id string) error {
	spec, ok := p.catalog.Lens(id)
	if !ok {
		return fmt.Errorf("unknown lens %s", id)
	}
	fx, err := newEffect(spec)
	if err != nil {
		return err
	}
	p.active.Store(&activeLens{id: id, effect: fx})
	log.Debug().Str("lens", id).Str("effect", spec.Effect).Msg("Lens applied")
	return nil
}

// ActiveLens returns the id of the lens being rendered.
func (p *Processor) ActiveLens() string {
	if a := p.active.Load(); a != nil {
		return a.id
	}
	return ""
}

// Output implements lens.Processor.
func (p *Processor) Output() <-chan media.Frame {
	return p.out
}

// Close implements lens.Processor.
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	playing := p.playing
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	if !playing {
		close(p.out)
	}
	log.Debug().Uint64("dropped", p.dropped.Load()).Msg("Lens processor closed")
	return nil
}

func (p *Processor) run(in <-chan media.Frame) {
	defer p.wg.Done()
	defer close(p.out)
	for {
		select {
		case <-p.done:
			return
		case f, ok := <-in:
			if !ok {
				log.Info().Msg("Lens processor input ended")
				return
			}
			if a := p.active.Load(); a != nil && a.effect != nil && f.Image != nil {
				img := cloneRGBA(f.Image)
				a.effect(img)
				f.Image = img
			}
			select {
			case p.out <- f:
			default:
				p.dropped.Add(1)
			}
		}
	}
}

// cloneRGBA copies src so effects never write to a producer's buffer.
func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}
