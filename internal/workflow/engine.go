// Package workflow implements the caption workflow: select an image, ask the
// captioning service for captions, then bake a chosen caption and filter into
// a meme. The engine is a state machine
//
//	Idle → Uploading → {Ready, Error}
//	Idle/Ready/Error → Finalizing → {Ready, Error}
//	Error → Uploading (manual retry)
//
// reset only by SelectImage. Requests run on their own goroutines and are
// tagged with the image generation they were issued for; a response whose
// generation is no longer current is dropped, so a slow answer for an old
// image never overwrites the state of a newer one.
package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/meme-studio/internal/asset"
	"github.com/fpang/meme-studio/internal/meme"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("workflow: engine closed")

// CaptionGenerator produces captions for an image.
type CaptionGenerator interface {
	GenerateCaptions(ctx context.Context, img meme.Upload) (meme.CaptionSet, error)
}

// MemeFinalizer renders a caption and filter into an image.
type MemeFinalizer interface {
	FinalizeMeme(ctx context.Context, req meme.FinalizeRequest) (meme.FinalizedImage, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithPreviews registers selected images with reg so the view can fetch them.
// Without a registry, snapshots carry no preview until a meme is finalized.
func WithPreviews(reg *asset.Registry) Option {
	return func(e *Engine) { e.previews = reg }
}

// WithContext sets the context requests are issued with. Requests are not
// cancelled by later operations; the transport timeout bounds them.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) { e.ctx = ctx }
}

// Engine owns the selected image and the workflow state. All methods are
// safe for concurrent use.
type Engine struct {
	generator CaptionGenerator
	finalizer MemeFinalizer
	previews  *asset.Registry
	ctx       context.Context

	mu         sync.Mutex
	closed     bool
	seq        uint64
	generation uint64
	image      *asset.Asset
	handle     *asset.Handle
	preview    string
	state      Kind
	captions   meme.CaptionSet
	selected   string
	filter     meme.Filter
	message    string
	result     *meme.FinalizedImage

	inflight sync.WaitGroup
	notify   *dispatcher
}

// New creates an engine that generates captions with gen and finalizes memes with fin.
func New(gen CaptionGenerator, fin MemeFinalizer, opts ...Option) *Engine {
	e := &Engine{
		generator: gen,
		finalizer: fin,
		ctx:       context.Background(),
		captions:  meme.NewCaptionSet(nil, nil, ""),
		notify:    newDispatcher(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Updates delivers every committed transition in order. The channel has a
// single intended consumer (the view) and is closed by Close.
func (e *Engine) Updates() <-chan Snapshot {
	return e.notify.out
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Meme returns the most recent finalized image for the current selection.
func (e *Engine) Meme() (meme.FinalizedImage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return meme.FinalizedImage{}, false
	}
	return *e.result, true
}

// SelectImage replaces the current image, starts a new generation and
// resets the workflow to Idle. The previous preview handle is released.
// An empty payload returns meme.ErrNoImageSelected and changes nothing.
func (e *Engine) SelectImage(name string, data []byte) error {
	img, err := asset.New(name, data)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	prev := e.handle
	e.generation++
	e.image = img
	e.handle = nil
	e.preview = ""
	if e.previews != nil {
		e.handle = e.previews.Create(img.Data, img.MIMEType)
		e.preview = e.handle.URL()
	}
	prev.Release()

	e.state = StateIdle
	e.captions = meme.NewCaptionSet(nil, nil, "")
	e.selected = ""
	e.message = ""
	e.result = nil

	log.Info().
		Uint64("generation", e.generation).
		Str("name", img.Name).
		Int("size", len(img.Data)).
		Msg("Image selected")
	e.commitLocked()
	return nil
}

// SetFilter selects the filter used by the next Finalize.
func (e *Engine) SetFilter(name string) error {
	f, err := meme.ParseFilter(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.filter == f {
		return nil
	}
	e.filter = f
	log.Debug().Str("filter", f.String()).Msg("Filter selected")
	e.commitLocked()
	return nil
}

// RequestCaptions asks the service for captions for the current image.
// It returns meme.ErrNoImageSelected without any network call when no image
// is set. While a request is already running it does nothing. Failures move
// the workflow to StateError; calling RequestCaptions again retries.
func (e *Engine) RequestCaptions() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.image == nil {
		return meme.ErrNoImageSelected
	}
	if e.state.Busy() {
		log.Debug().Str("state", e.state.String()).Msg("Caption request ignored, request already in flight")
		return nil
	}

	e.state = StateUploading
	e.message = ""
	e.commitLocked()

	gen := e.generation
	upload := e.image.Upload()
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		cs, err := e.generator.GenerateCaptions(e.ctx, upload)
		e.completeCaptions(gen, cs, err)
	}()
	return nil
}

// Finalize renders caption with the active filter onto the current image.
// It returns meme.ErrNoImageSelected without any network call when no image
// is set, and does nothing while another request is running. On success the
// preview points at the rendered meme and the captions stay available; on
// failure the captions, filter and preview are kept.
func (e *Engine) Finalize(caption string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.image == nil {
		return meme.ErrNoImageSelected
	}
	if e.state.Busy() {
		log.Debug().Str("state", e.state.String()).Msg("Finalize ignored, request already in flight")
		return nil
	}

	e.state = StateFinalizing
	e.selected = caption
	e.message = ""
	e.commitLocked()

	gen := e.generation
	req := meme.FinalizeRequest{
		Image:    e.image.Upload(),
		Text:     caption,
		Position: meme.PositionBottom,
		Filter:   e.filter,
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		img, err := e.finalizer.FinalizeMeme(e.ctx, req)
		e.completeFinalize(gen, img, err)
	}()
	return nil
}

// Wait blocks until every request issued so far has completed and been
// applied or dropped.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Close releases the preview handle and stops delivering updates. Requests
// still in flight complete in the background and are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.handle.Release()
	e.handle = nil
	e.mu.Unlock()

	e.notify.close()
}

func (e *Engine) completeCaptions(gen uint64, cs meme.CaptionSet, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(gen, StateUploading) {
		log.Debug().
			Uint64("generation", gen).
			Uint64("current", e.generation).
			Msg("Dropping stale caption response")
		return
	}

	if err != nil {
		log.Error().Err(err).Uint64("generation", gen).Msg("Caption generation failed")
		e.state = StateError
		e.message = MsgCaptionsFailed
		e.commitLocked()
		return
	}

	e.captions = cs.Clone()
	e.state = StateReady
	e.commitLocked()
}

func (e *Engine) completeFinalize(gen uint64, img meme.FinalizedImage, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(gen, StateFinalizing) {
		log.Debug().
			Uint64("generation", gen).
			Uint64("current", e.generation).
			Msg("Dropping stale finalize response")
		return
	}

	if err != nil {
		log.Error().Err(err).Uint64("generation", gen).Msg("Meme finalization failed")
		e.state = StateError
		e.message = MsgFinalizeFailed
		e.commitLocked()
		return
	}

	e.handle.Release()
	e.handle = nil
	e.preview = img.DataURI()
	e.result = &img
	e.state = StateReady
	e.commitLocked()
}

// currentLocked reports whether a completion for gen may be applied.
func (e *Engine) currentLocked(gen uint64, want Kind) bool {
	return !e.closed && gen == e.generation && e.state == want
}

func (e *Engine) commitLocked() {
	e.seq++
	s := e.snapshotLocked()
	log.Debug().
		Uint64("seq", s.Seq).
		Uint64("generation", s.Generation).
		Str("state", s.State.String()).
		Msg("Workflow transition")
	e.notify.push(s)
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		Seq:             e.seq,
		Generation:      e.generation,
		State:           e.state,
		HasImage:        e.image != nil,
		Preview:         e.preview,
		Captions:        e.captions.Clone(),
		SelectedCaption: e.selected,
		Filter:          e.filter,
		Message:         e.message,
	}
	if e.image != nil {
		s.ImageName = e.image.Name
	}
	return s
}
