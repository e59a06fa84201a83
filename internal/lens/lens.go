// Package lens runs a live camera session through a lens engine. The
// Controller acquires a camera, mirrors it, binds it to a lens processor,
// starts playback and loads one catalog group; lenses are then hot-swapped
// on the running processor without touching the camera.
package lens

import (
	"context"
	"errors"

	"github.com/fpang/meme-studio/internal/media"
)

var (
	// ErrCatalogLoad marks a failed catalog load. It never stops a session
	// from playing; the session simply offers no lenses.
	ErrCatalogLoad = errors.New("lens catalog load failed")
	// ErrSessionActive is returned by Start while a session is running or starting.
	ErrSessionActive = errors.New("lens session already active")
	// ErrStopped is returned by Start when Stop was called before it finished.
	ErrStopped = errors.New("lens session stopped during start")
)

// FrameSource is what a processor reads camera frames from. *media.Source
// satisfies it.
type FrameSource interface {
	Frames() <-chan media.Frame
}

// Processor renders lenses onto a frame source.
type Processor interface {
	// SetSource binds the processor to its input. It is called once,
	// before Play.
	SetSource(src FrameSource) error
	// Play starts rendering.
	Play(ctx context.Context) error
	// ApplyLens switches the active lens on the running processor.
	ApplyLens(ctx context.Context, id string) error
	// Output is the live rendered stream. It is closed when the input ends
	// or the processor is closed.
	Output() <-chan media.Frame
	// Close stops rendering and releases the processor.
	Close() error
}

// Engine creates processors and serves the lens catalog.
type Engine interface {
	NewProcessor(ctx context.Context) (Processor, error)
	LoadLensGroups(ctx context.Context, groupIDs ...string) ([]Entry, error)
}

// Bootstrap creates an Engine authorized with token.
type Bootstrap func(ctx context.Context, token string) (Engine, error)

// Entry is one lens in the catalog.
type Entry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GroupID string `json:"groupId,omitempty"`
}

// ApplyTo makes e the active lens of p.
func (e Entry) ApplyTo(ctx context.Context, p Processor) error {
	return p.ApplyLens(ctx, e.ID)
}

func findEntry(entries []Entry, id string) (Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
