package workflow

import (
	"errors"
	"fmt"

	"github.com/fpang/meme-studio/internal/meme"
)

// Kind tags the variant of the workflow state.
type Kind int

const (
	// StateIdle: an image is selected (or nothing yet) and no request is running.
	StateIdle Kind = iota
	// StateUploading: one caption request is in flight.
	StateUploading
	// StateReady: captions are available.
	StateReady
	// StateFinalizing: one finalize request is in flight.
	StateFinalizing
	// StateError: the last request failed; Snapshot.Message explains why.
	StateError
)

func (k Kind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateReady:
		return "ready"
	case StateFinalizing:
		return "finalizing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON snapshots.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name, for clients reading snapshots back.
func (k *Kind) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateError; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("workflow: unknown state %q", b)
}

// Busy reports whether a request is in flight.
func (k Kind) Busy() bool {
	return k == StateUploading || k == StateFinalizing
}

// User-facing messages.
const (
	MsgNoImage        = "Please upload an image first."
	MsgInvalidFilter  = "Please choose one of the listed filters."
	MsgCaptionsFailed = "Failed to generate captions. Is the backend running?"
	MsgFinalizeFailed = "Failed to apply filter/meme."
)

// Snapshot is an immutable copy of the engine state at one commit.
type Snapshot struct {
	// Seq numbers commits; consecutive snapshots differ by exactly one.
	Seq        uint64 `json:"seq"`
	Generation uint64 `json:"generation"`
	State      Kind   `json:"state"`

	HasImage  bool   `json:"hasImage"`
	ImageName string `json:"imageName,omitempty"`
	Preview   string `json:"preview,omitempty"`

	Captions        meme.CaptionSet `json:"captions"`
	SelectedCaption string          `json:"selectedCaption,omitempty"`
	Filter          meme.Filter     `json:"filter"`

	// Message is set in StateError.
	Message string `json:"message,omitempty"`
}

// UserMessage maps a validation error returned by an engine operation to
// the text shown to the user. Other errors map to their Error string.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, meme.ErrNoImageSelected):
		return MsgNoImage
	case errors.Is(err, meme.ErrInvalidFilter):
		return MsgInvalidFilter
	default:
		return err.Error()
	}
}
