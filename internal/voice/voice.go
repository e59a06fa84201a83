// Package voice turns text into speech requests and hands them to a platform
// synthesizer. In funny mode every utterance gets a random rate and pitch.
package voice

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/rs/zerolog/log"
)

// ErrSpeechUnsupported is returned when no speech synthesizer is available.
var ErrSpeechUnsupported = errors.New("speech synthesis is not supported on this system")

// UnsupportedNotice is shown to the user when speech is unavailable.
const UnsupportedNotice = "Sorry, your system does not support text to speech."

// Funny mode bounds for rate and pitch.
const (
	MinFunny = 0.5
	MaxFunny = 2.0
)

// Voice is one synthesizer voice.
type Voice struct {
	Name string `json:"name"`
	// Language is a BCP 47 tag such as "en-US".
	Language string `json:"language"`
	Gender   string `json:"gender,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// Request is one utterance.
type Request struct {
	Text  string  `json:"text"`
	Voice Voice   `json:"voice"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}

// NewRequest builds the utterance for text. With funny set, rate and pitch
// are drawn independently and uniformly from [MinFunny, MaxFunny]; otherwise
// both are 1. A nil rnd uses the global source.
func NewRequest(text string, v Voice, funny bool, rnd *rand.Rand) Request {
	req := Request{Text: text, Voice: v, Rate: 1, Pitch: 1}
	if !funny {
		return req
	}
	draw := rand.Float64
	if rnd != nil {
		draw = rnd.Float64
	}
	req.Rate = MinFunny + draw()*(MaxFunny-MinFunny)
	req.Pitch = MinFunny + draw()*(MaxFunny-MinFunny)
	return req
}

// Synthesizer is a platform speech engine.
type Synthesizer interface {
	// Available reports whether speech can be produced at all.
	Available() bool
	// Voices enumerates the installed voices.
	Voices(ctx context.Context) ([]Voice, error)
	// Speak blocks until the utterance has been spoken.
	Speak(ctx context.Context, req Request) error
}

// Speak starts speaking req and returns without waiting for it to finish.
// It returns ErrSpeechUnsupported, and does nothing else, when s is nil or
// unavailable.
func Speak(ctx context.Context, s Synthesizer, req Request) error {
	if s == nil || !s.Available() {
		log.Warn().Msg(UnsupportedNotice)
		return ErrSpeechUnsupported
	}
	if req.Text == "" {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.Speak(ctx, req); err != nil {
			log.Warn().Err(err).Str("voice", req.Voice.Name).Msg("Speech playback failed")
		}
	}()
	log.Debug().
		Str("voice", req.Voice.Name).
		Float64("rate", req.Rate).
		Float64("pitch", req.Pitch).
		Int("length", len(req.Text)).
		Msg("Speech started")
	return nil
}
