package voice

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

// Catalog caches the synthesizer's voices. Call Refresh whenever the
// platform reports that the voice list changed.
type Catalog struct {
	synth Synthesizer

	mu     sync.RWMutex
	voices []Voice
}

// NewCatalog returns an empty catalog for s.
func NewCatalog(s Synthesizer) *Catalog {
	return &Catalog{synth: s}
}

// Refresh re-enumerates the voices and reports whether the list changed.
func (c *Catalog) Refresh(ctx context.Context) (bool, error) {
	if c.synth == nil || !c.synth.Available() {
		return false, ErrSpeechUnsupported
	}
	voices, err := c.synth.Voices(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !slices.Equal(c.voices, voices)
	c.voices = voices
	if changed {
		log.Debug().Int("voices", len(voices)).Msg("Voice list updated")
	}
	return changed, nil
}

// Voices returns the cached voices.
func (c *Catalog) Voices() []Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.voices)
}

// Lookup finds a voice by name.
func (c *Catalog) Lookup(name string) (Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.voices {
		if v.Name == name {
			return v, true
		}
	}
	return Voice{}, false
}

// Default returns the voice flagged default, else the first voice.
func (c *Catalog) Default() (Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.voices {
		if v.Default {
			return v, true
		}
	}
	if len(c.voices) == 0 {
		return Voice{}, false
	}
	return c.voices[0], true
}

// Match returns the voice whose language best matches the BCP 47 tag.
// An unparseable tag or a match with no confidence reports false.
func (c *Catalog) Match(tag string) (Voice, bool) {
	want, err := language.Parse(tag)
	if err != nil {
		return Voice{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	var (
		tags   []language.Tag
		owners []int
	)
	for i, v := range c.voices {
		t, err := language.Parse(v.Language)
		if err != nil {
			continue
		}
		tags = append(tags, t)
		owners = append(owners, i)
	}
	if len(tags) == 0 {
		return Voice{}, false
	}

	_, idx, conf := language.NewMatcher(tags).Match(want)
	if conf == language.No {
		return Voice{}, false
	}
	return c.voices[owners[idx]], true
}
