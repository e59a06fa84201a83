package voice

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Espeak speaks through the espeak-ng command line tool.
type Espeak struct {
	// Binary is the executable name or path. Empty means "espeak-ng".
	Binary string

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewEspeak returns a synthesizer using espeak-ng from PATH.
func NewEspeak() *Espeak {
	return &Espeak{}
}

const (
	espeakBaseWPM   = 175
	espeakBasePitch = 50
)

func (e *Espeak) binary() string {
	if e.Binary == "" {
		return "espeak-ng"
	}
	return e.Binary
}

func (e *Espeak) exec(ctx context.Context, args ...string) ([]byte, error) {
	if e.run != nil {
		return e.run(ctx, e.binary(), args...)
	}
	return exec.CommandContext(ctx, e.binary(), args...).Output()
}

// Available implements Synthesizer.
func (e *Espeak) Available() bool {
	look := exec.LookPath
	if e.lookPath != nil {
		look = e.lookPath
	}
	_, err := look(e.binary())
	return err == nil
}

// Voices implements Synthesizer.
func (e *Espeak) Voices(ctx context.Context) ([]Voice, error) {
	out, err := e.exec(ctx, "--voices")
	if err != nil {
		return nil, fmt.Errorf("list espeak voices: %w", err)
	}
	return parseVoices(out), nil
}

// Speak implements Synthesizer.
func (e *Espeak) Speak(ctx context.Context, req Request) error {
	if _, err := e.exec(ctx, speakArgs(req)...); err != nil {
		return fmt.Errorf("espeak: %w", err)
	}
	return nil
}

func speakArgs(req Request) []string {
	rate := req.Rate
	if rate <= 0 {
		rate = 1
	}
	pitch := req.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	wpm := int(math.Round(espeakBaseWPM * rate))
	p := int(math.Round(espeakBasePitch * pitch))
	p = min(max(p, 0), 99)

	var args []string
	if name := voiceID(req.Voice); name != "" {
		args = append(args, "-v", name)
	}
	return append(args,
		"-s", strconv.Itoa(wpm),
		"-p", strconv.Itoa(p),
		"--", req.Text,
	)
}

// voiceID is the identifier espeak-ng accepts for -v.
func voiceID(v Voice) string {
	if v.Language != "" {
		return strings.ToLower(v.Language)
	}
	return v.Name
}

// parseVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 10)
func parseVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		v := Voice{
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			Language: canonicalTag(fields[1]),
		}
		if _, g, ok := strings.Cut(fields[2], "/"); ok && g != "-" {
			v.Gender = g
		}
		voices = append(voices, v)
	}
	for i := range voices {
		if voices[i].Language == "en-US" {
			voices[i].Default = true
			break
		}
	}
	return voices
}

// canonicalTag upper-cases the region of an espeak language id ("en-us" → "en-US").
func canonicalTag(id string) string {
	lang, region, ok := strings.Cut(id, "-")
	if !ok || len(region) != 2 {
		return id
	}
	return lang + "-" + strings.ToUpper(region)
}
