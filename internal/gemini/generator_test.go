package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/fpang/meme-studio/internal/meme"
)

type fakeModels struct {
	text     string
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func TestGenerateCaptions(t *testing.T) {
	fake := &fakeModels{text: "```json\n{\"captions\":[\"lol\"],\"hashtags\":[\"#fun\",\"fun\"],\"description\":\"d\"}\n```"}
	g := &Generator{models: fake, model: "test-model"}

	cs, err := g.GenerateCaptions(context.Background(), meme.Upload{Name: "a.png", MIMEType: "image/png", Data: []byte("img")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := meme.NewCaptionSet([]string{"lol"}, []string{"fun"}, "d")
	if !cs.Equal(want) {
		t.Errorf("expected %+v, got %+v", want, cs)
	}

	if fake.model != "test-model" {
		t.Errorf("expected model test-model, got %s", fake.model)
	}
	if len(fake.contents) != 1 || len(fake.contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents %+v", fake.contents)
	}
	blob := fake.contents[0].Parts[0].InlineData
	if blob == nil || blob.MIMEType != "image/png" || string(blob.Data) != "img" {
		t.Errorf("unexpected inline data %+v", blob)
	}
	if fake.config == nil || fake.config.SystemInstruction == nil {
		t.Error("expected a system instruction")
	}
}

func TestGenerateCaptionsDefaultsMIMEType(t *testing.T) {
	fake := &fakeModels{text: `{"captions":[]}`}
	g := &Generator{models: fake, model: DefaultModelName}

	if _, err := g.GenerateCaptions(context.Background(), meme.Upload{MIMEType: "application/octet-stream", Data: []byte("x")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.contents[0].Parts[0].InlineData.MIMEType; got != "image/jpeg" {
		t.Errorf("expected image/jpeg fallback, got %s", got)
	}
}

func TestGenerateCaptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeModels
	}{
		{name: "api error", fake: &fakeModels{err: errors.New("quota exceeded")}},
		{name: "not json", fake: &fakeModels{text: "I cannot caption this."}},
		{name: "bad json", fake: &fakeModels{text: `{"captions": [}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Generator{models: tt.fake, model: DefaultModelName}
			_, err := g.GenerateCaptions(context.Background(), meme.Upload{Data: []byte("x")})
			if !errors.Is(err, meme.ErrNetworkFailure) {
				t.Errorf("expected ErrNetworkFailure, got %v", err)
			}
			var genErr *GenerationError
			if !errors.As(err, &genErr) {
				t.Errorf("expected *GenerationError, got %T", err)
			}
		})
	}
}

func TestGenerateCaptionsNoImage(t *testing.T) {
	fake := &fakeModels{}
	g := &Generator{models: fake, model: DefaultModelName}
	if _, err := g.GenerateCaptions(context.Background(), meme.Upload{}); !errors.Is(err, meme.ErrNoImageSelected) {
		t.Errorf("expected ErrNoImageSelected, got %v", err)
	}
	if fake.contents != nil {
		t.Error("no request expected without an image")
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(context.Background(), "", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestModelName(t *testing.T) {
	t.Setenv("GEMINI_MODEL", "")
	if got := ModelName(""); got != DefaultModelName {
		t.Errorf("expected default, got %s", got)
	}
	t.Setenv("GEMINI_MODEL", ModelGemini25Flash)
	if got := ModelName(""); got != ModelGemini25Flash {
		t.Errorf("expected env model, got %s", got)
	}
	if got := ModelName("explicit"); got != "explicit" {
		t.Errorf("expected explicit model, got %s", got)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "```\n{\"a\":1}\n```\n", want: `{"a":1}`},
		{in: "```{}```", want: "```{}```"},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
