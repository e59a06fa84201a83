// Package gemini generates meme captions directly with the Gemini API. It is
// an alternative caption backend for the workflow engine; finalizing a meme
// still goes through the captioning service.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/meme-studio/internal/assets"
	"github.com/fpang/meme-studio/internal/meme"
	"github.com/fpang/meme-studio/internal/metrics"
)

// contentGenerator is the subset of *genai.Models the generator calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenerationError describes a failed Gemini call. It matches
// meme.ErrNetworkFailure so the workflow treats it like any other failed
// caption request.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return "gemini: " + e.Message + ": " + e.Err.Error()
	}
	return "gemini: " + e.Message
}

func (e *GenerationError) Unwrap() []error {
	if e.Err == nil {
		return []error{meme.ErrNetworkFailure}
	}
	return []error{meme.ErrNetworkFailure, e.Err}
}

// Generator produces a CaptionSet for an image with a Gemini model.
type Generator struct {
	models contentGenerator
	model  string
}

// New creates a Gemini API client with apiKey. An empty model selects
// ModelName's default.
func New(ctx context.Context, apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Generator{models: client.Models, model: ModelName(model)}, nil
}

// Model returns the model name the generator calls.
func (g *Generator) Model() string {
	return g.model
}

// GenerateCaptions sends the image inline and parses the model's JSON reply.
func (g *Generator) GenerateCaptions(ctx context.Context, img meme.Upload) (meme.CaptionSet, error) {
	if len(img.Data) == 0 {
		return meme.CaptionSet{}, meme.ErrNoImageSelected
	}
	mimeType := img.MIMEType
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.CaptionSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
	}
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: img.Data}},
		{Text: assets.CaptionRequestPrompt()},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	log.Debug().
		Str("model", g.model).
		Str("mime_type", mimeType).
		Int("size", len(img.Data)).
		Msg("Starting Gemini API call for caption generation")

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	elapsed := time.Since(start)

	rec := metrics.New(metrics.Namespace).
		Dimension("Operation", "GeminiCaptions").
		Duration("LatencyMs", elapsed)

	if err != nil {
		rec.Dimension("Result", "error").Count("RequestCount").Flush()
		log.Error().Err(err).Dur("duration", elapsed).Msg("Failed to generate captions from Gemini")
		return meme.CaptionSet{}, &GenerationError{Message: "request failed", Err: err}
	}
	if resp == nil {
		rec.Dimension("Result", "empty").Count("RequestCount").Flush()
		return meme.CaptionSet{}, &GenerationError{Message: "empty response"}
	}

	text := resp.Text()
	cs, err := parseCaptions(text)
	if err != nil {
		rec.Dimension("Result", "unparseable").Count("RequestCount").Flush()
		log.Debug().Err(err).Int("response_length", len(text)).Msg("Failed to parse caption response")
		return meme.CaptionSet{}, &GenerationError{Message: "failed to parse caption response", Err: err}
	}
	rec.Dimension("Result", "success").Count("RequestCount").Flush()

	log.Info().
		Int("caption_count", len(cs.Captions)).
		Int("hashtag_count", len(cs.Hashtags)).
		Dur("duration", elapsed).
		Msg("Caption generation complete")
	return cs, nil
}
