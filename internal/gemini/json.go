package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fpang/meme-studio/internal/meme"
)

// captionResponse is the JSON shape the prompt asks the model for. It is the
// same shape the captioning service returns.
type captionResponse struct {
	Captions    []string `json:"captions"`
	Hashtags    []string `json:"hashtags"`
	Description string   `json:"description"`
}

// stripFences removes a ```json ... ``` wrapper if the model added one.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// extractObject returns the outermost {...} in text.
func extractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("no closing } found")
	}
	return text[start : end+1], nil
}

func parseCaptions(raw string) (meme.CaptionSet, error) {
	obj, err := extractObject(stripFences(raw))
	if err != nil {
		return meme.CaptionSet{}, err
	}
	var resp captionResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return meme.CaptionSet{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return meme.NewCaptionSet(resp.Captions, resp.Hashtags, resp.Description), nil
}
