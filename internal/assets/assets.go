// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time so they can be edited without touching Go code.
package assets

import (
	_ "embed"
	"strings"
)

// CaptionSystemPrompt instructs Gemini to answer with the caption JSON
// object the captioning service also returns.
//
//go:embed prompts/caption-system.txt
var CaptionSystemPrompt string

//go:embed prompts/caption-request.txt
var captionRequestPrompt string

// CaptionRequestPrompt is the user turn sent alongside the image.
func CaptionRequestPrompt() string {
	return strings.TrimSpace(captionRequestPrompt)
}
