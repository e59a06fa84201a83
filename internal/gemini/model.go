package gemini

import "os"

// Gemini model IDs usable for caption generation.
const (
	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashLite is for high-throughput, lowest cost.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// DefaultModelName is the model used when none is configured.
const DefaultModelName = ModelGemini3FlashPreview

// ModelName resolves the model to use: an explicit name wins, then the
// GEMINI_MODEL environment variable, then DefaultModelName.
func ModelName(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}
