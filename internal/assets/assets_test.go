package assets

import (
	"strings"
	"testing"
)

func TestCaptionPromptsEmbedded(t *testing.T) {
	for _, want := range []string{`"captions"`, `"hashtags"`, `"description"`} {
		if !strings.Contains(CaptionSystemPrompt, want) {
			t.Errorf("system prompt should mention %s", want)
		}
	}
	if got := CaptionRequestPrompt(); got == "" || strings.HasSuffix(got, "\n") {
		t.Errorf("unexpected request prompt %q", got)
	}
}
