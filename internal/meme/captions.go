// Package meme holds the domain types shared by the caption workflow and the
// services it talks to: the caption set, the filter vocabulary, request
// payloads and the validation/network error taxonomy.
package meme

import (
	"slices"
	"sort"
	"strings"
)

// CaptionSet is the result of one caption generation call.
// Hashtags are a set: order is not significant and duplicates collapse.
type CaptionSet struct {
	Captions    []string `json:"captions"`
	Hashtags    []string `json:"hashtags"`
	Description string   `json:"description"`
}

// NewCaptionSet builds a CaptionSet, normalising nil slices to empty ones
// and collapsing duplicate hashtags (a leading '#' is ignored).
func NewCaptionSet(captions, hashtags []string, description string) CaptionSet {
	cs := CaptionSet{
		Captions:    append([]string{}, captions...),
		Hashtags:    make([]string, 0, len(hashtags)),
		Description: description,
	}
	seen := make(map[string]bool, len(hashtags))
	for _, h := range hashtags {
		h = strings.TrimPrefix(strings.TrimSpace(h), "#")
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		cs.Hashtags = append(cs.Hashtags, h)
	}
	return cs
}

// Empty reports whether nothing has been generated yet.
func (c CaptionSet) Empty() bool {
	return len(c.Captions) == 0 && len(c.Hashtags) == 0 && c.Description == ""
}

// HasHashtag reports whether tag (with or without '#') is in the set.
func (c CaptionSet) HasHashtag(tag string) bool {
	return slices.Contains(c.Hashtags, strings.TrimPrefix(tag, "#"))
}

// Equal compares captions in order and hashtags as a set.
func (c CaptionSet) Equal(o CaptionSet) bool {
	if c.Description != o.Description || !slices.Equal(c.Captions, o.Captions) {
		return false
	}
	a := slices.Clone(c.Hashtags)
	b := slices.Clone(o.Hashtags)
	sort.Strings(a)
	sort.Strings(b)
	return slices.Equal(a, b)
}

// Clone returns a deep copy so callers cannot mutate engine-owned slices.
func (c CaptionSet) Clone() CaptionSet {
	return CaptionSet{
		Captions:    slices.Clone(c.Captions),
		Hashtags:    slices.Clone(c.Hashtags),
		Description: c.Description,
	}
}
