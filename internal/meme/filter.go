package meme

import (
	"fmt"
	"strings"
)

// Filter is one of the effects the finalize endpoint can bake into a meme.
// The zero value is FilterNone.
type Filter string

const (
	FilterNone       Filter = ""
	FilterDog        Filter = "dog"
	FilterSunglasses Filter = "sunglasses"
	FilterFlower     Filter = "flower"
	FilterGrayscale  Filter = "grayscale"
	FilterSepia      Filter = "sepia"
	FilterBlur       Filter = "blur"
	FilterBright     Filter = "bright"
	FilterContrast   Filter = "contrast"
)

// filterLabels lists every accepted filter in the order the upload panel
// offers them, with the label shown next to each.
var filterLabels = []struct {
	filter Filter
	label  string
}{
	{FilterNone, "No Filter"},
	{FilterDog, "Dog Ears"},
	{FilterSunglasses, "Sunglasses"},
	{FilterFlower, "Flower Crown"},
	{FilterGrayscale, "Grayscale"},
	{FilterSepia, "Sepia"},
	{FilterBlur, "Blur"},
	{FilterBright, "Bright"},
	{FilterContrast, "High Contrast"},
}

// Filters returns every accepted filter, starting with FilterNone.
func Filters() []Filter {
	out := make([]Filter, 0, len(filterLabels))
	for _, fl := range filterLabels {
		out = append(out, fl.filter)
	}
	return out
}

// ParseFilter converts a user or wire value into a Filter. Both "" and
// "none" select FilterNone; matching is case-insensitive.
func ParseFilter(s string) (Filter, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "none" {
		return FilterNone, nil
	}
	for _, fl := range filterLabels {
		if string(fl.filter) == v {
			return fl.filter, nil
		}
	}
	return FilterNone, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
}

// Valid reports whether f belongs to the closed filter set.
func (f Filter) Valid() bool {
	for _, fl := range filterLabels {
		if fl.filter == f {
			return true
		}
	}
	return false
}

// WireValue is the value sent in the finalize request's filter field.
func (f Filter) WireValue() string {
	return string(f)
}

// Label returns the human-readable name of the filter.
func (f Filter) Label() string {
	for _, fl := range filterLabels {
		if fl.filter == f {
			return fl.label
		}
	}
	return string(f)
}

func (f Filter) String() string {
	if f == FilterNone {
		return "none"
	}
	return string(f)
}
