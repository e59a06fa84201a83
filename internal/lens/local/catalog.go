package local

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"

	"github.com/fpang/meme-studio/internal/lens"
)

//go:embed catalog.toml
var defaultCatalog []byte

// Catalog is the set of lens groups the engine serves.
type Catalog struct {
	Groups []Group `toml:"groups"`
}

// Group is a named list of lenses.
type Group struct {
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Lenses []Spec `toml:"lenses"`
}

// Spec describes one lens and its effect parameters.
type Spec struct {
	ID       string  `toml:"id"`
	Name     string  `toml:"name"`
	Effect   string  `toml:"effect"`
	Size     int     `toml:"size"`
	Levels   int     `toml:"levels"`
	Strength float64 `toml:"strength"`
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

// LoadCatalog parses and validates a TOML catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var cat Catalog
	if err := toml.NewDecoder(r).Decode(&cat); err != nil {
		return nil, fmt.Errorf("parse lens catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks that ids are unique and every effect is known.
func (c *Catalog) Validate() error {
	groups := make(map[string]bool)
	lenses := make(map[string]bool)
	for _, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("lens catalog: group %q has no id", g.Name)
		}
		if groups[g.ID] {
			return fmt.Errorf("lens catalog: duplicate group %s", g.ID)
		}
		groups[g.ID] = true
		for _, l := range g.Lenses {
			if l.ID == "" {
				return fmt.Errorf("lens catalog: lens %q in group %s has no id", l.Name, g.ID)
			}
			if lenses[l.ID] {
				return fmt.Errorf("lens catalog: duplicate lens %s", l.ID)
			}
			lenses[l.ID] = true
			if _, err := newEffect(l); err != nil {
				return fmt.Errorf("lens catalog: lens %s: %w", l.ID, err)
			}
		}
	}
	return nil
}

// Group returns the group with id.
func (c *Catalog) Group(id string) (Group, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// Lens returns the lens with id from any group.
func (c *Catalog) Lens(id string) (Spec, bool) {
	for _, g := range c.Groups {
		for _, l := range g.Lenses {
			if l.ID == id {
				return l, true
			}
		}
	}
	return Spec{}, false
}

// Entries lists the lenses of the given groups in catalog order.
func (c *Catalog) Entries(groupIDs ...string) ([]lens.Entry, error) {
	var entries []lens.Entry
	for _, id := range groupIDs {
		g, ok := c.Group(id)
		if !ok {
			return nil, fmt.Errorf("unknown lens group %s", id)
		}
		for _, l := range g.Lenses {
			entries = append(entries, lens.Entry{ID: l.ID, Name: l.Name, GroupID: g.ID})
		}
	}
	return entries, nil
}
