package models

import "fmt"

// Category identifies a logical asset category.
type Category string

const (
	CategoryHTML  Category = "html"
	CategoryJS    Category = "js"
	CategoryCSS   Category = "css"
	CategoryImg   Category = "img"
	CategoryFonts Category = "fonts"
)

// Categories lists every asset category in a stable order.
var Categories = []Category{CategoryHTML, CategoryJS, CategoryCSS, CategoryImg, CategoryFonts}

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown asset category %q", s)
}

// PathEntry is one row of the path table.
type PathEntry struct {
	Src   string `yaml:"src" toml:"src" json:"src"`
	Watch string `yaml:"watch" toml:"watch" json:"watch"`
	Build string `yaml:"build" toml:"build" json:"build"`
	// Dev is where dev-mode output is written. Empty means the category is
	// served in place from the source tree.
	Dev string `yaml:"dev,omitempty" toml:"dev,omitempty" json:"dev,omitempty"`
}

// PathTable maps every category to its patterns and destinations.
type PathTable map[Category]PathEntry

// Entry returns the entry for c and whether it is present.
func (p PathTable) Entry(c Category) (PathEntry, bool) {
	e, ok := p[c]
	return e, ok
}

// Clone returns a copy so callers never share the map.
func (p PathTable) Clone() PathTable {
	out := make(PathTable, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
