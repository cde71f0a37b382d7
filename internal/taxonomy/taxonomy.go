// Package taxonomy maps detector class ids onto the curated animal table and
// carries the per-category glyph and severity tier.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is a coarse animal grouping.
type Category string

const (
	LargeMammals Category = "large_mammals"
	Herbivores   Category = "herbivores"
	Carnivores   Category = "carnivores"
	Primates     Category = "primates"
	Birds        Category = "birds"
	Reptiles     Category = "reptiles"
	SmallMammals Category = "small_mammals"
)

// Severity drives box color and frame banners.
type Severity int

const (
	Normal Severity = iota
	Caution
	High
)

func (s Severity) String() string {
	switch s {
	case High:
		return "high"
	case Caution:
		return "caution"
	default:
		return "normal"
	}
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return High, nil
	case "caution":
		return Caution, nil
	case "normal":
		return Normal, nil
	}
	return Normal, fmt.Errorf("unknown severity %q", s)
}

// CategoryMeta is the display glyph and severity of a category.
type CategoryMeta struct {
	Glyph    string
	Severity Severity
}

// DefaultGlyph is used for categories without registered metadata.
const DefaultGlyph = "🐾"

var categoryMeta = map[Category]CategoryMeta{
	LargeMammals: {Glyph: "🐘", Severity: High},
	Herbivores:   {Glyph: "🦌", Severity: Normal},
	Carnivores:   {Glyph: "🐺", Severity: Caution},
	Primates:     {Glyph: "🐵", Severity: Normal},
	Birds:        {Glyph: "🦉", Severity: Normal},
	Reptiles:     {Glyph: "🐍", Severity: Normal},
	SmallMammals: {Glyph: "🐾", Severity: Normal},
}

// Meta returns the metadata of c, falling back to the paw glyph and normal
// severity when c is not registered.
func Meta(c Category) CategoryMeta {
	if m, ok := categoryMeta[c]; ok {
		return m
	}
	return CategoryMeta{Glyph: DefaultGlyph, Severity: Normal}
}

// ClassEntry is one row of the table.
type ClassEntry struct {
	ID       int
	Name     string
	Category Category
}

// Meta is shorthand for Meta(e.Category).
func (e ClassEntry) Meta() CategoryMeta { return Meta(e.Category) }

// DisplayName is the human form of the entry's name.
func (e ClassEntry) DisplayName() string { return DisplayName(e.Name) }

// Table is an immutable id -> entry mapping with a name index.
type Table struct {
	byID   map[int]ClassEntry
	byName map[string]ClassEntry
}

// NewTable builds a table, rejecting duplicate ids and names.
func NewTable(entries []ClassEntry) (*Table, error) {
	t := &Table{
		byID:   make(map[int]ClassEntry, len(entries)),
		byName: make(map[string]ClassEntry, len(entries)),
	}
	for _, e := range entries {
		e.Name = normalizeName(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("class %d: empty name", e.ID)
		}
		if prev, ok := t.byID[e.ID]; ok {
			return nil, fmt.Errorf("class id %d used by both %q and %q", e.ID, prev.Name, e.Name)
		}
		if prev, ok := t.byName[e.Name]; ok {
			return nil, fmt.Errorf("class name %q used by ids %d and %d", e.Name, prev.ID, e.ID)
		}
		t.byID[e.ID] = e
		t.byName[e.Name] = e
	}
	return t, nil
}

// Resolve returns the entry for id.
func (t *Table) Resolve(id int) (ClassEntry, bool) {
	e, ok := t.byID[id]
	return e, ok
}

// Lookup resolves a key of either form to its canonical entry.
func (t *Table) Lookup(k Key) (ClassEntry, bool) {
	if k.byID {
		return t.Resolve(k.id)
	}
	e, ok := t.byName[normalizeName(k.name)]
	return e, ok
}

// AllowedClassIDs lists every id in the table in ascending order. It is the
// allow-list handed to the detector.
func (t *Table) AllowedClassIDs() []int {
	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Entries returns all entries ordered by id.
func (t *Table) Entries() []ClassEntry {
	ids := t.AllowedClassIDs()
	out := make([]ClassEntry, len(ids))
	for i, id := range ids {
		out[i] = t.byID[id]
	}
	return out
}

// Len is the number of classes.
func (t *Table) Len() int { return len(t.byID) }

// DisplayName replaces underscores with spaces and title-cases each word.
func DisplayName(name string) string {
	// Casers keep state, so each call gets its own.
	c := cases.Title(language.English)
	return c.String(strings.ReplaceAll(name, "_", " "))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Extend returns a new table holding t's entries plus extra. Extra entries
// may not reuse an existing id or name.
func (t *Table) Extend(extra []ClassEntry) (*Table, error) {
	all := append(t.Entries(), extra...)
	return NewTable(all)
}
