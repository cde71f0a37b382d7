// Package threshold resolves the confidence floor that applies to a class.
package threshold

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
)

// DefaultKey names the fallback entry in override maps loaded from config.
// It is ignored by NewPolicy; the default always comes from the base confidence.
const DefaultKey = "default"

// DefaultOverrides returns the built-in per-class floors.
func DefaultOverrides() map[string]float64 {
	return map[string]float64{
		"elephant":       0.6,
		"bear":           0.65,
		"big_cat":        0.55,
		"lion":           0.6,
		"tiger":          0.6,
		"leopard":        0.6,
		"rhino":          0.6,
		"hippopotamus":   0.6,
		"hyena":          0.5,
		"cheetah":        0.5,
		"fox":            0.5,
		"jackal":         0.5,
		"baboon":         0.45,
		"monkey":         0.45,
		"eagle":          0.5,
		"owl":            0.5,
		"vulture":        0.5,
		"crocodile":      0.55,
		"python":         0.5,
		"monitor_lizard": 0.45,
		"tortoise":       0.5,
	}
}

// Policy maps class names to confidence floors with a single default.
type Policy struct {
	table     *taxonomy.Table
	overrides map[string]float64
	def       float64
}

// NewPolicy validates every floor against [0,1] and copies overrides.
func NewPolicy(table *taxonomy.Table, overrides map[string]float64, base float64) (*Policy, error) {
	if err := validate("default", base); err != nil {
		return nil, err
	}
	p := &Policy{
		table:     table,
		overrides: make(map[string]float64, len(overrides)),
		def:       base,
	}
	for name, v := range overrides {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == DefaultKey {
			continue
		}
		if err := validate(name, v); err != nil {
			return nil, err
		}
		p.overrides[name] = v
	}
	return p, nil
}

func validate(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("threshold %q: %v outside [0,1]", name, v)
	}
	return nil
}

// Default is the floor for classes without an override.
func (p *Policy) Default() float64 { return p.def }

// Effective returns the floor for k. Ids resolve through the taxonomy first;
// anything unresolvable gets the default.
func (p *Policy) Effective(k taxonomy.Key) float64 {
	var name string
	if k.IsID() {
		e, ok := p.table.Resolve(k.ID())
		if !ok {
			return p.def
		}
		name = e.Name
	} else {
		name = strings.ToLower(strings.TrimSpace(k.Name()))
	}
	return p.ForName(name)
}

// ForName looks up a canonical class name.
func (p *Policy) ForName(name string) float64 {
	if v, ok := p.overrides[name]; ok {
		return v
	}
	return p.def
}

// Overrides returns a sorted copy of the override names, mostly for logging.
func (p *Policy) Overrides() []string {
	names := make([]string, 0, len(p.overrides))
	for n := range p.overrides {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
