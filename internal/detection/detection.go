// Package detection turns raw detector output into policy-filtered,
// display-ready detections.
package detection

import (
	"fmt"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/threshold"
	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// Detection is one detection that survived filtering.
type Detection struct {
	ClassID     int               `json:"class_id"`
	ClassName   string            `json:"class"`
	DisplayName string            `json:"display_name"`
	Category    taxonomy.Category `json:"category"`
	Severity    taxonomy.Severity `json:"-"`
	Confidence  float64           `json:"confidence"`
	BBox        types.BBox        `json:"bbox"`
	Alert       string            `json:"alert"`
}

// Stats counts what a single Apply call kept and dropped.
type Stats struct {
	Kept         int
	UnknownClass int
	BelowFloor   int
}

// Filter re-checks detector output against the taxonomy and per-class floors.
type Filter struct {
	table  *taxonomy.Table
	policy *threshold.Policy
}

// NewFilter creates a filter over table and policy.
func NewFilter(table *taxonomy.Table, policy *threshold.Policy) *Filter {
	return &Filter{table: table, policy: policy}
}

// Table returns the taxonomy the filter resolves against.
func (f *Filter) Table() *taxonomy.Table { return f.table }

// Policy returns the threshold policy in use.
func (f *Filter) Policy() *threshold.Policy { return f.policy }

// Apply keeps raw detections whose class resolves and whose confidence meets
// the class floor. Input order is preserved.
func (f *Filter) Apply(raw []types.RawDetection) []Detection {
	out, _ := f.ApplyWithStats(raw)
	return out
}

// ApplyWithStats is Apply plus drop counters.
func (f *Filter) ApplyWithStats(raw []types.RawDetection) ([]Detection, Stats) {
	var st Stats
	out := make([]Detection, 0, len(raw))
	for _, r := range raw {
		entry, ok := f.table.Resolve(r.ClassID)
		if !ok {
			st.UnknownClass++
			continue
		}
		if r.Confidence < f.policy.ForName(entry.Name) {
			st.BelowFloor++
			continue
		}
		out = append(out, newDetection(entry, r))
	}
	st.Kept = len(out)
	return out, st
}

func newDetection(entry taxonomy.ClassEntry, r types.RawDetection) Detection {
	meta := entry.Meta()
	display := entry.DisplayName()
	return Detection{
		ClassID:     entry.ID,
		ClassName:   entry.Name,
		DisplayName: display,
		Category:    entry.Category,
		Severity:    meta.Severity,
		Confidence:  r.Confidence,
		BBox:        r.BBox,
		Alert:       AlertMessage(meta, display),
	}
}

// AlertMessage renders the per-detection alert text for a category.
func AlertMessage(meta taxonomy.CategoryMeta, display string) string {
	var body string
	switch meta.Severity {
	case taxonomy.High:
		body = fmt.Sprintf("WARNING: Large Mammal Detected - %s!", display)
	case taxonomy.Caution:
		body = fmt.Sprintf("Caution: %s detected!", display)
	default:
		body = "Detected: " + display
	}
	return meta.Glyph + " " + body + " " + meta.Glyph
}

// Message renders the alert for an arbitrary key. Keys outside the table get
// a plain message instead of an error.
func (f *Filter) Message(k taxonomy.Key) string {
	entry, ok := f.table.Lookup(k)
	if !ok {
		if k.IsID() {
			return fmt.Sprintf("Detected: Unknown class %d", k.ID())
		}
		return "Detected: " + k.Name()
	}
	return AlertMessage(entry.Meta(), entry.DisplayName())
}

// HasSeverity reports whether any detection is at severity s.
func HasSeverity(dets []Detection, s taxonomy.Severity) bool {
	for _, d := range dets {
		if d.Severity == s {
			return true
		}
	}
	return false
}
