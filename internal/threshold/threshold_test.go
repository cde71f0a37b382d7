package threshold

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
)

func newDefaultPolicy(t *testing.T, base float64) *Policy {
	t.Helper()
	p, err := NewPolicy(taxonomy.DefaultTable(), DefaultOverrides(), base)
	require.NoError(t, err)
	return p
}

func TestEffectiveByIDAndName(t *testing.T) {
	p := newDefaultPolicy(t, 0.5)

	assert.Equal(t, 0.6, p.Effective(taxonomy.ByID(15)), "lion")
	assert.Equal(t, 0.6, p.Effective(taxonomy.ByName("lion")))
	assert.Equal(t, 0.65, p.Effective(taxonomy.ByName("Bear")))
	assert.Equal(t, 0.45, p.Effective(taxonomy.ByID(35)), "monitor_lizard")
	assert.Equal(t, 0.55, p.Effective(taxonomy.ByName("big_cat")), "names outside the table still resolve")
}

func TestFallbackEqualsDefaultExactly(t *testing.T) {
	p := newDefaultPolicy(t, 0.37)

	for _, k := range []taxonomy.Key{
		taxonomy.ByID(0),   // deer, no override
		taxonomy.ByID(999), // unknown id
		taxonomy.ByName("zebra"),
		taxonomy.ByName("no_such_animal"),
	} {
		assert.Equal(t, 0.37, p.Effective(k), k.String())
	}
	assert.Equal(t, 0.37, p.Default())
}

func TestDefaultKeyIgnored(t *testing.T) {
	o := DefaultOverrides()
	o["default"] = 0.9
	p, err := NewPolicy(taxonomy.DefaultTable(), o, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, p.Effective(taxonomy.ByName("deer")))
	assert.NotContains(t, p.Overrides(), "default")
}

func TestNewPolicyValidates(t *testing.T) {
	tbl := taxonomy.DefaultTable()

	_, err := NewPolicy(tbl, map[string]float64{"lion": 1.2}, 0.5)
	assert.Error(t, err)

	_, err = NewPolicy(tbl, map[string]float64{"lion": -0.1}, 0.5)
	assert.Error(t, err)

	_, err = NewPolicy(tbl, nil, math.NaN())
	assert.Error(t, err)

	p, err := NewPolicy(tbl, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Effective(taxonomy.ByID(15)))
}

func TestOverridesAreCopied(t *testing.T) {
	o := map[string]float64{"lion": 0.7}
	p, err := NewPolicy(taxonomy.DefaultTable(), o, 0.5)
	require.NoError(t, err)
	o["lion"] = 0.1
	assert.Equal(t, 0.7, p.Effective(taxonomy.ByName("lion")))
}
