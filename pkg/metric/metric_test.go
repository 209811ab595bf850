package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(map[string]Definition{
		"chart_rank": {Pillar: "commercial", Source: "rss", Unit: UnitRank, Cadence: CadenceDaily, Direction: LowerIsBetter},
		"sales":      {Pillar: "commercial", Source: "rss", Unit: UnitCount, Cadence: CadenceEvent, Direction: HigherIsBetter},
		"brand_tier": {Pillar: "brand", Source: "manual", Unit: UnitTier, Cadence: CadenceMonthly, Direction: LowerIsBetter},
	})
	require.NoError(t, err)
	return c
}

func TestNewCatalog(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"brand_tier", "chart_rank", "sales"}, c.Keys())

	d, ok := c.Get("sales")
	require.True(t, ok)
	assert.Equal(t, "sales", d.Key)
	assert.Equal(t, "sales", d.DisplayName)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestNewCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"bad unit", Definition{Pillar: "p", Unit: "miles", Cadence: CadenceDaily, Direction: HigherIsBetter}},
		{"bad direction", Definition{Pillar: "p", Unit: UnitCount, Cadence: CadenceDaily, Direction: "sideways"}},
		{"bad cadence", Definition{Pillar: "p", Unit: UnitCount, Cadence: "hourly", Direction: HigherIsBetter}},
		{"no pillar", Definition{Unit: UnitCount, Cadence: CadenceDaily, Direction: HigherIsBetter}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(map[string]Definition{"m": tt.def})
			assert.Error(t, err)
		})
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	_, ok := c.Get("x")
	assert.False(t, ok)
	assert.Nil(t, c.Keys())
	assert.Zero(t, c.Len())
}

func TestCadenceAllowance(t *testing.T) {
	days, ok := CadenceWeekly.Allowance()
	assert.True(t, ok)
	assert.Equal(t, 7, days)

	_, ok = CadenceEvent.Allowance()
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	in := time.Date(2026, 3, 4, 17, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), Truncate(in))
	assert.Equal(t, "2026-03-04", Observation{Date: in}.Day())
}
