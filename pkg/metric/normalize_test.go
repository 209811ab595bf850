package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Tier(t *testing.T) {
	n := NewNormalizer(map[string]map[string]int{"brand_tier": BrandTierOrder})

	num, text := n.Normalize("brand_tier", nil, Text("Ambassador"))
	require.NotNil(t, num)
	assert.Equal(t, 2.0, *num)
	require.NotNil(t, text)
	assert.Equal(t, "Ambassador", *text)
}

func TestNormalize_UnknownTier(t *testing.T) {
	n := NewNormalizer(map[string]map[string]int{"brand_tier": BrandTierOrder})

	num, text := n.Normalize("brand_tier", Float(9), Text("Muse"))
	assert.Nil(t, num)
	require.NotNil(t, text)
	assert.Equal(t, "Muse", *text)
}

func TestNormalize_PassThrough(t *testing.T) {
	n := NewNormalizer(map[string]map[string]int{"brand_tier": BrandTierOrder})

	num, text := n.Normalize("lastfm_listeners", Float(1200), nil)
	require.NotNil(t, num)
	assert.Equal(t, 1200.0, *num)
	assert.Nil(t, text)

	// tier metric without text keeps its numeric value
	num, _ = n.Normalize("brand_tier", Float(3), nil)
	require.NotNil(t, num)
	assert.Equal(t, 3.0, *num)

	num, text = n.Normalize("anything", nil, nil)
	assert.Nil(t, num)
	assert.Nil(t, text)
}

func TestNormalizer_TablesAreCopied(t *testing.T) {
	table := map[string]int{"Gold": 1}
	n := NewNormalizer(map[string]map[string]int{"tier": table})
	table["Gold"] = 7
	table["Silver"] = 2

	num, _ := n.Normalize("tier", nil, Text("Gold"))
	require.NotNil(t, num)
	assert.Equal(t, 1.0, *num)

	num, _ = n.Normalize("tier", nil, Text("Silver"))
	assert.Nil(t, num)
	assert.True(t, n.IsOrdinal("tier"))
	assert.False(t, n.IsOrdinal("sales"))
}

func TestNilNormalizer(t *testing.T) {
	var n *Normalizer
	num, text := n.Normalize("brand_tier", Float(1), Text("Ambassador"))
	assert.Equal(t, 1.0, *num)
	assert.Equal(t, "Ambassador", *text)
}
