package metric

// BrandTierOrder is the default ordinal table for the brand_tier metric.
var BrandTierOrder = map[string]int{
	"Global Ambassador": 1,
	"Ambassador":        2,
	"House Friend":      3,
	"Appearance":        4,
}

// Normalizer maps raw metric values to their canonical representation.
// Tier tables are copied on construction and never mutated afterwards.
type Normalizer struct {
	tiers map[string]map[string]int
}

// NewNormalizer builds a normalizer from per-metric ordinal tables.
func NewNormalizer(tiers map[string]map[string]int) *Normalizer {
	n := &Normalizer{tiers: make(map[string]map[string]int, len(tiers))}
	for key, table := range tiers {
		cp := make(map[string]int, len(table))
		for label, rank := range table {
			cp[label] = rank
		}
		n.tiers[key] = cp
	}
	return n
}

// Normalize returns the canonical (numeric, text) pair for metricKey.
// For tier metrics with a text value the numeric part becomes the tier
// rank, or nil when the text is not in the table. Everything else passes
// through unchanged.
func (n *Normalizer) Normalize(metricKey string, num *float64, text *string) (*float64, *string) {
	if n == nil || text == nil || *text == "" {
		return num, text
	}
	table, ok := n.tiers[metricKey]
	if !ok {
		return num, text
	}
	rank, ok := table[*text]
	if !ok {
		return nil, text
	}
	return Float(float64(rank)), text
}

// IsOrdinal reports whether metricKey has a tier table.
func (n *Normalizer) IsOrdinal(metricKey string) bool {
	if n == nil {
		return false
	}
	_, ok := n.tiers[metricKey]
	return ok
}
