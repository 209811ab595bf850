package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rank(n int) *int { return &n }

func TestChartScore(t *testing.T) {
	tests := []struct {
		name string
		rank *int
		max  int
		want float64
	}{
		{"first place", rank(1), 100, 100},
		{"tenth", rank(10), 100, 91},
		{"last on chart", rank(100), 100, 1},
		{"beyond max", rank(101), 100, 0},
		{"nil", nil, 100, 0},
		{"zero", rank(0), 100, 0},
		{"negative", rank(-4), 100, 0},
		{"deep on big chart", rank(150), 200, 0},
		{"first on big chart", rank(1), 200, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChartScore(tt.rank, tt.max))
		})
	}
}

func TestChartScore_LinearWithinChart(t *testing.T) {
	for r := 1; r <= 100; r++ {
		assert.Equal(t, float64(101-r), ChartScore(rank(r), 100), "rank %d", r)
	}
}
