package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatchesPromo(t *testing.T) {
	f := NewFilter([]string{"pop-up"}, []string{"giveaway"})

	tests := []struct {
		text string
		want bool
	}{
		{"New ALBUM out now", true},
		{"Pre-order the vinyl today", true},
		{"See you at the POP-UP", true},
		{"Album giveaway for fans", false},
		{"Thank you for the love", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.MatchesPromo(tt.text), tt.text)
	}

	var nilFilter *Filter
	assert.False(t, nilFilter.MatchesPromo("album"))
}
