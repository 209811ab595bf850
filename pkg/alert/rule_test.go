package alert

import (
	"testing"

	"github.com/elonfeng/signalindex/pkg/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRules(t *testing.T) {
	rules, err := CompileRules(nil)
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = CompileRules([]Rule{{Name: "bad", When: "score >"}})
	assert.ErrorContains(t, err, "rule bad")

	_, err = CompileRules([]Rule{{Name: "typed", When: "score > 'high'"}})
	assert.Error(t, err)

	_, err = CompileRules([]Rule{{Name: "not bool", When: "score + 1.0"}})
	assert.ErrorContains(t, err, "must return bool")

	rules, err = CompileRules([]Rule{{When: "score > 50.0"}})
	require.NoError(t, err)
	assert.Equal(t, "rule_1", rules[0].Name)
}

func TestRuleMatch(t *testing.T) {
	rank := 3
	results := []score.Result{
		{PersonKey: "ive", Category: "K-pop", Score: 82.5, BestChartRank: &rank, VideoViews: 12_000_000},
		{PersonKey: "rose", Category: "Western", Score: 64},
		{PersonKey: "lisa", Category: "K-pop", Score: 30, ProductMentions: 4},
	}

	rules, err := CompileRules([]Rule{
		{Name: "kpop leaders", When: `category == "K-pop" && score >= 80.0`},
		{Name: "charting", When: "best_rank > 0 && best_rank <= 10"},
		{Name: "promo heavy", When: "mentions >= 3"},
		{Name: "nobody", When: `person == "ghost"`},
	})
	require.NoError(t, err)

	assert.True(t, rules[0].Match(results[0]))
	assert.False(t, rules[0].Match(results[2]))
	assert.True(t, rules[1].Match(results[0]))
	assert.False(t, rules[1].Match(results[1]))

	notes := RuleNotifications(rules, results, at)
	require.Len(t, notes, 3)
	assert.Equal(t, KindRule, notes[0].Kind)
	assert.Equal(t, "kpop leaders", notes[0].Title)
	require.Len(t, notes[2].Entries, 1)
	assert.Equal(t, "lisa", notes[2].Entries[0].Name)

	var uninit Rule
	assert.False(t, uninit.Match(results[0]))
}
