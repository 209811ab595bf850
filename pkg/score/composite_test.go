package score

import (
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/signalindex/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScorer() *Scorer { return NewScorer(DefaultWeights()) }

func byPerson(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.PersonKey] = r
	}
	return m
}

func TestDefaultWeightsValid(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
}

func TestWeightsValidate(t *testing.T) {
	w := DefaultWeights()
	w.Social = 0.9
	assert.ErrorContains(t, w.Validate(), "social+video")

	w = DefaultWeights()
	w.Chart = -0.5
	w.ChartSocial = 1.3
	assert.ErrorContains(t, w.Validate(), "negative")

	w = DefaultWeights()
	w.Fields[1].MaxRank = 0
	assert.ErrorContains(t, w.Validate(), "max_rank")

	w = DefaultWeights()
	w.SocialScale = 0
	assert.Error(t, w.Validate())
}

func TestScore_EmptyInput(t *testing.T) {
	assert.Empty(t, newScorer().Score(Input{}))
	assert.Empty(t, newScorer().Score(Input{Social: []source.SocialRow{}, Chart: []source.ChartRow{}}))
}

func TestScore_EliteEngagementWithoutCharts(t *testing.T) {
	in := Input{Social: []source.SocialRow{
		{PersonKey: "newjeans", Category: "K-pop", Engagement: 60_000, Followers: 1_000_000},
		{PersonKey: "newjeans", Category: "K-pop", Engagement: 40_000, Followers: 1_000_000, Promotional: true},
	}}

	results := newScorer().Score(in)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, "K-pop", r.Category)
	assert.Equal(t, 5.0, r.EngagementRate)
	assert.Equal(t, 100.0, r.SocialComponent)
	assert.Equal(t, 0.0, r.VideoComponent)
	assert.Equal(t, 0.0, r.ChartComponent)
	assert.Equal(t, 60.0, r.Score)
	assert.Equal(t, 1, r.ProductMentions)
	assert.Nil(t, r.BestChartRank)
}

func TestScore_ZeroFollowers(t *testing.T) {
	in := Input{Social: []source.SocialRow{{PersonKey: "ghost", Engagement: 1_000_000, Followers: 0}}}
	r := newScorer().Score(in)[0]
	assert.Equal(t, 0.0, r.EngagementRate)
	assert.Equal(t, 0.0, r.SocialComponent)
	assert.Equal(t, 0.0, r.Score)
	assert.Equal(t, DefaultCategory, r.Category)
}

func TestScore_SocialMonotonic(t *testing.T) {
	s := newScorer()
	component := func(e, f int64) float64 {
		return s.Score(Input{Social: []source.SocialRow{{PersonKey: "p", Engagement: e, Followers: f}}})[0].SocialComponent
	}

	prev := -1.0
	for e := int64(0); e <= 100_000; e += 5_000 {
		c := component(e, 1_000_000)
		assert.GreaterOrEqual(t, c, prev)
		assert.LessOrEqual(t, c, 100.0)
		prev = c
	}

	prev = 101.0
	for f := int64(10_000); f <= 10_000_000; f *= 10 {
		c := component(1_000, f)
		assert.LessOrEqual(t, c, prev)
		prev = c
	}

	// 1000/100000*100*20 = 20
	assert.Equal(t, 20.0, component(1_000, 100_000))
}

func TestScore_VideoComponent(t *testing.T) {
	in := Input{Video: []source.VideoRow{
		{PersonKey: "ive", Category: "K-pop", Views: 2_000_000},
		{PersonKey: "ive", Category: "K-pop", Views: 500_000},
		{PersonKey: "big", Views: 40_000_000},
	}}
	got := byPerson(newScorer().Score(in))

	assert.Equal(t, int64(2_500_000), got["ive"].VideoViews)
	assert.Equal(t, 25.0, got["ive"].VideoComponent)
	assert.Equal(t, 10.0, got["ive"].Score)
	assert.Equal(t, 100.0, got["big"].VideoComponent)
	assert.Equal(t, 40.0, got["big"].Score)
}

func TestScore_ChartOnlyPrimaryField(t *testing.T) {
	in := Input{Chart: []source.ChartRow{{PersonKey: "rose", Category: "Western", StreamingRank: rank(1)}}}
	r := newScorer().Score(in)[0]

	assert.Equal(t, 100.0, r.ChartComponent)
	assert.Equal(t, 50.0, r.Score)
	require.NotNil(t, r.BestChartRank)
	assert.Equal(t, 1, *r.BestChartRank)
}

func TestScore_ChartWeightsRenormalize(t *testing.T) {
	in := Input{Chart: []source.ChartRow{{
		PersonKey:     "ive",
		Category:      "K-pop",
		StreamingRank: rank(11),  // 90, weight .40
		SalesRankA:    rank(101), // beyond max: skipped
		SalesRankB:    rank(51),  // 50, weight .15
		RegionalRank:  rank(1),   // 100, weight .15 (K-pop)
	}}}
	r := newScorer().Score(in)[0]

	want := (0.40*90 + 0.15*50 + 0.15*100) / 0.70
	assert.InDelta(t, round(want, 1), r.ChartComponent, 1e-9)
	assert.Equal(t, 1, *r.BestChartRank)
}

func TestScore_RegionalChartGatedByCategory(t *testing.T) {
	in := Input{Chart: []source.ChartRow{
		{PersonKey: "kpop", Category: "K-pop", RegionalRank: rank(1)},
		{PersonKey: "western", Category: "Western", RegionalRank: rank(1)},
	}}
	got := byPerson(newScorer().Score(in))

	assert.Equal(t, 100.0, got["kpop"].ChartComponent)
	assert.Equal(t, 0.0, got["western"].ChartComponent)
	// best rank is display-only and ignores the gate
	assert.Equal(t, 1, *got["western"].BestChartRank)
}

func TestScore_RegimeIsPerRun(t *testing.T) {
	in := Input{
		Social: []source.SocialRow{{PersonKey: "a", Engagement: 50_000, Followers: 1_000_000}},
		Chart:  []source.ChartRow{{PersonKey: "b", StreamingRank: rank(1)}},
	}
	got := byPerson(newScorer().Score(in))

	// a has no chart data but is still weighted with the chart regime
	assert.Equal(t, 30.0, got["a"].Score)
	assert.Equal(t, 50.0, got["b"].Score)
}

func TestScore_CategoryPriority(t *testing.T) {
	in := Input{
		Social: []source.SocialRow{{PersonKey: "a", Category: "", Followers: 1}},
		Video:  []source.VideoRow{{PersonKey: "a", Category: "Western"}, {PersonKey: "b", Category: "K-pop"}},
		Chart:  []source.ChartRow{{PersonKey: "b", Category: "Western"}, {PersonKey: "c", Category: "J-pop"}},
	}
	got := byPerson(newScorer().Score(in))

	assert.Equal(t, "Western", got["a"].Category)
	assert.Equal(t, "K-pop", got["b"].Category)
	assert.Equal(t, "J-pop", got["c"].Category)
}

func TestScore_SortedAndBounded(t *testing.T) {
	in := Input{
		Social: []source.SocialRow{
			{PersonKey: "low", Engagement: 1, Followers: 1_000_000},
			{PersonKey: "high", Engagement: 900_000, Followers: 1_000},
		},
		Video: []source.VideoRow{
			{PersonKey: "high", Views: 1 << 40},
			{PersonKey: "tie-b", Views: 1_000_000},
			{PersonKey: "tie-a", Views: 1_000_000},
		},
		Chart: []source.ChartRow{{PersonKey: "high", StreamingRank: rank(1), SalesRankA: rank(1), SalesRankB: rank(1)}},
	}
	results := newScorer().Score(in)
	require.Len(t, results, 4)

	assert.Equal(t, "high", results[0].PersonKey)
	assert.Equal(t, 100.0, results[0].Score)
	assert.Equal(t, "tie-a", results[1].PersonKey)
	assert.Equal(t, "tie-b", results[2].PersonKey)
	for i, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 100.0)
		if i > 0 {
			assert.LessOrEqual(t, r.Score, results[i-1].Score)
		}
	}
}

func TestBoard(t *testing.T) {
	b := NewBoard()
	assert.Empty(t, b.Snapshot().Results)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []Result{{PersonKey: "a", Score: 10}}
	b.Publish(in, true, at)
	in[0].Score = 99

	snap := b.Snapshot()
	require.Len(t, snap.Results, 1)
	assert.Equal(t, 10.0, snap.Results[0].Score)
	assert.True(t, snap.WithCharts)
	assert.Equal(t, at, snap.ComputedAt)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			rows := make([]Result, n+1)
			b.Publish(rows, false, at)
		}(i)
		go func() {
			defer wg.Done()
			_ = b.Snapshot()
		}()
	}
	wg.Wait()
}
