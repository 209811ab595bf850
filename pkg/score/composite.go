package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/elonfeng/signalindex/pkg/source"
)

// DefaultCategory is used for persons whose rows carry no category.
const DefaultCategory = "Other"

// ChartField configures one of the four chart rank columns.
type ChartField struct {
	Name    string  `json:"name"`
	MaxRank int     `json:"max_rank"`
	Weight  float64 `json:"weight"`
	// Category, when set, limits the field to persons of that category.
	Category string `json:"category,omitempty"`
}

// Weights holds every tunable constant of the composite score.
type Weights struct {
	// Regime used when the run has no chart rows.
	Social float64
	Video  float64

	// Regime used when the run has chart rows.
	ChartSocial float64
	ChartVideo  float64
	Chart       float64

	// Fields are matched positionally with source.ChartRow.Ranks.
	Fields [4]ChartField

	// SocialScale multiplies the engagement rate (in percent).
	SocialScale float64
	// ViewsForFullScore is the cumulative view total worth 100.
	ViewsForFullScore float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Social:      0.6,
		Video:       0.4,
		ChartSocial: 0.3,
		ChartVideo:  0.2,
		Chart:       0.5,
		Fields: [4]ChartField{
			{Name: "streaming", MaxRank: 200, Weight: 0.40},
			{Name: "sales_a", MaxRank: 100, Weight: 0.30},
			{Name: "sales_b", MaxRank: 200, Weight: 0.15},
			{Name: "regional", MaxRank: 100, Weight: 0.15, Category: "K-pop"},
		},
		SocialScale:       20,
		ViewsForFullScore: 10_000_000,
	}
}

// Validate checks that weights are usable.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"social": w.Social, "video": w.Video,
		"chart_social": w.ChartSocial, "chart_video": w.ChartVideo, "chart": w.Chart,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must not be negative", name)
		}
	}
	if s := w.Social + w.Video; math.Abs(s-1) > 1e-6 {
		return fmt.Errorf("social+video weights sum to %.3f, want 1", s)
	}
	if s := w.ChartSocial + w.ChartVideo + w.Chart; math.Abs(s-1) > 1e-6 {
		return fmt.Errorf("chart regime weights sum to %.3f, want 1", s)
	}
	for _, f := range w.Fields {
		if f.MaxRank < 1 {
			return fmt.Errorf("chart field %s: max_rank must be positive", f.Name)
		}
		if f.Weight < 0 {
			return fmt.Errorf("chart field %s: weight must not be negative", f.Name)
		}
	}
	if w.SocialScale <= 0 || w.ViewsForFullScore <= 0 {
		return fmt.Errorf("social scale and views for full score must be positive")
	}
	return nil
}

// Input is one run's worth of per-source rows. A nil slice and an empty
// slice both mean the source contributed nothing.
type Input struct {
	Social []source.SocialRow
	Video  []source.VideoRow
	Chart  []source.ChartRow
}

// Result is the composite score of one person.
type Result struct {
	PersonKey       string  `json:"person_key"`
	Category        string  `json:"category"`
	Score           float64 `json:"signal_score"`
	EngagementRate  float64 `json:"x_engagement_rate"`
	VideoViews      int64   `json:"youtube_views"`
	BestChartRank   *int    `json:"chart_position"`
	ProductMentions int     `json:"product_mentions"`
	SocialComponent float64 `json:"x_component"`
	VideoComponent  float64 `json:"yt_component"`
	ChartComponent  float64 `json:"chart_component"`
}

// Scorer computes composite influence scores.
type Scorer struct {
	w Weights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Weights returns the scorer's weighting.
func (s *Scorer) Weights() Weights { return s.w }

// WithCharts reports which weighting regime in selects.
func WithCharts(in Input) bool { return len(in.Chart) > 0 }

// Score ranks every person appearing in any batch, highest score first.
// Missing sources contribute zero; it never fails.
func (s *Scorer) Score(in Input) []Result {
	social := make(map[string][]source.SocialRow)
	video := make(map[string][]source.VideoRow)
	chart := make(map[string][]source.ChartRow)
	people := make(map[string]struct{})

	for _, r := range in.Social {
		social[r.PersonKey] = append(social[r.PersonKey], r)
		people[r.PersonKey] = struct{}{}
	}
	for _, r := range in.Video {
		video[r.PersonKey] = append(video[r.PersonKey], r)
		people[r.PersonKey] = struct{}{}
	}
	for _, r := range in.Chart {
		chart[r.PersonKey] = append(chart[r.PersonKey], r)
		people[r.PersonKey] = struct{}{}
	}

	withCharts := WithCharts(in)
	results := make([]Result, 0, len(people))
	for person := range people {
		res := Result{PersonKey: person}
		res.Category = category(social[person], video[person], chart[person])

		var socialScore, videoScore, chartScore float64
		socialScore, res.EngagementRate, res.ProductMentions = s.socialComponent(social[person])
		videoScore, res.VideoViews = s.videoComponent(video[person])
		chartScore, res.BestChartRank = s.chartComponent(chart[person], res.Category)

		var total float64
		if withCharts {
			total = s.w.ChartSocial*socialScore + s.w.ChartVideo*videoScore + s.w.Chart*chartScore
		} else {
			total = s.w.Social*socialScore + s.w.Video*videoScore
		}

		res.Score = round(clamp(total), 1)
		res.EngagementRate = round(res.EngagementRate, 3)
		res.SocialComponent = round(socialScore, 1)
		res.VideoComponent = round(videoScore, 1)
		res.ChartComponent = round(chartScore, 1)
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PersonKey < results[j].PersonKey
	})
	return results
}

// category takes the first non-empty category in social, video, chart order.
func category(social []source.SocialRow, video []source.VideoRow, chart []source.ChartRow) string {
	if len(social) > 0 && social[0].Category != "" {
		return social[0].Category
	}
	if len(video) > 0 && video[0].Category != "" {
		return video[0].Category
	}
	if len(chart) > 0 && chart[0].Category != "" {
		return chart[0].Category
	}
	return DefaultCategory
}

// socialComponent returns the 0-100 component, the engagement rate in
// percent, and the number of promotional posts.
func (s *Scorer) socialComponent(rows []source.SocialRow) (float64, float64, int) {
	if len(rows) == 0 {
		return 0, 0, 0
	}

	var sum float64
	mentions := 0
	for _, r := range rows {
		sum += float64(r.Engagement)
		if r.Promotional {
			mentions++
		}
	}
	avg := sum / float64(len(rows))

	rate := 0.0
	if followers := rows[0].Followers; followers > 0 {
		rate = avg / float64(followers) * 100
	}
	return math.Min(rate*s.w.SocialScale, 100), rate, mentions
}

func (s *Scorer) videoComponent(rows []source.VideoRow) (float64, int64) {
	var total int64
	for _, r := range rows {
		total += r.Views
	}
	return math.Min(float64(total)/s.w.ViewsForFullScore*100, 100), total
}

// chartComponent averages the positive field scores of the person's first
// chart row, renormalizing weights over the fields that took part.
func (s *Scorer) chartComponent(rows []source.ChartRow, category string) (float64, *int) {
	if len(rows) == 0 {
		return 0, nil
	}

	var weighted, weights float64
	var best *int
	for i, rank := range rows[0].Ranks() {
		if rank != nil && *rank >= 1 && (best == nil || *rank < *best) {
			v := *rank
			best = &v
		}

		field := s.w.Fields[i]
		if field.Category != "" && field.Category != category {
			continue
		}
		sc := ChartScore(rank, field.MaxRank)
		if sc <= 0 || field.Weight <= 0 {
			continue
		}
		weighted += field.Weight * sc
		weights += field.Weight
	}

	if weights == 0 {
		return 0, best
	}
	return weighted / weights, best
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(v, 100))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
