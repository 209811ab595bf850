package source

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/elonfeng/signalindex/pkg/metric"
)

// SourceType identifies which platform a batch came from.
type SourceType string

const (
	SourceRSS     SourceType = "rss"
	SourceLastFM  SourceType = "lastfm"
	SourceYouTube SourceType = "youtube"
	SourceX       SourceType = "x"
	SourceCSV     SourceType = "csv"
)

// SocialRow is one recent post for one person.
type SocialRow struct {
	PersonKey   string `json:"person_key"`
	Category    string `json:"category"`
	Engagement  int64  `json:"engagement"`
	Followers   int64  `json:"follower_count"`
	Promotional bool   `json:"has_product_mention"`
}

// VideoRow is one recent video for one person.
type VideoRow struct {
	PersonKey string `json:"person_key"`
	Category  string `json:"category"`
	Views     int64  `json:"views"`
}

// ChartRow holds one person's chart positions for one day. A nil rank
// means the person is not on that chart.
type ChartRow struct {
	PersonKey     string `json:"person_key"`
	Category      string `json:"category"`
	StreamingRank *int   `json:"streaming_rank,omitempty"`
	SalesRankA    *int   `json:"sales_rank_a,omitempty"`
	SalesRankB    *int   `json:"sales_rank_b,omitempty"`
	RegionalRank  *int   `json:"regional_rank,omitempty"`
}

// Ranks returns the four chart fields in fixed order.
func (r ChartRow) Ranks() [4]*int {
	return [4]*int{r.StreamingRank, r.SalesRankA, r.SalesRankB, r.RegionalRank}
}

// Batch is everything one connector produced in one run. Empty slices mean
// the source had nothing to say.
type Batch struct {
	Source       SourceType           `json:"source"`
	Social       []SocialRow          `json:"social,omitempty"`
	Video        []VideoRow           `json:"video,omitempty"`
	Chart        []ChartRow           `json:"chart,omitempty"`
	Observations []metric.Observation `json:"observations,omitempty"`
}

// Rejected is a row dropped at the batch boundary.
type Rejected struct {
	Kind   string `json:"kind"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (r Rejected) String() string {
	return fmt.Sprintf("%s[%d]: %s", r.Kind, r.Index, r.Reason)
}

// Validate drops malformed rows in place and reports what it dropped.
func (b *Batch) Validate() []Rejected {
	var rejected []Rejected
	reject := func(kind string, i int, reason string) {
		rejected = append(rejected, Rejected{Kind: kind, Index: i, Reason: reason})
	}

	social := b.Social[:0]
	for i, r := range b.Social {
		switch {
		case strings.TrimSpace(r.PersonKey) == "":
			reject("social", i, "missing person key")
		case r.Engagement < 0 || r.Followers < 0:
			reject("social", i, "negative count")
		default:
			social = append(social, r)
		}
	}
	b.Social = social

	video := b.Video[:0]
	for i, r := range b.Video {
		switch {
		case strings.TrimSpace(r.PersonKey) == "":
			reject("video", i, "missing person key")
		case r.Views < 0:
			reject("video", i, "negative views")
		default:
			video = append(video, r)
		}
	}
	b.Video = video

	chart := b.Chart[:0]
	for i, r := range b.Chart {
		if strings.TrimSpace(r.PersonKey) == "" {
			reject("chart", i, "missing person key")
			continue
		}
		chart = append(chart, r)
	}
	b.Chart = chart

	observations := b.Observations[:0]
	for i, o := range b.Observations {
		switch {
		case strings.TrimSpace(o.PersonKey) == "":
			reject("observation", i, "missing person key")
		case o.MetricKey == "":
			reject("observation", i, "missing metric key")
		case o.Date.IsZero():
			reject("observation", i, "missing date")
		case o.Num == nil && (o.Text == nil || strings.TrimSpace(*o.Text) == ""):
			reject("observation", i, "missing value")
		default:
			observations = append(observations, o)
		}
	}
	b.Observations = observations

	return rejected
}

// Merge appends the rows of other into b.
func (b *Batch) Merge(other *Batch) {
	if other == nil {
		return
	}
	b.Social = append(b.Social, other.Social...)
	b.Video = append(b.Video, other.Video...)
	b.Chart = append(b.Chart, other.Chart...)
	b.Observations = append(b.Observations, other.Observations...)
}

// Empty reports whether the batch has no rows at all.
func (b *Batch) Empty() bool {
	return b == nil || len(b.Social)+len(b.Video)+len(b.Chart)+len(b.Observations) == 0
}

// Person is a watchlist entry as connectors see it.
type Person struct {
	Key              string `yaml:"person_key" json:"person_key"`
	DisplayName      string `yaml:"display_name" json:"display_name"`
	Category         string `yaml:"category" json:"category"`
	Country          string `yaml:"country" json:"country,omitempty"`
	XHandle          string `yaml:"x_handle" json:"x_handle,omitempty"`
	YouTubeChannelID string `yaml:"youtube_channel_id" json:"youtube_channel_id,omitempty"`
	Active           *bool  `yaml:"active" json:"active,omitempty"`
}

// IsActive reports whether the person should be collected. Unset means active.
func (p Person) IsActive() bool {
	return p.Active == nil || *p.Active
}

// Source is the interface every collector must implement.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) (*Batch, error)
}

// NormalizeKey lowercases s and drops everything but letters and digits.
func NormalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolver maps free-form tags from feeds to watchlist person keys.
type Resolver struct {
	lookup     map[string]string
	categories map[string]string
}

// NewResolver indexes people by normalized key and display name.
func NewResolver(people []Person) *Resolver {
	r := &Resolver{
		lookup:     make(map[string]string),
		categories: make(map[string]string),
	}
	for _, p := range people {
		r.lookup[NormalizeKey(p.DisplayName)] = p.Key
		r.lookup[NormalizeKey(p.Key)] = p.Key
		r.categories[p.Key] = p.Category
	}
	return r
}

// Resolve returns the watchlist key for tag, or the normalized tag itself.
func (r *Resolver) Resolve(tag string) string {
	norm := NormalizeKey(tag)
	if r != nil {
		if key, ok := r.lookup[norm]; ok {
			return key
		}
	}
	return norm
}

// Category returns the configured category of a person key.
func (r *Resolver) Category(key string) string {
	if r == nil {
		return ""
	}
	return r.categories[key]
}

// AllSourceTypes returns all known source types.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceRSS,
		SourceLastFM,
		SourceYouTube,
		SourceX,
		SourceCSV,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
