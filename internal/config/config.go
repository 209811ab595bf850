package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/elonfeng/signalindex/internal/logging"
	"github.com/elonfeng/signalindex/pkg/alert"
	"github.com/elonfeng/signalindex/pkg/metric"
	"github.com/elonfeng/signalindex/pkg/score"
	"github.com/elonfeng/signalindex/pkg/source"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig               `yaml:"database"`
	Schedule  ScheduleConfig               `yaml:"schedule"`
	Log       logging.Config               `yaml:"log"`
	Server    ServerConfig                 `yaml:"server"`
	Sources   SourcesConfig                `yaml:"sources"`
	Filter    FilterConfig                 `yaml:"filter"`
	Scoring   ScoringConfig                `yaml:"scoring"`
	Pillars   map[string]string            `yaml:"pillars"`
	Metrics   map[string]metric.Definition `yaml:"metrics"`
	Tiers     map[string]map[string]int    `yaml:"tiers"`
	Watchlist []source.Person              `yaml:"watchlist"`
	Alerts    AlertsConfig                 `yaml:"alerts"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures collection and scoring intervals.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval"`
	ScoreInterval   string `yaml:"score_interval"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	d, err := time.ParseDuration(s.CollectInterval)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// ParseScoreInterval returns the scoring interval as time.Duration.
func (s ScheduleConfig) ParseScoreInterval() time.Duration {
	d, err := time.ParseDuration(s.ScoreInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SourcesConfig holds configuration for all data sources.
type SourcesConfig struct {
	RSS     RSSConfig     `yaml:"rss"`
	LastFM  LastFMConfig  `yaml:"lastfm"`
	YouTube YouTubeConfig `yaml:"youtube"`
	X       XConfig       `yaml:"x"`
	CSV     CSVConfig     `yaml:"csv"`
}

// RSSConfig for sales-report feeds.
type RSSConfig struct {
	Enabled bool       `yaml:"enabled"`
	Feeds   []FeedItem `yaml:"feeds"`
}

// FeedItem is a single RSS feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LastFMConfig for the Last.fm artist collector.
type LastFMConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// YouTubeConfig for the channel upload collector.
type YouTubeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxResults int    `yaml:"max_results"`
}

// XConfig for the X API v2 collector.
type XConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BearerToken string `yaml:"bearer_token"`
	BaseURL     string `yaml:"base_url"`
	MaxResults  int    `yaml:"max_results"`
}

// CSVConfig points at local snapshot exports.
type CSVConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Observations string `yaml:"observations"`
	Social       string `yaml:"social"`
	Video        string `yaml:"video"`
	Chart        string `yaml:"chart"`
	ShiftToToday bool   `yaml:"shift_to_today"`
}

// FilterConfig tunes promotional-content detection.
type FilterConfig struct {
	ExtraKeywords   []string `yaml:"extra_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// ScoringConfig holds the composite score weighting.
type ScoringConfig struct {
	Weights           RegimeWeights      `yaml:"weights"`
	ChartWeights      RegimeWeights      `yaml:"chart_weights"`
	ChartFields       []ChartFieldConfig `yaml:"chart_fields"`
	SocialScale       float64            `yaml:"social_scale"`
	ViewsForFullScore float64            `yaml:"views_for_full_score"`
}

// RegimeWeights is one convex combination of components.
type RegimeWeights struct {
	Social float64 `yaml:"social"`
	Video  float64 `yaml:"video"`
	Chart  float64 `yaml:"chart"`
}

// ChartFieldConfig configures one chart rank field.
type ChartFieldConfig struct {
	Name     string  `yaml:"name"`
	MaxRank  int     `yaml:"max_rank"`
	Weight   float64 `yaml:"weight"`
	Category string  `yaml:"category"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord SlackConfig   `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
	TopN    int           `yaml:"top_n"`
	Stale   bool          `yaml:"stale"`
	Rules   []alert.Rule  `yaml:"rules"`
}

// SlackConfig for Slack and Discord incoming webhooks.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	w := score.DefaultWeights()
	fields := make([]ChartFieldConfig, len(w.Fields))
	for i, f := range w.Fields {
		fields[i] = ChartFieldConfig{Name: f.Name, MaxRank: f.MaxRank, Weight: f.Weight, Category: f.Category}
	}

	return &Config{
		Database: DatabaseConfig{Path: "./signalindex.db"},
		Schedule: ScheduleConfig{
			CollectInterval: "6h",
			ScoreInterval:   "1h",
		},
		Log:    logging.Config{Level: "info", Format: "text"},
		Server: ServerConfig{Port: 8080},
		Sources: SourcesConfig{
			RSS: RSSConfig{
				Enabled: true,
				Feeds: []FeedItem{
					{Name: "koreansales", URL: "https://kpopkoreansales.blogspot.com/feeds/posts/default?alt=rss"},
				},
			},
			LastFM:  LastFMConfig{Enabled: false},
			YouTube: YouTubeConfig{Enabled: false, MaxResults: 5},
			X:       XConfig{Enabled: false, MaxResults: 10},
		},
		Scoring: ScoringConfig{
			Weights:           RegimeWeights{Social: w.Social, Video: w.Video},
			ChartWeights:      RegimeWeights{Social: w.ChartSocial, Video: w.ChartVideo, Chart: w.Chart},
			ChartFields:       fields,
			SocialScale:       w.SocialScale,
			ViewsForFullScore: w.ViewsForFullScore,
		},
		Pillars: map[string]string{
			"commerce": "Commerce",
			"music":    "Music",
			"social":   "Social",
			"video":    "Video",
			"brand":    "Brand",
		},
		Metrics: defaultMetrics(),
		Tiers: map[string]map[string]int{
			"brand_tier": maps.Clone(metric.BrandTierOrder),
		},
		Alerts: AlertsConfig{TopN: 5, Stale: true},
	}
}

func defaultMetrics() map[string]metric.Definition {
	daily := func(name, pillar, src string, unit metric.Unit, dir metric.Direction) metric.Definition {
		return metric.Definition{DisplayName: name, Pillar: pillar, Source: src, Unit: unit, Cadence: metric.CadenceDaily, Direction: dir}
	}
	return map[string]metric.Definition{
		source.MetricDailySales: daily("Hanteo daily sales", "commerce", "rss", metric.UnitCount, metric.HigherIsBetter),
		source.MetricFirstWeekSales: {
			DisplayName: "First-week album sales", Pillar: "commerce", Source: "rss",
			Unit: metric.UnitCount, Cadence: metric.CadenceEvent, Direction: metric.HigherIsBetter,
		},
		source.MetricLastFMListeners: daily("Last.fm listeners", "music", "lastfm", metric.UnitCount, metric.HigherIsBetter),
		source.MetricLastFMPlaycount: daily("Last.fm playcount", "music", "lastfm", metric.UnitCount, metric.HigherIsBetter),
		source.MetricYouTubeViews:    daily("YouTube recent views", "video", "youtube", metric.UnitCount, metric.HigherIsBetter),
		source.MetricXEngagementRate: daily("X engagement rate", "social", "x", metric.UnitPercent, metric.HigherIsBetter),
		"streaming_chart_rank":       daily("Streaming chart rank", "music", "csv", metric.UnitRank, metric.LowerIsBetter),
		"brand_tier": {
			DisplayName: "Brand tier", Pillar: "brand", Source: "csv",
			Unit: metric.UnitTier, Cadence: metric.CadenceEvent, Direction: metric.LowerIsBetter,
		},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIGNALINDEX_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SIGNALINDEX_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		cfg.Sources.LastFM.APIKey = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Sources.YouTube.APIKey = v
	}
	if v := os.Getenv("X_BEARER_TOKEN"); v != "" {
		cfg.Sources.X.BearerToken = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}

// Validate checks the parts of the config that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := c.Catalog(); err != nil {
		errs = append(errs, err)
	}
	for key, d := range c.Metrics {
		if len(c.Pillars) > 0 {
			if _, ok := c.Pillars[d.Pillar]; !ok {
				errs = append(errs, fmt.Errorf("metric %s: unknown pillar %q", key, d.Pillar))
			}
		}
	}
	if _, err := c.Weights(); err != nil {
		errs = append(errs, err)
	}
	if _, err := alert.CompileRules(c.Alerts.Rules); err != nil {
		errs = append(errs, fmt.Errorf("alerts.rules: %w", err))
	}
	seen := make(map[string]bool, len(c.Watchlist))
	for i, p := range c.Watchlist {
		switch {
		case p.Key == "":
			errs = append(errs, fmt.Errorf("watchlist[%d]: person_key is required", i))
		case seen[p.Key]:
			errs = append(errs, fmt.Errorf("watchlist[%d]: duplicate person_key %q", i, p.Key))
		}
		seen[p.Key] = true
	}
	return errors.Join(errs...)
}

// Catalog builds the metric catalog.
func (c *Config) Catalog() (*metric.Catalog, error) {
	return metric.NewCatalog(c.Metrics)
}

// Normalizer builds the value normalizer from the tier tables.
func (c *Config) Normalizer() *metric.Normalizer {
	return metric.NewNormalizer(c.Tiers)
}

// Weights converts the scoring section into composite weights.
func (c *Config) Weights() (score.Weights, error) {
	s := c.Scoring
	w := score.Weights{
		Social:            s.Weights.Social,
		Video:             s.Weights.Video,
		ChartSocial:       s.ChartWeights.Social,
		ChartVideo:        s.ChartWeights.Video,
		Chart:             s.ChartWeights.Chart,
		SocialScale:       s.SocialScale,
		ViewsForFullScore: s.ViewsForFullScore,
	}
	if len(s.ChartFields) != len(w.Fields) {
		return w, fmt.Errorf("scoring.chart_fields: want %d fields, got %d", len(w.Fields), len(s.ChartFields))
	}
	for i, f := range s.ChartFields {
		w.Fields[i] = score.ChartField{Name: f.Name, MaxRank: f.MaxRank, Weight: f.Weight, Category: f.Category}
	}
	if err := w.Validate(); err != nil {
		return w, fmt.Errorf("scoring: %w", err)
	}
	return w, nil
}

// ActiveWatchlist returns watchlist entries not marked inactive.
func (c *Config) ActiveWatchlist() []source.Person {
	out := make([]source.Person, 0, len(c.Watchlist))
	for _, p := range c.Watchlist {
		if p.IsActive() {
			out = append(out, p)
		}
	}
	return out
}
