package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/signalindex/pkg/metric"
	"github.com/elonfeng/signalindex/pkg/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	w, err := cfg.Weights()
	require.NoError(t, err)
	assert.Equal(t, score.DefaultWeights(), w)

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	def, ok := catalog.Get("brand_tier")
	require.True(t, ok)
	assert.Equal(t, metric.UnitTier, def.Unit)
	assert.True(t, cfg.Normalizer().IsOrdinal("brand_tier"))
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/test.db
schedule:
  collect_interval: 30m
metrics:
  melon_rank:
    display_name: Melon rank
    pillar: music
    source: csv
    unit: rank
    cadence: daily
    directionality: lower_is_better
tiers:
  brand_tier:
    Muse: 5
watchlist:
  - person_key: ive
    display_name: IVE
    category: K-pop
    x_handle: IVEstarship
  - person_key: retired
    active: false
alerts:
  rules:
    - name: leaders
      when: score >= 80.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Schedule.ParseCollectInterval())
	assert.Equal(t, time.Hour, cfg.Schedule.ParseScoreInterval())

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	def, ok := catalog.Get("melon_rank")
	require.True(t, ok)
	assert.Equal(t, metric.LowerIsBetter, def.Direction)
	_, ok = catalog.Get("lastfm_listeners")
	assert.True(t, ok, "defaults survive a partial metrics section")

	n := cfg.Normalizer()
	num, _ := n.Normalize("brand_tier", nil, metric.Text("Muse"))
	require.NotNil(t, num)
	assert.Equal(t, 5.0, *num)
	assert.NotContains(t, metric.BrandTierOrder, "Muse")

	require.Len(t, cfg.Watchlist, 2)
	active := cfg.ActiveWatchlist()
	require.Len(t, active, 1)
	assert.Equal(t, "IVEstarship", active[0].XHandle)

	require.Len(t, cfg.Alerts.Rules, 1)
	assert.Equal(t, "score >= 80.0", cfg.Alerts.Rules[0].When)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"weights", "scoring:\n  weights:\n    social: 0.9\n    video: 0.4\n", "social+video"},
		{"unit", "metrics:\n  odd:\n    pillar: music\n    unit: furlongs\n    cadence: daily\n    directionality: higher_is_better\n", "unknown unit"},
		{"pillar", "metrics:\n  odd:\n    pillar: weather\n    unit: count\n    cadence: daily\n    directionality: higher_is_better\n", "unknown pillar"},
		{"fields", "scoring:\n  chart_fields:\n    - name: only\n      max_rank: 10\n      weight: 1\n", "chart_fields"},
		{"duplicate", "watchlist:\n  - person_key: a\n  - person_key: a\n", "duplicate"},
		{"rule", "alerts:\n  rules:\n    - name: broken\n      when: 'score >'\n", "alerts.rules"},
		{"yaml", "database: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNALINDEX_DB_PATH", "/data/env.db")
	t.Setenv("SIGNALINDEX_LOG_LEVEL", "debug")
	t.Setenv("LASTFM_API_KEY", "lf")
	t.Setenv("YOUTUBE_API_KEY", "yt")
	t.Setenv("X_BEARER_TOKEN", "xb")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/abc")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data/env.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "lf", cfg.Sources.LastFM.APIKey)
	assert.Equal(t, "yt", cfg.Sources.YouTube.APIKey)
	assert.Equal(t, "xb", cfg.Sources.X.BearerToken)
	assert.True(t, cfg.Alerts.Slack.Enabled)
}
