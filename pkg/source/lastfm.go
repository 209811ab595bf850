package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/elonfeng/signalindex/pkg/metric"
)

const (
	MetricLastFMListeners = "lastfm_listeners"
	MetricLastFMPlaycount = "lastfm_playcount"

	defaultLastFMURL = "https://ws.audioscrobbler.com/2.0/"
)

// LastFM collects listener and play counts per watchlist artist.
type LastFM struct {
	client  *http.Client
	baseURL string
	apiKey  string
	people  []Person
	now     func() time.Time
	log     *slog.Logger
}

// NewLastFM creates a new Last.fm collector. An empty baseURL uses the
// public API endpoint.
func NewLastFM(apiKey, baseURL string, people []Person, log *slog.Logger) *LastFM {
	if baseURL == "" {
		baseURL = defaultLastFMURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &LastFM{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		people:  people,
		now:     time.Now,
		log:     log,
	}
}

func (l *LastFM) Name() SourceType { return SourceLastFM }

func (l *LastFM) Collect(ctx context.Context) (*Batch, error) {
	if l.apiKey == "" {
		return nil, fmt.Errorf("lastfm: API key required (set LASTFM_API_KEY)")
	}

	batch := &Batch{Source: SourceLastFM}
	today := metric.Truncate(l.now().UTC())

	for _, p := range l.people {
		if !p.IsActive() {
			continue
		}
		stats, err := l.artistInfo(ctx, p.DisplayName)
		if err != nil {
			l.log.Warn("lastfm artist failed", "person", p.Key, "error", err)
			continue
		}
		for _, kv := range [][2]string{
			{MetricLastFMListeners, stats.Listeners},
			{MetricLastFMPlaycount, stats.Playcount},
		} {
			v, err := strconv.ParseFloat(kv[1], 64)
			if err != nil {
				continue
			}
			batch.Observations = append(batch.Observations, metric.Observation{
				PersonKey:   p.Key,
				DisplayName: p.DisplayName,
				MetricKey:   kv[0],
				Date:        today,
				Num:         metric.Float(v),
				Source:      string(SourceLastFM),
			})
		}
	}

	return batch, nil
}

type lastfmStats struct {
	Listeners string `json:"listeners"`
	Playcount string `json:"playcount"`
}

func (l *LastFM) artistInfo(ctx context.Context, artist string) (*lastfmStats, error) {
	params := url.Values{}
	params.Set("method", "artist.getInfo")
	params.Set("artist", artist)
	params.Set("api_key", l.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create lastfm request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch lastfm %s: %w", artist, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lastfm %s status %d", artist, resp.StatusCode)
	}

	var result struct {
		Artist struct {
			Stats lastfmStats `json:"stats"`
		} `json:"artist"`
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode lastfm %s: %w", artist, err)
	}
	if result.Error != 0 {
		return nil, fmt.Errorf("lastfm %s: %s", artist, result.Message)
	}
	return &result.Artist.Stats, nil
}
