package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elonfeng/signalindex/pkg/metric"
)

const (
	MetricYouTubeViews = "youtube_recent_views"

	defaultYouTubeURL = "https://www.googleapis.com/youtube/v3"
)

// YouTube collects view counts of each person's most recent uploads.
type YouTube struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	people     []Person
	maxResults int
	now        func() time.Time
	log        *slog.Logger
}

// NewYouTube creates a new YouTube collector.
func NewYouTube(apiKey, baseURL string, people []Person, maxResults int, log *slog.Logger) *YouTube {
	if baseURL == "" {
		baseURL = defaultYouTubeURL
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &YouTube{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		people:     people,
		maxResults: maxResults,
		now:        time.Now,
		log:        log,
	}
}

func (y *YouTube) Name() SourceType { return SourceYouTube }

func (y *YouTube) Collect(ctx context.Context) (*Batch, error) {
	if y.apiKey == "" {
		return nil, fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY)")
	}

	batch := &Batch{Source: SourceYouTube}
	today := metric.Truncate(y.now().UTC())

	for _, p := range y.people {
		if !p.IsActive() || p.YouTubeChannelID == "" {
			continue
		}

		ids, err := y.recentUploads(ctx, p.YouTubeChannelID)
		if err != nil {
			y.log.Warn("youtube channel failed", "person", p.Key, "error", err)
			continue
		}
		if len(ids) == 0 {
			continue
		}

		views, err := y.viewCounts(ctx, ids)
		if err != nil {
			y.log.Warn("youtube statistics failed", "person", p.Key, "error", err)
			continue
		}

		var total int64
		for _, v := range views {
			batch.Video = append(batch.Video, VideoRow{
				PersonKey: p.Key,
				Category:  p.Category,
				Views:     v,
			})
			total += v
		}
		batch.Observations = append(batch.Observations, metric.Observation{
			PersonKey:   p.Key,
			DisplayName: p.DisplayName,
			MetricKey:   MetricYouTubeViews,
			Date:        today,
			Num:         metric.Float(float64(total)),
			Source:      string(SourceYouTube),
		})
	}

	return batch, nil
}

func (y *YouTube) recentUploads(ctx context.Context, channelID string) ([]string, error) {
	params := url.Values{}
	params.Set("part", "id")
	params.Set("channelId", channelID)
	params.Set("type", "video")
	params.Set("order", "date")
	params.Set("maxResults", fmt.Sprint(y.maxResults))
	params.Set("key", y.apiKey)

	var result ytSearchResult
	if err := y.get(ctx, "/search", params, &result); err != nil {
		return nil, fmt.Errorf("youtube search %s: %w", channelID, err)
	}

	var ids []string
	for _, item := range result.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	return ids, nil
}

func (y *YouTube) viewCounts(ctx context.Context, ids []string) ([]int64, error) {
	var views []int64
	// The videos endpoint accepts at most 50 ids per request.
	for start := 0; start < len(ids); start += 50 {
		end := min(start+50, len(ids))

		params := url.Values{}
		params.Set("part", "statistics")
		params.Set("id", strings.Join(ids[start:end], ","))
		params.Set("key", y.apiKey)

		var result ytVideoResult
		if err := y.get(ctx, "/videos", params, &result); err != nil {
			return nil, fmt.Errorf("youtube videos: %w", err)
		}
		for _, video := range result.Items {
			views = append(views, video.Statistics.ViewCount)
		}
	}
	return views, nil
}

func (y *YouTube) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

type ytSearchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type ytVideoResult struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    int64 `json:"viewCount,string"`
			LikeCount    int64 `json:"likeCount,string"`
			CommentCount int64 `json:"commentCount,string"`
		} `json:"statistics"`
	} `json:"items"`
}
