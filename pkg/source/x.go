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
	MetricXEngagementRate = "x_engagement_rate"

	defaultXURL = "https://api.x.com/2"
)

// X collects recent posts and follower counts through the X API v2.
type X struct {
	client      *http.Client
	baseURL     string
	bearerToken string
	people      []Person
	maxResults  int
	filter      *Filter
	now         func() time.Time
	log         *slog.Logger
}

// NewX creates a new X collector.
func NewX(bearerToken, baseURL string, people []Person, maxResults int, filter *Filter, log *slog.Logger) *X {
	if baseURL == "" {
		baseURL = defaultXURL
	}
	// The API rejects max_results below 5.
	if maxResults < 5 {
		maxResults = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &X{
		client:      &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		bearerToken: bearerToken,
		people:      people,
		maxResults:  maxResults,
		filter:      filter,
		now:         time.Now,
		log:         log,
	}
}

func (x *X) Name() SourceType { return SourceX }

func (x *X) Collect(ctx context.Context) (*Batch, error) {
	if x.bearerToken == "" {
		return nil, fmt.Errorf("x: bearer token required (set X_BEARER_TOKEN)")
	}

	batch := &Batch{Source: SourceX}
	today := metric.Truncate(x.now().UTC())

	for _, p := range x.people {
		if !p.IsActive() || p.XHandle == "" {
			continue
		}
		rows, err := x.collectAccount(ctx, p)
		if err != nil {
			x.log.Warn("x account failed", "person", p.Key, "handle", p.XHandle, "error", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}
		batch.Social = append(batch.Social, rows...)

		var total int64
		for _, r := range rows {
			total += r.Engagement
		}
		rate := 0.0
		if followers := rows[0].Followers; followers > 0 {
			rate = float64(total) / float64(len(rows)) / float64(followers) * 100
		}
		batch.Observations = append(batch.Observations, metric.Observation{
			PersonKey:   p.Key,
			DisplayName: p.DisplayName,
			MetricKey:   MetricXEngagementRate,
			Date:        today,
			Num:         metric.Float(rate),
			Source:      string(SourceX),
		})
	}

	return batch, nil
}

func (x *X) collectAccount(ctx context.Context, p Person) ([]SocialRow, error) {
	handle := strings.TrimPrefix(p.XHandle, "@")

	var user xUserResult
	params := url.Values{}
	params.Set("user.fields", "public_metrics")
	if err := x.get(ctx, "/users/by/username/"+url.PathEscape(handle), params, &user); err != nil {
		return nil, fmt.Errorf("lookup @%s: %w", handle, err)
	}
	if user.Data.ID == "" {
		return nil, fmt.Errorf("lookup @%s: user not found", handle)
	}

	var tweets xTweetsResult
	params = url.Values{}
	params.Set("max_results", fmt.Sprint(x.maxResults))
	params.Set("tweet.fields", "public_metrics")
	params.Set("exclude", "retweets,replies")
	if err := x.get(ctx, "/users/"+user.Data.ID+"/tweets", params, &tweets); err != nil {
		return nil, fmt.Errorf("tweets @%s: %w", handle, err)
	}

	followers := user.Data.PublicMetrics.FollowersCount
	rows := make([]SocialRow, 0, len(tweets.Data))
	for _, t := range tweets.Data {
		rows = append(rows, SocialRow{
			PersonKey:   p.Key,
			Category:    p.Category,
			Engagement:  t.PublicMetrics.LikeCount + t.PublicMetrics.RetweetCount,
			Followers:   followers,
			Promotional: x.filter.MatchesPromo(t.Text),
		})
	}
	return rows, nil
}

func (x *X) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+x.bearerToken)
	req.Header.Set("User-Agent", "signalindex/1.0")

	resp, err := x.client.Do(req)
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

type xUserResult struct {
	Data struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		PublicMetrics struct {
			FollowersCount int64 `json:"followers_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

type xTweetsResult struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		PublicMetrics struct {
			LikeCount    int64 `json:"like_count"`
			RetweetCount int64 `json:"retweet_count"`
			ReplyCount   int64 `json:"reply_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}
