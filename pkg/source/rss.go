package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/elonfeng/signalindex/pkg/metric"
	"github.com/mmcdole/gofeed"
)

const (
	MetricDailySales     = "realtime_pos_sales"
	MetricFirstWeekSales = "chodong_first_week"
)

var (
	dateInTitleRe = regexp.MustCompile(`\((\d{2})\.(\d{2})\.(\d{2})\)`)
	tagCopiesRe   = regexp.MustCompile(`(?i)#([A-Za-z0-9_]+).*?(\d[\d,]*)\s+copies`)
	tagRe         = regexp.MustCompile(`#([A-Za-z0-9_]+)`)
	totalRe       = regexp.MustCompile(`(?i)TOTAL\s*[:\-]\s*([\d,]+)`)
	numberRe      = regexp.MustCompile(`\d[\d,]*`)
)

// RSSFeed is a named RSS/Atom feed URL.
type RSSFeed struct {
	Name string
	URL  string
}

// RSS collects album sales figures posted to RSS/Atom feeds.
type RSS struct {
	client   *http.Client
	parser   *gofeed.Parser
	feeds    []RSSFeed
	resolver *Resolver
	log      *slog.Logger
}

// NewRSS creates a new RSS collector.
func NewRSS(feeds []RSSFeed, resolver *Resolver, log *slog.Logger) *RSS {
	if log == nil {
		log = slog.Default()
	}
	return &RSS{
		client:   &http.Client{Timeout: 30 * time.Second},
		parser:   gofeed.NewParser(),
		feeds:    feeds,
		resolver: resolver,
		log:      log,
	}
}

func (r *RSS) Name() SourceType { return SourceRSS }

func (r *RSS) Collect(ctx context.Context) (*Batch, error) {
	batch := &Batch{Source: SourceRSS}

	for _, feed := range r.feeds {
		obs, err := r.collectFeed(ctx, feed)
		if err != nil {
			r.log.Warn("rss feed failed", "feed", feed.Name, "error", err)
			continue
		}
		batch.Observations = append(batch.Observations, obs...)
	}

	return batch, nil
}

func (r *RSS) collectFeed(ctx context.Context, feed RSSFeed) ([]metric.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "signalindex/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", feed.Name, err)
	}

	obs := r.ParseFeed(parsed, feed.Name)
	r.log.Debug("rss feed parsed", "feed", feed.Name, "items", len(parsed.Items), "observations", len(obs))
	return obs, nil
}

// ParseFeed extracts sales observations from every recognized entry.
func (r *RSS) ParseFeed(feed *gofeed.Feed, feedName string) []metric.Observation {
	var out []metric.Observation
	for _, entry := range feed.Items {
		text := htmlText(entry.Description)
		if text == "" {
			text = htmlText(entry.Content)
		}

		var published *time.Time
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed
		}

		switch {
		case strings.Contains(entry.Title, "Hanteo Album Chart") && strings.Contains(entry.Title, "Daily"):
			date := dateFromTitle(entry.Title)
			if date == nil {
				date = published
			}
			out = append(out, r.dailyChart(text, date, feedName)...)
		case strings.Contains(entry.Title, "1st Week Sales") || strings.Contains(text, "1st Week Sales"):
			out = append(out, r.firstWeek(text, published, feedName)...)
		default:
			r.log.Debug("rss entry skipped", "feed", feedName, "title", truncate(entry.Title, 80))
		}
	}
	return out
}

func (r *RSS) dailyChart(text string, date *time.Time, feedName string) []metric.Observation {
	if date == nil {
		return nil
	}
	var out []metric.Observation
	for _, line := range strings.Split(text, "\n") {
		m := tagCopiesRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		copies, err := parseCount(m[2])
		if err != nil {
			continue
		}
		out = append(out, r.observation(m[1], MetricDailySales, *date, copies, feedName))
	}
	return out
}

func (r *RSS) firstWeek(text string, date *time.Time, feedName string) []metric.Observation {
	if date == nil {
		return nil
	}
	tag := tagRe.FindStringSubmatch(text)
	if tag == nil {
		return nil
	}

	var value float64
	var found bool
	if m := totalRe.FindStringSubmatch(text); m != nil {
		if v, err := parseCount(m[1]); err == nil {
			value, found = v, true
		}
	}
	if !found {
		for _, n := range numberRe.FindAllString(text, -1) {
			v, err := parseCount(n)
			if err != nil {
				continue
			}
			if !found || v > value {
				value, found = v, true
			}
		}
	}
	if !found {
		return nil
	}

	return []metric.Observation{r.observation(tag[1], MetricFirstWeekSales, *date, value, feedName)}
}

func (r *RSS) observation(tag, metricKey string, date time.Time, value float64, feedName string) metric.Observation {
	return metric.Observation{
		PersonKey:   r.resolver.Resolve(tag),
		DisplayName: tag,
		MetricKey:   metricKey,
		Date:        metric.Truncate(date),
		Num:         metric.Float(value),
		Source:      fmt.Sprintf("rss:%s", feedName),
	}
}

func dateFromTitle(title string) *time.Time {
	m := dateInTitleRe.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	yy, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	dd, _ := strconv.Atoi(m[3])
	t := time.Date(2000+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	return &t
}

func parseCount(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// htmlText renders an HTML fragment as plain text, one block per line.
func htmlText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return strings.TrimSpace(doc.Text())
}
