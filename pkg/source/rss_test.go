package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Korean Sales</title>
  <item>
    <title>Hanteo Album Chart Daily (26.03.14)</title>
    <guid>1</guid>
    <pubDate>Sun, 15 Mar 2026 09:00:00 GMT</pubDate>
    <description><![CDATA[<p>1. #IVE - IVE SWITCH 12,345 copies</p><p>2. #NewJeans - How Sweet 9,876 copies</p><p>no tag here 55 copies</p>]]></description>
  </item>
  <item>
    <title>Initial chodong update</title>
    <guid>2</guid>
    <pubDate>Mon, 16 Mar 2026 09:00:00 GMT</pubDate>
    <description><![CDATA[#aespa 1st Week Sales<br/>Day 1: 500,000<br/>TOTAL: 1,169,816]]></description>
  </item>
  <item>
    <title>1st Week Sales without total</title>
    <guid>3</guid>
    <pubDate>Tue, 17 Mar 2026 09:00:00 GMT</pubDate>
    <description><![CDATA[#LE_SSERAFIM day1 300,000 day2 120,000]]></description>
  </item>
  <item>
    <title>Unrelated news</title>
    <guid>4</guid>
    <description>#IVE wins 3 awards</description>
  </item>
</channel>
</rss>`

func testRSS() *RSS {
	resolver := NewResolver([]Person{{Key: "newjeans", DisplayName: "NewJeans"}, {Key: "le_sserafim", DisplayName: "LE SSERAFIM"}})
	return NewRSS(nil, resolver, nil)
}

func TestRSSParseFeed(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(salesFeed)
	require.NoError(t, err)

	obs := testRSS().ParseFeed(feed, "sales")
	require.Len(t, obs, 4)

	assert.Equal(t, "ive", obs[0].PersonKey)
	assert.Equal(t, MetricDailySales, obs[0].MetricKey)
	assert.Equal(t, "2026-03-14", obs[0].Day())
	assert.Equal(t, 12345.0, *obs[0].Num)
	assert.Equal(t, "rss:sales", obs[0].Source)

	assert.Equal(t, "newjeans", obs[1].PersonKey)
	assert.Equal(t, 9876.0, *obs[1].Num)

	assert.Equal(t, "aespa", obs[2].PersonKey)
	assert.Equal(t, MetricFirstWeekSales, obs[2].MetricKey)
	assert.Equal(t, 1169816.0, *obs[2].Num)
	assert.Equal(t, "2026-03-16", obs[2].Day())

	assert.Equal(t, "le_sserafim", obs[3].PersonKey)
	assert.Equal(t, 300000.0, *obs[3].Num)
}

func TestRSSCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(salesFeed))
	}))
	defer srv.Close()

	r := NewRSS([]RSSFeed{
		{Name: "broken", URL: srv.URL + "/broken"},
		{Name: "sales", URL: srv.URL + "/feed"},
	}, nil, nil)

	batch, err := r.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceRSS, batch.Source)
	assert.Len(t, batch.Observations, 4)
}

func TestDateFromTitle(t *testing.T) {
	d := dateFromTitle("Hanteo Album Chart Daily (25.12.31)")
	require.NotNil(t, d)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), *d)
	assert.Nil(t, dateFromTitle("no date"))
}

func TestHTMLText(t *testing.T) {
	assert.Equal(t, "", htmlText("  "))
	assert.Contains(t, htmlText("<p>a</p><p>b</p>"), "a\n")
}
