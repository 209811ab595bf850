package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadObservationsCSV(t *testing.T) {
	in := `person_key,metric_key,date,value_num,value_text
ive,lastfm_listeners,2026-01-01,1000,
ive,brand_tier,2026-01-03,,Ambassador
`
	now := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

	obs, err := ReadObservationsCSV(strings.NewReader(in), false, now)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, 1000.0, *obs[0].Num)
	assert.Nil(t, obs[0].Text)
	assert.Equal(t, "csv", obs[0].Source)
	assert.Nil(t, obs[1].Num)
	assert.Equal(t, "Ambassador", *obs[1].Text)

	shifted, err := ReadObservationsCSV(strings.NewReader(in), true, now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08", shifted[0].Day())
	assert.Equal(t, "2026-02-10", shifted[1].Day())
}

func TestReadObservationsCSV_Errors(t *testing.T) {
	_, err := ReadObservationsCSV(strings.NewReader("person_key,date\nive,2026-01-01\n"), false, time.Now())
	assert.ErrorContains(t, err, "metric_key")

	_, err = ReadObservationsCSV(strings.NewReader("person_key,metric_key,date\nive,m,01/02/2026\n"), false, time.Now())
	assert.ErrorContains(t, err, "row 2")

	obs, err := ReadObservationsCSV(strings.NewReader(""), false, time.Now())
	assert.Error(t, err)
	assert.Nil(t, obs)
}

func TestReadSocialCSV(t *testing.T) {
	in := `celebrity,category,engagement,follower_count,has_product_mention
NewJeans,K-pop,"50,000",1000000,True
NewJeans,K-pop,10,1000000,false
`
	rows, err := ReadSocialCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, SocialRow{PersonKey: "NewJeans", Category: "K-pop", Engagement: 50000, Followers: 1000000, Promotional: true}, rows[0])
	assert.False(t, rows[1].Promotional)
}

func TestReadCSV_EmptyFile(t *testing.T) {
	social, err := ReadSocialCSV(strings.NewReader(""))
	assert.ErrorContains(t, err, "engagement")
	assert.Nil(t, social)

	videos, err := ReadVideoCSV(strings.NewReader(""))
	assert.ErrorContains(t, err, "views")
	assert.Nil(t, videos)

	// chart files have no required columns; empty means no chart data
	charts, err := ReadChartCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, charts)
}

func TestReadVideoAndChartCSV(t *testing.T) {
	videos, err := ReadVideoCSV(strings.NewReader("person_key,category,views\nive,K-pop,2500000\n"))
	require.NoError(t, err)
	assert.Equal(t, []VideoRow{{PersonKey: "ive", Category: "K-pop", Views: 2500000}}, videos)

	charts, err := ReadChartCSV(strings.NewReader("celebrity,category,spotify_position,billboard_hot100,billboard_200,melon_position\nive,K-pop,3,,x,0\n"))
	require.NoError(t, err)
	require.Len(t, charts, 1)
	assert.Equal(t, 3, *charts[0].StreamingRank)
	assert.Nil(t, charts[0].SalesRankA)
	assert.Nil(t, charts[0].SalesRankB)
	assert.Nil(t, charts[0].RegionalRank)
}

func TestCSVCollect(t *testing.T) {
	dir := t.TempDir()
	social := filepath.Join(dir, "social.csv")
	require.NoError(t, os.WriteFile(social, []byte("person_key,engagement,follower_count\nive,10,100\n"), 0o644))

	batch, err := NewCSV(CSVFiles{Social: social}).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Social, 1)
	assert.Empty(t, batch.Observations)

	_, err = NewCSV(CSVFiles{Video: filepath.Join(dir, "missing.csv")}).Collect(context.Background())
	assert.Error(t, err)
}
