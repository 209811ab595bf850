package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/signalindex/pkg/metric"
)

// CSVFiles names the snapshot files a CSV source reads. Empty paths are skipped.
type CSVFiles struct {
	Observations string
	Social       string
	Video        string
	Chart        string
	ShiftToToday bool
}

// CSV loads batches from local CSV exports.
type CSV struct {
	files CSVFiles
	now   func() time.Time
}

// NewCSV creates a CSV file source.
func NewCSV(files CSVFiles) *CSV {
	return &CSV{files: files, now: time.Now}
}

func (c *CSV) Name() SourceType { return SourceCSV }

func (c *CSV) Collect(ctx context.Context) (*Batch, error) {
	batch := &Batch{Source: SourceCSV}

	steps := []struct {
		path string
		read func(io.Reader) error
	}{
		{c.files.Observations, func(r io.Reader) (err error) {
			batch.Observations, err = ReadObservationsCSV(r, c.files.ShiftToToday, c.now())
			return err
		}},
		{c.files.Social, func(r io.Reader) (err error) {
			batch.Social, err = ReadSocialCSV(r)
			return err
		}},
		{c.files.Video, func(r io.Reader) (err error) {
			batch.Video, err = ReadVideoCSV(r)
			return err
		}},
		{c.files.Chart, func(r io.Reader) (err error) {
			batch.Chart, err = ReadChartCSV(r)
			return err
		}},
	}

	for _, s := range steps {
		if s.path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readFile(s.path, s.read); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()
	if err := read(f); err != nil {
		return fmt.Errorf("read csv %s: %w", path, err)
	}
	return nil
}

// table is a CSV file indexed by lowercase header name.
type table struct {
	cols map[string]int
	rows [][]string
}

func readTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		if len(required) > 0 {
			return nil, fmt.Errorf("empty file: missing column %q", required[0])
		}
		return &table{cols: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &table{cols: make(map[string]int, len(header))}
	for i, h := range header {
		t.cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := t.cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	t.rows, err = cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return t, nil
}

func (t *table) get(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// first returns the first non-empty value among cols.
func (t *table) first(row []string, cols ...string) string {
	for _, c := range cols {
		if v := t.get(row, c); v != "" {
			return v
		}
	}
	return ""
}

// ReadObservationsCSV parses generic observation rows with columns
// person_key, metric_key, date, value_num, value_text and optional
// display_name and source. With shift set, all dates move forward so the
// newest becomes today.
func ReadObservationsCSV(r io.Reader, shift bool, now time.Time) ([]metric.Observation, error) {
	t, err := readTable(r, "person_key", "metric_key", "date")
	if err != nil {
		return nil, err
	}

	out := make([]metric.Observation, 0, len(t.rows))
	var newest time.Time
	for i, row := range t.rows {
		date, err := time.Parse(metric.DateLayout, t.get(row, "date"))
		if err != nil {
			return nil, fmt.Errorf("row %d: parse date: %w", i+2, err)
		}
		o := metric.Observation{
			PersonKey:   t.get(row, "person_key"),
			DisplayName: t.get(row, "display_name"),
			MetricKey:   t.get(row, "metric_key"),
			Date:        date,
			Source:      t.get(row, "source"),
		}
		if v := t.get(row, "value_num"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: parse value_num: %w", i+2, err)
			}
			o.Num = metric.Float(f)
		}
		if v := t.get(row, "value_text"); v != "" {
			o.Text = metric.Text(v)
		}
		if o.Source == "" {
			o.Source = string(SourceCSV)
		}
		if date.After(newest) {
			newest = date
		}
		out = append(out, o)
	}

	if shift && len(out) > 0 {
		offset := int(metric.Truncate(now).Sub(newest).Hours() / 24)
		for i := range out {
			out[i].Date = out[i].Date.AddDate(0, 0, offset)
		}
	}
	return out, nil
}

// ReadSocialCSV parses social rows. The person column may be named
// person_key or celebrity.
func ReadSocialCSV(r io.Reader) ([]SocialRow, error) {
	t, err := readTable(r, "engagement", "follower_count")
	if err != nil {
		return nil, err
	}

	out := make([]SocialRow, 0, len(t.rows))
	for i, row := range t.rows {
		engagement, err := parseInt(t.get(row, "engagement"))
		if err != nil {
			return nil, fmt.Errorf("row %d: engagement: %w", i+2, err)
		}
		followers, err := parseInt(t.get(row, "follower_count"))
		if err != nil {
			return nil, fmt.Errorf("row %d: follower_count: %w", i+2, err)
		}
		promo, _ := strconv.ParseBool(t.first(row, "has_product_mention", "promotional"))
		out = append(out, SocialRow{
			PersonKey:   t.first(row, "person_key", "celebrity"),
			Category:    t.get(row, "category"),
			Engagement:  engagement,
			Followers:   followers,
			Promotional: promo,
		})
	}
	return out, nil
}

// ReadVideoCSV parses video rows.
func ReadVideoCSV(r io.Reader) ([]VideoRow, error) {
	t, err := readTable(r, "views")
	if err != nil {
		return nil, err
	}

	out := make([]VideoRow, 0, len(t.rows))
	for i, row := range t.rows {
		views, err := parseInt(t.get(row, "views"))
		if err != nil {
			return nil, fmt.Errorf("row %d: views: %w", i+2, err)
		}
		out = append(out, VideoRow{
			PersonKey: t.first(row, "person_key", "celebrity"),
			Category:  t.get(row, "category"),
			Views:     views,
		})
	}
	return out, nil
}

// ReadChartCSV parses chart rows. Blank or unparsable ranks mean "not
// charting".
func ReadChartCSV(r io.Reader) ([]ChartRow, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}

	out := make([]ChartRow, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, ChartRow{
			PersonKey:     t.first(row, "person_key", "celebrity"),
			Category:      t.get(row, "category"),
			StreamingRank: parseRank(t.first(row, "streaming_rank", "spotify_position")),
			SalesRankA:    parseRank(t.first(row, "sales_rank_a", "billboard_hot100")),
			SalesRankB:    parseRank(t.first(row, "sales_rank_b", "billboard_200")),
			RegionalRank:  parseRank(t.first(row, "regional_rank", "melon_position")),
		})
	}
	return out, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func parseRank(s string) *int {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 1 {
		return nil
	}
	n := int(f)
	return &n
}
