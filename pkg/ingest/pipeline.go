// Package ingest turns connector batches into persisted canonical
// observations.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elonfeng/signalindex/internal/store"
	"github.com/elonfeng/signalindex/internal/telemetry"
	"github.com/elonfeng/signalindex/pkg/metric"
	"github.com/elonfeng/signalindex/pkg/source"
	"github.com/google/uuid"
)

// Skip reasons, also used as metric labels.
const (
	SkipInvalid       = "invalid"
	SkipUnknownMetric = "unknown_metric"
	SkipMerged        = "merged"
)

// Result summarizes one ingestion pass.
type Result struct {
	RunID    string         `json:"run_id"`
	Source   string         `json:"source"`
	Received int            `json:"received"`
	Written  int            `json:"written"`
	Skipped  map[string]int `json:"skipped,omitempty"`
}

// SkippedTotal sums skipped rows across reasons.
func (r Result) SkippedTotal() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

func (r *Result) skip(reason string, n int) {
	if n <= 0 {
		return
	}
	if r.Skipped == nil {
		r.Skipped = make(map[string]int)
	}
	r.Skipped[reason] += n
}

// Pipeline validates, normalizes, reconciles and stores observations.
type Pipeline struct {
	store      store.Store
	catalog    *metric.Catalog
	normalizer *metric.Normalizer
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records ingestion counters on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides the time source used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline over st. catalog decides which metric keys are
// accepted; normalizer may be nil.
func New(st store.Store, catalog *metric.Catalog, normalizer *metric.Normalizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      st,
		catalog:    catalog,
		normalizer: normalizer,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SeedWatchlist registers every watchlist person, updating mutable fields
// of persons already known.
func (p *Pipeline) SeedWatchlist(ctx context.Context, people []source.Person) error {
	if len(people) == 0 {
		return nil
	}
	rows := make([]store.Person, 0, len(people))
	for _, sp := range people {
		name := sp.DisplayName
		if name == "" {
			name = sp.Key
		}
		rows = append(rows, store.Person{
			Key:         sp.Key,
			DisplayName: name,
			Category:    sp.Category,
			Country:     sp.Country,
		})
	}
	if err := p.store.UpsertPeople(ctx, rows); err != nil {
		return fmt.Errorf("seed watchlist: %w", err)
	}
	return nil
}

// RunBatch ingests the generic observations of b. Social, video and chart
// rows are left for the composite scorer.
func (p *Pipeline) RunBatch(ctx context.Context, b *source.Batch) (Result, error) {
	if b == nil {
		return p.Run(ctx, "", nil)
	}
	return p.Run(ctx, string(b.Source), b.Observations)
}

// Run persists observations row by row. Rows for the same
// (person, metric, date) are reconciled before anything is written. A store
// failure aborts the pass; rows written before it stay committed and are
// counted in the returned Result.
func (p *Pipeline) Run(ctx context.Context, src string, observations []metric.Observation) (Result, error) {
	res := Result{
		RunID:    uuid.NewString(),
		Source:   src,
		Received: len(observations),
	}
	log := p.logger.With("run_id", res.RunID, "source", src)

	batch := &source.Batch{Observations: append([]metric.Observation(nil), observations...)}
	for _, r := range batch.Validate() {
		log.Debug("observation rejected", "row", r.String())
		res.skip(SkipInvalid, 1)
	}

	agg := metric.NewAggregator(p.catalog)
	for _, o := range batch.Observations {
		if _, ok := p.catalog.Get(o.MetricKey); !ok {
			log.Debug("unknown metric", "metric", o.MetricKey, "person", o.PersonKey)
			res.skip(SkipUnknownMetric, 1)
			continue
		}
		o.PersonKey = strings.TrimSpace(o.PersonKey)
		o.Date = metric.Truncate(o.Date)
		o.Num, o.Text = p.normalizer.Normalize(o.MetricKey, o.Num, o.Text)
		if o.Source == "" {
			o.Source = src
		}
		agg.Add(o)
	}
	res.skip(SkipMerged, len(batch.Observations)-res.Skipped[SkipUnknownMetric]-agg.Len())

	for reason, n := range res.Skipped {
		p.metrics.ObservationSkipped(reason, n)
	}

	personIDs := make(map[string]int64)
	for _, o := range agg.Rows() {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		id, ok := personIDs[o.PersonKey]
		if !ok {
			var err error
			id, err = p.store.EnsurePerson(ctx, o.PersonKey, o.DisplayName)
			if err != nil {
				p.metrics.IngestFailed(src)
				return res, fmt.Errorf("ensure person %s: %w", o.PersonKey, err)
			}
			personIDs[o.PersonKey] = id
		}

		def, _ := p.catalog.Get(o.MetricKey)
		row := &store.Observation{
			PersonID:  id,
			MetricKey: o.MetricKey,
			Pillar:    def.Pillar,
			Source:    o.Source,
			Date:      o.Day(),
			ValueNum:  o.Num,
			ValueText: o.Text,
			Unit:      string(def.Unit),
			RawJSON:   rawJSON(res.RunID, o),
			UpdatedAt: p.now().UTC(),
		}
		if err := p.store.UpsertObservation(ctx, row); err != nil {
			p.metrics.IngestFailed(src)
			log.Error("write failed", "written", res.Written, "err", err)
			return res, fmt.Errorf("ingest %s: %w", o.MetricKey, err)
		}
		res.Written++
		p.metrics.ObservationWritten(o.MetricKey)
	}

	log.Info("ingested",
		"received", res.Received,
		"written", res.Written,
		"skipped", res.SkippedTotal())
	return res, nil
}

type provenance struct {
	RunID     string   `json:"run_id"`
	Source    string   `json:"source,omitempty"`
	ValueNum  *float64 `json:"value_num,omitempty"`
	ValueText *string  `json:"value_text,omitempty"`
}

func rawJSON(runID string, o metric.Observation) string {
	b, err := json.Marshal(provenance{
		RunID:     runID,
		Source:    o.Source,
		ValueNum:  o.Num,
		ValueText: o.Text,
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}
