package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elonfeng/signalindex/internal/store"
	"github.com/elonfeng/signalindex/internal/telemetry"
	"github.com/elonfeng/signalindex/pkg/alert"
	"github.com/elonfeng/signalindex/pkg/ingest"
	"github.com/elonfeng/signalindex/pkg/metric"
	"github.com/elonfeng/signalindex/pkg/score"
	"github.com/elonfeng/signalindex/pkg/source"
)

// SourceReport is the outcome of collecting from one source.
type SourceReport struct {
	Source   source.SourceType `json:"source"`
	Ingest   ingest.Result     `json:"ingest"`
	Social   int               `json:"social_rows"`
	Video    int               `json:"video_rows"`
	Chart    int               `json:"chart_rows"`
	Rejected int               `json:"rejected"`
	Error    string            `json:"error,omitempty"`
}

// Deps wires a Scheduler.
type Deps struct {
	Store     store.Store
	Sources   []source.Source
	Pipeline  *ingest.Pipeline
	Scorer    *score.Scorer
	Board     *score.Board
	Alerts    *alert.Manager
	Rules     []alert.Rule
	Catalog   *metric.Catalog
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	Watchlist []source.Person
}

// Options tunes the loop.
type Options struct {
	CollectInterval time.Duration
	ScoreInterval   time.Duration
	TopN            int
	StaleAlerts     bool
}

// Scheduler runs periodic collection, scoring and health checks.
type Scheduler struct {
	Deps
	opts Options
	now  func() time.Time

	// collectMu serializes collection passes; mu guards latest.
	collectMu sync.Mutex
	mu        sync.Mutex
	latest    map[source.SourceType]*source.Batch
}

// New creates a new scheduler.
func New(deps Deps, opts Options) *Scheduler {
	if opts.CollectInterval <= 0 {
		opts.CollectInterval = 6 * time.Hour
	}
	if opts.ScoreInterval <= 0 {
		opts.ScoreInterval = time.Hour
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Scheduler{
		Deps:   deps,
		opts:   opts,
		now:    time.Now,
		latest: make(map[source.SourceType]*source.Batch),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Pipeline.SeedWatchlist(ctx, s.Watchlist); err != nil {
		return err
	}

	collectTicker := time.NewTicker(s.opts.CollectInterval)
	scoreTicker := time.NewTicker(s.opts.ScoreInterval)
	defer collectTicker.Stop()
	defer scoreTicker.Stop()

	s.Logger.Info("scheduler: initial collection")
	s.CollectAll(ctx)
	s.tick(ctx)

	s.Logger.Info("scheduler: running",
		"collect_every", s.opts.CollectInterval,
		"score_every", s.opts.ScoreInterval)

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler: stopped")
			return ctx.Err()
		case <-collectTicker.C:
			s.CollectAll(ctx)
		case <-scoreTicker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	results := s.Score()
	s.alert(ctx, alert.TopScoresNotification(results, s.opts.TopN, s.now()))
	for _, n := range alert.RuleNotifications(s.Rules, results, s.now()) {
		s.alert(ctx, n)
	}
	if err := s.CheckHealth(ctx); err != nil {
		s.Logger.Error("health check failed", "err", err)
	}
}

// CollectAll pulls every source once, persists generic observations and
// keeps the scoring rows of each source for the next composite run. A
// failing source is logged and skipped; it keeps its previous rows.
func (s *Scheduler) CollectAll(ctx context.Context) []SourceReport {
	s.collectMu.Lock()
	defer s.collectMu.Unlock()

	reports := make([]SourceReport, 0, len(s.Sources))
	for _, src := range s.Sources {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, s.collectOne(ctx, src))
	}
	return reports
}

func (s *Scheduler) collectOne(ctx context.Context, src source.Source) SourceReport {
	name := src.Name()
	report := SourceReport{Source: name}
	log := s.Logger.With("source", name)

	start := time.Now()
	batch, err := src.Collect(ctx)
	s.Metrics.CollectDuration(string(name), time.Since(start))
	if err != nil {
		s.Metrics.IngestFailed(string(name))
		log.Warn("collect failed", "err", err)
		report.Error = err.Error()
		return report
	}
	if batch == nil {
		batch = &source.Batch{}
	}
	batch.Source = name

	rejected := batch.Validate()
	for _, r := range rejected {
		log.Debug("row rejected", "row", r.String())
	}
	report.Rejected = len(rejected)
	report.Social, report.Video, report.Chart = len(batch.Social), len(batch.Video), len(batch.Chart)

	res, err := s.Pipeline.RunBatch(ctx, batch)
	report.Ingest = res
	if err != nil {
		log.Error("ingest failed", "written", res.Written, "err", err)
		report.Error = err.Error()
	}

	s.mu.Lock()
	s.latest[name] = &source.Batch{Source: name, Social: batch.Social, Video: batch.Video, Chart: batch.Chart}
	s.mu.Unlock()

	log.Info("collected",
		"observations", res.Written,
		"social", report.Social,
		"video", report.Video,
		"chart", report.Chart)
	return report
}

// Input merges the latest scoring rows of every source.
func (s *Scheduler) Input() score.Input {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merged source.Batch
	for _, name := range source.AllSourceTypes() {
		merged.Merge(s.latest[name])
	}
	return score.Input{Social: merged.Social, Video: merged.Video, Chart: merged.Chart}
}

// Score recomputes the composite ranking and publishes it to the board.
func (s *Scheduler) Score() []score.Result {
	in := s.Input()

	start := time.Now()
	results := s.Scorer.Score(in)
	s.Metrics.CompositeComputed(len(results), time.Since(start))

	withCharts := score.WithCharts(in)
	s.Board.Publish(results, withCharts, s.now().UTC())
	s.Logger.Info("composite scored", "persons", len(results), "with_charts", withCharts)
	return results
}

// CheckHealth audits data freshness and alerts on stale metrics.
func (s *Scheduler) CheckHealth(ctx context.Context) error {
	health, err := s.Store.Health(ctx, s.now(), s.Catalog)
	if err != nil {
		return fmt.Errorf("data health: %w", err)
	}

	stale := 0
	for _, h := range health {
		if h.Stale {
			stale++
		}
	}
	s.Metrics.StaleMetrics(stale)

	if s.opts.StaleAlerts {
		s.alert(ctx, alert.StaleNotification(health, s.now()))
	}
	return nil
}

func (s *Scheduler) alert(ctx context.Context, n *alert.Notification) {
	if n == nil || !s.Alerts.HasNotifiers() {
		return
	}
	if err := s.Alerts.Broadcast(ctx, n); err != nil {
		s.Logger.Warn("alert failed", "kind", n.Kind, "err", err)
		return
	}
	s.Logger.Info("alerted", "kind", n.Kind, "entries", len(n.Entries))
}
