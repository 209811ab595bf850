package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/signalindex/internal/config"
	"github.com/elonfeng/signalindex/internal/logging"
	"github.com/elonfeng/signalindex/internal/scheduler"
	"github.com/elonfeng/signalindex/internal/store"
	"github.com/elonfeng/signalindex/internal/telemetry"
	"github.com/elonfeng/signalindex/pkg/alert"
	"github.com/elonfeng/signalindex/pkg/ingest"
	"github.com/elonfeng/signalindex/pkg/metric"
	"github.com/elonfeng/signalindex/pkg/score"
	"github.com/elonfeng/signalindex/pkg/server"
	"github.com/elonfeng/signalindex/pkg/source"
)

type scoreFiles struct {
	Social string
	Video  string
	Chart  string
}

// app bundles what every command needs.
type app struct {
	cfg      *config.Config
	db       store.Store
	log      *slog.Logger
	catalog  *metric.Catalog
	metrics  *telemetry.Metrics
	pipeline *ingest.Pipeline
	logClose io.Closer
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, logClose, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)

	catalog, err := cfg.Catalog()
	if err != nil {
		logClose.Close()
		return nil, err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		logClose.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	metrics := telemetry.New()
	return &app{
		cfg:     cfg,
		db:      db,
		log:     logger,
		catalog: catalog,
		metrics: metrics,
		pipeline: ingest.New(db, catalog, cfg.Normalizer(),
			ingest.WithLogger(logger),
			ingest.WithMetrics(metrics)),
		logClose: logClose,
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.logClose.Close()
}

func (a *app) buildSources() []source.Source {
	cfg := a.cfg
	people := cfg.ActiveWatchlist()
	var sources []source.Source

	if cfg.Sources.RSS.Enabled {
		feeds := make([]source.RSSFeed, len(cfg.Sources.RSS.Feeds))
		for i, f := range cfg.Sources.RSS.Feeds {
			feeds[i] = source.RSSFeed{Name: f.Name, URL: f.URL}
		}
		sources = append(sources, source.NewRSS(feeds, source.NewResolver(people), a.log))
	}
	if cfg.Sources.LastFM.Enabled {
		sources = append(sources, source.NewLastFM(cfg.Sources.LastFM.APIKey, cfg.Sources.LastFM.BaseURL, people, a.log))
	}
	if cfg.Sources.YouTube.Enabled {
		sources = append(sources, source.NewYouTube(cfg.Sources.YouTube.APIKey, cfg.Sources.YouTube.BaseURL, people, cfg.Sources.YouTube.MaxResults, a.log))
	}
	if cfg.Sources.X.Enabled {
		filter := source.NewFilter(cfg.Filter.ExtraKeywords, cfg.Filter.ExcludeKeywords)
		sources = append(sources, source.NewX(cfg.Sources.X.BearerToken, cfg.Sources.X.BaseURL, people, cfg.Sources.X.MaxResults, filter, a.log))
	}
	if c := cfg.Sources.CSV; c.Enabled {
		sources = append(sources, source.NewCSV(source.CSVFiles{
			Observations: c.Observations,
			Social:       c.Social,
			Video:        c.Video,
			Chart:        c.Chart,
			ShiftToToday: c.ShiftToToday,
		}))
	}

	return sources
}

func (a *app) buildAlertManager() *alert.Manager {
	cfg := a.cfg.Alerts
	var notifiers []alert.Notifier

	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Slack.WebhookURL))
	}
	if cfg.Discord.Enabled && cfg.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Discord.WebhookURL))
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func (a *app) buildScheduler(sources []source.Source) (*scheduler.Scheduler, *score.Board, error) {
	weights, err := a.cfg.Weights()
	if err != nil {
		return nil, nil, err
	}
	rules, err := alert.CompileRules(a.cfg.Alerts.Rules)
	if err != nil {
		return nil, nil, err
	}
	board := score.NewBoard()
	sched := scheduler.New(scheduler.Deps{
		Store:     a.db,
		Sources:   sources,
		Pipeline:  a.pipeline,
		Scorer:    score.NewScorer(weights),
		Board:     board,
		Alerts:    a.buildAlertManager(),
		Rules:     rules,
		Catalog:   a.catalog,
		Metrics:   a.metrics,
		Logger:    a.log,
		Watchlist: a.cfg.Watchlist,
	}, scheduler.Options{
		CollectInterval: a.cfg.Schedule.ParseCollectInterval(),
		ScoreInterval:   a.cfg.Schedule.ParseScoreInterval(),
		TopN:            a.cfg.Alerts.TopN,
		StaleAlerts:     a.cfg.Alerts.Stale,
	})
	return sched, board, nil
}

func selectSources(all []source.Source, wanted []string) ([]source.Source, error) {
	if len(wanted) == 0 {
		return all, nil
	}
	set := make(map[string]bool, len(wanted))
	for _, s := range wanted {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	var out []source.Source
	for _, s := range all {
		if set[string(s.Name())] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled sources match: %s", strings.Join(wanted, ", "))
	}
	return out, nil
}

func runIngest(ctx context.Context, wanted []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sources, err := selectSources(a.buildSources(), wanted)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("no sources enabled (check config.yaml)")
	}

	if err := a.pipeline.SeedWatchlist(ctx, a.cfg.Watchlist); err != nil {
		return err
	}
	sched, _, err := a.buildScheduler(sources)
	if err != nil {
		return err
	}

	reports := sched.CollectAll(ctx)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tWRITTEN\tSKIPPED\tSOCIAL\tVIDEO\tCHART\tERROR")
	failed := 0
	for _, r := range reports {
		if r.Error != "" {
			failed++
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Source, r.Ingest.Written, r.Ingest.SkippedTotal()+r.Rejected,
			r.Social, r.Video, r.Chart, r.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed == len(reports) {
		return errors.New("every source failed")
	}
	return nil
}

func runImport(ctx context.Context, path string, shift bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	batch, err := source.NewCSV(source.CSVFiles{Observations: path, ShiftToToday: shift}).Collect(ctx)
	if err != nil {
		return err
	}
	if err := a.pipeline.SeedWatchlist(ctx, a.cfg.Watchlist); err != nil {
		return err
	}

	res, err := a.pipeline.RunBatch(ctx, batch)
	fmt.Fprintf(os.Stderr, "run %s: %d received, %d written, %d skipped\n",
		res.RunID, res.Received, res.Written, res.SkippedTotal())
	return err
}

func runScore(ctx context.Context, files scoreFiles, jsonOutput bool, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	weights, err := cfg.Weights()
	if err != nil {
		return err
	}

	var in score.Input
	if files != (scoreFiles{}) {
		batch, err := source.NewCSV(source.CSVFiles{Social: files.Social, Video: files.Video, Chart: files.Chart}).Collect(ctx)
		if err != nil {
			return err
		}
		for _, r := range batch.Validate() {
			fmt.Fprintf(os.Stderr, "skipped %s\n", r)
		}
		in = score.Input{Social: batch.Social, Video: batch.Video, Chart: batch.Chart}
	} else {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sched, _, err := a.buildScheduler(a.buildSources())
		if err != nil {
			return err
		}
		sched.CollectAll(ctx)
		in = sched.Input()
	}

	results := score.NewScorer(weights).Score(in)
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	if jsonOutput {
		return printJSON(score.Snapshot{Results: results, WithCharts: score.WithCharts(in), ComputedAt: time.Now().UTC()})
	}
	if len(results) == 0 {
		fmt.Println("no data to score (try: signalindex score --social social.csv)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPERSON\tCATEGORY\tSCORE\tSOCIAL\tVIDEO\tCHART\tER%\tVIEWS\tBEST")
	for i, r := range results {
		best := "-"
		if r.BestChartRank != nil {
			best = fmt.Sprintf("#%d", *r.BestChartRank)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.3f\t%d\t%s\n",
			i+1, r.PersonKey, r.Category, r.Score,
			r.SocialComponent, r.VideoComponent, r.ChartComponent,
			r.EngagementRate, r.VideoViews, best)
	}
	return w.Flush()
}

func runLatest(ctx context.Context, metricKey, pillar string, people []string, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.db.Latest(ctx, store.LatestOpts{MetricKey: metricKey, Pillar: pillar, PersonKeys: people})
	if err != nil {
		return err
	}
	return printObservations(rows, jsonOutput)
}

func runSeries(ctx context.Context, metricKey string, people []string, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.db.TimeSeries(ctx, metricKey, people)
	if err != nil {
		return err
	}
	return printObservations(rows, jsonOutput)
}

func printObservations(rows []store.Observation, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("no observations yet (try: signalindex ingest)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tPERSON\tMETRIC\tVALUE\tSOURCE")
	for _, o := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.Date, o.DisplayName, o.MetricKey, formatValue(o.ValueNum, o.ValueText), o.Source)
	}
	return w.Flush()
}

func runDeltas(ctx context.Context, metricKey string, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	deltas, err := a.db.Deltas(ctx, metricKey)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(deltas)
	}
	if len(deltas) == 0 {
		fmt.Println("no observations yet (try: signalindex ingest)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PERSON\tMETRIC\tDATE\tVALUE\tPREVIOUS\tDELTA")
	for _, d := range deltas {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DisplayName, d.MetricKey, d.Date,
			formatValue(d.Value, nil), formatValue(d.Previous, nil), formatValue(d.Delta, nil))
	}
	return w.Flush()
}

func runHealth(ctx context.Context, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	health, err := a.db.Health(ctx, time.Now(), a.catalog)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(health)
	}
	if len(health) == 0 {
		fmt.Println("no observations yet (try: signalindex ingest)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tCADENCE\tLAST\tDAYS\tSTATUS")
	for _, h := range health {
		status := "ok"
		switch {
		case h.Overdue:
			status = "overdue"
		case h.Stale:
			status = "stale"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", h.DisplayName, h.Cadence, h.LastDate, h.DaysSince, status)
	}
	return w.Flush()
}

func runServe(ctx context.Context, port int, withScheduler bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	sched, board, err := a.buildScheduler(a.buildSources())
	if err != nil {
		return err
	}

	if withScheduler {
		go func() {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("scheduler error", "err", err)
			}
		}()
	}

	srv := server.New(server.Deps{
		Store:     a.db,
		Board:     board,
		Catalog:   a.catalog,
		Collector: sched,
		Metrics:   a.metrics.Handler(),
		Logger:    a.log,
	}, port)
	return srv.ListenAndServe(ctx)
}

func formatValue(num *float64, text *string) string {
	switch {
	case text != nil && num != nil:
		return fmt.Sprintf("%s (%g)", *text, *num)
	case text != nil:
		return *text
	case num != nil:
		return fmt.Sprintf("%g", *num)
	}
	return "-"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
