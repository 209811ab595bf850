package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/signalindex/internal/scheduler"
	"github.com/elonfeng/signalindex/internal/store"
	"github.com/elonfeng/signalindex/pkg/metric"
	"github.com/elonfeng/signalindex/pkg/score"
)

// Collector runs an on-demand collection and scoring pass.
type Collector interface {
	CollectAll(ctx context.Context) []scheduler.SourceReport
	Score() []score.Result
}

// Deps wires a Server. Collector and Metrics may be nil.
type Deps struct {
	Store     store.Store
	Board     *score.Board
	Catalog   *metric.Catalog
	Collector Collector
	Metrics   http.Handler
	Logger    *slog.Logger
}

// Server provides the HTTP API.
type Server struct {
	Deps
	port int
	now  func() time.Time
}

// New creates a new HTTP server.
func New(deps Deps, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Board == nil {
		deps.Board = score.NewBoard()
	}
	return &Server{Deps: deps, port: port, now: time.Now}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	mux.HandleFunc("/api/v1/scores", s.handleScores)
	mux.HandleFunc("/api/v1/people", s.handlePeople)
	mux.HandleFunc("/api/v1/people/{key}", s.handlePerson)
	mux.HandleFunc("/api/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/api/v1/latest", s.handleLatest)
	mux.HandleFunc("/api/v1/series", s.handleSeries)
	mux.HandleFunc("/api/v1/deltas", s.handleDeltas)
	mux.HandleFunc("/api/v1/data-health", s.handleDataHealth)
	mux.HandleFunc("/api/v1/collect", s.handleCollect)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("signalindex server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	snap := s.Board.Snapshot()
	results := snap.Results
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := results[:0]
		for _, res := range results {
			if strings.EqualFold(res.Category, category) {
				filtered = append(filtered, res)
			}
		}
		results = filtered
	}
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":        results,
		"count":       len(results),
		"with_charts": snap.WithCharts,
		"computed_at": snap.ComputedAt,
	})
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	people, err := s.Store.ListPeople(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  people,
		"count": len(people),
	})
}

func (s *Server) handlePerson(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	key := r.PathValue("key")
	person, err := s.Store.GetPerson(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	latest, err := s.Store.Latest(r.Context(), store.LatestOpts{PersonKeys: []string{key}})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"person": person,
		"latest": latest,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	counts, err := s.Store.CountObservationsByMetric(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type metricInfo struct {
		metric.Definition
		Observations int `json:"observations"`
	}

	infos := make([]metricInfo, 0, s.Catalog.Len())
	for _, key := range s.Catalog.Keys() {
		def, _ := s.Catalog.Get(key)
		infos = append(infos, metricInfo{Definition: def, Observations: counts[key]})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	rows, err := s.Store.Latest(r.Context(), store.LatestOpts{
		MetricKey:  q.Get("metric"),
		Pillar:     q.Get("pillar"),
		PersonKeys: splitList(q.Get("person")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  rows,
		"count": len(rows),
	})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	key := r.URL.Query().Get("metric")
	if key == "" {
		writeError(w, http.StatusBadRequest, errors.New("metric is required"))
		return
	}
	rows, err := s.Store.TimeSeries(r.Context(), key, splitList(r.URL.Query().Get("person")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metric": key,
		"data":   rows,
		"count":  len(rows),
	})
}

func (s *Server) handleDeltas(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	deltas, err := s.Store.Deltas(r.Context(), r.URL.Query().Get("metric"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  deltas,
		"count": len(deltas),
	})
}

func (s *Server) handleDataHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	health, err := s.Store.Health(r.Context(), s.now(), s.Catalog)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stale := 0
	for _, h := range health {
		if h.Stale {
			stale++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  health,
		"count": len(health),
		"stale": stale,
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if s.Collector == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("collection is not configured"))
		return
	}

	reports := s.Collector.CollectAll(r.Context())
	results := s.Collector.Score()

	var errs []string
	for _, rep := range reports {
		if rep.Error != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", rep.Source, rep.Error))
		}
	}

	resp := map[string]any{
		"collected": reports,
		"scored":    len(results),
	}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	writeJSON(w, http.StatusOK, resp)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
