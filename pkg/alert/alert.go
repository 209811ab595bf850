package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/signalindex/internal/store"
	"github.com/elonfeng/signalindex/pkg/score"
)

// Kind tells receivers what a notification is about.
type Kind string

const (
	KindStale     Kind = "stale_metrics"
	KindTopScores Kind = "top_scores"
	KindRule      Kind = "rule"
)

// Entry is one line of a notification.
type Entry struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Detail string  `json:"detail,omitempty"`
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Entries []Entry   `json:"entries"`
	Time    time.Time `json:"time"`
}

// StaleNotification reports metrics flagged stale, or nil when none are.
func StaleNotification(health []store.MetricHealth, at time.Time) *Notification {
	var entries []Entry
	for _, h := range health {
		if !h.Stale {
			continue
		}
		detail := "no data"
		if h.LastDate != "" {
			detail = fmt.Sprintf("last %s (%s)", h.LastDate, h.Cadence)
		}
		entries = append(entries, Entry{Name: h.DisplayName, Value: float64(h.DaysSince), Detail: detail})
	}
	if len(entries) == 0 {
		return nil
	}
	return &Notification{
		Kind:    KindStale,
		Title:   "Stale metrics",
		Body:    fmt.Sprintf("%d metric(s) have not been refreshed in over %d day(s)", len(entries), store.StaleAfterDays),
		Entries: entries,
		Time:    at,
	}
}

// TopScoresNotification lists the n highest ranked persons, or nil for an
// empty ranking.
func TopScoresNotification(results []score.Result, n int, at time.Time) *Notification {
	if len(results) == 0 || n <= 0 {
		return nil
	}
	n = min(n, len(results))
	entries := make([]Entry, 0, n)
	for _, r := range results[:n] {
		entries = append(entries, Entry{
			Name:   r.PersonKey,
			Value:  r.Score,
			Detail: fmt.Sprintf("%s | social %.1f video %.1f chart %.1f", r.Category, r.SocialComponent, r.VideoComponent, r.ChartComponent),
		})
	}
	return &Notification{
		Kind:    KindTopScores,
		Title:   "Signal index leaders",
		Body:    fmt.Sprintf("Top %d of %d scored", n, len(results)),
		Entries: entries,
		Time:    at,
	}
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil || n == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

const maxEntries = 10

func head(entries []Entry) []Entry {
	if len(entries) > maxEntries {
		return entries[:maxEntries]
	}
	return entries
}
