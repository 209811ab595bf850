package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elonfeng/signalindex/internal/store"
	"github.com/elonfeng/signalindex/pkg/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestStaleNotification(t *testing.T) {
	assert.Nil(t, StaleNotification(nil, at))
	assert.Nil(t, StaleNotification([]store.MetricHealth{{MetricKey: "a", Stale: false}}, at))

	n := StaleNotification([]store.MetricHealth{
		{MetricKey: "a", DisplayName: "A", LastDate: "2026-03-10", DaysSince: 4, Cadence: "daily", Stale: true},
		{MetricKey: "b", DisplayName: "B", LastDate: "2026-03-14", Stale: false},
	}, at)
	require.NotNil(t, n)
	assert.Equal(t, KindStale, n.Kind)
	require.Len(t, n.Entries, 1)
	assert.Equal(t, "A", n.Entries[0].Name)
	assert.Equal(t, 4.0, n.Entries[0].Value)
	assert.Contains(t, n.Entries[0].Detail, "2026-03-10")
}

func TestTopScoresNotification(t *testing.T) {
	results := []score.Result{
		{PersonKey: "a", Score: 80},
		{PersonKey: "b", Score: 60},
		{PersonKey: "c", Score: 10},
	}
	assert.Nil(t, TopScoresNotification(nil, 3, at))
	assert.Nil(t, TopScoresNotification(results, 0, at))

	n := TopScoresNotification(results, 2, at)
	require.NotNil(t, n)
	require.Len(t, n.Entries, 2)
	assert.Equal(t, "a", n.Entries[0].Name)
	assert.Equal(t, "b", n.Entries[1].Name)

	n = TopScoresNotification(results, 10, at)
	assert.Len(t, n.Entries, 3)
}

func TestWebhookSignsBody(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotKind string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotKind = r.Header.Get("X-Signal-Kind")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := TopScoresNotification([]score.Result{{PersonKey: "ive", Score: 42}}, 1, at)
	require.NoError(t, NewWebhook(srv.URL, "s3cret").Send(context.Background(), n))

	assert.True(t, Verify("s3cret", gotBody, gotSig))
	assert.False(t, Verify("other", gotBody, gotSig))
	assert.Equal(t, string(KindTopScores), gotKind)

	var decoded Notification
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "ive", decoded.Entries[0].Name)
}

func TestWebhookStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "").Send(context.Background(), &Notification{Kind: KindStale})
	assert.ErrorContains(t, err, "502")
}

func TestSlackAndDiscordPayloads(t *testing.T) {
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		payloads = append(payloads, p)
	}))
	defer srv.Close()

	n := StaleNotification([]store.MetricHealth{{DisplayName: "Sales", DaysSince: 3, Stale: true}}, at)
	ctx := context.Background()
	require.NoError(t, NewSlack(srv.URL).Send(ctx, n))
	require.NoError(t, NewDiscord(srv.URL).Send(ctx, n))

	require.Len(t, payloads, 2)
	assert.Contains(t, payloads[0], "blocks")
	assert.Contains(t, payloads[1], "embeds")
}

type stubNotifier struct {
	name string
	err  error
	sent int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Send(context.Context, *Notification) error {
	s.sent++
	return s.err
}

func TestManagerBroadcast(t *testing.T) {
	ok := &stubNotifier{name: "ok"}
	bad := &stubNotifier{name: "bad", err: errors.New("boom")}
	m := NewManager([]Notifier{bad, ok})
	require.True(t, m.HasNotifiers())

	err := m.Broadcast(context.Background(), &Notification{})
	assert.ErrorContains(t, err, "bad: boom")
	assert.Equal(t, 1, ok.sent)

	assert.NoError(t, m.Broadcast(context.Background(), nil))
	assert.Equal(t, 1, ok.sent)

	var empty *Manager
	assert.False(t, empty.HasNotifiers())
	assert.NoError(t, empty.Broadcast(context.Background(), &Notification{}))
}
