package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/signalindex/pkg/metric"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// StaleAfterDays is how many days a metric may go without a new
// observation before the health report flags it stale.
const StaleAfterDays = 1

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = errors.New("not found")

// Person is a tracked public figure.
type Person struct {
	ID          int64  `db:"id" json:"id"`
	Key         string `db:"person_key" json:"person_key"`
	DisplayName string `db:"display_name" json:"display_name"`
	Category    string `db:"category" json:"category"`
	Country     string `db:"country" json:"country,omitempty"`
}

// Observation is one persisted (person, metric, date) fact.
type Observation struct {
	ID          int64     `db:"id" json:"-"`
	PersonID    int64     `db:"person_id" json:"-"`
	PersonKey   string    `db:"person_key" json:"person_key"`
	DisplayName string    `db:"display_name" json:"person"`
	Category    string    `db:"category" json:"category"`
	MetricKey   string    `db:"metric_key" json:"metric_key"`
	Pillar      string    `db:"pillar" json:"pillar"`
	Source      string    `db:"source" json:"source"`
	Date        string    `db:"date" json:"date"`
	ValueNum    *float64  `db:"value_num" json:"value_num"`
	ValueText   *string   `db:"value_text" json:"value_text"`
	Unit        string    `db:"unit" json:"unit"`
	RawJSON     string    `db:"raw_json" json:"-"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Delta is the change between a metric's two most recent observations.
type Delta struct {
	PersonKey    string   `json:"person_key"`
	DisplayName  string   `json:"person"`
	Category     string   `json:"category"`
	MetricKey    string   `json:"metric_key"`
	Date         string   `json:"date"`
	Value        *float64 `json:"value_num"`
	PreviousDate *string  `json:"previous_date"`
	Previous     *float64 `json:"value_num_prev"`
	Delta        *float64 `json:"delta"`
}

// MetricHealth reports how fresh one metric's data is.
type MetricHealth struct {
	MetricKey   string         `json:"metric_key"`
	DisplayName string         `json:"display_name"`
	Cadence     metric.Cadence `json:"cadence"`
	LastDate    string         `json:"last_date"`
	DaysSince   int            `json:"days_since"`
	Stale       bool           `json:"stale"`
	Overdue     bool           `json:"overdue"`
}

// LatestOpts filters the latest-per-metric query.
type LatestOpts struct {
	MetricKey  string
	Pillar     string
	PersonKeys []string
}

// Store is the persistence interface.
type Store interface {
	UpsertPerson(ctx context.Context, p *Person) error
	UpsertPeople(ctx context.Context, people []Person) error
	EnsurePerson(ctx context.Context, key, displayName string) (int64, error)
	GetPerson(ctx context.Context, key string) (*Person, error)
	ListPeople(ctx context.Context) ([]Person, error)

	UpsertObservation(ctx context.Context, o *Observation) error
	Latest(ctx context.Context, opts LatestOpts) ([]Observation, error)
	TimeSeries(ctx context.Context, metricKey string, personKeys []string) ([]Observation, error)
	Deltas(ctx context.Context, metricKey string) ([]Delta, error)
	Health(ctx context.Context, today time.Time, catalog *metric.Catalog) ([]MetricHealth, error)
	CountObservationsByMetric(ctx context.Context) (map[string]int, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection serializes upserts
	// racing on the same key.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const upsertPersonSQL = `
	INSERT INTO people (person_key, display_name, category, country)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(person_key) DO UPDATE SET
		display_name = excluded.display_name,
		category = excluded.category,
		country = excluded.country
`

func (s *SQLiteStore) UpsertPerson(ctx context.Context, p *Person) error {
	if _, err := s.db.ExecContext(ctx, upsertPersonSQL, p.Key, p.DisplayName, p.Category, p.Country); err != nil {
		return fmt.Errorf("upsert person %s: %w", p.Key, err)
	}
	if err := s.db.GetContext(ctx, &p.ID, "SELECT id FROM people WHERE person_key = ?", p.Key); err != nil {
		return fmt.Errorf("upsert person %s: %w", p.Key, err)
	}
	return nil
}

// UpsertPeople writes the whole registry in one transaction.
func (s *SQLiteStore) UpsertPeople(ctx context.Context, people []Person) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert people: %w", err)
	}
	defer tx.Rollback()

	for i := range people {
		p := &people[i]
		if _, err := tx.ExecContext(ctx, upsertPersonSQL, p.Key, p.DisplayName, p.Category, p.Country); err != nil {
			return fmt.Errorf("upsert person %s: %w", p.Key, err)
		}
		if err := tx.GetContext(ctx, &p.ID, "SELECT id FROM people WHERE person_key = ?", p.Key); err != nil {
			return fmt.Errorf("upsert person %s: %w", p.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert people: %w", err)
	}
	return nil
}

// EnsurePerson returns the id for key, registering an unknown person with
// category "Unknown". Existing rows are left untouched.
func (s *SQLiteStore) EnsurePerson(ctx context.Context, key, displayName string) (int64, error) {
	if displayName == "" {
		displayName = key
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (person_key, display_name, category, country)
		VALUES (?, ?, 'Unknown', '')
		ON CONFLICT(person_key) DO NOTHING
	`, key, displayName)
	if err != nil {
		return 0, fmt.Errorf("ensure person %s: %w", key, err)
	}

	var id int64
	if err := s.db.GetContext(ctx, &id, "SELECT id FROM people WHERE person_key = ?", key); err != nil {
		return 0, fmt.Errorf("ensure person %s: %w", key, err)
	}
	return id, nil
}

func (s *SQLiteStore) GetPerson(ctx context.Context, key string) (*Person, error) {
	var p Person
	err := s.db.GetContext(ctx, &p, "SELECT * FROM people WHERE person_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get person %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get person %s: %w", key, err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListPeople(ctx context.Context) ([]Person, error) {
	people := []Person{}
	if err := s.db.SelectContext(ctx, &people, "SELECT * FROM people ORDER BY person_key"); err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	return people, nil
}

// UpsertObservation writes one row. The single statement is atomic for its
// (person, metric, date) key; a second write for the key replaces the first.
func (s *SQLiteStore) UpsertObservation(ctx context.Context, o *Observation) error {
	if o.RawJSON == "" {
		o.RawJSON = "{}"
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (person_id, metric_key, pillar, source, date, value_num, value_text, unit, raw_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id, metric_key, date) DO UPDATE SET
			pillar = excluded.pillar,
			source = excluded.source,
			value_num = excluded.value_num,
			value_text = excluded.value_text,
			unit = excluded.unit,
			raw_json = excluded.raw_json,
			updated_at = excluded.updated_at
	`, o.PersonID, o.MetricKey, o.Pillar, o.Source, o.Date,
		o.ValueNum, o.ValueText, o.Unit, o.RawJSON, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert observation %d/%s/%s: %w", o.PersonID, o.MetricKey, o.Date, err)
	}
	return nil
}

const observationColumns = `
	o.id, o.person_id, p.person_key, p.display_name, p.category,
	o.metric_key, o.pillar, o.source, o.date, o.value_num, o.value_text,
	o.unit, o.raw_json, o.updated_at
`

// Latest returns, for each (person, metric) pair, the row with the greatest date.
func (s *SQLiteStore) Latest(ctx context.Context, opts LatestOpts) ([]Observation, error) {
	query := "SELECT " + observationColumns + `
		FROM observations o JOIN people p ON p.id = o.person_id
		WHERE o.date = (
			SELECT MAX(o2.date) FROM observations o2
			WHERE o2.person_id = o.person_id AND o2.metric_key = o.metric_key
		)`
	var args []any

	if opts.MetricKey != "" {
		query += " AND o.metric_key = ?"
		args = append(args, opts.MetricKey)
	}
	if opts.Pillar != "" {
		query += " AND o.pillar = ?"
		args = append(args, opts.Pillar)
	}
	if len(opts.PersonKeys) > 0 {
		query += " AND p.person_key IN (?)"
		args = append(args, opts.PersonKeys)
	}
	query += " ORDER BY p.person_key, o.metric_key"

	return s.selectObservations(ctx, "latest observations", query, args)
}

// TimeSeries returns every row of metricKey, oldest first, optionally
// limited to personKeys.
func (s *SQLiteStore) TimeSeries(ctx context.Context, metricKey string, personKeys []string) ([]Observation, error) {
	query := "SELECT " + observationColumns + `
		FROM observations o JOIN people p ON p.id = o.person_id
		WHERE o.metric_key = ?`
	args := []any{metricKey}

	if len(personKeys) > 0 {
		query += " AND p.person_key IN (?)"
		args = append(args, personKeys)
	}
	query += " ORDER BY o.date, p.person_key"

	return s.selectObservations(ctx, "time series "+metricKey, query, args)
}

func (s *SQLiteStore) selectObservations(ctx context.Context, what, query string, args []any) ([]Observation, error) {
	if strings.Contains(query, "(?)") {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("%s: expand query: %w", what, err)
		}
		query = s.db.Rebind(query)
	}

	obs := []Observation{}
	if err := s.db.SelectContext(ctx, &obs, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return obs, nil
}

// Deltas compares the two most recent rows of every (person, metric) pair.
// An empty metricKey covers all metrics.
func (s *SQLiteStore) Deltas(ctx context.Context, metricKey string) ([]Delta, error) {
	query := `
		SELECT person_key, display_name, category, metric_key, date, value_num, rn FROM (
			SELECT p.person_key, p.display_name, p.category, o.metric_key, o.date, o.value_num,
				ROW_NUMBER() OVER (PARTITION BY o.person_id, o.metric_key ORDER BY o.date DESC) AS rn
			FROM observations o JOIN people p ON p.id = o.person_id
			WHERE (? = '' OR o.metric_key = ?)
		)
		WHERE rn <= 2
		ORDER BY person_key, metric_key, rn
	`

	var rows []struct {
		PersonKey   string   `db:"person_key"`
		DisplayName string   `db:"display_name"`
		Category    string   `db:"category"`
		MetricKey   string   `db:"metric_key"`
		Date        string   `db:"date"`
		ValueNum    *float64 `db:"value_num"`
		Rank        int      `db:"rn"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, metricKey, metricKey); err != nil {
		return nil, fmt.Errorf("deltas: %w", err)
	}

	deltas := []Delta{}
	for _, r := range rows {
		if r.Rank == 1 {
			deltas = append(deltas, Delta{
				PersonKey:   r.PersonKey,
				DisplayName: r.DisplayName,
				Category:    r.Category,
				MetricKey:   r.MetricKey,
				Date:        r.Date,
				Value:       r.ValueNum,
			})
			continue
		}
		d := &deltas[len(deltas)-1]
		date := r.Date
		d.PreviousDate = &date
		d.Previous = r.ValueNum
		if d.Value != nil && d.Previous != nil {
			v := *d.Value - *d.Previous
			d.Delta = &v
		}
	}
	return deltas, nil
}

// Health reports, per metric, the most recent observation date and how
// many days have passed since then relative to today.
func (s *SQLiteStore) Health(ctx context.Context, today time.Time, catalog *metric.Catalog) ([]MetricHealth, error) {
	var rows []struct {
		MetricKey string `db:"metric_key"`
		LastDate  string `db:"last_date"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT metric_key, MAX(date) AS last_date FROM observations GROUP BY metric_key ORDER BY metric_key")
	if err != nil {
		return nil, fmt.Errorf("data health: %w", err)
	}

	day := metric.Truncate(today)
	report := make([]MetricHealth, 0, len(rows))
	for _, r := range rows {
		last, err := time.Parse(metric.DateLayout, r.LastDate)
		if err != nil {
			return nil, fmt.Errorf("data health %s: parse date %q: %w", r.MetricKey, r.LastDate, err)
		}
		h := MetricHealth{
			MetricKey:   r.MetricKey,
			DisplayName: r.MetricKey,
			LastDate:    r.LastDate,
			DaysSince:   int(day.Sub(last).Hours() / 24),
		}
		h.Stale = h.DaysSince > StaleAfterDays
		if def, ok := catalog.Get(r.MetricKey); ok {
			h.DisplayName = def.DisplayName
			h.Cadence = def.Cadence
			if allowance, ok := def.Cadence.Allowance(); ok {
				h.Overdue = h.DaysSince > allowance
			}
		}
		report = append(report, h)
	}
	return report, nil
}

func (s *SQLiteStore) CountObservationsByMetric(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT metric_key, COUNT(*) AS cnt FROM observations GROUP BY metric_key")
	if err != nil {
		return nil, fmt.Errorf("count observations by metric: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var cnt int
		if err := rows.Scan(&key, &cnt); err != nil {
			return nil, err
		}
		counts[key] = cnt
	}
	return counts, rows.Err()
}
