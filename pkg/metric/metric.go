package metric

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the canonical day format used for observation dates.
const DateLayout = "2006-01-02"

// Unit describes how a metric value should be read.
type Unit string

const (
	UnitCount   Unit = "count"
	UnitPercent Unit = "percent"
	UnitRank    Unit = "rank"
	UnitTier    Unit = "tier"
	UnitScore   Unit = "score"
)

// Direction tells whether a lower or higher value is more favorable.
type Direction string

const (
	HigherIsBetter Direction = "higher_is_better"
	LowerIsBetter  Direction = "lower_is_better"
)

// Cadence is the expected refresh frequency of a metric.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
	CadenceEvent   Cadence = "event"
)

// Allowance returns how many days may pass without a new observation
// before the metric is overdue. Event-driven metrics are never overdue.
func (c Cadence) Allowance() (int, bool) {
	switch c {
	case CadenceDaily:
		return 1, true
	case CadenceWeekly:
		return 7, true
	case CadenceMonthly:
		return 31, true
	}
	return 0, false
}

// Definition is the static schema of one trackable signal.
type Definition struct {
	Key         string    `yaml:"-" json:"key"`
	DisplayName string    `yaml:"display_name" json:"display_name"`
	Pillar      string    `yaml:"pillar" json:"pillar"`
	Source      string    `yaml:"source" json:"source"`
	Unit        Unit      `yaml:"unit" json:"unit"`
	Cadence     Cadence   `yaml:"cadence" json:"cadence"`
	Direction   Direction `yaml:"directionality" json:"directionality"`
}

// Validate checks the enumerated fields of a definition.
func (d Definition) Validate() error {
	switch d.Unit {
	case UnitCount, UnitPercent, UnitRank, UnitTier, UnitScore:
	default:
		return fmt.Errorf("metric %s: unknown unit %q", d.Key, d.Unit)
	}
	switch d.Direction {
	case HigherIsBetter, LowerIsBetter:
	default:
		return fmt.Errorf("metric %s: unknown directionality %q", d.Key, d.Direction)
	}
	switch d.Cadence {
	case CadenceDaily, CadenceWeekly, CadenceMonthly, CadenceEvent:
	default:
		return fmt.Errorf("metric %s: unknown cadence %q", d.Key, d.Cadence)
	}
	if d.Pillar == "" {
		return fmt.Errorf("metric %s: pillar required", d.Key)
	}
	return nil
}

// Catalog is an immutable set of metric definitions keyed by metric key.
type Catalog struct {
	defs map[string]Definition
}

// NewCatalog copies defs into a catalog, stamping each definition with its key.
func NewCatalog(defs map[string]Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for key, d := range defs {
		d.Key = key
		if d.DisplayName == "" {
			d.DisplayName = key
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		c.defs[key] = d
	}
	return c, nil
}

// Get returns the definition for key.
func (c *Catalog) Get(key string) (Definition, bool) {
	if c == nil {
		return Definition{}, false
	}
	d, ok := c.defs[key]
	return d, ok
}

// Keys returns all metric keys in sorted order.
func (c *Catalog) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.defs))
	for k := range c.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.defs)
}

// Observation is one raw fact produced by a connector, before it is
// normalized and persisted.
type Observation struct {
	PersonKey   string    `json:"person_key"`
	DisplayName string    `json:"display_name,omitempty"`
	MetricKey   string    `json:"metric_key"`
	Date        time.Time `json:"date"`
	Num         *float64  `json:"value_num,omitempty"`
	Text        *string   `json:"value_text,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// Day returns the observation date in DateLayout.
func (o Observation) Day() string {
	return o.Date.Format(DateLayout)
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Text returns a pointer to s.
func Text(s string) *string { return &s }

// Truncate strips the time of day from t, keeping its calendar date in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
