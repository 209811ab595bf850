package metric

// Key identifies one canonical observation slot.
type Key struct {
	Person string
	Metric string
	Date   string
}

// KeyOf returns the slot key of o.
func KeyOf(o Observation) Key {
	return Key{Person: o.PersonKey, Metric: o.MetricKey, Date: o.Day()}
}

// Reconcile picks the value to keep when two feeds report the same slot.
// Rank-like metrics keep the minimum, everything else the maximum.
func Reconcile(dir Direction, current, incoming float64) float64 {
	if dir == LowerIsBetter {
		return min(current, incoming)
	}
	return max(current, incoming)
}

// Aggregator collapses observations sharing a Key into one value within a
// single ingestion pass. It is not safe for concurrent use.
type Aggregator struct {
	catalog *Catalog
	order   []Key
	rows    map[Key]Observation
}

// NewAggregator returns an empty aggregator using catalog for directionality.
func NewAggregator(catalog *Catalog) *Aggregator {
	return &Aggregator{
		catalog: catalog,
		rows:    make(map[Key]Observation),
	}
}

// Add merges o into the aggregate.
func (a *Aggregator) Add(o Observation) {
	k := KeyOf(o)
	cur, ok := a.rows[k]
	if !ok {
		a.order = append(a.order, k)
		a.rows[k] = o
		return
	}

	switch {
	case cur.Num == nil && o.Num == nil:
		if o.Text != nil {
			a.rows[k] = o
		}
	case cur.Num == nil:
		a.rows[k] = o
	case o.Num == nil:
		// keep current
	default:
		dir := HigherIsBetter
		if def, ok := a.catalog.Get(o.MetricKey); ok {
			dir = def.Direction
		}
		kept := Reconcile(dir, *cur.Num, *o.Num)
		if kept != *cur.Num {
			a.rows[k] = o
		}
	}
}

// Len returns the number of distinct keys seen.
func (a *Aggregator) Len() int { return len(a.order) }

// Rows returns one observation per key in first-seen order.
func (a *Aggregator) Rows() []Observation {
	out := make([]Observation, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, a.rows[k])
	}
	return out
}
