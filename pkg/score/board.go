package score

import (
	"sync"
	"time"
)

// Snapshot is one published ranking.
type Snapshot struct {
	Results    []Result  `json:"data"`
	WithCharts bool      `json:"with_charts"`
	ComputedAt time.Time `json:"computed_at"`
}

// Board holds the latest published ranking. Readers always see a complete
// table: Publish swaps the whole snapshot under the lock.
type Board struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{}
}

// Publish replaces the current ranking.
func (b *Board) Publish(results []Result, withCharts bool, at time.Time) {
	cp := make([]Result, len(results))
	copy(cp, results)

	b.mu.Lock()
	b.snap = Snapshot{Results: cp, WithCharts: withCharts, ComputedAt: at}
	b.mu.Unlock()
}

// Snapshot returns a copy of the current ranking.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cp := make([]Result, len(b.snap.Results))
	copy(cp, b.snap.Results)
	return Snapshot{Results: cp, WithCharts: b.snap.WithCharts, ComputedAt: b.snap.ComputedAt}
}
