package engine

import (
	"fmt"
	"sync"

	"github.com/avrlink/avrlink/internal/core"
)

// EWMALatency is an exponentially weighted moving average of round-trip
// times in seconds. The first sample seeds the average.
type EWMALatency struct {
	mu      sync.Mutex
	alpha   float64
	value   float64
	samples int64
}

// NewEWMALatency returns an estimator with smoothing factor alpha in (0,1].
func NewEWMALatency(alpha float64) *EWMALatency {
	return &EWMALatency{alpha: alpha}
}

// Update folds a sample into the average and returns the new value.
func (e *EWMALatency) Update(seconds float64) (float64, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("%w: latency sample must be non-negative", core.ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.samples == 0 {
		e.value = seconds
	} else {
		e.value = e.alpha*seconds + (1-e.alpha)*e.value
	}
	e.samples++
	return e.value, nil
}

// Value returns the current average, or 0 before any sample.
func (e *EWMALatency) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Samples returns how many samples have been observed.
func (e *EWMALatency) Samples() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}
