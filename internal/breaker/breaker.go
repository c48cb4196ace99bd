// Package breaker counts consecutive listing-fetch failures and trips once a
// threshold is reached.
package breaker

import (
	"sync"

	"github.com/JakeFAU/winerank-crawler/internal/metrics"
)

// DefaultThreshold is used when a non-positive threshold is configured.
const DefaultThreshold = 3

// Breaker is a consecutive-failure counter. A Breaker lives for one run, so a
// resumed job always starts closed.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	failures  int
}

// New constructs a closed Breaker.
func New(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Breaker{threshold: threshold}
}

// RecordFailure counts a failure and reports whether the breaker is now open.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures == b.threshold {
		metrics.ObserveBreakerTrip()
	}
	return b.failures >= b.threshold
}

// RecordSuccess resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Open reports whether the threshold has been reached.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Threshold returns the trip threshold.
func (b *Breaker) Threshold() int {
	return b.threshold
}
