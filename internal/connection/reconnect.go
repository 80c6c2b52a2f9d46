package connection

import (
	"math/rand"
	"sync"
	"time"
)

// ReconnectConfig tunes the exponential backoff applied between reconnect
// attempts for a single connection.
type ReconnectConfig struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64
}

// backoffState tracks the growing delay for one connection's reconnect
// attempts, grounded on the teacher's ReconnectManager.
type backoffState struct {
	mu      sync.Mutex
	config  ReconnectConfig
	current time.Duration
}

func newBackoffState(cfg ReconnectConfig) *backoffState {
	return &backoffState{config: cfg, current: cfg.InitialDelay}
}

// next returns the delay to wait before the next attempt, with jitter
// applied, and grows the underlying backoff for the attempt after that.
func (b *backoffState) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	jitter := time.Duration(rand.Float64() * b.config.JitterPercent * float64(delay))
	delay += jitter

	b.current = time.Duration(float64(b.current) * b.config.BackoffMultiplier)
	if b.current > b.config.MaxDelay {
		b.current = b.config.MaxDelay
	}
	return delay
}

// reset restores the backoff to its initial delay after a successful attempt.
func (b *backoffState) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.InitialDelay
}
