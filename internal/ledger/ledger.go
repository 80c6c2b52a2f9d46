// Package ledger implements the subscription reference-counting table (C3):
// a two-level venue counter of market -> stream_key -> count, grounded on the
// Python source's `subscriptions = defaultdict(lambda: defaultdict(int))`.
package ledger

import "sync"

// Ledger tracks live client demand per stream key per market for a single
// venue. A single control-plane goroutine drives mutations for its own
// venue's traffic, but the mutex is still required because the HTTP
// introspection endpoint reads it concurrently from a different goroutine.
type Ledger struct {
	mu     sync.Mutex
	counts map[string]map[string]uint
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		counts: make(map[string]map[string]uint),
	}
}

// Add bumps the count of each key under market by one. Point-wise: a
// partially-overlapping key set still increments every key independently.
func (l *Ledger) Add(market string, keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	streams, ok := l.counts[market]
	if !ok {
		streams = make(map[string]uint)
		l.counts[market] = streams
	}
	for _, k := range keys {
		streams[k]++
	}
}

// Remove decrements the count of each key under market by one. Clamps at
// zero: a key already at 0, or absent entirely, is a no-op rather than going
// negative (see DESIGN.md for why this departs from the Python source).
func (l *Ledger) Remove(market string, keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	streams, ok := l.counts[market]
	if !ok {
		return
	}
	for _, k := range keys {
		if streams[k] > 0 {
			streams[k]--
		}
	}
}

// Count returns the current reference count for key under market.
func (l *Ledger) Count(market, key string) uint {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.counts[market][key]
}

// ZeroKeys returns every key under market whose count is currently 0. The
// adapter uses this to decide what to actually UNSUBSCRIBE upstream, and
// prunes them afterward via Prune.
func (l *Ledger) ZeroKeys(market string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	streams := l.counts[market]
	zero := make([]string, 0, len(streams))
	for k, c := range streams {
		if c == 0 {
			zero = append(zero, k)
		}
	}
	return zero
}

// ActiveKeys returns every key under market with a count of at least 1, used
// to rebuild the full SUBSCRIBE frame after a reconnect.
func (l *Ledger) ActiveKeys(market string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	streams := l.counts[market]
	active := make([]string, 0, len(streams))
	for k, c := range streams {
		if c >= 1 {
			active = append(active, k)
		}
	}
	return active
}

// Prune deletes the named keys from market's table entirely. Called after the
// send of an UNSUBSCRIBE frame for keys that were at zero, whether or not
// that send succeeded.
func (l *Ledger) Prune(market string, keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	streams := l.counts[market]
	for _, k := range keys {
		delete(streams, k)
	}
}

// Snapshot returns a deep copy of the entire ledger, for the HTTP
// introspection endpoint.
func (l *Ledger) Snapshot() map[string]map[string]uint {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]map[string]uint, len(l.counts))
	for market, streams := range l.counts {
		cp := make(map[string]uint, len(streams))
		for k, c := range streams {
			cp[k] = c
		}
		out[market] = cp
	}
	return out
}
