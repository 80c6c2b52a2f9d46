package httpserver

import (
	"net/http"

	"github.com/goccy/go-json"
)

// SubscriptionSnapshotter is satisfied by *ledger.Ledger: a per-venue view of
// live reference counts for the introspection endpoint.
type SubscriptionSnapshotter interface {
	Snapshot() map[string]map[string]uint
}

// subscriptionsHandler serves the combined reference-count table across
// every enabled venue.
type subscriptionsHandler struct {
	ledgers map[string]SubscriptionSnapshotter
}

func newSubscriptionsHandler(ledgers map[string]SubscriptionSnapshotter) *subscriptionsHandler {
	return &subscriptionsHandler{ledgers: ledgers}
}

// venueSubscriptions is keyed by market, then by stream key, mirroring
// ledger.Ledger.Snapshot for a single venue.
type venueSubscriptions = map[string]map[string]uint

func (h *subscriptionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]venueSubscriptions, len(h.ledgers))
	for venue, l := range h.ledgers {
		out[venue] = l.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, "failed to encode subscriptions", http.StatusInternalServerError)
	}
}
