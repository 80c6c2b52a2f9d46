// Package topic implements the canonical channel codec shared by the
// publisher, the control-plane listener, and the archiver.
package topic

import (
	"fmt"
	"strings"
)

// Format builds the canonical topic string exchange:market:symbol:stream.
// It is a pure function: no component in the gateway holds topic state.
func Format(exchange, market, symbol, streamType string) string {
	return exchange + ":" + market + ":" + symbol + ":" + streamType
}

// Parse splits a canonical topic back into its four components. It is the
// exact inverse of Format for any input whose components do not themselves
// contain a colon.
func Parse(topic string) (exchange, market, symbol, streamType string, err error) {
	parts := strings.SplitN(topic, ":", 4)
	if len(parts) != 4 {
		return "", "", "", "", fmt.Errorf("topic: malformed channel %q", topic)
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", "", fmt.Errorf("topic: empty component in channel %q", topic)
		}
	}
	return parts[0], parts[1], parts[2], parts[3], nil
}

// Control returns the control-channel name for a venue.
func Control(venue string) string {
	return venue + ":control"
}
