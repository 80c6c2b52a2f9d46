package adapter

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/feedgate/gateway/pkg/types"
)

// Kraken implements Protocol for Kraken's spot v2 and futures (perp) v1
// WebSocket APIs, grounded on the Python source's kraken_ws.py. The two
// market types speak genuinely different wire protocols, so Parse and
// BuildFrame both branch on marketType internally rather than splitting
// into two Protocol implementations.
type Kraken struct{}

func NewKraken() *Kraken {
	return &Kraken{}
}

func (k *Kraken) Venue() string { return "kraken" }

func (k *Kraken) BaseURL(marketType string) (string, error) {
	switch marketType {
	case "spot":
		return "wss://ws.kraken.com/v2", nil
	case "perp":
		return "wss://futures.kraken.com/ws/v1", nil
	default:
		return "", fmt.Errorf("kraken: unknown market type %q", marketType)
	}
}

type krakenSpotParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
}

type krakenSpotFrame struct {
	Method string           `json:"method"`
	Params krakenSpotParams `json:"params"`
}

type krakenFuturesFrame struct {
	Event     string   `json:"event"`
	Feed      string   `json:"feed"`
	ProductID []string `json:"product_ids"`
}

func (k *Kraken) BuildFrame(action, marketType string, streamKeys []string) ([]byte, error) {
	method := "subscribe"
	if action == types.ActionUnsubscribe {
		method = "unsubscribe"
	}

	symbols := make([]string, len(streamKeys))
	streamType := ""
	for i, key := range streamKeys {
		sym, st, err := splitStreamKey(key)
		if err != nil {
			return nil, err
		}
		symbols[i] = sym
		streamType = st
	}

	switch marketType {
	case "spot":
		frame := krakenSpotFrame{
			Method: method,
			Params: krakenSpotParams{Channel: streamType, Symbol: symbols},
		}
		return json.Marshal(frame)
	case "perp":
		frame := krakenFuturesFrame{
			Event:     method,
			Feed:      streamType,
			ProductID: symbols,
		}
		return json.Marshal(frame)
	default:
		return nil, fmt.Errorf("kraken: unknown market type %q", marketType)
	}
}

// splitStreamKey recovers the symbol/streamType pair encoded by StreamKey.
func splitStreamKey(key string) (symbol, streamType string, err error) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '@' {
			return key[:i], key[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("kraken: malformed stream key %q", key)
}

type krakenSpotTradeData struct {
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Price     json.Number `json:"price"`
	Qty       json.Number `json:"qty"`
	TradeID   int64       `json:"trade_id"`
	Timestamp string      `json:"timestamp"`
}

type krakenSpotEnvelope struct {
	Channel string                `json:"channel"`
	Type    string                `json:"type"`
	Method  string                `json:"method"`
	Success *bool                 `json:"success"`
	Data    []krakenSpotTradeData `json:"data"`
}

type krakenFuturesEnvelope struct {
	Feed      string      `json:"feed"`
	Event     string      `json:"event"`
	ProductID string      `json:"product_id"`
	Type      string      `json:"type"`
	Side      string      `json:"side"`
	Seq       int64       `json:"seq"`
	Time      int64       `json:"time"`
	Price     json.Number `json:"price"`
	Qty       json.Number `json:"qty"`
}

// Heartbeat is unused for Kraken: its heartbeat/status frames are filtered
// in Parse and never require an application-level reply.
func (k *Kraken) Heartbeat(raw []byte) ([]byte, bool) {
	return nil, false
}

func (k *Kraken) Parse(marketType string, raw []byte) (*types.Trade, string, string, bool) {
	switch marketType {
	case "spot":
		return k.parseSpot(raw)
	case "perp":
		return k.parseFutures(raw)
	default:
		return nil, "", "", false
	}
}

func (k *Kraken) parseSpot(raw []byte) (*types.Trade, string, string, bool) {
	var env krakenSpotEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", "", false
	}

	if env.Channel == "heartbeat" || env.Channel == "status" {
		return nil, "", "", false
	}
	if env.Method != "" || env.Success != nil {
		return nil, "", "", false
	}
	if env.Channel != "trade" || len(env.Data) == 0 {
		return nil, "", "", false
	}
	if env.Type == "snapshot" {
		return nil, "", "", false
	}

	d := env.Data[0]
	ts, err := time.Parse(time.RFC3339Nano, d.Timestamp)
	if err != nil {
		return nil, "", "", false
	}

	side := types.SideBuy
	if d.Side == types.SideSell {
		side = types.SideSell
	}

	trade := &types.Trade{
		ExchTimestamp: ts.UnixMilli(),
		Price:         d.Price.String(),
		Quantity:      d.Qty.String(),
		Side:          side,
		TradeID:       d.TradeID,
	}
	return trade, d.Symbol, "trade", true
}

func (k *Kraken) parseFutures(raw []byte) (*types.Trade, string, string, bool) {
	var env krakenFuturesEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", "", false
	}

	if env.Event != "" {
		return nil, "", "", false
	}
	if env.Feed != "trade" || env.Type != "fill" {
		return nil, "", "", false
	}

	side := types.SideBuy
	if env.Side == types.SideSell {
		side = types.SideSell
	}

	trade := &types.Trade{
		ExchTimestamp: env.Time,
		Price:         env.Price.String(),
		Quantity:      env.Qty.String(),
		Side:          side,
		TradeID:       env.Seq,
	}
	return trade, env.ProductID, "trade", true
}
