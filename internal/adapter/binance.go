package adapter

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/feedgate/gateway/pkg/types"
)

// Binance implements Protocol for Binance's spot, USD-M perpetual, and
// COIN-M perpetual combined-stream endpoints, grounded on the Python
// source's binance_ws.py.
type Binance struct {
	requestID atomic.Int64
}

func NewBinance() *Binance {
	return &Binance{}
}

func (b *Binance) Venue() string { return "binance" }

func (b *Binance) BaseURL(marketType string) (string, error) {
	switch marketType {
	case "spot":
		return "wss://stream.binance.com:9443/ws", nil
	case "perp":
		return "wss://fstream.binance.com/ws", nil
	case "coin-m":
		return "wss://dstream.binance.com/ws", nil
	default:
		return "", fmt.Errorf("binance: unknown market type %q", marketType)
	}
}

type binanceSubscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (b *Binance) BuildFrame(action, marketType string, streamKeys []string) ([]byte, error) {
	method := "SUBSCRIBE"
	if action == types.ActionUnsubscribe {
		method = "UNSUBSCRIBE"
	}

	// Binance stream names carry the symbol in lowercase while the stream
	// type keeps its own casing (e.g. aggTrade); StreamKey preserves the
	// caller's casing for the symbol, so normalize only that part here.
	params := make([]string, len(streamKeys))
	for i, k := range streamKeys {
		if at := strings.LastIndexByte(k, '@'); at >= 0 {
			params[i] = strings.ToLower(k[:at]) + k[at:]
		} else {
			params[i] = strings.ToLower(k)
		}
	}

	frame := binanceSubscribeFrame{
		Method: method,
		Params: params,
		ID:     b.requestID.Add(1),
	}
	return json.Marshal(frame)
}

// binanceEnvelope covers the fields used across trade and aggTrade payloads.
// Binance's own field names are kept verbatim (upstream wire contract).
type binanceEnvelope struct {
	Result json.RawMessage `json:"result"`
	ID     json.RawMessage `json:"id"`

	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`

	TradeID    int64 `json:"t"`
	AggTradeID int64 `json:"a"`
	FirstID    int64 `json:"f"`
	LastID     int64 `json:"l"`

	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// binancePingFrame covers the unsolicited application-level ping Binance
// sends on combined-stream connections: {"ping":n}, answered in kind with
// {"pong":n}.
type binancePingFrame struct {
	Ping *int64 `json:"ping"`
}

type binancePongFrame struct {
	Pong int64 `json:"pong"`
}

func (b *Binance) Heartbeat(raw []byte) ([]byte, bool) {
	var ping binancePingFrame
	if err := json.Unmarshal(raw, &ping); err != nil || ping.Ping == nil {
		return nil, false
	}
	reply, err := json.Marshal(binancePongFrame{Pong: *ping.Ping})
	if err != nil {
		return nil, false
	}
	return reply, true
}

func (b *Binance) Parse(marketType string, raw []byte) (*types.Trade, string, string, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", "", false
	}

	// {"result":null,"id":n} subscribe/unsubscribe acknowledgements.
	if env.ID != nil {
		return nil, "", "", false
	}

	side := types.SideBuy
	if env.BuyerIsMaker {
		side = types.SideSell
	}

	trade := &types.Trade{
		ExchTimestamp: env.TradeTime,
		Price:         env.Price,
		Quantity:      env.Quantity,
		Side:          side,
	}

	switch env.EventType {
	case "trade":
		trade.TradeID = env.TradeID
	case "aggTrade":
		trade.AggTradeID = env.AggTradeID
		trade.FirstTradeID = env.FirstID
		trade.LastTradeID = env.LastID
	default:
		return nil, "", "", false
	}

	return trade, strings.ToLower(env.Symbol), env.EventType, true
}
