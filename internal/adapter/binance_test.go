package adapter

import (
	"encoding/json"
	"testing"

	"github.com/feedgate/gateway/pkg/types"
)

func TestBinance_BuildFrame_Subscribe(t *testing.T) {
	b := NewBinance()
	raw, err := b.BuildFrame(types.ActionSubscribe, "spot", []string{"BTCUSDT@trade", "ethusdt@aggTrade"})
	if err != nil {
		t.Fatalf("BuildFrame() error = %v", err)
	}

	var frame binanceSubscribeFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}

	if frame.Method != "SUBSCRIBE" {
		t.Errorf("Method = %q, want SUBSCRIBE", frame.Method)
	}
	want := []string{"btcusdt@trade", "ethusdt@aggTrade"}
	if len(frame.Params) != len(want) || frame.Params[0] != want[0] || frame.Params[1] != want[1] {
		t.Errorf("Params = %v, want %v", frame.Params, want)
	}
}

func TestBinance_BuildFrame_UnsubscribeIncrementsID(t *testing.T) {
	b := NewBinance()
	raw1, _ := b.BuildFrame(types.ActionSubscribe, "spot", []string{"btcusdt@trade"})
	raw2, _ := b.BuildFrame(types.ActionUnsubscribe, "spot", []string{"btcusdt@trade"})

	var f1, f2 binanceSubscribeFrame
	json.Unmarshal(raw1, &f1)
	json.Unmarshal(raw2, &f2)

	if f2.Method != "UNSUBSCRIBE" {
		t.Errorf("second frame Method = %q, want UNSUBSCRIBE", f2.Method)
	}
	if f2.ID == f1.ID {
		t.Errorf("request IDs did not increment: %d == %d", f1.ID, f2.ID)
	}
}

func TestBinance_Parse_Trade(t *testing.T) {
	b := NewBinance()
	raw := []byte(`{"e":"trade","E":1672531200000,"s":"BTCUSDT","t":12345,"p":"16500.10","q":"0.5","T":1672531199999,"m":true}`)

	trade, symbol, streamType, ok := b.Parse("spot", raw)
	if !ok {
		t.Fatal("Parse() ok = false, want true")
	}
	if symbol != "btcusdt" {
		t.Errorf("symbol = %q, want btcusdt", symbol)
	}
	if streamType != "trade" {
		t.Errorf("streamType = %q, want trade", streamType)
	}
	if trade.TradeID != 12345 {
		t.Errorf("TradeID = %d, want 12345", trade.TradeID)
	}
	if trade.Side != types.SideSell {
		t.Errorf("Side = %q, want sell (buyer is maker)", trade.Side)
	}
	if trade.ExchTimestamp != 1672531199999 {
		t.Errorf("ExchTimestamp = %d, want 1672531199999", trade.ExchTimestamp)
	}
}

func TestBinance_Parse_AggTrade(t *testing.T) {
	b := NewBinance()
	raw := []byte(`{"e":"aggTrade","E":1672531200000,"s":"ETHUSDT","a":999,"f":10,"l":12,"p":"1200.5","q":"2.0","T":1672531199000,"m":false}`)

	trade, symbol, streamType, ok := b.Parse("spot", raw)
	if !ok {
		t.Fatal("Parse() ok = false, want true")
	}
	if symbol != "ethusdt" || streamType != "aggTrade" {
		t.Errorf("symbol/streamType = %q/%q, want ethusdt/aggTrade", symbol, streamType)
	}
	if trade.AggTradeID != 999 || trade.FirstTradeID != 10 || trade.LastTradeID != 12 {
		t.Errorf("trade IDs = %d/%d/%d, want 999/10/12", trade.AggTradeID, trade.FirstTradeID, trade.LastTradeID)
	}
	if trade.Side != types.SideBuy {
		t.Errorf("Side = %q, want buy", trade.Side)
	}
}

func TestBinance_Parse_FiltersAck(t *testing.T) {
	b := NewBinance()
	raw := []byte(`{"result":null,"id":1}`)

	_, _, _, ok := b.Parse("spot", raw)
	if ok {
		t.Error("Parse() ok = true for ack frame, want false")
	}
}

func TestBinance_Parse_FiltersUnknownEventType(t *testing.T) {
	b := NewBinance()
	raw := []byte(`{"e":"kline","s":"BTCUSDT"}`)

	_, _, _, ok := b.Parse("spot", raw)
	if ok {
		t.Error("Parse() ok = true for unknown event type, want false")
	}
}

func TestBinance_Heartbeat_RepliesWithPong(t *testing.T) {
	b := NewBinance()
	reply, ok := b.Heartbeat([]byte(`{"ping":123}`))
	if !ok {
		t.Fatal("Heartbeat() ok = false for ping frame, want true")
	}

	var pong binancePongFrame
	if err := json.Unmarshal(reply, &pong); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if pong.Pong != 123 {
		t.Errorf("Pong = %d, want 123", pong.Pong)
	}
}

func TestBinance_Heartbeat_IgnoresNonPingFrames(t *testing.T) {
	b := NewBinance()
	if _, ok := b.Heartbeat([]byte(`{"e":"trade","s":"BTCUSDT"}`)); ok {
		t.Error("Heartbeat() ok = true for a trade frame, want false")
	}
	if _, ok := b.Heartbeat([]byte(`{"result":null,"id":1}`)); ok {
		t.Error("Heartbeat() ok = true for an ack frame, want false")
	}
}
