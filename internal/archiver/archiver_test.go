package archiver

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/feedgate/gateway/pkg/types"
)

type fakeBus struct {
	handler func([]byte)
}

func (f *fakeBus) Subscribe(topic string, handler func(payload []byte)) (func(), error) {
	f.handler = handler
	return func() { f.handler = nil }, nil
}

func tradePayload(t *testing.T, trade types.Trade) []byte {
	t.Helper()
	data, err := json.Marshal(trade)
	if err != nil {
		t.Fatalf("marshal trade: %v", err)
	}
	return data
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}

func TestArchiver_PartitionsByTopicComponents(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	a := New(Config{DataDir: dir, BatchSize: 1, Logger: zap.NewNop()}, bus)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Close()

	ts := int64(1700000000000) // 2023-11-14T22:13:20Z
	bus.handler(tradePayload(t, types.Trade{Topic: "binance:spot:btcusdt:trade", LocalTimestamp: ts, Price: "1"}))
	bus.handler(tradePayload(t, types.Trade{Topic: "kraken:perp:PI_XBTUSD:trade", LocalTimestamp: ts, Price: "2"}))

	want1 := filepath.Join(dir, "binance", "spot", "trade", "btcusdt", "2023-11-14.jsonl")
	want2 := filepath.Join(dir, "kraken", "perp", "trade", "PI_XBTUSD", "2023-11-14.jsonl")

	if _, err := os.Stat(want1); err != nil {
		t.Errorf("expected file %s to exist: %v", want1, err)
	}
	if _, err := os.Stat(want2); err != nil {
		t.Errorf("expected file %s to exist: %v", want2, err)
	}
}

func TestArchiver_FlushesOnBatchFull(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	a := New(Config{DataDir: dir, BatchSize: 2, Logger: zap.NewNop()}, bus)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Close()

	ts := int64(1700000000000)
	path := filepath.Join(dir, "binance", "spot", "trade", "btcusdt", "2023-11-14.jsonl")

	bus.handler(tradePayload(t, types.Trade{Topic: "binance:spot:btcusdt:trade", LocalTimestamp: ts}))
	if n := countLines(t, path); n != 0 {
		t.Errorf("line count = %d, want 0 before batch size is reached", n)
	}

	bus.handler(tradePayload(t, types.Trade{Topic: "binance:spot:btcusdt:trade", LocalTimestamp: ts}))
	if n := countLines(t, path); n != 2 {
		t.Errorf("line count = %d, want 2 after batch flush", n)
	}
}

func TestArchiver_FlushesOnDateRollover(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	a := New(Config{DataDir: dir, BatchSize: 50, Logger: zap.NewNop()}, bus)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Close()

	day1 := int64(1700000000000)  // 2023-11-14
	day2 := int64(1700100000000)  // 2023-11-16

	bus.handler(tradePayload(t, types.Trade{Topic: "binance:spot:btcusdt:trade", LocalTimestamp: day1}))
	bus.handler(tradePayload(t, types.Trade{Topic: "binance:spot:btcusdt:trade", LocalTimestamp: day2}))

	path1 := filepath.Join(dir, "binance", "spot", "trade", "btcusdt", "2023-11-14.jsonl")
	if n := countLines(t, path1); n != 1 {
		t.Errorf("day-1 file line count = %d, want 1 (flushed on rollover)", n)
	}
}

func TestArchiver_CloseFlushesPartialBatch(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	a := New(Config{DataDir: dir, BatchSize: 50, Logger: zap.NewNop()}, bus)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ts := int64(1700000000000)
	bus.handler(tradePayload(t, types.Trade{Topic: "binance:spot:btcusdt:trade", LocalTimestamp: ts}))

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	path := filepath.Join(dir, "binance", "spot", "trade", "btcusdt", "2023-11-14.jsonl")
	if n := countLines(t, path); n != 1 {
		t.Errorf("line count = %d, want 1 after Close flush", n)
	}
}

func TestArchiver_IgnoresControlChannelTraffic(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	a := New(Config{DataDir: dir, BatchSize: 1, Logger: zap.NewNop()}, bus)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Close()

	bus.handler([]byte(`{"action":"subscribe","symbols":["btcusdt"],"streamType":"trade","marketType":"spot"}`))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files written for control traffic, got %v", entries)
	}
}
