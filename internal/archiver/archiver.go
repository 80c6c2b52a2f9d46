// Package archiver tails every canonical trade published on the bus and
// appends it as a JSONL line under a date-partitioned directory tree,
// grounded on the Python source's dataCollector.py.
package archiver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/feedgate/gateway/pkg/topic"
	"github.com/feedgate/gateway/pkg/types"
)

// Bus is the subset of pkg/bus.Client this package depends on.
type Bus interface {
	Subscribe(topic string, handler func(payload []byte)) (unsubscribe func(), err error)
}

// Config tunes the archiver.
type Config struct {
	DataDir   string
	BatchSize int
	Logger    *zap.Logger
}

type partition struct {
	file   *os.File
	date   string
	buffer [][]byte
}

// Archiver buffers and flushes trade records to
// <DataDir>/<exchange>/<market>/<streamType>/<symbol>/<date>.jsonl.
type Archiver struct {
	cfg Config
	bus Bus

	mu         sync.Mutex
	partitions map[string]*partition

	unsubscribe func()
}

// New constructs an Archiver. Call Start to begin tailing the bus.
func New(cfg Config, bus Bus) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Archiver{
		cfg:        cfg,
		bus:        bus,
		partitions: make(map[string]*partition),
	}
}

// Start subscribes to every subject on the bus. Topics that do not parse as
// canonical trade channels (control channels, anything malformed) are
// skipped rather than erroring the subscription.
func (a *Archiver) Start() error {
	unsub, err := a.bus.Subscribe(">", a.handle)
	if err != nil {
		return fmt.Errorf("archiver: subscribe: %w", err)
	}
	a.unsubscribe = unsub
	return nil
}

// Close flushes and closes every open partition file and unsubscribes from
// the bus.
func (a *Archiver) Close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for key, p := range a.partitions {
		if err := a.flushLocked(key, p); err != nil && firstErr == nil {
			firstErr = err
		}
		if p.file != nil {
			if err := p.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	a.partitions = make(map[string]*partition)
	return firstErr
}

func (a *Archiver) handle(payload []byte) {
	var trade types.Trade
	if err := json.Unmarshal(payload, &trade); err != nil {
		return
	}

	exchange, market, symbol, streamType, err := topic.Parse(trade.Topic)
	if err != nil {
		return
	}

	dir := filepath.Join(a.cfg.DataDir, exchange, market, streamType, symbol)
	date := time.UnixMilli(trade.LocalTimestamp).UTC().Format("2006-01-02")
	key := dir

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.partitions[key]
	if !ok {
		p = &partition{}
		a.partitions[key] = p
	}

	if p.date != date {
		if err := a.flushLocked(key, p); err != nil {
			a.cfg.Logger.Error("archiver: flush on date rollover failed", zap.String("partition", key), zap.Error(err))
		}
		if p.file != nil {
			p.file.Close()
			p.file = nil
		}
		p.date = date
	}

	if p.file == nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.cfg.Logger.Error("archiver: mkdir failed", zap.String("dir", dir), zap.Error(err))
			return
		}
		f, err := os.OpenFile(filepath.Join(dir, date+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			a.cfg.Logger.Error("archiver: open file failed", zap.String("dir", dir), zap.Error(err))
			return
		}
		p.file = f
	}

	line := make([]byte, len(payload))
	copy(line, payload)
	p.buffer = append(p.buffer, line)

	if len(p.buffer) >= a.cfg.BatchSize {
		if err := a.flushLocked(key, p); err != nil {
			a.cfg.Logger.Error("archiver: flush on batch full failed", zap.String("partition", key), zap.Error(err))
		}
	}
}

// flushLocked writes p's buffered lines to its open file and clears the
// buffer. Callers must hold a.mu.
func (a *Archiver) flushLocked(key string, p *partition) error {
	if len(p.buffer) == 0 || p.file == nil {
		p.buffer = p.buffer[:0]
		return nil
	}

	for _, line := range p.buffer {
		if _, err := p.file.Write(line); err != nil {
			return fmt.Errorf("archiver: write %s: %w", key, err)
		}
		if _, err := p.file.Write([]byte("\n")); err != nil {
			return fmt.Errorf("archiver: write %s: %w", key, err)
		}
	}
	p.buffer = p.buffer[:0]
	return nil
}
