package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feedgate/gateway/internal/adapter"
	"github.com/feedgate/gateway/internal/archiver"
	"github.com/feedgate/gateway/internal/connection"
	"github.com/feedgate/gateway/internal/controlplane"
	"github.com/feedgate/gateway/internal/publisher"
	"github.com/feedgate/gateway/pkg/bus"
	"github.com/feedgate/gateway/pkg/config"
	"github.com/feedgate/gateway/pkg/healthprobe"
	"github.com/feedgate/gateway/pkg/httpserver"
)

// New creates a new application instance, wiring one adapter and control-
// plane listener per enabled venue, a shared publisher, and (if enabled) the
// archiver.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := healthprobe.New()

	busClient, err := bus.Connect(bus.Config{
		URL:            cfg.BusURL,
		MaxReconnects:  -1,
		ReconnectWait:  time.Second,
		ConnectTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to bus: %w", err)
	}

	pub := publisher.New(busClient)

	venues, err := setupVenues(cfg, logger, pub.Publish, busClient)
	if err != nil {
		cancel()
		busClient.Close()
		return nil, fmt.Errorf("setup venues: %w", err)
	}

	var arch *archiver.Archiver
	if cfg.ArchiverEnabled {
		arch = archiver.New(archiver.Config{
			DataDir:   cfg.ArchiverDataDir,
			BatchSize: cfg.ArchiverBatchSize,
			Logger:    logger,
		}, busClient)
	}

	ledgers := make(map[string]httpserver.SubscriptionSnapshotter, len(venues))
	for _, v := range venues {
		ledgers[v.name] = v.base.Ledger()
	}

	httpServer := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Ledgers:       ledgers,
	})

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		busClient:     busClient,
		venues:        venues,
		archiver:      arch,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// defaultMarketTypes lists the market types a venue's public trade feeds are
// subscribed to. Both venues in scope offer spot and perpetual futures.
var defaultMarketTypes = []string{"spot", "perp"}

func setupVenues(cfg *config.Config, logger *zap.Logger, publish adapter.Publisher, busClient *bus.Client) ([]*venue, error) {
	venues := make([]*venue, 0, len(cfg.EnabledVenues))

	for _, name := range cfg.EnabledVenues {
		proto, err := newProtocol(name)
		if err != nil {
			return nil, err
		}

		connCfg := connection.Config{
			DialTimeout: cfg.WSDialTimeout,
			Reconnect: connection.ReconnectConfig{
				InitialDelay:      cfg.WSReconnectInitialDelay,
				MaxDelay:          cfg.WSReconnectMaxDelay,
				BackoffMultiplier: cfg.WSReconnectBackoffMult,
				JitterPercent:     0.2,
			},
			QueueSize: 1024,
			Logger:    logger,
		}

		base := adapter.NewBase(proto, connCfg, publish, logger, defaultMarketTypes)
		listener := controlplane.New(name, busClient, base, logger)

		venues = append(venues, &venue{name: name, base: base, listener: listener})
	}

	return venues, nil
}

func newProtocol(name string) (adapter.Protocol, error) {
	switch name {
	case "binance":
		return adapter.NewBinance(), nil
	case "kraken":
		return adapter.NewKraken(), nil
	default:
		return nil, fmt.Errorf("unknown venue %q", name)
	}
}
