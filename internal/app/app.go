package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/feedgate/gateway/internal/adapter"
	"github.com/feedgate/gateway/internal/archiver"
	"github.com/feedgate/gateway/internal/controlplane"
	"github.com/feedgate/gateway/pkg/bus"
	"github.com/feedgate/gateway/pkg/config"
	"github.com/feedgate/gateway/pkg/healthprobe"
	"github.com/feedgate/gateway/pkg/httpserver"
)

// venue bundles one venue's fully wired adapter and control-plane listener.
type venue struct {
	name     string
	base     *adapter.Base
	listener *controlplane.Listener
}

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	busClient     *bus.Client
	venues        []*venue
	archiver      *archiver.Archiver
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Options holds application options.
type Options struct{}
