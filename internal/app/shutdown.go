package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown tears down the application in dependency order: control-plane
// listeners first (so no new commands arrive), then each venue's
// connections, then the archiver (flushing buffered records), then the bus
// client, and finally the HTTP server.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")
	a.healthChecker.SetReady(false)

	for _, v := range a.venues {
		v.listener.Stop()
	}

	for _, v := range a.venues {
		if err := v.base.Close(); err != nil {
			a.logger.Error("venue shutdown error", zap.String("venue", v.name), zap.Error(err))
		}
	}

	if a.archiver != nil {
		if err := a.archiver.Close(); err != nil {
			a.logger.Error("archiver shutdown error", zap.Error(err))
		}
	}

	a.busClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", zap.Error(err))
	}

	a.cancel()
	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")
	return nil
}
