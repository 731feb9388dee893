package app

import (
	"context"
	"errors"

	"chatsync/pkg/logger"
)

// Shutdown stops components in dependency order: HTTP first, the cache
// last.
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutdown_requested")
	a.readyState.Store(false)
	var errs []error

	if a.srvFast != nil {
		done := make(chan error, 1)
		go func() { done <- a.srvFast.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				logger.Error("shutdown_http_error", "error", err)
				errs = append(errs, err)
			}
		case <-ctx.Done():
			logger.Error("shutdown_http_timeout", "error", ctx.Err())
			errs = append(errs, ctx.Err())
		}
	}
	if a.retentionCancel != nil {
		a.retentionCancel()
	}
	if a.api != nil {
		a.api.Close()
	}
	for _, h := range a.pins {
		h.Release()
	}
	a.pins = nil
	if a.eng != nil {
		if err := a.eng.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.remote != nil {
		if err := a.remote.close(ctx); err != nil {
			logger.Error("shutdown_remote_close_error", "error", err)
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Error("shutdown_store_close_error", "error", err)
			errs = append(errs, err)
		}
	}
	logger.Info("shutdown_complete")
	return errors.Join(errs...)
}
