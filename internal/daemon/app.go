// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the long-running runtime: the API server, the
// recorder loop, one idle scanner per frontend and config reload wiring.
package daemon

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/tvd/internal/api"
	"github.com/ManuGH/tvd/internal/config"
	"github.com/ManuGH/tvd/internal/frontend"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/recorder"
)

// AppDeps are the subsystems an App runs. Everything but Control and Server
// is optional.
type AppDeps struct {
	Control      *Control
	Server       *api.Server
	Recorder     *recorder.Recorder
	Frontends    *frontend.Registry
	ConfigHolder *config.ConfigHolder
	Exporter     *Exporter
	// Listener replaces the configured listen address when set.
	Listener net.Listener
}

// App runs the daemon's subsystems until its context ends.
type App struct {
	logger       zerolog.Logger
	deps         AppDeps
	reloadSignal os.Signal
}

func NewApp(deps AppDeps) *App {
	return &App{
		logger:       xglog.WithComponent("daemon"),
		deps:         deps,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or one of them fails. Running activities are stopped before
// Run returns.
func (a *App) Run(ctx context.Context) error {
	if a.deps.Control == nil {
		return ErrMissingControl
	}
	if a.deps.Server == nil {
		return ErrMissingServer
	}

	g, ctx := errgroup.WithContext(ctx)
	holder := a.deps.ConfigHolder

	// Config watcher is best-effort.
	if holder != nil {
		if err := holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		applyCh := make(chan config.AppConfig, 1)
		holder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	if holder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(xglog.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					if err := holder.Reload(context.Background()); err != nil {
						a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	g.Go(func() error {
		if a.deps.Listener != nil {
			return a.deps.Server.Serve(ctx, a.deps.Listener)
		}
		return a.deps.Server.ListenAndServe(ctx)
	})
	g.Go(func() error { return a.deps.Server.WatchCatalog(ctx) })

	if a.deps.Recorder != nil {
		g.Go(func() error { return a.deps.Recorder.Run(ctx) })
	}
	if a.deps.Exporter != nil {
		g.Go(func() error { return a.deps.Exporter.Run(ctx) })
	}
	if a.deps.Frontends != nil {
		for _, fe := range a.deps.Frontends.List() {
			g.Go(func() error { return a.deps.Control.RunIdle(ctx, fe) })
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		return a.deps.Control.Close()
	})

	err := g.Wait()
	if holder != nil {
		holder.Stop()
	}
	a.logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	return err
}

// apply takes over the settings that can change without a restart.
func (a *App) apply(cfg config.AppConfig) {
	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	a.logger.Info().
		Str(xglog.FieldEvent, "config.applied").
		Str("log_level", cfg.LogLevel).
		Msg("applied reloaded configuration")
}
