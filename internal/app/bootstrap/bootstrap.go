// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bootstrap is the composition root: it turns a loaded configuration
// into a runnable daemon.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/api"
	"github.com/ManuGH/tvd/internal/bus"
	"github.com/ManuGH/tvd/internal/cache"
	"github.com/ManuGH/tvd/internal/cam"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/config"
	"github.com/ManuGH/tvd/internal/daemon"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/dvb/linuxdvb"
	"github.com/ManuGH/tvd/internal/frontend"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/pump"
	"github.com/ManuGH/tvd/internal/recorder"
	"github.com/ManuGH/tvd/internal/scan"
	"github.com/ManuGH/tvd/internal/store"
	"github.com/ManuGH/tvd/internal/telemetry"
)

// DeviceFactory opens the DVB device behind adapter/frontend.
type DeviceFactory func(adapter, index int) dvb.Device

// Options adjust wiring. The zero value wires real hardware.
type Options struct {
	Version string
	// Devices defaults to the linux DVB API.
	Devices DeviceFactory
	// Listener replaces api.listenAddr when set.
	Listener  net.Listener
	LogOutput io.Writer
}

// Container is the production composition root output.
type Container struct {
	Config       config.AppConfig
	ConfigHolder *config.ConfigHolder
	Logger       zerolog.Logger

	Store     store.Store
	Catalog   *catalog.Catalog
	Frontends *frontend.Registry
	CAMs      *cam.Registry
	Bus       *bus.MemoryBus
	Scanner   *scan.Engine
	Control   *daemon.Control
	Recorder  *recorder.Recorder
	Cache     cache.Cache
	Server    *api.Server
	Exporter  *daemon.Exporter
	App       *daemon.App

	tracing   *telemetry.Provider
	closeOnce sync.Once
	closeErr  error
}

// WireServices loads the configuration at configPath (empty means defaults
// plus environment) and builds the dependency graph.
func WireServices(ctx context.Context, configPath string, opts Options) (*Container, error) {
	xglog.Configure(xglog.Config{Level: "info", Service: "tvd", Version: opts.Version, Output: opts.LogOutput})
	logger := xglog.WithComponent("bootstrap")

	loader := config.NewLoader(configPath, opts.Version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if unknown := loader.UnknownEnvKeys(os.Environ()); len(unknown) > 0 {
		logger.Warn().
			Str(xglog.FieldEvent, "config.unknown_env").
			Strs("keys", unknown).
			Msg("ignoring unknown environment variables")
	}

	c, err := Wire(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	c.ConfigHolder = config.NewConfigHolder(cfg, loader, configPath)
	c.App = daemon.NewApp(c.appDeps(opts))
	return c, nil
}

// Wire builds the dependency graph for an already validated cfg.
func Wire(ctx context.Context, cfg config.AppConfig, opts Options) (c *Container, err error) {
	if ctx == nil {
		return nil, errors.New("wire context is nil")
	}
	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
		Output:  opts.LogOutput,
	})
	c = &Container{Config: cfg, Logger: xglog.WithComponent("bootstrap")}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
			c = nil
		}
	}()

	c.tracing, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return c, fmt.Errorf("init tracing: %w", err)
	}

	c.Store, err = store.NewStore(cfg.Storage.Backend, cfg.StorePath())
	if err != nil {
		return c, fmt.Errorf("open store: %w", err)
	}
	c.Catalog = catalog.New(c.Store)
	if err = store.Load(ctx, c.Store, c.Catalog); err != nil {
		return c, fmt.Errorf("restore catalog: %w", err)
	}

	sources, err := wireSources(ctx, c.Catalog, cfg.Sources, c.Logger)
	if err != nil {
		return c, err
	}
	devices := opts.Devices
	if devices == nil {
		devices = func(adapter, index int) dvb.Device { return linuxdvb.New(adapter, index) }
	}
	c.Frontends, err = wireFrontends(c.Catalog, cfg, sources, devices)
	if err != nil {
		return c, err
	}

	c.CAMs = cam.NewRegistry(cam.Config{})
	c.Bus = bus.NewMemoryBus()
	deps := activity.Deps{
		Catalog:     c.Catalog,
		Frontends:   c.Frontends,
		Bus:         c.Bus,
		TuneTimeout: cfg.Tuning.LockTimeout,
	}
	c.Scanner = scan.New(c.Catalog, scan.Config{
		SectionTimeout: cfg.Tuning.SectionTimeout,
		AutoChannels:   cfg.Scan.AutoChannels,
	})

	recDir := cfg.RecordingsDir()
	if err = os.MkdirAll(recDir, 0o750); err != nil {
		return c, fmt.Errorf("create recordings dir: %w", err)
	}
	c.Recorder = recorder.New(recorder.Config{
		Dir:           recDir,
		DefaultWindow: cfg.Recorder.DefaultWindow,
	}, deps, c.CAMs, c.Store)
	if err = c.Recorder.Load(ctx); err != nil {
		return c, fmt.Errorf("restore recordings: %w", err)
	}

	ctl := daemon.ControlConfig{StreamRateBPS: cfg.Stream.RateLimitBPS, EPGWindow: cfg.EPG.Window}
	if cfg.IdleScan.Enabled {
		ctl.IdleInterval = cfg.IdleScan.Interval
	}
	if cfg.EPG.Enabled {
		ctl.EPGInterval = cfg.EPG.Interval
	}
	c.Control = daemon.NewControl(deps, c.Scanner, c.CAMs, ctl)

	c.Cache = cache.New(cache.Config{RedisAddr: cfg.Cache.RedisAddr}, c.Logger)

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = cfg.LogService + "/api"
	}
	c.Server = api.New(api.Config{
		ListenAddr: cfg.API.ListenAddr,
		MaxConns:   cfg.API.MaxConns,
		RateLimit:  cfg.API.RateLimit,
		CacheTTL:   cfg.Cache.TTL,
		Playback: pump.PlaybackConfig{
			Window:       cfg.Playback.Window,
			ChunkPackets: cfg.Playback.ChunkPackets,
		},
		TracingService: tracingService,
	}, api.Deps{
		Catalog:   c.Catalog,
		Frontends: c.Frontends,
		Control:   c.Control,
		Recorder:  c.Recorder,
		Cache:     c.Cache,
		Bus:       c.Bus,
	})
	if cfg.Export.Enabled {
		c.Exporter = &daemon.Exporter{
			Catalog: c.Catalog,
			Bus:     c.Bus,
			Dir:     cfg.DataDir,
			BaseURL: exportBaseURL(cfg),
		}
	}
	c.App = daemon.NewApp(c.appDeps(opts))

	c.Logger.Info().
		Str(xglog.FieldEvent, "bootstrap.ready").
		Int("sources", len(sources)).
		Int("frontends", len(c.Frontends.List())).
		Str("store", cfg.Storage.Backend).
		Msg("services wired")
	return c, nil
}

func (c *Container) appDeps(opts Options) daemon.AppDeps {
	return daemon.AppDeps{
		Control:      c.Control,
		Server:       c.Server,
		Recorder:     c.Recorder,
		Frontends:    c.Frontends,
		ConfigHolder: c.ConfigHolder,
		Exporter:     c.Exporter,
		Listener:     opts.Listener,
	}
}

// exportBaseURL is export.baseURL, or the API address as seen from the
// local host.
func exportBaseURL(cfg config.AppConfig) string {
	if cfg.Export.BaseURL != "" {
		return cfg.Export.BaseURL
	}
	host, port, err := net.SplitHostPort(cfg.API.ListenAddr)
	if err != nil {
		return "http://localhost"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Run blocks in the daemon until ctx ends, then releases every resource.
func (c *Container) Run(ctx context.Context) error {
	err := c.App.Run(ctx)
	if cerr := c.Close(context.WithoutCancel(ctx)); err == nil {
		err = cerr
	}
	return err
}

// Close releases hardware, storage and exporters. It is safe to call more
// than once.
func (c *Container) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.Control != nil {
			errs = append(errs, c.Control.Close())
		}
		if c.Frontends != nil {
			errs = append(errs, c.Frontends.Close())
		}
		if c.Cache != nil {
			errs = append(errs, c.Cache.Close())
		}
		if c.Store != nil {
			errs = append(errs, c.Store.Close())
		}
		if c.tracing != nil {
			errs = append(errs, c.tracing.Shutdown(ctx))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
