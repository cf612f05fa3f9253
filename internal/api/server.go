// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the daemon's HTTP interface: catalog listings, scan
// triggers, recordings, live streams and recording playback.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/bus"
	"github.com/ManuGH/tvd/internal/cache"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/frontend"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/pump"
)

const shutdownTimeout = 5 * time.Second

// Controller runs tuner work on behalf of API clients.
type Controller interface {
	Activities() []activity.Info
	// Scan starts a scan of tid and returns once the activity is queued.
	Scan(ctx context.Context, tid catalog.TransponderID) (activity.Info, error)
	// UpdateEPG starts a guide read of tid.
	UpdateEPG(ctx context.Context, tid catalog.TransponderID) (activity.Info, error)
	// Stream sends the channel to out until ctx ends or the stream fails.
	Stream(ctx context.Context, ch catalog.ChannelID, out pump.Sender) error
}

// FrontendLister lists the registered frontends.
type FrontendLister interface {
	List() []*frontend.Frontend
}

// Recordings manages scheduled recordings.
type Recordings interface {
	Schedule(ctx context.Context, rec catalog.Recording) (catalog.Recording, error)
	RecordNow(ctx context.Context, channel catalog.ChannelID) (catalog.Recording, error)
	Cancel(ctx context.Context, id string) error
	Get(id string) (catalog.Recording, bool)
	List() []catalog.Recording
}

// Config holds server settings.
type Config struct {
	ListenAddr string
	// MaxConns caps concurrent connections; 0 disables the cap.
	MaxConns int
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int
	CacheTTL  time.Duration
	Playback  pump.PlaybackConfig
	// TracingService names the tracer; empty disables request spans.
	TracingService string
}

// Deps are the server's collaborators. Cache and Bus may be nil.
type Deps struct {
	Catalog   *catalog.Catalog
	Frontends FrontendLister
	Control   Controller
	Recorder  Recordings
	Cache     cache.Cache
	Bus       bus.Bus
}

type Server struct {
	cfg      Config
	deps     Deps
	handler  http.Handler
	sessions *sessions
	logger   zerolog.Logger
}

func New(cfg Config, deps Deps) *Server {
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryCache(0)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		sessions: newSessions(),
		logger:   xglog.WithComponent("api"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with the middleware stack applied.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Info().
		Str(xglog.FieldEvent, "api.listening").
		Str("addr", ln.Addr().String()).
		Int("max_conns", s.cfg.MaxConns).
		Msg("api server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Live streams outlast the grace period; cut them.
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WatchCatalog drops cached listings whenever a scan activity ends. It
// returns when ctx ends.
func (s *Server) WatchCatalog(ctx context.Context) error {
	if s.deps.Bus == nil {
		<-ctx.Done()
		return nil
	}
	sub, err := s.deps.Bus.Subscribe(ctx, bus.TopicActivityState)
	if err != nil {
		return fmt.Errorf("api: subscribe: %w", err)
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			ch, isChange := msg.(activity.StateChange)
			if isChange && ch.Kind == activity.KindScan && ch.To.Terminal() {
				s.invalidate(ctx)
			}
		}
	}
}

func (s *Server) invalidate(ctx context.Context) {
	s.deps.Cache.DeletePrefix(ctx, cachePrefix)
}
