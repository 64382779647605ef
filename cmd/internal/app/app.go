// Package app wires the crpghub server runtime: config, logging, storage backend,
// HTTP routes, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/auth"
	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat"
	chatapi "github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat/api"
	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
)

// App is the crpghub server runtime: it owns HTTP server wiring and realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	gw      *realtime.Gateway
	chatAPI *chatapi.Handler

	registry    *prometheus.Registry
	httpMetrics *httpMetrics
}

// Option configures optional App dependencies (tests).
type Option func(*appDeps)

type appDeps struct {
	verifier auth.Verifier
}

// WithVerifier replaces the env-configured PASETO verifier.
func WithVerifier(v auth.Verifier) Option {
	return func(d *appDeps) {
		if v != nil {
			d.verifier = v
		}
	}
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var deps appDeps
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}
	if deps.verifier == nil {
		authCfg, err := auth.LoadConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("auth config: %w", err)
		}
		tokens, err := auth.NewPasetoManager(authCfg)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		deps.verifier = tokens
	}

	st, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	svc, err := chat.NewService(st.Repository(), st.Users(), cfg.Chat)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	reg := newMetricsRegistry()
	gw, err := realtime.NewGateway(log, realtime.NewHub(), svc, deps.verifier, cfg.Gateway,
		realtime.WithMetrics(realtime.NewMetrics(reg)))
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	api, err := chatapi.NewHandler(log, svc, deps.verifier, chatapi.Config{MaxBodyBytes: int64(cfg.MaxBodyBytes)},
		chatapi.WithPublisher(gw))
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	return &App{
		cfg:         cfg,
		log:         log,
		store:       st,
		gw:          gw,
		chatAPI:     api,
		registry:    reg,
		httpMetrics: newHTTPMetrics(reg),
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log, a.httpMetrics)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"backend", a.store.Name(),
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws/direct-chats/{chat_id}",
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.gw.RunPresenceSweeper(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.store.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	a.gw.CloseAll("server shutdown")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
