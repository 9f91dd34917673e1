package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/medscribe/internal/api"
	"github.com/MrWong99/medscribe/internal/observe"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func (a *App) newMux() http.Handler {
	mux := http.NewServeMux()
	api.New(a).Register(mux)
	a.health.Register(mux)
	metrics := a.metricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metrics)
	if path := a.currentConfig().Server.MCP.HTTPPath; path != "" {
		mux.Handle(path, a.tools.HTTPHandler())
	}
	return observe.Middleware(a.metrics, observe.WithQuietPaths("/healthz", "/readyz", "/metrics"))(mux)
}

// serve runs the HTTP listener, the auto-saver and (optionally) the stdio
// MCP transport until ctx is cancelled or one of them fails.
func (a *App) serve(ctx context.Context) error {
	cfg := a.currentConfig()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           a.newMux(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: HTTP server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.saver.Run(gctx)
	})
	if cfg.Server.MCP.Stdio {
		g.Go(func() error {
			slog.Info("app: serving MCP on stdio")
			if err := a.tools.RunStdio(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
