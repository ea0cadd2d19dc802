package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/tally"
	"github.com/loykin/tally/internal/history"
	"github.com/loykin/tally/internal/procsnap"
	"github.com/loykin/tally/internal/store"
)

const (
	recorderBuffer = 64
	routerBuffer   = 16
)

func runServe(ctx context.Context, f ServeFlags, out io.Writer) error {
	cfg, err := tally.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, closer := cfg.Log.NewSlogger()
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, tally.SystemProvider(), log, out)
}

// serve runs the monitor and its outer surfaces until ctx is done or one of
// them fails.
func serve(ctx context.Context, cfg *tally.Config, p procsnap.Provider, log *slog.Logger, out io.Writer) error {
	st, err := tally.OpenStore(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	sinks, err := openSinks(cfg.History.Sinks)
	defer closeSinks(sinks, log)
	if err != nil {
		return err
	}

	var apiLn, metricsLn net.Listener
	if cfg.Server.Listen != "" {
		if apiLn, err = net.Listen("tcp", cfg.Server.Listen); err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
		}
	}
	if cfg.Metrics.Enabled {
		if err := tally.RegisterMetricsDefault(); err != nil {
			log.Warn("register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			if metricsLn, err = net.Listen("tcp", cfg.Metrics.Listen); err != nil {
				if apiLn != nil {
					_ = apiLn.Close()
				}
				return fmt.Errorf("listen %s: %w", cfg.Metrics.Listen, err)
			}
		}
	}

	ctrl := tally.NewController(tally.Options{
		Provider:    p,
		Matcher:     cfg.Matcher(),
		OpenStore:   tally.StoreOpener(cfg.Store.DSN),
		Interval:    cfg.Monitor.Interval,
		StopTimeout: cfg.Monitor.StopTimeout,
		Logger:      log,
	})
	g, gctx := errgroup.WithContext(ctx)

	// subscriptions are closed by Shutdown
	if len(sinks) > 0 {
		events, _ := ctrl.Subscribe(recorderBuffer)
		rec := history.NewRecorder(log, sinks...)
		// runs until Shutdown closes events, so queued events are still exported
		g.Go(func() error { return rec.Run(context.WithoutCancel(gctx), events) })
	}
	if apiLn != nil {
		router := tally.NewRouter(ctrl, st, cfg.Server.BasePath, tally.RouterOptions{
			Metrics: cfg.Metrics.Enabled && metricsLn == nil,
			Logger:  log,
		})
		events, _ := ctrl.Subscribe(routerBuffer)
		g.Go(func() error { return router.Watch(gctx, events) })
		g.Go(func() error { return tally.Serve(gctx, apiLn, router) })
		log.Info("serving API", "addr", apiLn.Addr().String(), "base_path", cfg.Server.BasePath)
		_, _ = fmt.Fprintf(out, "API listening on %s\n", apiLn.Addr())
	}
	if metricsLn != nil {
		srv := tally.NewMetricsServer(metricsLn.Addr().String())
		g.Go(func() error { return serveUntilDone(gctx, srv, metricsLn) })
		log.Info("serving metrics", "addr", metricsLn.Addr().String())
	}

	startTarget(ctx, cfg, st, ctrl, log)

	g.Go(func() error {
		<-gctx.Done()
		err := ctrl.Shutdown()
		if errors.Is(err, tally.ErrStopTimeout) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// startTarget begins monitoring the configured or saved executable. A missing
// executable is logged rather than fatal so the target can be fixed over the API.
func startTarget(ctx context.Context, cfg *tally.Config, st tally.Store, ctrl *tally.Controller, log *slog.Logger) {
	path, ok, err := cfg.ResolveTarget(ctx, st)
	switch {
	case err != nil:
		log.Warn("read saved target", "error", err)
	case !ok:
		log.Info("no executable configured; use 'tally set-target' or PUT /target")
	default:
		warnOverriddenTarget(ctx, cfg, st, log)
		if err := ctrl.Start(path); err != nil {
			log.Warn("monitoring not started", "target", path, "error", err)
		}
	}
}

// warnOverriddenTarget logs when the config file names an executable other
// than the one saved by set-target or PUT /target, since the file wins.
func warnOverriddenTarget(ctx context.Context, cfg *tally.Config, st tally.Store, log *slog.Logger) {
	configured := strings.TrimSpace(cfg.Monitor.ExecutablePath)
	if configured == "" {
		return
	}
	saved, ok, err := st.GetConfig(ctx, store.ConfigKeyExecutablePath)
	saved = strings.TrimSpace(saved)
	if err != nil || !ok || saved == "" || saved == configured {
		return
	}
	log.Warn("config file overrides saved target; remove monitor.executable_path to use the saved one",
		"configured", configured, "saved", saved)
}

func openSinks(dsns []string) ([]tally.HistorySink, error) {
	sinks := make([]tally.HistorySink, 0, len(dsns))
	for i, dsn := range dsns {
		s, err := tally.NewHistorySink(dsn)
		if err != nil {
			// DSNs may carry credentials; name the entry instead
			return sinks, fmt.Errorf("history.sinks[%d]: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func closeSinks(sinks []tally.HistorySink, log *slog.Logger) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn("close history sink", "error", err)
			}
		}
	}
}

func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
