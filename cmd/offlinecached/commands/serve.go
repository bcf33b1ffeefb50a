// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tunabay/go-offlinecache/internal/config"
	"github.com/tunabay/go-offlinecache/internal/host"
	"github.com/tunabay/go-offlinecache/internal/logger"
	"github.com/tunabay/go-offlinecache/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline cache proxy",
	Long: `Run the offline cache proxy and the admin API.

The worker described by the configuration is deployed at startup. If its
install fails, requests go to the network and the install is retried with
exponential backoff. Editing worker.cache_name or worker.assets in the
configuration file deploys a new worker version without a restart.

Examples:
  # Serve with the default configuration file
  offlinecached serve

  # Serve with environment variable overrides
  OFFLINECACHE_WORKER_CACHE_NAME=treinfo-v2 offlinecached serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deployCh := make(chan *config.Config, 1)
	cfg, err := config.Watch(cfgFile, func(c *config.Config, err error) {
		if err != nil {
			slog.Default().Warn("Ignoring invalid configuration change.", "error", err)
			return
		}
		select {
		case deployCh <- c:
		default:
			// a newer change replaces the pending one
			select {
			case <-deployCh:
			default:
			}
			deployCh <- c
		}
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	log, closer, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer closer.Close()
	slog.SetDefault(log)

	storage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	srv, err := host.New(&host.Config{
		Origin:       cfg.Server.Origin,
		Storage:      storage,
		RetryInitial: cfg.Worker.RetryInitial,
		RetryMax:     cfg.Worker.RetryMax,
		Logger:       log,
	})
	if err != nil {
		_ = storage.Close()
		return fmt.Errorf("failed to create host: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Error("Failed to close storage.", "error", err)
		}
	}()

	servers := []*http.Server{{
		Addr:         cfg.Server.Listen,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}}
	if cfg.Server.AdminListen != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.AdminListen,
			Handler:           srv.AdminHandler(metrics.NewRegistry(srv)),
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range servers {
		g.Go(func() error {
			log.Info("Listening.", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", hs.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down.")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		for _, hs := range servers {
			if err := hs.Shutdown(sctx); err != nil {
				log.Warn("Shutdown incomplete.", "addr", hs.Addr, "error", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		deployLoop(gctx, srv, cfg, deployCh, log)
		return nil
	})

	return g.Wait() //nolint:wrapcheck
}

// deployLoop deploys the initial worker and then a new version for each
// configuration change touching the worker.
func deployLoop(ctx context.Context, srv *host.Server, cur *config.Config, changes <-chan *config.Config, log *slog.Logger) {
	deploy := func(cfg *config.Config) {
		startedAt := time.Now()
		if err := srv.Deploy(ctx, workerConfig(cfg, log)); err != nil {
			log.Warn("Deploy failed.", "cache", cfg.Worker.CacheName, "error", err)
			return
		}
		log.Info("Deployed.", "cache", cfg.Worker.CacheName, "elapsed", time.Since(startedAt).Round(time.Millisecond))
	}
	deploy(cur)

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-changes:
			if next.Server.Listen != cur.Server.Listen ||
				next.Server.AdminListen != cur.Server.AdminListen ||
				next.Storage != cur.Storage {
				log.Warn("Listener and storage changes take effect after restart.")
			}
			if reflect.DeepEqual(next.Worker, cur.Worker) && next.Server.Origin == cur.Server.Origin {
				continue
			}
			cur = next
			deploy(cur)
		}
	}
}
