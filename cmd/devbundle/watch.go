package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aretw0/devbundle"
	"github.com/aretw0/devbundle/pkg/adapters/fs"
	bridge "github.com/aretw0/devbundle/pkg/adapters/lifecycle"
	"github.com/aretw0/devbundle/pkg/core"
)

var metricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch [url]",
	Short: "Refetch the bundle whenever a source file changes",
	Long: `Watch fetches the bundle once, then watches the source tree and refetches on
every debounced burst of changes. A change during a fetch supersedes it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		req, err := buildRequest(cfg, args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events := make(chan core.Event, 16)
		opts := []devbundle.Option{devbundle.WithEvents(events)}

		addr := metricsAddr
		if addr == "" {
			addr = cfg.MetricsAddr
		}
		if addr != "" {
			reg := prometheus.NewRegistry()
			opts = append(opts, devbundle.WithMetrics(reg))
			srv := serveMetrics(ctx, addr, reg)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		o, err := newOrchestrator(cfg, opts...)
		if err != nil {
			return err
		}

		source := bridge.NewSource(events)
		if err := source.Start(ctx); err != nil {
			return err
		}
		lifecycle.Go(ctx, func(ctx context.Context) error {
			for e := range source.Events() {
				slog.Debug("pipeline event", "event", e)
			}
			return nil
		})

		watcher := fs.NewWatcher(fs.WatcherConfig{
			Root:     cfg.Watch.Root,
			Patterns: cfg.Watch.Patterns,
			Ignore:   cfg.Watch.Ignore,
			Debounce: cfg.Watch.Debounce,
			Coalesce: true,
			Logger:   slog.Default(),
			ErrorHandler: func(err error) {
				slog.Warn("watcher error", "error", err)
			},
		})
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer func() {
			_ = watcher.Stop(context.Background())
		}()

		cb := devbundle.Callbacks{
			OnProgress: func(p core.Progress) {
				slog.Debug("progress", "status", p.Status)
			},
			OnSuccess: func(md core.Metadata) {
				slog.Info("bundle updated",
					"path", md.Path,
					"written", md.Written,
					"files_changed", md.FilesChanged,
					"additional", len(md.Additional))
			},
			OnFailure: func(err error) {
				slog.Error("fetch failed", "error", err)
			},
		}

		slog.Info("watching", "root", cfg.Watch.Root, "url", req.URL, "mode", req.Mode)
		o.Start(ctx, req, cb)

		for {
			select {
			case <-ctx.Done():
				o.Cancel()
				return nil
			case e, ok := <-watcher.Events():
				if !ok {
					o.Cancel()
					return nil
				}
				slog.Info("source changed", "path", e.ID, "type", e.Type)
				o.Start(ctx, req, cb)
			}
		}
	},
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
			return err
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		slog.Error("metrics server panic", "error", err)
	}))
	return srv
}

func init() {
	watchCmd.Flags().StringVar(&fetchMode, "mode", "", "Transport mode: plain, delta or auto")
	watchCmd.Flags().StringVarP(&fetchDest, "dest", "o", "", "Destination file (overrides config)")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(watchCmd)
}
