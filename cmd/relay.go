package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Bluehatcoders/jam/internal/config"
	"github.com/Bluehatcoders/jam/internal/logging"
	"github.com/Bluehatcoders/jam/internal/relay"
	"github.com/Bluehatcoders/jam/internal/ui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var flagListen string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a signaling relay",
	Long: `Run the websocket relay peers use to find each other.

Serves the signaling endpoint at ` + relay.WSPath + ` (and /ws), /health and
Prometheus metrics at /metrics.

Examples:
  jam relay
  jam relay --listen :9000
  jam join --signal-url ws://localhost:8080/_/signal/ws lobby`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{RelayAddr: flagListen})
		if err != nil {
			return err
		}
		return runRelay(cmd.Context(), cfg.RelayAddr)
	},
}

func init() {
	relayCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "listen address (default "+config.DefaultRelayAddr+")")
}

func runRelay(ctx context.Context, addr string) error {
	log := logging.Component("relay")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hub := relay.NewHub(relay.NewMetrics(registry))

	srv := &http.Server{
		Addr:              addr,
		Handler:           relay.Routes(hub, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		ui.PrintInfof("Relay listening on %s", addr)
		log.Info("relay listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("relay shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("relay stopped", slog.Any("error", err))
		return err
	}
	return nil
}
