// Command coordinator runs the EdgeMesh coordinator service: node
// registry, job/task store, scheduler, lease protocol, liveness monitor,
// and HTTP boundary, wired together and served until interrupted.
// Grounded on the teacher's cmd/node/main.go cobra root command plus
// graceful-shutdown pattern.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgemesh/coordinator/internal/api"
	"github.com/edgemesh/coordinator/internal/config"
	"github.com/edgemesh/coordinator/internal/domain"
	"github.com/edgemesh/coordinator/internal/eventbus"
	"github.com/edgemesh/coordinator/internal/lifecycle"
	"github.com/edgemesh/coordinator/internal/liveness"
	"github.com/edgemesh/coordinator/internal/logging"
	"github.com/edgemesh/coordinator/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "EdgeMesh coordinator: node registry, scheduler, and task lease protocol",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (optional; env vars take precedence)")
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the coordinator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(cfg.LogLevel)
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("coordinator: starting")

	st, err := store.Open(store.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	nodeBus := eventbus.New[domain.NodeEvent]()
	jobBus := eventbus.New[domain.JobEvent]()
	engine := lifecycle.New(st, nodeBus, jobBus)

	monitor := liveness.New(engine, cfg.NodeStaleSeconds, cfg.LivenessCheckInterval(), cfg.TaskRecoveryInterval())
	go monitor.Run(ctx)

	registry := prometheus.NewRegistry()
	server := api.NewServer(engine, cfg, registry)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.Handler(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("coordinator: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("coordinator: shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("coordinator: http shutdown error")
	}

	log.Info().Msg("coordinator: stopped")
	return nil
}
