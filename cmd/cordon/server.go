package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cordonproject/cordon/pkg/api"
	"github.com/cordonproject/cordon/pkg/auth"
	"github.com/cordonproject/cordon/pkg/config"
	"github.com/cordonproject/cordon/pkg/deploy"
	"github.com/cordonproject/cordon/pkg/events"
	"github.com/cordonproject/cordon/pkg/log"
	"github.com/cordonproject/cordon/pkg/metrics"
	"github.com/cordonproject/cordon/pkg/monitor"
	"github.com/cordonproject/cordon/pkg/placement"
	"github.com/cordonproject/cordon/pkg/ports"
	"github.com/cordonproject/cordon/pkg/proxy"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/workqueue"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return runServer(cfg)
	},
}

func runServer(cfg *config.Config) error {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("server")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	var syncer proxy.Syncer = proxy.NopSyncer{}
	if cfg.ProxySyncURL != "" {
		syncer = proxy.NewHTTPSyncer(store, cfg.ProxySyncURL)
	}

	planner := placement.NewEngine(store)
	deployer := deploy.NewReconciler(store)
	allocator := ports.NewAllocator(store)

	queue := workqueue.NewQueue(store)
	workqueue.NewHandlers(store, broker, deployer, syncer).Register(queue)

	recovery := monitor.NewRecovery(store, planner, deployer, broker)
	mon := monitor.NewMonitor(store, recovery, broker,
		monitor.WithInterval(cfg.MonitorInterval),
		monitor.WithStaleAfter(cfg.StaleAfter),
		monitor.WithExcludedHost(cfg.ExcludeHostID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go mon.Run(ctx)
	go metrics.NewCollector(store, cfg.MetricsInterval).Run(ctx)

	server := api.NewServer(api.Deps{
		Store:     store,
		Queue:     queue,
		Auth:      auth.NewAuthenticator(store),
		Tokens:    auth.NewTokenManager(store),
		Planner:   planner,
		Deployer:  deployer,
		Allocator: allocator,
		Monitor:   mon,
		Broker:    broker,
		TokenTTL:  cfg.JoinTokenTTL,
	})

	logger.Info().Str("data_dir", cfg.DataDir).Msg("Control plane starting")
	return server.Serve(ctx, cfg.ListenAddr)
}
