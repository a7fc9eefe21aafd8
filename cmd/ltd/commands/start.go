package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/internal/telemetry"
	"github.com/clusterlockd/ltd/pkg/admin"
	"github.com/clusterlockd/ltd/pkg/config"
	"github.com/clusterlockd/ltd/pkg/locktable"
	"github.com/clusterlockd/ltd/pkg/membership"
	"github.com/clusterlockd/ltd/pkg/metrics"
	"github.com/clusterlockd/ltd/pkg/reactor"
	"github.com/clusterlockd/ltd/pkg/replication"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lock table node",
	Long: `Start one node of a clusterlockd lock table: its client/slave listeners,
its outbound connection to the Core membership collaborator, and its
admin/stats surface.

Examples:
  # Start with the default config location
  ltd start

  # Start with a custom config file
  ltd start --config /etc/ltd/config.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("starting ltd", "cluster", cfg.Cluster.ClusterID, "node", cfg.Cluster.NodeName,
		"config_source", getConfigSource(GetConfigFile()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopProfiling, err := telemetry.InitProfiling(cfg.Profiling, cfg.Cluster.ClusterID, cfg.Cluster.NodeName)
	if err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	defer func() {
		if err := stopProfiling(); err != nil {
			logger.Warn("profiler stop failed", "err", err)
		}
	}()
	if cfg.Profiling.Enabled {
		logger.Info("profiling enabled", "endpoint", cfg.Profiling.Endpoint, "types", cfg.Profiling.ProfileTypes)
	}

	var promReg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		m = metrics.New(promReg)
	} else {
		m = metrics.New(nil)
	}
	metrics.SetGlobal(m)

	registry := reactor.NewRegistry()
	table := locktable.New(locktable.Config{
		PreallocLocks: cfg.Lock.PreallocLocks,
		HistoryDepth:  cfg.Lock.HistoryDepth,
	}, nil)

	node := replication.NewNode(cfg.Cluster.ClusterID, cfg.Cluster.NodeName, table, registry)
	sink := replication.NewSink(node)
	table.SetSink(sink)

	clientHandler := replication.NewHandler(node, sink)

	clientServer := &reactor.Server{
		Addr: cfg.Listen.ClientAddr, Registry: registry, Handler: clientHandler,
		NewConnTimeout: cfg.Listen.NewConnTimeout,
	}
	slaveServer := &reactor.Server{
		Addr: cfg.Listen.SlaveAddr, Registry: registry, Handler: clientHandler,
		NewConnTimeout: cfg.Listen.NewConnTimeout,
	}

	adminHandler := admin.New(table, node)
	adminRegistry := reactor.NewRegistry()
	adminServer := &reactor.Server{
		Addr: cfg.Listen.AdminAddr, Registry: adminRegistry, Handler: adminHandler.Serve(),
		NewConnTimeout: cfg.Listen.NewConnTimeout,
	}

	coreClient := membership.NewClient(cfg.Listen.CoreAddr, cfg.Cluster.NodeName, node, reactor.NewRegistry())

	errCh := make(chan error, 3)
	go func() { errCh <- clientServer.ListenAndServe(ctx) }()
	go func() { errCh <- slaveServer.ListenAndServe(ctx) }()
	go func() { errCh <- adminServer.ListenAndServe(ctx) }()
	go coreClient.Run(ctx)

	if cfg.Metrics.Enabled {
		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: r}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	logger.Info("ltd listening",
		"client_addr", cfg.Listen.ClientAddr, "slave_addr", cfg.Listen.SlaveAddr,
		"admin_addr", cfg.Listen.AdminAddr, "core_addr", cfg.Listen.CoreAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, stopping")
		cancel()
	case err := <-errCh:
		cancel()
		if err != nil {
			logger.Error("listener failed", "err", err)
			return err
		}
	}
	return nil
}
