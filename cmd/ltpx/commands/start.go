package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/config"
	"github.com/clusterlockd/ltd/pkg/ltpx"
	"github.com/clusterlockd/ltd/pkg/metrics"
	"github.com/clusterlockd/ltd/pkg/reactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lock table proxy",
	Long: `Start an LTPX process: a persistent outbound connection to every
shard's master lock table, and a local listener that demultiplexes
client requests across them by key hash.

Examples:
  # Start with the default config location
  ltpx start

  # Start with a custom config file
  ltpx start --config /etc/ltd/config.yaml`,
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
	if len(cfg.Proxy.Upstreams) == 0 {
		return fmt.Errorf("proxy.upstreams is empty; configure at least one master lock table address")
	}

	logger.Info("starting ltpx", "shard_count", len(cfg.Proxy.Upstreams), "client_addr", cfg.Proxy.ClientAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	var promReg *prometheus.Registry
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		m = metrics.New(promReg)
	} else {
		m = metrics.New(nil)
	}

	table := ltpx.NewShardTable(cfg.Proxy.Upstreams)
	clientRegistry := reactor.NewRegistry()
	proxy := ltpx.NewProxy(fmt.Sprintf("ltpx-%s", cfg.Cluster.NodeName), table, clientRegistry, m)

	go proxy.Run(ctx)

	server := &reactor.Server{
		Addr: cfg.Proxy.ClientAddr, Registry: clientRegistry, Handler: proxy.ClientHandler(),
		NewConnTimeout: cfg.Listen.NewConnTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe(ctx) }()

	if cfg.Metrics.Enabled {
		// LTPX shares ltd's config block but runs as a separate process,
		// often on the same host; it exposes metrics one port above
		// metrics.port to avoid colliding with a co-located ltd.
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port+1), Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port+1)
	}

	logger.Info("ltpx listening", "client_addr", cfg.Proxy.ClientAddr)

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
