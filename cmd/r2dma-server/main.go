// Command r2dma-server exposes the Echo demonstration service over
// TCP and publishes RDMA device metrics, plus the standard process and
// Go runtime collectors, on an HTTP endpoint, wiring the same
// config/server/metrics composition the original exporter used.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rdma-go/r2dma/internal/config"
	"github.com/rdma-go/r2dma/internal/echo"
	"github.com/rdma-go/r2dma/internal/metrics"
	"github.com/rdma-go/r2dma/internal/netdev"
	"github.com/rdma-go/r2dma/internal/rdma"
	"github.com/rdma-go/r2dma/internal/rpc"
	"github.com/rdma-go/r2dma/internal/rpc/transport"
	"github.com/rdma-go/r2dma/internal/server"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting r2dma server",
		"listen_address", cfg.ListenAddress,
		"metrics_path", cfg.MetricsPath,
		"rpc_listen_address", rpcListenAddress(),
		"enable_roce_pfc_metrics", cfg.EnableRoCEPFCMetrics,
	)

	provider := rdma.NewSysfsProvider()
	if cfg.SysfsRoot != "" {
		provider.SetSysfsRoot(cfg.SysfsRoot)
	}
	if len(cfg.ExcludeDevices) > 0 {
		provider.SetExcludeDevices(cfg.ExcludeDevices)
		logger.Info("excluding devices from monitoring", "devices", cfg.ExcludeDevices)
	}

	var collectorOpts []metrics.Option
	var ethtoolProvider *netdev.EthtoolStatsProvider
	if cfg.EnableRoCEPFCMetrics {
		ethtoolStatsProvider, err := netdev.NewEthtoolStatsProvider()
		if err != nil {
			logger.Warn("failed to initialize RoCE PFC stats provider; PFC metrics are disabled", "err", err)
		} else {
			ethtoolProvider = ethtoolStatsProvider
			collectorOpts = append(collectorOpts, metrics.WithNetDevStatsProvider(ethtoolProvider))
		}
	}

	rdmaCollector := metrics.New(provider, logger, collectorOpts...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		rdmaCollector,
	)

	srv := server.New(server.Options{
		ListenAddress: cfg.ListenAddress,
		MetricsPath:   cfg.MetricsPath,
		HealthPath:    cfg.HealthPath,
		ScrapeTimeout: cfg.ScrapeTimeout,
	}, registry, rdmaCollector, logger)

	dispatcher := rpc.NewDispatcher()
	dispatcher.RegisterService("Echo", echo.Service{})

	rpcListener, err := (&transport.TCP{}).Listen(rpcListenAddress())
	if err != nil {
		logger.Error("failed to start rpc listener", "err", err)
		os.Exit(1)
	}
	go serveRPC(rpcListener, dispatcher, logger)

	errCh := make(chan error, 1)
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case serveErr := <-errCh:
		logger.Error("metrics server exited with error", "err", serveErr)
		os.Exit(1)
	}

	if err := rpcListener.Close(); err != nil {
		logger.Warn("rpc listener close failed", "err", err)
	}
	if ethtoolProvider != nil {
		if err := ethtoolProvider.Close(); err != nil {
			logger.Warn("failed to close RoCE PFC stats provider", "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func serveRPC(ln transport.Listener, dispatcher *rpc.Dispatcher, logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("rpc accept failed", "err", err)
			return
		}
		peer := rpc.NewPeer(conn, dispatcher, logger)
		go func() {
			if err := peer.Serve(); err != nil {
				logger.Debug("rpc peer disconnected", "err", err)
			}
		}()
	}
}

func rpcListenAddress() string {
	if addr := os.Getenv("R2DMA_RPC_LISTEN_ADDRESS"); addr != "" {
		return addr
	}
	return ":7421"
}

func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
