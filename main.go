package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/config"
	"github.com/spooky-finn/orderbook-reconciler/infrastructure/logger"
	promclient "github.com/spooky-finn/orderbook-reconciler/infrastructure/prometheus"
	"github.com/spooky-finn/orderbook-reconciler/provider"
	"github.com/spooky-finn/orderbook-reconciler/reconciler"
	"github.com/spooky-finn/orderbook-reconciler/rest"
	"github.com/spooky-finn/orderbook-reconciler/rpc"
	"github.com/spooky-finn/orderbook-reconciler/usecase"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config, defaults to $BRIDGE_CONFIG")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}

	root := logger.New(cfg.Logging.Level, cfg.Logging.Pretty, config.DebugMode)
	if err := run(cfg, root); err != nil {
		root.Fatal().Err(err).Msg("bridge stopped")
	}
	root.Info().Msg("shutdown complete")
}

func run(cfg config.Config, root zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := promclient.NewMetrics()

	connManager, err := provider.NewFromConfig(cfg, logger.Component(root, "conn-manager"))
	if err != nil {
		return err
	}
	defer connManager.Close()

	if err := connManager.Init(ctx); err != nil {
		return err
	}

	snapshotUseCase := usecase.NewOrderBookSnapshotUseCase(connManager, cfg.OrderBook.MaxDepth,
		func(p string) []reconciler.Option {
			return []reconciler.Option{
				reconciler.WithObserver(metrics.Provider(p)),
				reconciler.WithSnapshotRetry(cfg.OrderBook.Snapshot.Attempts, cfg.OrderBook.Snapshot.BackoffMin, cfg.OrderBook.Snapshot.BackoffMax),
				reconciler.WithErrorBuffer(cfg.OrderBook.ErrorBuffer),
			}
		}, root)
	defer snapshotUseCase.Close()

	if err := snapshotUseCase.Preload(ctx, connManager.Providers(), cfg.OrderBook.Preload); err != nil {
		return err
	}

	validation := &rpc.ValidationServiceConfig{
		AvailableProviders: connManager.Providers(),
		MaxDepth:           cfg.OrderBook.MaxDepth,
	}

	grpcServer := rpc.NewGRPCServer(
		rpc.NewServer(snapshotUseCase, validation, metrics.WatchSubscribers, root),
		logger.Component(root, "grpc"),
	)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           rest.NewRouter(snapshotUseCase, rpc.NewValidationService(validation), metrics.Handler(), root),
		ReadHeaderTimeout: 2 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		root.Info().Str("addr", cfg.Server.GRPCAddr).Msg("grpc server listening")
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		root.Info().Str("addr", cfg.Server.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		root.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// ends open watch streams so GracefulStop can return
		snapshotUseCase.Close()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
