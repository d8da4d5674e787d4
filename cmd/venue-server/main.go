package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/bossim/venue/internal/chaos"
	"github.com/bossim/venue/internal/config"
	"github.com/bossim/venue/internal/dropcopy"
	"github.com/bossim/venue/internal/journal"
	"github.com/bossim/venue/internal/logging"
	"github.com/bossim/venue/internal/observability"
	"github.com/bossim/venue/internal/server"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig("venue-server")

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting venue-server",
		zap.Int("venue_port", cfg.VenuePort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("instruments", len(cfg.Instruments)),
		zap.Duration("tick_interval", cfg.TickInterval),
	)

	// Create venue server
	srv := server.New(cfg, logger)

	// Attach chaos injection if enabled
	chaosCfg := chaos.LoadConfig()
	if chaosCfg.Enabled {
		logger.Warn("chaos injection enabled",
			zap.String("profile", chaosCfg.Profile),
			zap.String("target_msg_type", chaosCfg.TargetMsgType),
		)
		srv.SetChaos(chaos.New(chaosCfg, logger))
	}

	// Create health checker
	healthChecker := observability.NewHealthChecker(logger)

	// Open execution journal if configured
	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			logger.Fatal("failed to open execution journal", zap.Error(err))
		}
		defer jnl.Close()
		srv.Orders().AddListener(jnl)
		logger.Info("execution journal opened", zap.String("path", cfg.JournalPath))
	}

	// Create drop-copy producer if configured
	var producer *dropcopy.Producer
	if cfg.DropCopyEnabled {
		producer, err = dropcopy.NewProducer(cfg.BrokerList(), cfg.DropCopyTopic, logger)
		if err != nil {
			logger.Fatal("failed to create drop-copy producer", zap.Error(err))
		}
		defer producer.Close()
		srv.Orders().AddListener(producer)
		healthChecker.SetDropCopyReady(true)
	}

	// Create gRPC server with the health service
	grpcServer := grpc.NewServer()
	healthChecker.RegisterGRPC(grpcServer)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	// Start HTTP server (healthz, metrics)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr(), srv.Metrics().Handler()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Start the venue
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start venue", zap.Error(err))
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")

	srv.Stop()
	if producer != nil {
		producer.Close()
	}
	if jnl != nil {
		jnl.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("venue-server stopped")
}
