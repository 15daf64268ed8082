package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"colletta/internal/amqp"
	"colletta/internal/backend"
	"colletta/internal/cli"
	"colletta/internal/core"
	apphttp "colletta/internal/http"
	"colletta/internal/ledger"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	cfg := cli.LoadAndValidateConfig(logger)

	// Choose data backend from configuration
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	if err := backendCfg.Validate(); err != nil {
		logger.Error("Backend configuration validation failed", "error", err)
		os.Exit(1)
	}

	factory := backend.NewFactory(logger)
	result, err := factory.CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", "error", err, "backend", backendCfg.Type.String())
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", "error", err)
			}
		}()
	}

	// Initialize AMQP client for events and transfer dispatch (optional).
	// Without it settlements stay pending until the sweep re-dispatches.
	var (
		events    ledger.EventPublisher
		transfers ledger.TransferDispatcher
	)
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPTransferQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without messaging", "error", err)
		} else {
			defer amqpClient.Close()
			events = amqpClient
			transfers = amqpClient
			logger.Info("AMQP client initialized",
				"exchange", cfg.AMQPExchange,
				"event_queue", cfg.AMQPEventQueue,
				"transfer_queue", cfg.AMQPTransferQueue)
		}
	} else {
		logger.Info("AMQP disabled - events and transfer dispatch are skipped")
	}

	engine := ledger.NewEngine(ledger.Config{
		Store:     result.Store,
		Events:    events,
		Transfers: transfers,
		Admin:     core.Identity(cfg.AdminIdentity),
	})

	srv := apphttp.NewServer(":"+cfg.Port, engine)

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting colletta server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
