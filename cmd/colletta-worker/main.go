package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"colletta/internal/amqp"
	"colletta/internal/cli"
	"colletta/internal/payment/dev"
	"colletta/internal/worker"
)

// payoutCheckInterval is how often the worker re-scans the queue for
// instructions whose message never arrived.
const payoutCheckInterval = 5 * time.Minute

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting colletta-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	// The transfer queue lives in SQLite regardless of the API backend
	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	// Initialize AMQP client for consuming transfer instructions
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPTransferQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// The dev gateway records transfers instead of moving money. Swap in
	// a real rail implementation here once one exists.
	gateway := dev.New()

	payoutWorker := worker.NewPayoutWorker(sqliteRepo, gateway, cfg.SweepBatchSize, cfg.MaxRetries)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On startup, execute any instructions left pending during downtime
	if err := payoutWorker.StartupPayoutCheck(ctx); err != nil {
		logger.Error("Startup payout check failed", "error", err)
		// Don't exit - continue with normal operation
	}

	g, gctx := errgroup.WithContext(ctx)

	// Consume transfer instructions from the queue
	g.Go(func() error {
		err := amqpClient.ConsumeTransfers(gctx, func(msg *amqp.TransferMessage) error {
			return payoutWorker.HandleTransferMessage(gctx, msg)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Transfer consumption failed", "error", err)
			return err
		}
		return nil
	})

	// Periodically re-scan for instructions whose message was lost
	g.Go(func() error {
		ticker := time.NewTicker(payoutCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := payoutWorker.ProcessPendingTransfers(gctx, int64(cfg.SweepBatchSize)); err != nil {
					logger.Error("Periodic payout check failed", "error", err)
				}
			}
		}
	})

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-gctx.Done():
		logger.Info("Worker loop terminated")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Wait for the loops to drain, bounded by the shutdown timeout
	doneCh := make(chan error, 1)
	go func() { doneCh <- g.Wait() }()

	select {
	case err := <-doneCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Worker exited with error", "error", err)
		}
		logger.Info("Worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
