package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"colletta/internal/amqp"
	"colletta/internal/cli"
	"colletta/internal/ledger"
	"colletta/internal/services"
	"colletta/internal/sheets"
	gsheet "colletta/internal/sheets/google"
)

// deadlineCheckInterval is how often ended campaigns are scanned for
// their one-time closing notice.
const deadlineCheckInterval = time.Minute

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting sweep-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	// AMQP client for re-dispatching stuck transfers and publishing
	// deadline notices (optional)
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventQueue, cfg.AMQPTransferQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
		}
	} else {
		logger.Info("AMQP disabled - stuck transfers will not be re-dispatched")
	}

	// Google Sheets reconciliation export (optional)
	var writer sheets.SettlementWriter
	if cfg.GoogleSpreadsheetID != "" {
		sheetsClient, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		writer = sheetsClient
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - settlements will not be exported")
	}

	var dispatcher ledger.TransferDispatcher
	if amqpClient != nil {
		dispatcher = amqpClient
	}

	procCfg := services.DefaultSettlementProcessorConfig()
	procCfg.PollInterval = cfg.SweepInterval
	procCfg.BatchSize = cfg.SweepBatchSize
	procCfg.MaxRetries = cfg.MaxRetries

	processor := services.NewSettlementProcessor(sqliteRepo, dispatcher, writer, procCfg)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start settlement processor", "error", err)
		os.Exit(1)
	}

	// Deadline notices need the message rail; skip them when it is down
	if amqpClient != nil {
		notifier := services.NewDeadlineNotifier(sqliteRepo, amqpClient, cfg.SweepBatchSize)

		logger.Info("Running initial ended-campaign check...")
		if count, err := notifier.ProcessEndedCampaigns(ctx, time.Now()); err != nil {
			logger.Error("Initial ended-campaign check failed", "error", err)
		} else if count > 0 {
			logger.Info("Initial ended-campaign check complete", "notices_sent", count)
		}

		go func() {
			ticker := time.NewTicker(deadlineCheckInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if count, err := notifier.ProcessEndedCampaigns(ctx, now); err != nil {
						logger.Error("Ended-campaign check failed", "error", err)
					} else if count > 0 {
						logger.Info("Announced ended campaigns", "notices_sent", count)
					}
				}
			}
		}()
	} else {
		logger.Info("Skipping deadline notices - no AMQP client available")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down sweep-worker...")
	cancel()

	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Warn("Settlement processor stop timed out", "error", err)
	}

	logger.Info("Sweep-worker shutdown complete")
}
