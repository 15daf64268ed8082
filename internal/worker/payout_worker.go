package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"colletta/internal/amqp"
	"colletta/internal/core"
	"colletta/internal/log"
	"colletta/internal/payment"
	"colletta/internal/storage"
)

// PayoutWorker executes transfer instructions delivered over AMQP. It
// claims each instruction in SQLite before touching the payment rail so
// a redelivered message can never move money twice.
type PayoutWorker struct {
	storage    *storage.SQLiteRepository
	gateway    payment.Gateway
	structured *log.StructuredLogger
	batchSize  int
	maxRetries int
}

func NewPayoutWorker(storage *storage.SQLiteRepository, gateway payment.Gateway, batchSize, maxRetries int) *PayoutWorker {
	return &PayoutWorker{
		storage:    storage,
		gateway:    gateway,
		structured: log.NewStructuredLogger(log.New(log.Config{Component: log.ComponentWorker})),
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}
}

// HandleTransferMessage processes a single transfer instruction from AMQP
func (w *PayoutWorker) HandleTransferMessage(ctx context.Context, msg *amqp.TransferMessage) error {
	slog.InfoContext(ctx, "Processing transfer message",
		"transfer_id", msg.ID,
		"campaign_id", msg.CampaignID,
		"kind", msg.Kind)

	if w.gateway == nil {
		slog.WarnContext(ctx, "No payment gateway configured, leaving transfer pending",
			"transfer_id", msg.ID)
		return nil
	}

	claimed, err := w.storage.ClaimTransfer(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("claim transfer: %w", err)
	}
	if !claimed {
		transfer, err := w.storage.GetTransfer(ctx, msg.ID)
		if errors.Is(err, core.ErrNotFound) {
			slog.WarnContext(ctx, "Transfer message references unknown instruction",
				"transfer_id", msg.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("get transfer: %w", err)
		}
		slog.InfoContext(ctx, "Transfer already claimed, skipping",
			"transfer_id", msg.ID,
			"status", transfer.Status)
		return nil
	}

	transfer, err := w.storage.GetTransfer(ctx, msg.ID)
	if err != nil {
		if relErr := w.storage.ReleaseTransfer(ctx, msg.ID, err.Error()); relErr != nil {
			slog.ErrorContext(ctx, "Failed to release transfer", "transfer_id", msg.ID, "error", relErr)
		}
		return fmt.Errorf("get transfer: %w", err)
	}

	return w.executeClaimed(ctx, transfer)
}

// executeClaimed runs one claimed instruction through the gateway and
// records the outcome. The caller must have claimed the row already.
func (w *PayoutWorker) executeClaimed(ctx context.Context, transfer core.Transfer) error {
	if transfer.Attempts > int64(w.maxRetries) {
		slog.WarnContext(ctx, "Transfer exceeded retry budget, marking failed",
			"transfer_id", transfer.ID,
			"attempts", transfer.Attempts)
		if err := w.storage.MarkTransferFailed(ctx, transfer.ID, "retry budget exhausted"); err != nil {
			slog.ErrorContext(ctx, "Failed to mark transfer failed", "transfer_id", transfer.ID, "error", err)
		}
		return nil
	}

	if err := w.gateway.Execute(ctx, transfer); err != nil {
		if relErr := w.storage.ReleaseTransfer(ctx, transfer.ID, err.Error()); relErr != nil {
			slog.ErrorContext(ctx, "Failed to release transfer", "transfer_id", transfer.ID, "error", relErr)
		}
		return fmt.Errorf("execute transfer: %w", err)
	}

	if err := w.storage.MarkTransferSent(ctx, transfer.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark transfer sent", "transfer_id", transfer.ID, "error", err)
		// Don't return an error here - the money already moved
	}

	w.structured.LogTransferExecuted(ctx, transfer.ID, string(transfer.Kind), string(transfer.Beneficiary), transfer.Amount.Cents)

	return nil
}

// ProcessPendingTransfers executes pending instructions straight from
// the queue, bypassing the message rail. Safe to run at any time: every
// instruction is claimed before execution.
func (w *PayoutWorker) ProcessPendingTransfers(ctx context.Context, limit int64) error {
	if w.gateway == nil {
		slog.InfoContext(ctx, "No payment gateway configured, skipping payout check")
		return nil
	}

	pending, err := w.storage.ListPendingTransfers(ctx, time.Now(), limit)
	if err != nil {
		return fmt.Errorf("list pending transfers: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Found pending transfers, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, t := range pending {
		claimed, err := w.storage.ClaimTransfer(ctx, t.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to claim pending transfer",
				"transfer_id", t.ID, "error", err)
			errorCount++
			continue
		}
		if !claimed {
			continue
		}

		transfer, err := w.storage.GetTransfer(ctx, t.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load claimed transfer",
				"transfer_id", t.ID, "error", err)
			if relErr := w.storage.ReleaseTransfer(ctx, t.ID, err.Error()); relErr != nil {
				slog.ErrorContext(ctx, "Failed to release transfer", "transfer_id", t.ID, "error", relErr)
			}
			errorCount++
			continue
		}

		if err := w.executeClaimed(ctx, transfer); err != nil {
			slog.ErrorContext(ctx, "Failed to execute pending transfer",
				"transfer_id", t.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Payout check completed",
		"total", len(pending),
		"executed", successCount,
		"errors", errorCount)

	return nil
}

// StartupPayoutCheck executes any instructions still pending at worker startup
// This is useful to recover from missed AMQP messages or worker downtime
func (w *PayoutWorker) StartupPayoutCheck(ctx context.Context) error {
	// Use a larger batch for the startup check
	return w.ProcessPendingTransfers(ctx, int64(w.batchSize)*5)
}
