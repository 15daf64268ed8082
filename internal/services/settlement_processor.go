package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"colletta/internal/ledger"
	"colletta/internal/sheets"
	"colletta/internal/storage"
)

// SettlementProcessorConfig holds configuration for the settlement processor
type SettlementProcessorConfig struct {
	// PollInterval is how often to sweep the transfer queue (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of transfers to handle per sweep (default: 10)
	BatchSize int

	// MaxRetries is the maximum delivery attempts before a transfer is parked as failed (default: 3)
	MaxRetries int

	// PendingGrace is how long a pending transfer may wait for the worker
	// before the sweep re-dispatches it (default: 30s)
	PendingGrace time.Duration

	// StaleClaimAge is how long a processing claim may be held before it is
	// assumed crashed and released (default: 5m)
	StaleClaimAge time.Duration

	// CleanupInterval is how often to clean up reconciled transfers (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old reconciled transfers must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

// DefaultSettlementProcessorConfig returns sensible defaults
func DefaultSettlementProcessorConfig() SettlementProcessorConfig {
	return SettlementProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		PendingGrace:    30 * time.Second,
		StaleClaimAge:   5 * time.Minute,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// SettlementProcessor sweeps the SQLite transfer queue. It re-dispatches
// instructions whose AMQP message was lost, releases claims left behind
// by crashed workers, exports executed transfers to the reconciliation
// sheet, and prunes reconciled rows. Duplicate dispatches are harmless:
// the worker claims each instruction before executing it.
type SettlementProcessor struct {
	storage    *storage.SQLiteRepository
	dispatcher ledger.TransferDispatcher
	writer     sheets.SettlementWriter
	config     SettlementProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSettlementProcessor creates a new settlement processor
func NewSettlementProcessor(
	storage *storage.SQLiteRepository,
	dispatcher ledger.TransferDispatcher,
	writer sheets.SettlementWriter,
	config SettlementProcessorConfig,
) *SettlementProcessor {
	return &SettlementProcessor{
		storage:    storage,
		dispatcher: dispatcher,
		writer:     writer,
		config:     config,
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *SettlementProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("settlement processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Release any claims left behind by previous crashes
	if _, err := p.storage.ResetStaleProcessing(ctx, time.Now().Add(-p.config.StaleClaimAge)); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale transfer claims", "error", err)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Settlement processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SettlementProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Signal stop
	close(p.stopCh)

	// Wait for completion or context cancellation
	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Settlement processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Settlement processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SettlementProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// runLoop is the main sweep loop
func (p *SettlementProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Sweep immediately on startup
	p.processBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupReconciled(ctx)
		}
	}
}

// processBatch runs a single sweep over the transfer queue
func (p *SettlementProcessor) processBatch(ctx context.Context) {
	p.recoverStaleClaims(ctx)
	p.redispatchPending(ctx)
	p.exportSettled(ctx)
}

// recoverStaleClaims releases processing claims older than StaleClaimAge
func (p *SettlementProcessor) recoverStaleClaims(ctx context.Context) {
	if _, err := p.storage.ResetStaleProcessing(ctx, time.Now().Add(-p.config.StaleClaimAge)); err != nil {
		slog.ErrorContext(ctx, "Failed to reset stale transfer claims", "error", err)
	}
}

// redispatchPending re-publishes instructions whose message never made
// it to the worker (AMQP outage at settlement time, lost delivery).
func (p *SettlementProcessor) redispatchPending(ctx context.Context) {
	olderThan := time.Now().Add(-p.config.PendingGrace)
	transfers, err := p.storage.ListPendingTransfers(ctx, olderThan, int64(p.config.BatchSize))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list pending transfers", "error", err)
		return
	}

	if len(transfers) == 0 {
		return
	}

	slog.DebugContext(ctx, "Re-dispatching stuck transfers", "count", len(transfers))

	for _, t := range transfers {
		// Check if we should stop
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if t.Attempts > int64(p.config.MaxRetries) {
			// The worker parks these itself on claim; this is a backstop
			// for rows released outside the normal delivery path.
			if err := p.storage.MarkTransferFailed(ctx, t.ID, "retry budget exhausted"); err != nil {
				slog.ErrorContext(ctx, "Failed to mark transfer failed",
					"transfer_id", t.ID, "error", err)
				continue
			}
			slog.ErrorContext(ctx, "Transfer failed permanently after max retries",
				"transfer_id", t.ID,
				"attempts", t.Attempts)
			continue
		}

		if p.dispatcher == nil {
			slog.WarnContext(ctx, "No dispatcher configured, leaving transfers pending",
				"transfer_id", t.ID)
			return
		}

		if err := p.dispatcher.DispatchTransfer(ctx, t); err != nil {
			slog.ErrorContext(ctx, "Failed to re-dispatch transfer",
				"transfer_id", t.ID, "error", err)
			continue
		}
	}
}

// exportSettled appends executed transfers to the reconciliation sheet
// and stamps them reconciled.
func (p *SettlementProcessor) exportSettled(ctx context.Context) {
	if p.writer == nil {
		return
	}

	transfers, err := p.storage.ListUnreconciledTransfers(ctx, int64(p.config.BatchSize))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list unreconciled transfers", "error", err)
		return
	}

	for _, t := range transfers {
		// Check if we should stop
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		ref, err := p.writer.Append(ctx, t)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to export settlement",
				"transfer_id", t.ID, "error", err)
			continue
		}

		if err := p.storage.MarkTransferReconciled(ctx, t.ID, time.Now()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark transfer reconciled",
				"transfer_id", t.ID, "error", err)
			continue
		}

		slog.InfoContext(ctx, "Exported settlement to reconciliation sheet",
			"transfer_id", t.ID,
			"sheets_ref", ref)
	}
}

// cleanupReconciled removes reconciled transfers older than CleanupAge
func (p *SettlementProcessor) cleanupReconciled(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupAge)
	if _, err := p.storage.CleanupReconciledTransfers(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup reconciled transfers", "error", err)
	}
}

// Stats returns current transfer queue statistics
func (p *SettlementProcessor) Stats(ctx context.Context) (*storage.TransferQueueStats, error) {
	return p.storage.GetTransferQueueStats(ctx)
}

// RetryFailed resets all failed transfers for another delivery round
func (p *SettlementProcessor) RetryFailed(ctx context.Context) (int64, error) {
	return p.storage.RetryFailedTransfers(ctx)
}
