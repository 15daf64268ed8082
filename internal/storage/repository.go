package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"colletta/internal/core"
	"colletta/internal/ledger"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ ledger.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// The server, the payout worker and the sweep worker all open this
	// file, so the connection needs WAL and a busy timeout. Times are
	// stored in the sqlite text format and always bound in UTC, which
	// keeps timestamp comparisons in SQL valid.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateCampaign implements ledger.Store. The id comes from the
// AUTOINCREMENT column, so ids are monotonic and never reused.
func (r *SQLiteRepository) CreateCampaign(ctx context.Context, c core.Campaign) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (creator, title, description, goal_cents, deadline, raised_cents, status, withdrawn, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.Creator), c.Title, c.Description, c.Goal.Cents, c.Deadline.UTC(),
		c.Raised.Cents, string(c.Status), c.Withdrawn, c.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert campaign: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("campaign insert id: %w", err)
	}

	slog.InfoContext(ctx, "Campaign saved to SQLite",
		"id", id,
		"creator", c.Creator,
		"goal_cents", c.Goal.Cents,
		"deadline", c.Deadline)

	return id, nil
}

// GetCampaign implements ledger.Store. The campaign row and its
// contribution entries are read in one transaction so the raised total
// and the entries always line up.
func (r *SQLiteRepository) GetCampaign(ctx context.Context, id int64) (core.Campaign, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Campaign{}, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	var (
		c       core.Campaign
		creator string
		status  string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, creator, title, description, goal_cents, deadline, raised_cents, status, withdrawn, created_at
		FROM campaigns WHERE id = ?`, id).
		Scan(&c.ID, &creator, &c.Title, &c.Description, &c.Goal.Cents, &c.Deadline,
			&c.Raised.Cents, &status, &c.Withdrawn, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Campaign{}, core.ErrNotFound
	}
	if err != nil {
		return core.Campaign{}, fmt.Errorf("select campaign %d: %w", id, err)
	}
	c.Creator = core.Identity(creator)
	c.Status = core.CampaignStatus(status)
	c.Contributions = make(map[core.Identity]core.Contribution)

	rows, err := tx.QueryContext(ctx, `
		SELECT contributor, outstanding_cents, total_cents, state, position
		FROM contributions WHERE campaign_id = ? ORDER BY position`, id)
	if err != nil {
		return core.Campaign{}, fmt.Errorf("select contributions for campaign %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry       core.Contribution
			contributor string
			state       string
		)
		if err := rows.Scan(&contributor, &entry.Outstanding.Cents, &entry.Total.Cents, &state, &entry.Position); err != nil {
			return core.Campaign{}, fmt.Errorf("scan contribution: %w", err)
		}
		entry.Contributor = core.Identity(contributor)
		entry.State = core.ContributionState(state)
		c.Contributions[entry.Contributor] = entry
		c.Order = append(c.Order, entry.Contributor)
	}
	if err := rows.Err(); err != nil {
		return core.Campaign{}, fmt.Errorf("iterate contributions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Campaign{}, fmt.Errorf("commit read: %w", err)
	}
	return c, nil
}

// UpdateCampaign implements ledger.Store. The campaign row, every
// contribution entry and the optional transfer instruction commit in a
// single transaction; accounting never lands without its instruction.
func (r *SQLiteRepository) UpdateCampaign(ctx context.Context, c core.Campaign, transfer *core.Transfer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET raised_cents = ?, status = ?, withdrawn = ?
		WHERE id = ?`,
		c.Raised.Cents, string(c.Status), c.Withdrawn, c.ID)
	if err != nil {
		return fmt.Errorf("update campaign %d: %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update campaign %d: %w", c.ID, err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}

	for _, contributor := range c.Order {
		entry := c.Contributions[contributor]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contributions (campaign_id, contributor, outstanding_cents, total_cents, state, position)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(campaign_id, contributor) DO UPDATE SET
				outstanding_cents = excluded.outstanding_cents,
				total_cents = excluded.total_cents,
				state = excluded.state`,
			c.ID, string(contributor), entry.Outstanding.Cents, entry.Total.Cents,
			string(entry.State), entry.Position)
		if err != nil {
			return fmt.Errorf("upsert contribution %s: %w", contributor, err)
		}
	}

	if transfer != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfers (id, campaign_id, beneficiary, amount_cents, kind, status, attempts, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			transfer.ID, transfer.CampaignID, string(transfer.Beneficiary), transfer.Amount.Cents,
			string(transfer.Kind), string(transfer.Status), transfer.Attempts, transfer.LastError,
			transfer.CreatedAt.UTC(), transfer.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert transfer %s: %w", transfer.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// CampaignIDsByCreator implements ledger.Store.
func (r *SQLiteRepository) CampaignIDsByCreator(ctx context.Context, creator core.Identity) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM campaigns WHERE creator = ? ORDER BY id`, string(creator))
	if err != nil {
		return nil, fmt.Errorf("select campaigns by creator: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign ids: %w", err)
	}
	return ids, nil
}

// CountCampaigns implements ledger.Store.
func (r *SQLiteRepository) CountCampaigns(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count campaigns: %w", err)
	}
	return count, nil
}

// GetTransfer retrieves a single transfer instruction by id.
func (r *SQLiteRepository) GetTransfer(ctx context.Context, id string) (core.Transfer, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, beneficiary, amount_cents, kind, status, attempts, last_error, created_at, updated_at, reconciled_at
		FROM transfers WHERE id = ?`, id)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transfer{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transfer{}, fmt.Errorf("get transfer %s: %w", id, err)
	}
	return t, nil
}

// ClaimTransfer flips one instruction from pending to processing and
// counts the attempt. The conditional update is the double-execution
// guard: whichever of the payout worker and the sweep claims first
// wins, the other sees no row flipped.
func (r *SQLiteRepository) ClaimTransfer(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(core.TransferProcessing), time.Now().UTC(), id, string(core.TransferPending))
	if err != nil {
		return false, fmt.Errorf("claim transfer %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim transfer %s: %w", id, err)
	}
	return affected > 0, nil
}

// MarkTransferSent marks a claimed instruction as executed.
func (r *SQLiteRepository) MarkTransferSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		string(core.TransferSent), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark transfer sent: %w", err)
	}

	slog.InfoContext(ctx, "Transfer marked as sent", "id", id)
	return nil
}

// ReleaseTransfer puts a claimed instruction back in the pending queue
// after a failed execution attempt, recording the error.
func (r *SQLiteRepository) ReleaseTransfer(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(core.TransferPending), lastError, time.Now().UTC(), id, string(core.TransferProcessing))
	if err != nil {
		return fmt.Errorf("release transfer %s: %w", id, err)
	}

	slog.WarnContext(ctx, "Transfer released for retry", "id", id, "error", lastError)
	return nil
}

// MarkTransferFailed marks an instruction as permanently failed.
func (r *SQLiteRepository) MarkTransferFailed(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(core.TransferFailed), lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark transfer failed: %w", err)
	}

	slog.ErrorContext(ctx, "Transfer marked as failed", "id", id, "error", lastError)
	return nil
}

// ListPendingTransfers returns pending instructions not touched since
// olderThan, oldest first. The sweep uses the cutoff to leave freshly
// dispatched instructions to the payout worker.
func (r *SQLiteRepository) ListPendingTransfers(ctx context.Context, olderThan time.Time, limit int64) ([]core.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, beneficiary, amount_cents, kind, status, attempts, last_error, created_at, updated_at, reconciled_at
		FROM transfers WHERE status = ? AND updated_at <= ?
		ORDER BY created_at LIMIT ?`,
		string(core.TransferPending), olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending transfers: %w", err)
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// ResetStaleProcessing returns instructions stuck in processing since
// before the cutoff to the pending queue. Claims go stale when a worker
// dies between claiming and marking.
func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(core.TransferPending), time.Now().UTC(), string(core.TransferProcessing), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	if affected > 0 {
		slog.WarnContext(ctx, "Reset stale processing transfers", "count", affected)
	}
	return affected, nil
}

// RetryFailedTransfers resets all permanently failed instructions for a
// fresh round of attempts.
func (r *SQLiteRepository) RetryFailedTransfers(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, attempts = 0, updated_at = ?
		WHERE status = ?`,
		string(core.TransferPending), time.Now().UTC(), string(core.TransferFailed))
	if err != nil {
		return 0, fmt.Errorf("retry failed transfers: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retry failed transfers: %w", err)
	}
	return affected, nil
}

// ListUnreconciledTransfers returns sent instructions that have not yet
// been exported to the bookkeeping sheet.
func (r *SQLiteRepository) ListUnreconciledTransfers(ctx context.Context, limit int64) ([]core.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, beneficiary, amount_cents, kind, status, attempts, last_error, created_at, updated_at, reconciled_at
		FROM transfers WHERE status = ? AND reconciled_at IS NULL
		ORDER BY updated_at LIMIT ?`,
		string(core.TransferSent), limit)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled transfers: %w", err)
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// MarkTransferReconciled records that a sent instruction was exported.
func (r *SQLiteRepository) MarkTransferReconciled(ctx context.Context, id string, when time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET reconciled_at = ? WHERE id = ? AND status = ?`,
		when.UTC(), id, string(core.TransferSent))
	if err != nil {
		return fmt.Errorf("mark transfer reconciled: %w", err)
	}
	return nil
}

// CleanupReconciledTransfers deletes sent instructions reconciled
// before the cutoff.
func (r *SQLiteRepository) CleanupReconciledTransfers(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM transfers WHERE status = ? AND reconciled_at IS NOT NULL AND reconciled_at < ?`,
		string(core.TransferSent), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup reconciled transfers: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup reconciled transfers: %w", err)
	}
	return affected, nil
}

// TransferQueueStats holds instruction counts by status.
type TransferQueueStats struct {
	Pending    int64
	Processing int64
	Sent       int64
	Failed     int64
}

// GetTransferQueueStats returns current queue statistics.
func (r *SQLiteRepository) GetTransferQueueStats(ctx context.Context) (*TransferQueueStats, error) {
	var stats TransferQueueStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM transfers`).
		Scan(&stats.Pending, &stats.Processing, &stats.Sent, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get transfer queue stats: %w", err)
	}
	return &stats, nil
}

// EndedCampaign is the minimal row the deadline notifier needs to
// announce a campaign whose active window closed.
type EndedCampaign struct {
	ID          int64
	Creator     core.Identity
	Title       string
	GoalCents   int64
	RaisedCents int64
	Deadline    time.Time
}

// ListEndedUnnotified returns open campaigns whose deadline passed and
// which have not yet been announced, oldest deadline first.
func (r *SQLiteRepository) ListEndedUnnotified(ctx context.Context, now time.Time, limit int64) ([]EndedCampaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, creator, title, goal_cents, raised_cents, deadline
		FROM campaigns WHERE status = ? AND deadline <= ? AND closed_notice_at IS NULL
		ORDER BY deadline LIMIT ?`,
		string(core.StatusOpen), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list ended campaigns: %w", err)
	}
	defer rows.Close()

	out := make([]EndedCampaign, 0)
	for rows.Next() {
		var (
			ec      EndedCampaign
			creator string
		)
		if err := rows.Scan(&ec.ID, &creator, &ec.Title, &ec.GoalCents, &ec.RaisedCents, &ec.Deadline); err != nil {
			return nil, fmt.Errorf("scan ended campaign: %w", err)
		}
		ec.Creator = core.Identity(creator)
		out = append(out, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ended campaigns: %w", err)
	}
	return out, nil
}

// MarkDeadlineNoticeSent records that a campaign's end was announced.
func (r *SQLiteRepository) MarkDeadlineNoticeSent(ctx context.Context, id int64, when time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET closed_notice_at = ? WHERE id = ?`,
		when.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark deadline notice sent: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (core.Transfer, error) {
	var (
		t            core.Transfer
		beneficiary  string
		kind         string
		status       string
		reconciledAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.CampaignID, &beneficiary, &t.Amount.Cents, &kind, &status,
		&t.Attempts, &t.LastError, &t.CreatedAt, &t.UpdatedAt, &reconciledAt)
	if err != nil {
		return core.Transfer{}, err
	}
	t.Beneficiary = core.Identity(beneficiary)
	t.Kind = core.TransferKind(kind)
	t.Status = core.TransferStatus(status)
	if reconciledAt.Valid {
		t.ReconciledAt = reconciledAt.Time
	}
	return t, nil
}

func collectTransfers(rows *sql.Rows) ([]core.Transfer, error) {
	out := make([]core.Transfer, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}
