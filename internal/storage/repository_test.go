package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"colletta/internal/core"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "colletta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createTestCampaign(t *testing.T, repo *SQLiteRepository, creator core.Identity, goalCents int64, createdAt time.Time) core.Campaign {
	t.Helper()
	c, err := core.NewCampaign(creator, "test campaign", "a description", core.Money{Cents: goalCents}, 1, createdAt)
	if err != nil {
		t.Fatalf("NewCampaign: %v", err)
	}
	id, err := repo.CreateCampaign(context.Background(), c)
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	c.ID = id
	return c
}

func TestCampaignPersistence(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	c := createTestCampaign(t, repo, "alice", 5000, testNow)
	if c.ID != 1 {
		t.Fatalf("first id = %d, want 1", c.ID)
	}

	if err := c.Contribute("bob", core.Money{Cents: 4000}, testNow); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if err := c.Contribute("carol", core.Money{Cents: 2500}, testNow); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if err := repo.UpdateCampaign(ctx, c, nil); err != nil {
		t.Fatalf("UpdateCampaign: %v", err)
	}

	got, err := repo.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.Creator != "alice" || got.Title != "test campaign" || got.Description != "a description" {
		t.Fatalf("loaded campaign = %+v", got)
	}
	if !got.Deadline.Equal(c.Deadline) {
		t.Fatalf("deadline = %v, want %v", got.Deadline, c.Deadline)
	}
	if got.Raised.Cents != 6500 || got.Status != core.StatusOpen || got.Withdrawn {
		t.Fatalf("loaded state = raised %d status %q withdrawn %v", got.Raised.Cents, got.Status, got.Withdrawn)
	}
	if len(got.Order) != 2 || got.Order[0] != "bob" || got.Order[1] != "carol" {
		t.Fatalf("contributor order = %v", got.Order)
	}
	if entry := got.Contributions["bob"]; entry.Outstanding.Cents != 4000 || entry.State != core.ContributionHeld || entry.Position != 0 {
		t.Fatalf("bob's entry = %+v", entry)
	}

	// A second update must overwrite entries, not duplicate them.
	settlement, err := got.Settle("alice", got.Deadline)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settlement.Amount.Cents != 6500 {
		t.Fatalf("settlement amount = %d, want 6500", settlement.Amount.Cents)
	}
	if err := repo.UpdateCampaign(ctx, got, nil); err != nil {
		t.Fatalf("UpdateCampaign after settle: %v", err)
	}
	again, err := repo.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if again.Raised.Cents != 0 || !again.Withdrawn || len(again.Contributions) != 2 {
		t.Fatalf("state after settle = %+v", again)
	}
	if entry := again.Contributions["carol"]; entry.Outstanding.Cents != 0 || entry.State != core.ContributionAbsorbed || entry.Total.Cents != 2500 {
		t.Fatalf("carol's entry after withdrawal = %+v", entry)
	}

	if _, err := repo.GetCampaign(ctx, 99); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", err)
	}
	missing := c
	missing.ID = 99
	if err := repo.UpdateCampaign(ctx, missing, nil); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update unknown id: got %v, want ErrNotFound", err)
	}
}

func TestCampaignQueries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	createTestCampaign(t, repo, "alice", 1000, testNow)
	createTestCampaign(t, repo, "bob", 1000, testNow)
	createTestCampaign(t, repo, "alice", 1000, testNow)

	ids, err := repo.CampaignIDsByCreator(ctx, "alice")
	if err != nil {
		t.Fatalf("CampaignIDsByCreator: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("alice's ids = %v, want [1 3]", ids)
	}

	count, err := repo.CountCampaigns(ctx)
	if err != nil {
		t.Fatalf("CountCampaigns: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func insertTestTransfer(t *testing.T, repo *SQLiteRepository, c core.Campaign, id string) core.Transfer {
	t.Helper()
	transfer := core.Transfer{
		ID:          id,
		CampaignID:  c.ID,
		Beneficiary: c.Creator,
		Amount:      core.Money{Cents: 1000},
		Kind:        core.TransferWithdrawal,
		Status:      core.TransferPending,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
	if err := repo.UpdateCampaign(context.Background(), c, &transfer); err != nil {
		t.Fatalf("UpdateCampaign with transfer: %v", err)
	}
	return transfer
}

func TestTransferClaimDiscipline(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	c := createTestCampaign(t, repo, "alice", 1000, testNow)
	insertTestTransfer(t, repo, c, "t-1")

	claimed, err := repo.ClaimTransfer(ctx, "t-1")
	if err != nil {
		t.Fatalf("ClaimTransfer: %v", err)
	}
	if !claimed {
		t.Fatalf("first claim refused")
	}

	// Second claimant must lose.
	claimed, err = repo.ClaimTransfer(ctx, "t-1")
	if err != nil {
		t.Fatalf("ClaimTransfer: %v", err)
	}
	if claimed {
		t.Fatalf("transfer claimed twice")
	}

	got, err := repo.GetTransfer(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if got.Status != core.TransferProcessing || got.Attempts != 1 {
		t.Fatalf("claimed transfer = status %q attempts %d", got.Status, got.Attempts)
	}

	if err := repo.ReleaseTransfer(ctx, "t-1", "gateway down"); err != nil {
		t.Fatalf("ReleaseTransfer: %v", err)
	}
	got, err = repo.GetTransfer(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if got.Status != core.TransferPending || got.LastError != "gateway down" || got.Attempts != 1 {
		t.Fatalf("released transfer = %+v", got)
	}

	claimed, err = repo.ClaimTransfer(ctx, "t-1")
	if err != nil || !claimed {
		t.Fatalf("reclaim after release: claimed=%v err=%v", claimed, err)
	}
	if err := repo.MarkTransferSent(ctx, "t-1"); err != nil {
		t.Fatalf("MarkTransferSent: %v", err)
	}
	got, err = repo.GetTransfer(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if got.Status != core.TransferSent || got.Attempts != 2 || got.LastError != "" {
		t.Fatalf("sent transfer = %+v", got)
	}

	// A sent transfer is out of the queue for good.
	claimed, err = repo.ClaimTransfer(ctx, "t-1")
	if err != nil || claimed {
		t.Fatalf("claim of sent transfer: claimed=%v err=%v", claimed, err)
	}

	if _, err := repo.GetTransfer(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown transfer: got %v, want ErrNotFound", err)
	}
}

func TestTransferQueueLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	c := createTestCampaign(t, repo, "alice", 1000, testNow)
	insertTestTransfer(t, repo, c, "t-1")
	insertTestTransfer(t, repo, c, "t-2")

	pending, err := repo.ListPendingTransfers(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPendingTransfers: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	// Stale processing claims go back to pending.
	if _, err := repo.ClaimTransfer(ctx, "t-1"); err != nil {
		t.Fatalf("ClaimTransfer: %v", err)
	}
	reset, err := repo.ResetStaleProcessing(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ResetStaleProcessing: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d, want 1", reset)
	}
	got, err := repo.GetTransfer(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if got.Status != core.TransferPending {
		t.Fatalf("status after reset = %q, want pending", got.Status)
	}

	// Failed transfers can be re-queued wholesale.
	if err := repo.MarkTransferFailed(ctx, "t-2", "max retries"); err != nil {
		t.Fatalf("MarkTransferFailed: %v", err)
	}
	retried, err := repo.RetryFailedTransfers(ctx)
	if err != nil {
		t.Fatalf("RetryFailedTransfers: %v", err)
	}
	if retried != 1 {
		t.Fatalf("retried = %d, want 1", retried)
	}
	got, err = repo.GetTransfer(ctx, "t-2")
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if got.Status != core.TransferPending || got.Attempts != 0 {
		t.Fatalf("retried transfer = %+v", got)
	}

	stats, err := repo.GetTransferQueueStats(ctx)
	if err != nil {
		t.Fatalf("GetTransferQueueStats: %v", err)
	}
	if stats.Pending != 2 || stats.Processing != 0 || stats.Sent != 0 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestTransferReconciliation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	c := createTestCampaign(t, repo, "alice", 1000, testNow)
	insertTestTransfer(t, repo, c, "t-1")
	if _, err := repo.ClaimTransfer(ctx, "t-1"); err != nil {
		t.Fatalf("ClaimTransfer: %v", err)
	}
	if err := repo.MarkTransferSent(ctx, "t-1"); err != nil {
		t.Fatalf("MarkTransferSent: %v", err)
	}

	open, err := repo.ListUnreconciledTransfers(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnreconciledTransfers: %v", err)
	}
	if len(open) != 1 || open[0].ID != "t-1" {
		t.Fatalf("unreconciled = %+v", open)
	}

	when := time.Now().UTC()
	if err := repo.MarkTransferReconciled(ctx, "t-1", when); err != nil {
		t.Fatalf("MarkTransferReconciled: %v", err)
	}
	open, err = repo.ListUnreconciledTransfers(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnreconciledTransfers: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("unreconciled after mark = %+v", open)
	}
	got, err := repo.GetTransfer(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if !got.Reconciled() {
		t.Fatalf("transfer not reconciled: %+v", got)
	}

	removed, err := repo.CleanupReconciledTransfers(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("CleanupReconciledTransfers: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := repo.GetTransfer(ctx, "t-1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("cleaned transfer still present: %v", err)
	}
}

func TestEndedCampaignNotices(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	// One campaign past its deadline, one still running, one ceased.
	ended := createTestCampaign(t, repo, "alice", 1000, testNow.Add(-48*time.Hour))
	createTestCampaign(t, repo, "bob", 1000, testNow)
	ceased := createTestCampaign(t, repo, "carol", 1000, testNow.Add(-48*time.Hour))
	if err := ceased.Cease(); err != nil {
		t.Fatalf("cease: %v", err)
	}
	if err := repo.UpdateCampaign(ctx, ceased, nil); err != nil {
		t.Fatalf("UpdateCampaign: %v", err)
	}

	list, err := repo.ListEndedUnnotified(ctx, testNow, 10)
	if err != nil {
		t.Fatalf("ListEndedUnnotified: %v", err)
	}
	if len(list) != 1 || list[0].ID != ended.ID {
		t.Fatalf("ended campaigns = %+v, want just campaign %d", list, ended.ID)
	}
	if list[0].Creator != "alice" || list[0].GoalCents != 1000 {
		t.Fatalf("ended campaign row = %+v", list[0])
	}

	if err := repo.MarkDeadlineNoticeSent(ctx, ended.ID, testNow); err != nil {
		t.Fatalf("MarkDeadlineNoticeSent: %v", err)
	}
	list, err = repo.ListEndedUnnotified(ctx, testNow, 10)
	if err != nil {
		t.Fatalf("ListEndedUnnotified: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("campaign announced twice: %+v", list)
	}
}
