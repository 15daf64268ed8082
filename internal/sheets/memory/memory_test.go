package memory

import (
	"context"
	"testing"

	"colletta/internal/core"
)

func TestAppendAndRows(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := core.Transfer{
		ID:          "e3c2b1a0-1111-4222-8333-444455556001",
		CampaignID:  1,
		Beneficiary: "alice",
		Amount:      core.Money{Cents: 5000},
		Kind:        core.TransferWithdrawal,
		Status:      core.TransferSent,
	}
	second := core.Transfer{
		ID:          "e3c2b1a0-1111-4222-8333-444455556002",
		CampaignID:  2,
		Beneficiary: "bob",
		Amount:      core.Money{Cents: 750},
		Kind:        core.TransferRefund,
		Status:      core.TransferSent,
	}

	ref, err := s.Append(ctx, first)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ref != "mem:1" {
		t.Errorf("Append() ref = %q, want mem:1", ref)
	}

	ref, err = s.Append(ctx, second)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if ref != "mem:2" {
		t.Errorf("Append() ref = %q, want mem:2", ref)
	}

	rows := s.Rows()
	if len(rows) != 2 {
		t.Fatalf("Rows() len = %d, want 2", len(rows))
	}
	if rows[0].ID != first.ID || rows[1].ID != second.ID {
		t.Errorf("Rows() order = [%s %s], want [%s %s]", rows[0].ID, rows[1].ID, first.ID, second.ID)
	}

	// The returned slice is a copy
	rows[0].ID = "mutated"
	if s.Rows()[0].ID != first.ID {
		t.Error("Rows() should return a copy, not the backing slice")
	}
}

func TestAppendRejectsMissingID(t *testing.T) {
	s := New()

	if _, err := s.Append(context.Background(), core.Transfer{CampaignID: 1}); err == nil {
		t.Error("Append() should reject a transfer without an id")
	}
	if len(s.Rows()) != 0 {
		t.Error("rejected transfer should not be stored")
	}
}
