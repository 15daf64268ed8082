package core

import "time"

const (
	TransferWithdrawal TransferKind = "withdrawal"
	TransferRefund     TransferKind = "refund"
)

const (
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferSent       TransferStatus = "sent"
	TransferFailed     TransferStatus = "failed"
)

type (
	TransferKind string

	TransferStatus string

	// Transfer is a persisted instruction to move settled value to a
	// beneficiary. It is written in the same transaction as the
	// accounting change that produced it (update-then-transfer); the
	// physical transfer is executed asynchronously and retried without
	// ever touching accounting state again.
	Transfer struct {
		ID           string
		CampaignID   int64
		Beneficiary  Identity
		Amount       Money
		Kind         TransferKind
		Status       TransferStatus
		Attempts     int64
		LastError    string
		CreatedAt    time.Time
		UpdatedAt    time.Time
		ReconciledAt time.Time
	}
)

// Reconciled reports whether the transfer has been exported to the
// bookkeeping sheet.
func (t Transfer) Reconciled() bool {
	return !t.ReconciledAt.IsZero()
}
