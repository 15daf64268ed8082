package sheets

import (
	"context"

	"colletta/internal/core"
)

// Ports for outbound adapters.
type (
	// SettlementWriter records an executed transfer on an external
	// reconciliation sheet.
	SettlementWriter interface {
		Append(ctx context.Context, t core.Transfer) (rowRef string, err error)
	}
)
