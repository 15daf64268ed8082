package payment

import (
	"context"

	"colletta/internal/core"
)

// Ports for outbound money movement.
type (
	// Gateway executes a transfer instruction on the payment rail.
	// Execute must be idempotent per transfer id: the queue redelivers
	// on worker failure.
	Gateway interface {
		Execute(ctx context.Context, t core.Transfer) error
	}
)
