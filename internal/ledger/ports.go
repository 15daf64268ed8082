package ledger

import (
	"context"

	"colletta/internal/core"
)

// Ports for outbound adapters.
type (
	// Store persists campaign records. Implementations return
	// core.ErrNotFound for unknown campaign ids. UpdateCampaign applies
	// the campaign record and the optional transfer instruction in one
	// atomic step so accounting never commits without its transfer.
	Store interface {
		CreateCampaign(ctx context.Context, c core.Campaign) (int64, error)
		GetCampaign(ctx context.Context, id int64) (core.Campaign, error)
		UpdateCampaign(ctx context.Context, c core.Campaign, transfer *core.Transfer) error
		CampaignIDsByCreator(ctx context.Context, creator core.Identity) ([]int64, error)
		CountCampaigns(ctx context.Context) (int64, error)
	}

	// EventPublisher emits activity events after a mutation commits.
	EventPublisher interface {
		PublishEvent(ctx context.Context, event Event) error
	}

	// TransferDispatcher hands committed transfer instructions to the
	// payout pipeline.
	TransferDispatcher interface {
		DispatchTransfer(ctx context.Context, transfer core.Transfer) error
	}
)
