// Package ledger coordinates campaign operations. The Engine loads a
// campaign record, runs the core state machine on it under a
// per-campaign lock, commits the result through the Store, and only
// then emits activity events and transfer instructions.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"colletta/internal/core"
)

// Config carries the engine dependencies. Store is required; Events and
// Transfers may be nil, in which case publishing is skipped. Admin is
// the only identity allowed to order an emergency stop; when empty,
// every stop request is rejected. Now defaults to time.Now.
type Config struct {
	Store     Store
	Events    EventPublisher
	Transfers TransferDispatcher
	Admin     core.Identity
	Now       func() time.Time
}

// Engine is the single entry point for campaign mutations and queries.
type Engine struct {
	store     Store
	events    EventPublisher
	transfers TransferDispatcher
	admin     core.Identity
	now       func() time.Time
	locks     *campaignLocks
}

func NewEngine(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:     cfg.Store,
		events:    cfg.Events,
		transfers: cfg.Transfers,
		admin:     cfg.Admin,
		now:       now,
		locks:     newCampaignLocks(),
	}
}

// CreateCampaign validates the parameters, persists a new open campaign
// and returns it with its allocated id.
func (e *Engine) CreateCampaign(ctx context.Context, creator core.Identity, title, description string, goal core.Money, durationDays int) (core.Campaign, error) {
	now := e.now()

	c, err := core.NewCampaign(creator, title, description, goal, durationDays, now)
	if err != nil {
		return core.Campaign{}, err
	}

	id, err := e.store.CreateCampaign(ctx, c)
	if err != nil {
		return core.Campaign{}, fmt.Errorf("create campaign: %w", err)
	}
	c.ID = id

	slog.InfoContext(ctx, "Campaign created",
		"campaign_id", id, "creator", creator, "goal_cents", goal.Cents, "deadline", c.Deadline)

	e.publishEvent(ctx, NewCampaignCreatedEvent(c, now))
	return c, nil
}

// Contribute records a contribution to an open campaign. The campaign
// lock is held across load, mutation and commit so concurrent
// contributions to one campaign apply one at a time.
func (e *Engine) Contribute(ctx context.Context, campaignID int64, contributor core.Identity, amount core.Money) error {
	e.locks.lock(campaignID)
	defer e.locks.unlock(campaignID)

	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	now := e.now()
	if err := c.Contribute(contributor, amount, now); err != nil {
		return err
	}

	if err := e.store.UpdateCampaign(ctx, c, nil); err != nil {
		return fmt.Errorf("commit contribution: %w", err)
	}

	e.publishEvent(ctx, NewContributionMadeEvent(campaignID, contributor, amount, c.Raised, now))
	return nil
}

// Settle runs the settlement action the caller is entitled to. The
// updated accounting and the pending transfer instruction commit in one
// atomic store update, and only then is the instruction handed to the
// payout pipeline. A dispatch failure does not undo the settlement: the
// settlement processor picks up pending instructions from the store.
func (e *Engine) Settle(ctx context.Context, campaignID int64, caller core.Identity) (core.Transfer, error) {
	if caller.IsEmpty() {
		return core.Transfer{}, core.ErrInvalidParameters
	}

	e.locks.lock(campaignID)
	defer e.locks.unlock(campaignID)

	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return core.Transfer{}, err
	}

	now := e.now()
	settlement, err := c.Settle(caller, now)
	if err != nil {
		return core.Transfer{}, err
	}

	transfer := core.Transfer{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		Beneficiary: settlement.Beneficiary,
		Amount:      settlement.Amount,
		Kind:        settlement.Kind,
		Status:      core.TransferPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.UpdateCampaign(ctx, c, &transfer); err != nil {
		return core.Transfer{}, fmt.Errorf("commit settlement: %w", err)
	}

	slog.InfoContext(ctx, "Settlement committed",
		"campaign_id", campaignID, "transfer_id", transfer.ID,
		"kind", transfer.Kind, "beneficiary", transfer.Beneficiary, "amount_cents", transfer.Amount.Cents)

	e.publishEvent(ctx, NewSettlementEvent(campaignID, settlement, now))
	e.dispatchTransfer(ctx, transfer)
	return transfer, nil
}

// EmergencyStop forces an open campaign into the ceased state. Only the
// configured admin identity may order it; the check runs before the
// campaign is even looked up.
func (e *Engine) EmergencyStop(ctx context.Context, campaignID int64, caller core.Identity) error {
	if e.admin.IsEmpty() || caller != e.admin {
		return core.ErrUnauthorized
	}

	e.locks.lock(campaignID)
	defer e.locks.unlock(campaignID)

	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	if err := c.Cease(); err != nil {
		return err
	}

	if err := e.store.UpdateCampaign(ctx, c, nil); err != nil {
		return fmt.Errorf("commit emergency stop: %w", err)
	}

	slog.WarnContext(ctx, "Campaign ceased by emergency stop",
		"campaign_id", campaignID, "stopped_by", caller)

	e.publishEvent(ctx, NewCampaignCeasedEvent(campaignID, caller, e.now()))
	return nil
}

// Summary returns the public view of one campaign.
func (e *Engine) Summary(ctx context.Context, campaignID int64) (core.CampaignSummary, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return core.CampaignSummary{}, err
	}
	return c.Summary(), nil
}

// Stake returns the contributor's outstanding amount in a campaign.
// Zero means no outstanding stake, whether never contributed or already
// settled.
func (e *Engine) Stake(ctx context.Context, campaignID int64, contributor core.Identity) (core.Money, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return core.Money{}, err
	}
	return c.Stake(contributor), nil
}

// Contributors lists the campaign's distinct contributors in
// first-contribution order.
func (e *Engine) Contributors(ctx context.Context, campaignID int64) ([]core.Identity, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return c.Contributors(), nil
}

// CampaignsByCreator lists the ids of all campaigns a creator started.
func (e *Engine) CampaignsByCreator(ctx context.Context, creator core.Identity) ([]int64, error) {
	return e.store.CampaignIDsByCreator(ctx, creator)
}

// TotalCampaigns returns the number of campaigns ever created.
func (e *Engine) TotalCampaigns(ctx context.Context) (int64, error) {
	return e.store.CountCampaigns(ctx)
}

func (e *Engine) publishEvent(ctx context.Context, event Event) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishEvent(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish campaign event",
			"kind", event.Kind, "campaign_id", event.CampaignID, "error", err)
		// Don't fail the request - the mutation is already committed
	}
}

func (e *Engine) dispatchTransfer(ctx context.Context, transfer core.Transfer) {
	if e.transfers == nil {
		slog.WarnContext(ctx, "Transfer dispatcher not available, leaving instruction pending",
			"transfer_id", transfer.ID)
		return
	}
	if err := e.transfers.DispatchTransfer(ctx, transfer); err != nil {
		slog.ErrorContext(ctx, "Failed to dispatch transfer instruction",
			"transfer_id", transfer.ID, "campaign_id", transfer.CampaignID, "error", err)
		// Don't fail the request - the settlement processor resubmits pending transfers
	}
}
