package ledger

import (
	"time"

	"colletta/internal/core"
)

// EventKind names one entry type in the campaign activity stream.
type EventKind string

const (
	EventCampaignCreated  EventKind = "campaign_created"
	EventContributionMade EventKind = "contribution_made"
	EventFundsWithdrawn   EventKind = "funds_withdrawn"
	EventRefundIssued     EventKind = "refund_issued"
	EventCampaignCeased   EventKind = "campaign_ceased"
)

// Event is one record in the campaign activity stream. Kind decides
// which optional fields carry data; amounts are integer cents.
type Event struct {
	Kind        EventKind     `json:"kind"`
	CampaignID  int64         `json:"campaign_id"`
	Party       core.Identity `json:"party,omitempty"`
	AmountCents int64         `json:"amount_cents,omitempty"`
	Title       string        `json:"title,omitempty"`
	GoalCents   int64         `json:"goal_cents,omitempty"`
	RaisedCents int64         `json:"raised_cents,omitempty"`
	Deadline    time.Time     `json:"deadline"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// NewCampaignCreatedEvent records a freshly persisted campaign.
func NewCampaignCreatedEvent(c core.Campaign, now time.Time) Event {
	return Event{
		Kind:       EventCampaignCreated,
		CampaignID: c.ID,
		Party:      c.Creator,
		Title:      c.Title,
		GoalCents:  c.Goal.Cents,
		Deadline:   c.Deadline,
		OccurredAt: now,
	}
}

// NewContributionMadeEvent records an accepted contribution together
// with the raised total after it was applied.
func NewContributionMadeEvent(campaignID int64, contributor core.Identity, amount, raised core.Money, now time.Time) Event {
	return Event{
		Kind:        EventContributionMade,
		CampaignID:  campaignID,
		Party:       contributor,
		AmountCents: amount.Cents,
		RaisedCents: raised.Cents,
		OccurredAt:  now,
	}
}

// NewSettlementEvent records a successful settlement as either a
// withdrawal or a refund event depending on the transfer kind.
func NewSettlementEvent(campaignID int64, settlement core.Settlement, now time.Time) Event {
	kind := EventRefundIssued
	if settlement.Kind == core.TransferWithdrawal {
		kind = EventFundsWithdrawn
	}
	return Event{
		Kind:        kind,
		CampaignID:  campaignID,
		Party:       settlement.Beneficiary,
		AmountCents: settlement.Amount.Cents,
		OccurredAt:  now,
	}
}

// NewCampaignCeasedEvent records an emergency stop and who ordered it.
func NewCampaignCeasedEvent(campaignID int64, stoppedBy core.Identity, now time.Time) Event {
	return Event{
		Kind:       EventCampaignCeased,
		CampaignID: campaignID,
		Party:      stoppedBy,
		OccurredAt: now,
	}
}
