package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusOpen   CampaignStatus = "open"
	StatusCeased CampaignStatus = "ceased"
)

const (
	ContributionHeld     ContributionState = "held"
	ContributionRefunded ContributionState = "refunded"
	ContributionAbsorbed ContributionState = "absorbed"
)

type (
	// Identity names a participant. The ledger only ever compares
	// identities for equality; verification belongs to the caller.
	Identity string

	CampaignStatus string

	ContributionState string

	Money struct {
		Cents int64
	}

	// Contribution is one contributor's ledger entry in a campaign.
	// Outstanding is the amount currently held; Total is the lifetime
	// sum contributed. Position records first-appearance order.
	Contribution struct {
		Contributor Identity
		Outstanding Money
		Total       Money
		State       ContributionState
		Position    int
	}
)

var (
	ErrInvalidParameters     = errors.New("invalid parameters")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrNotFound              = errors.New("campaign not found")
	ErrNotOpen               = errors.New("campaign not open")
	ErrDeadlinePassed        = errors.New("deadline passed")
	ErrSelfContribution      = errors.New("self contribution forbidden")
	ErrNotSettlementEligible = errors.New("not settlement eligible")
	ErrGoalNotReached        = errors.New("goal not reached")
	ErrGoalReached           = errors.New("goal reached")
	ErrAlreadySettled        = errors.New("already settled")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNoEligibleAction      = errors.New("no eligible action")
)

func (id Identity) IsEmpty() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// IsZero reports whether the amount is exactly zero cents.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

// MaxTitleLen and MaxDescriptionLen bound creation input.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
)

// NewCampaign validates creation parameters and builds an open campaign.
// The deadline is durationDays whole days after now. The id is zero until
// the store allocates one.
func NewCampaign(creator Identity, title, description string, goal Money, durationDays int, now time.Time) (Campaign, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)

	if creator.IsEmpty() {
		return Campaign{}, ErrInvalidParameters
	}
	if title == "" || len(title) > MaxTitleLen {
		return Campaign{}, ErrInvalidParameters
	}
	if len(description) > MaxDescriptionLen {
		return Campaign{}, ErrInvalidParameters
	}
	if goal.Cents <= 0 {
		return Campaign{}, ErrInvalidParameters
	}
	if durationDays <= 0 {
		return Campaign{}, ErrInvalidParameters
	}

	return Campaign{
		Creator:       creator,
		Title:         title,
		Description:   description,
		Goal:          goal,
		Deadline:      now.Add(time.Duration(durationDays) * 24 * time.Hour),
		Status:        StatusOpen,
		CreatedAt:     now,
		Contributions: make(map[Identity]Contribution),
	}, nil
}
