package core

import "time"

// CampaignSummary is the compact read model the query surface returns.
// GoalReached is derived at build time from the record it summarizes.
type CampaignSummary struct {
	ID               int64
	Creator          Identity
	Title            string
	Description      string
	Goal             Money
	Raised           Money
	Deadline         time.Time
	Status           CampaignStatus
	GoalReached      bool
	ContributorCount int
	Withdrawn        bool
	CreatedAt        time.Time
}

// Summary builds the read model for the campaign's current state.
func (c *Campaign) Summary() CampaignSummary {
	return CampaignSummary{
		ID:               c.ID,
		Creator:          c.Creator,
		Title:            c.Title,
		Description:      c.Description,
		Goal:             c.Goal,
		Raised:           c.Raised,
		Deadline:         c.Deadline,
		Status:           c.Status,
		GoalReached:      c.GoalReached(),
		ContributorCount: c.ContributorCount(),
		Withdrawn:        c.Withdrawn,
		CreatedAt:        c.CreatedAt,
	}
}
