// Package core holds the campaign ledger's accounting state machine.
//
// A Campaign is a pure record: every mutation validates its preconditions
// first and either applies completely or leaves the record untouched.
// The amount raised always equals the sum of outstanding contribution
// entries, a contributor never holds a stake in their own campaign, and
// settlement is terminal per party. Callers are responsible for exclusive
// access to the record while mutating (see the ledger engine).
package core

import "time"

// Campaign is the full accounting record for one fundraising effort.
type Campaign struct {
	ID          int64
	Creator     Identity
	Title       string
	Description string
	Goal        Money
	Deadline    time.Time
	Raised      Money
	Status      CampaignStatus
	// Withdrawn records terminal creator-side settlement. It is a
	// settlement marker, not a latched goal flag: GoalReached stays a
	// pure function of Raised vs Goal.
	Withdrawn bool
	CreatedAt time.Time

	Contributions map[Identity]Contribution
	// Order lists distinct contributors in first-appearance order and
	// is append-only.
	Order []Identity
}

// Settlement describes the single outbound transfer a successful settle
// call produced.
type Settlement struct {
	Kind        TransferKind
	Beneficiary Identity
	Amount      Money
}

// GoalReached is derived from the current raised amount on every call,
// never stored.
func (c *Campaign) GoalReached() bool {
	return c.Raised.Cents >= c.Goal.Cents
}

// SettlementEligible reports whether any settlement action may run now.
// A ceased campaign is always eligible: the stop ends the active window.
func (c *Campaign) SettlementEligible(now time.Time) bool {
	if c.Status == StatusCeased {
		return true
	}
	return !now.Before(c.Deadline) || c.GoalReached()
}

// Contribute adds amount to the contributor's outstanding stake and to
// the raised total. Contributions are accepted until the deadline even
// after the goal is reached.
func (c *Campaign) Contribute(contributor Identity, amount Money, now time.Time) error {
	if c.Status != StatusOpen {
		return ErrNotOpen
	}
	if !now.Before(c.Deadline) {
		return ErrDeadlinePassed
	}
	if contributor.IsEmpty() || amount.Cents <= 0 {
		return ErrInvalidParameters
	}
	if contributor == c.Creator {
		return ErrSelfContribution
	}

	entry, exists := c.Contributions[contributor]
	if !exists {
		entry = Contribution{
			Contributor: contributor,
			State:       ContributionHeld,
			Position:    len(c.Order),
		}
		c.Order = append(c.Order, contributor)
	}
	entry.Outstanding.Cents += amount.Cents
	entry.Total.Cents += amount.Cents
	entry.State = ContributionHeld
	c.Contributions[contributor] = entry
	c.Raised.Cents += amount.Cents
	return nil
}

// Settle runs the settlement action the caller is entitled to, if any:
// the creator withdraws the full raised amount once the goal is reached,
// a contributor reclaims their outstanding stake once it is not. The
// returned Settlement names the transfer the caller must now execute;
// accounting is already updated when it returns.
func (c *Campaign) Settle(caller Identity, now time.Time) (Settlement, error) {
	if caller == c.Creator {
		return c.withdraw(now)
	}
	if entry, exists := c.Contributions[caller]; exists {
		return c.refund(entry, now)
	}
	if !c.SettlementEligible(now) {
		return Settlement{}, ErrNotSettlementEligible
	}
	return Settlement{}, ErrNoEligibleAction
}

// withdraw zeroes the raised amount, absorbs every outstanding entry and
// marks the creator side settled. The withdrawn check runs before the
// eligibility check: once funds are out, derived eligibility no longer
// holds and the caller must see AlreadySettled, not a stale precondition.
func (c *Campaign) withdraw(now time.Time) (Settlement, error) {
	if c.Withdrawn {
		return Settlement{}, ErrAlreadySettled
	}
	if !c.SettlementEligible(now) {
		return Settlement{}, ErrNotSettlementEligible
	}
	if c.Status == StatusCeased {
		return Settlement{}, ErrNotOpen
	}
	if !c.GoalReached() {
		return Settlement{}, ErrGoalNotReached
	}

	amount := c.Raised
	for id, entry := range c.Contributions {
		if entry.Outstanding.Cents > 0 {
			entry.Outstanding = Money{}
			entry.State = ContributionAbsorbed
			c.Contributions[id] = entry
		}
	}
	c.Raised = Money{}
	c.Withdrawn = true
	return Settlement{Kind: TransferWithdrawal, Beneficiary: c.Creator, Amount: amount}, nil
}

// refund zeroes one contributor's outstanding stake and decrements the
// raised total by exactly that amount. On a ceased campaign the
// goal-reached check is skipped: the stop makes the goal permanently
// unreachable and contributors keep their refund rights.
func (c *Campaign) refund(entry Contribution, now time.Time) (Settlement, error) {
	if entry.State == ContributionRefunded {
		return Settlement{}, ErrAlreadySettled
	}
	if !c.SettlementEligible(now) {
		return Settlement{}, ErrNotSettlementEligible
	}
	if c.Status != StatusCeased && c.GoalReached() {
		return Settlement{}, ErrGoalReached
	}
	if entry.Outstanding.Cents == 0 {
		// Absorbed by a creator withdrawal: nothing left to claim.
		return Settlement{}, ErrNoEligibleAction
	}

	amount := entry.Outstanding
	entry.Outstanding = Money{}
	entry.State = ContributionRefunded
	c.Contributions[entry.Contributor] = entry
	c.Raised.Cents -= amount.Cents
	return Settlement{Kind: TransferRefund, Beneficiary: entry.Contributor, Amount: amount}, nil
}

// Cease forces an open campaign into the ceased state. It blocks further
// contributions and creator withdrawal while leaving refund rights
// intact; it never moves funds.
func (c *Campaign) Cease() error {
	if c.Status != StatusOpen {
		return ErrNotOpen
	}
	c.Status = StatusCeased
	return nil
}

// Stake returns the contributor's current outstanding amount; zero means
// no outstanding stake, whether never contributed or already settled.
func (c *Campaign) Stake(contributor Identity) Money {
	return c.Contributions[contributor].Outstanding
}

// Contributors returns the distinct contributor identities in
// first-appearance order.
func (c *Campaign) Contributors() []Identity {
	out := make([]Identity, len(c.Order))
	copy(out, c.Order)
	return out
}

// ContributorCount returns the number of distinct contributors ever
// recorded, settled or not.
func (c *Campaign) ContributorCount() int {
	return len(c.Order)
}

// Clone returns a deep copy safe to hand across a storage boundary.
func (c *Campaign) Clone() Campaign {
	out := *c
	out.Contributions = make(map[Identity]Contribution, len(c.Contributions))
	for id, entry := range c.Contributions {
		out.Contributions[id] = entry
	}
	out.Order = make([]Identity, len(c.Order))
	copy(out.Order, c.Order)
	return out
}
