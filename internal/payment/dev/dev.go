// Package dev provides a payment gateway that records and logs
// transfers instead of moving money. It stands in for a real rail
// during local development and tests.
package dev

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"colletta/internal/core"
	"colletta/internal/payment"
)

type Gateway struct {
	mu       sync.Mutex
	executed []core.Transfer
	failWith error
}

var _ payment.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{}
}

// FailWith makes every subsequent Execute return err. Pass nil to
// restore normal behavior.
func (g *Gateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = err
}

func (g *Gateway) Execute(ctx context.Context, t core.Transfer) error {
	if t.ID == "" {
		return errors.New("transfer has no id")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return g.failWith
	}
	g.executed = append(g.executed, t)

	slog.InfoContext(ctx, "Executed transfer on dev gateway",
		"transfer_id", t.ID,
		"campaign_id", t.CampaignID,
		"kind", t.Kind,
		"beneficiary", t.Beneficiary,
		"amount_cents", t.Amount.Cents)
	return nil
}

// Executed returns a copy of every transfer executed so far.
func (g *Gateway) Executed() []core.Transfer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]core.Transfer(nil), g.executed...)
}
