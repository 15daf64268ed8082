package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"colletta/internal/amqp"
	"colletta/internal/storage"
)

// CampaignEndedPublisher announces closed campaigns to collaborators.
type CampaignEndedPublisher interface {
	PublishCampaignEnded(ctx context.Context, msg *amqp.CampaignEndedMessage) error
}

// DeadlineNotifier announces campaigns whose active window has closed.
// Each campaign is announced exactly once; the notice marker lives on
// the campaign row.
type DeadlineNotifier struct {
	storage   *storage.SQLiteRepository
	publisher CampaignEndedPublisher
	batchSize int
}

// NewDeadlineNotifier creates a new deadline notifier
func NewDeadlineNotifier(storage *storage.SQLiteRepository, publisher CampaignEndedPublisher, batchSize int) *DeadlineNotifier {
	return &DeadlineNotifier{
		storage:   storage,
		publisher: publisher,
		batchSize: batchSize,
	}
}

// ProcessEndedCampaigns announces all campaigns past their deadline that
// have not been announced yet. Ceased campaigns are excluded: their end
// was already published when the stop happened.
func (n *DeadlineNotifier) ProcessEndedCampaigns(ctx context.Context, now time.Time) (int, error) {
	if n.storage == nil || n.publisher == nil {
		return 0, fmt.Errorf("notifier not properly initialized")
	}

	ended, err := n.storage.ListEndedUnnotified(ctx, now, int64(n.batchSize))
	if err != nil {
		return 0, fmt.Errorf("failed to list ended campaigns: %w", err)
	}

	if len(ended) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing ended campaigns",
		"total", len(ended),
		"processing_date", now.Format("2006-01-02"))

	processedCount := 0

	for _, c := range ended {
		msg := amqp.NewCampaignEndedMessage(c.ID, string(c.Creator), c.Title, c.GoalCents, c.RaisedCents, c.Deadline)

		if err := n.publisher.PublishCampaignEnded(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to publish campaign ended notice",
				"campaign_id", c.ID,
				"error", err)
			continue
		}

		if err := n.storage.MarkDeadlineNoticeSent(ctx, c.ID, now); err != nil {
			slog.ErrorContext(ctx, "Failed to mark deadline notice sent",
				"campaign_id", c.ID,
				"error", err)
			// Continue anyway - the notice was published
		}

		processedCount++
		slog.InfoContext(ctx, "Announced campaign end",
			"campaign_id", c.ID,
			"title", c.Title,
			"goal_reached", c.RaisedCents >= c.GoalCents)
	}

	slog.InfoContext(ctx, "Ended campaign processing complete",
		"processed", processedCount,
		"total_checked", len(ended))

	return processedCount, nil
}
