package amqp

import (
	"encoding/json"
	"time"

	"colletta/internal/core"
)

// TransferMessage represents a lightweight message for executing a transfer instruction
// Contains only the ID and campaign, the worker will fetch the full instruction from database
type TransferMessage struct {
	ID         string    `json:"id"`
	CampaignID int64     `json:"campaign_id"`
	Kind       string    `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewTransferMessage creates a new transfer message from an instruction
func NewTransferMessage(transfer core.Transfer) *TransferMessage {
	return &TransferMessage{
		ID:         transfer.ID,
		CampaignID: transfer.CampaignID,
		Kind:       string(transfer.Kind),
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransferMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func TransferMessageFromJSON(data []byte) (*TransferMessage, error) {
	var msg TransferMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CampaignEndedMessage announces that a campaign's active window closed
type CampaignEndedMessage struct {
	CampaignID  int64     `json:"campaign_id"`
	Creator     string    `json:"creator"`
	Title       string    `json:"title"`
	GoalCents   int64     `json:"goal_cents"`
	RaisedCents int64     `json:"raised_cents"`
	GoalReached bool      `json:"goal_reached"`
	Deadline    time.Time `json:"deadline"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewCampaignEndedMessage creates a new campaign ended notice
func NewCampaignEndedMessage(campaignID int64, creator, title string, goalCents, raisedCents int64, deadline time.Time) *CampaignEndedMessage {
	return &CampaignEndedMessage{
		CampaignID:  campaignID,
		Creator:     creator,
		Title:       title,
		GoalCents:   goalCents,
		RaisedCents: raisedCents,
		GoalReached: raisedCents >= goalCents,
		Deadline:    deadline,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CampaignEndedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func CampaignEndedMessageFromJSON(data []byte) (*CampaignEndedMessage, error) {
	var msg CampaignEndedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
