// internal/model/delivery_log.go
package model

import "time"

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryLog is the outcome for one snapshot entry of a campaign.
// RecipientID goes nil when the recipient row is deleted; SnapshotRecipientID
// and RecipientEmail are kept so the row stays attributable.
type DeliveryLog struct {
	ID                  int            `db:"id" json:"id"`
	CampaignID          int            `db:"campaign_id" json:"campaign_id"`
	RecipientID         *int           `db:"recipient_id" json:"recipient_id,omitempty"`
	SnapshotRecipientID int            `db:"snapshot_recipient_id" json:"snapshot_recipient_id"`
	RecipientEmail      string         `db:"recipient_email" json:"recipient_email"`
	Status              DeliveryStatus `db:"status" json:"status"`
	FailureReason       string         `db:"failure_reason" json:"failure_reason,omitempty"`
	Attempt             int            `db:"attempt" json:"attempt"`
	ProcessedAt         time.Time      `db:"processed_at" json:"processed_at"`
}

// DeliveryStats aggregates delivery log rows of one campaign.
type DeliveryStats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}
