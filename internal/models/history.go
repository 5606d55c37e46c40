package models

import "time"

// HistoryStatus is the delivery state of one send attempt.
type HistoryStatus string

const (
	HistoryPending   HistoryStatus = "pending"
	HistorySent      HistoryStatus = "sent"
	HistoryDelivered HistoryStatus = "delivered"
	HistoryRead      HistoryStatus = "read"
	HistoryFailed    HistoryStatus = "failed"
)

// History is the audit record of one outbound send attempt. It is written
// once by the send pipeline and updated exactly once more by webhook
// reconciliation, keyed by the provider message id.
type History struct {
	ID                string        `json:"id"`
	OrgID             string        `json:"org_id"`
	CampaignID        string        `json:"campaign_id"`
	ContactID         string        `json:"contact_id"`
	Address           string        `json:"address"`
	Body              string        `json:"body"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Status            HistoryStatus `json:"status"`
	Error             string        `json:"error,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
