package models

import (
	"encoding/json"
	"time"
)

// ActivityType is one kind of event in a campaign's delivery timeline.
type ActivityType string

const (
	ActivitySent         ActivityType = "SENT"
	ActivityDelivered    ActivityType = "DELIVERED"
	ActivityRead         ActivityType = "READ"
	ActivityFailed       ActivityType = "FAILED"
	ActivityBounced      ActivityType = "BOUNCED"
	ActivityUnsubscribed ActivityType = "UNSUBSCRIBED"
)

// Activity is one immutable event in a campaign's per-contact delivery
// timeline. Rows are append-only; the ordered set of a campaign's activities
// is its timeline.
type Activity struct {
	ID         string          `json:"id"`
	CampaignID string          `json:"campaign_id"`
	ContactID  string          `json:"contact_id"`
	Type       ActivityType    `json:"type"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ActivityMetadata is the known shape stored in Activity.Metadata for send
// outcomes. Unknown provider payloads stay as raw JSON.
type ActivityMetadata struct {
	ProviderMessageID string  `json:"provider_message_id,omitempty"`
	Cost              float64 `json:"cost,omitempty"`
	ErrorCode         string  `json:"error_code,omitempty"`
	ErrorMessage      string  `json:"error_message,omitempty"`
}

// ActivityCounts aggregates activities by type.
type ActivityCounts map[ActivityType]int
