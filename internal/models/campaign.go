package models

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignSent      CampaignStatus = "SENT"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignSent || s == CampaignCancelled
}

// Campaign is a single outbound messaging run targeting a resolved
// recipient set.
type Campaign struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	Name        string         `json:"name"`
	Content     string         `json:"content"`
	TemplateID  string         `json:"template_id,omitempty"`
	ProviderID  string         `json:"provider_id,omitempty"`
	Status      CampaignStatus `json:"status"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}

// CampaignAnalytics is the aggregate view of a campaign's activity ledger.
// Rates are fractions of sent; all are zero when nothing was sent.
type CampaignAnalytics struct {
	Sent            int     `json:"sent"`
	Delivered       int     `json:"delivered"`
	Read            int     `json:"read"`
	Failed          int     `json:"failed"`
	Bounced         int     `json:"bounced"`
	Unsubscribed    int     `json:"unsubscribed"`
	DeliveryRate    float64 `json:"delivery_rate"`
	ReadRate        float64 `json:"read_rate"`
	FailureRate     float64 `json:"failure_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
}
