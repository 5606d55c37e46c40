package models

import "time"

// TemplateStatus is the provider-controlled approval state of a template.
type TemplateStatus string

const (
	TemplatePending  TemplateStatus = "PENDING"
	TemplateApproved TemplateStatus = "APPROVED"
	TemplateRejected TemplateStatus = "REJECTED"
)

// TemplateCategory classifies a template per provider rules.
type TemplateCategory string

const (
	CategoryAuthentication TemplateCategory = "AUTHENTICATION"
	CategoryMarketing      TemplateCategory = "MARKETING"
	CategoryUtility        TemplateCategory = "UTILITY"
)

// Template is a provider-registered, parameterized message shape subject
// to approval. Components hold the provider-specific structure
// (header/body/footer/buttons).
type Template struct {
	ID                 string             `json:"id"`
	OrgID              string             `json:"org_id"`
	Name               string             `json:"name"`
	Category           TemplateCategory   `json:"category"`
	Language           string             `json:"language"`
	Components         TemplateComponents `json:"components"`
	Variables          []string           `json:"variables,omitempty"`
	Status             TemplateStatus     `json:"status"`
	ProviderTemplateID string             `json:"provider_template_id,omitempty"`
	RejectionReason    string             `json:"rejection_reason,omitempty"`
	CreatedBy          string             `json:"created_by,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// TemplateComponents is the structured body of a template.
type TemplateComponents struct {
	Header  string           `json:"header,omitempty"`
	Body    string           `json:"body"`
	Footer  string           `json:"footer,omitempty"`
	Buttons []TemplateButton `json:"buttons,omitempty"`
}

// TemplateButton is a single call-to-action or quick-reply button.
type TemplateButton struct {
	Type string `json:"type"` // QUICK_REPLY, URL, PHONE_NUMBER
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// TemplateListFilter for filtering templates
type TemplateListFilter struct {
	Status TemplateStatus
	Limit  int
	Offset int
}
