package models

import "time"

// Contact is an addressable person in an organization's audience.
type Contact struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	OptedOut  bool      `json:"opted_out"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List is a manually curated set of contacts.
type List struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Segment is a rule-derived set of contacts. Membership is materialized the
// same way as lists; the rule evaluation itself lives outside this subsystem.
type Segment struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Recipient is a dispatch target produced by the resolver. It is transient
// and never persisted as its own entity.
type Recipient struct {
	ContactID string
	Name      string
	Address   string
}
