package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderType discriminates which gateway adapter a configuration drives.
type ProviderType string

const (
	ProviderMeta   ProviderType = "meta"
	ProviderTwilio ProviderType = "twilio"
	ProviderSMTP   ProviderType = "smtp"
)

// VerificationStatus tracks the result of connectivity tests against the
// gateway.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// ProviderConfig holds one organization's gateway credentials. At most one
// configuration exists per organization.
type ProviderConfig struct {
	ID                 string             `json:"id"`
	OrgID              string             `json:"org_id"`
	Type               ProviderType       `json:"type"`
	Credentials        Credentials        `json:"credentials"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	DefaultLanguage    string             `json:"default_language,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Credentials is a tagged union of the known gateway credential shapes.
// Exactly one variant is set for a valid configuration; Raw preserves
// payloads for provider types this build does not know.
type Credentials struct {
	Meta   *MetaCredentials   `json:"meta,omitempty"`
	Twilio *TwilioCredentials `json:"twilio,omitempty"`
	SMTP   *SMTPCredentials   `json:"smtp,omitempty"`
	Raw    json.RawMessage    `json:"raw,omitempty"`
}

// MetaCredentials authenticates against a Graph-API-style gateway.
type MetaCredentials struct {
	AccessToken       string `json:"access_token"`
	PhoneNumberID     string `json:"phone_number_id"`
	BusinessAccountID string `json:"business_account_id"`
}

// TwilioCredentials authenticates against a Twilio-style REST gateway.
type TwilioCredentials struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
	FromNumber string `json:"from_number"`
}

// SMTPCredentials configures the email channel.
type SMTPCredentials struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	FromAddress  string `json:"from_address"`
	DKIMDomain   string `json:"dkim_domain,omitempty"`
	DKIMSelector string `json:"dkim_selector,omitempty"`
	DKIMKeyFile  string `json:"dkim_key_file,omitempty"`
}

// Validate checks that the credential variant matching the provider type is
// present and populated.
func (c Credentials) Validate(typ ProviderType) error {
	switch typ {
	case ProviderMeta:
		if c.Meta == nil || c.Meta.AccessToken == "" || c.Meta.PhoneNumberID == "" {
			return fmt.Errorf("meta credentials require access_token and phone_number_id")
		}
	case ProviderTwilio:
		if c.Twilio == nil || c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "" {
			return fmt.Errorf("twilio credentials require account_sid, auth_token and from_number")
		}
	case ProviderSMTP:
		if c.SMTP == nil || c.SMTP.Host == "" || c.SMTP.FromAddress == "" {
			return fmt.Errorf("smtp credentials require host and from_address")
		}
	default:
		if len(c.Raw) == 0 {
			return fmt.Errorf("unknown provider type %q without raw credentials", typ)
		}
	}
	return nil
}
