package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/reachkit/reachkit/internal/models"
)

const defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioAdapter talks to a Twilio-style REST gateway: form-encoded bodies,
// basic-auth credentials, per-message pricing in the response.
type TwilioAdapter struct {
	creds   models.TwilioCredentials
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewTwilio creates an adapter bound to one organization's account.
func NewTwilio(creds models.TwilioCredentials, logger *slog.Logger, opts ...Option) *TwilioAdapter {
	o := buildOptions(defaultTwilioBaseURL, opts)
	return &TwilioAdapter{
		creds:   creds,
		baseURL: o.baseURL,
		client:  o.httpClient,
		logger:  logger.With("component", "provider.twilio"),
	}
}

type twilioSendResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Price   string `json:"price"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ValidateAddress applies the phone rules.
func (a *TwilioAdapter) ValidateAddress(address string) bool {
	return ValidatePhone(address)
}

// SendMessage delivers one SMS. The gateway ignores template structure;
// callers pass fully rendered text in Body.
func (a *TwilioAdapter) SendMessage(ctx context.Context, msg Message) Result {
	if !a.ValidateAddress(msg.To) {
		return failure(CodeInvalidAddress, "not a valid international phone number", msg.To)
	}
	if a.creds.AccountSID == "" || a.creds.AuthToken == "" {
		return failure(CodeMissingCredentials, "account sid or auth token not configured", "")
	}

	params := url.Values{}
	params.Set("To", "+"+NormalizePhone(msg.To))
	params.Set("From", a.creds.FromNumber)
	params.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", a.baseURL, url.PathEscape(a.creds.AccountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return failure(CodeNetworkError, "create request", err.Error())
	}
	httpReq.SetBasicAuth(a.creds.AccountSID, a.creds.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return resultFromTransportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	var out twilioSendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return failure(CodeProviderError, "decode response", err.Error())
	}

	if resp.StatusCode >= 400 {
		a.logger.Debug("gateway error", "status", resp.StatusCode, "code", out.Code, "message", out.Message)
		return failure(CodeProviderError, out.Message, strconv.Itoa(out.Code))
	}
	if out.SID == "" {
		return failure(CodeProviderError, "gateway accepted the request without a sid", "")
	}

	result := Result{Success: true, MessageID: out.SID}
	if out.Price != "" {
		// Prices arrive as negative decimal strings; record the magnitude.
		if p, err := strconv.ParseFloat(strings.TrimPrefix(out.Price, "-"), 64); err == nil {
			result.Cost = p
		}
	}
	return result
}

// TestConnection verifies the credentials by reading the account resource.
func (a *TwilioAdapter) TestConnection(ctx context.Context) error {
	if a.creds.AccountSID == "" || a.creds.AuthToken == "" {
		return fmt.Errorf("%s: account sid or auth token not configured", CodeMissingCredentials)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s.json", a.baseURL, url.PathEscape(a.creds.AccountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(a.creds.AccountSID, a.creds.AuthToken)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway rejected credentials: HTTP %d", resp.StatusCode)
	}
	return nil
}

// GetTemplates is a no-op: this gateway has no template registry.
func (a *TwilioAdapter) GetTemplates(ctx context.Context) ([]RemoteTemplate, error) {
	return nil, nil
}

// SubmitTemplate is unsupported: the gateway sends rendered text only.
func (a *TwilioAdapter) SubmitTemplate(ctx context.Context, tpl *models.Template) (string, error) {
	return "", fmt.Errorf("twilio gateway does not support template submission")
}
