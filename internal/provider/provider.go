package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/reachkit/reachkit/internal/models"
)

// Error codes carried in Result.Error. Callers branch on Result.Success
// only; codes exist for the audit trail and observability.
const (
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeNetworkError       = "NETWORK_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeProviderError      = "PROVIDER_ERROR"
)

// Message is one outbound message for a single recipient. Either Body is
// set (free-text send) or Template names an approved provider template.
type Message struct {
	To             string
	Body           string
	TemplateName   string
	TemplateLang   string
	TemplateParams []string
}

// Error is the normalized failure payload of a send.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the single normalized outcome shape for every gateway
// operation that can fail per-message.
type Result struct {
	Success   bool    `json:"success"`
	MessageID string  `json:"message_id,omitempty"`
	Cost      float64 `json:"cost,omitempty"`
	Error     *Error  `json:"error,omitempty"`
}

// RemoteTemplate is a template as the gateway reports it.
type RemoteTemplate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

// Adapter is the normalized interface to one external messaging gateway.
// Implementations must validate the address and credentials before any
// network call and must bound every network call with a timeout.
type Adapter interface {
	SendMessage(ctx context.Context, msg Message) Result
	TestConnection(ctx context.Context) error
	ValidateAddress(address string) bool
	GetTemplates(ctx context.Context) ([]RemoteTemplate, error)
	SubmitTemplate(ctx context.Context, tpl *models.Template) (string, error)
}

func failure(code, message, detail string) Result {
	return Result{Error: &Error{Code: code, Message: message, Detail: detail}}
}

// options tune an adapter's transport. Defaults suit production; tests
// override the base URL and client.
type options struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*options)

// WithBaseURL overrides the gateway base URL.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient overrides the HTTP client used to talk to the gateway.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(defaultBaseURL string, opts []Option) options {
	o := options{
		baseURL: defaultBaseURL,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	return o
}

// resultFromTransportError maps a failed HTTP round trip into the
// normalized result shape.
func resultFromTransportError(err error) Result {
	if isTimeout(err) {
		return failure(CodeTimeout, "gateway call timed out", err.Error())
	}
	return failure(CodeNetworkError, "gateway unreachable", err.Error())
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeout); ok && t.Timeout() {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return false
}
