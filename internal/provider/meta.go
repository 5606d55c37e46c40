package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/reachkit/reachkit/internal/models"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// MetaAdapter talks to a Graph-API-style WhatsApp gateway: JSON bodies,
// bearer-token auth, template lifecycle on the business account.
type MetaAdapter struct {
	creds           models.MetaCredentials
	defaultLanguage string
	baseURL         string
	client          *http.Client
	logger          *slog.Logger
}

// NewMeta creates an adapter bound to one organization's Graph credentials.
func NewMeta(creds models.MetaCredentials, defaultLanguage string, logger *slog.Logger, opts ...Option) *MetaAdapter {
	o := buildOptions(defaultGraphBaseURL, opts)
	if defaultLanguage == "" {
		defaultLanguage = "en_US"
	}
	return &MetaAdapter{
		creds:           creds,
		defaultLanguage: defaultLanguage,
		baseURL:         o.baseURL,
		client:          o.httpClient,
		logger:          logger.With("component", "provider.meta"),
	}
}

// graphSendRequest is the wire shape the gateway expects.
type graphSendRequest struct {
	MessagingProduct string         `json:"messaging_product"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Text             *graphText     `json:"text,omitempty"`
	Template         *graphTemplate `json:"template,omitempty"`
}

type graphText struct {
	Body string `json:"body"`
}

type graphTemplate struct {
	Name       string           `json:"name"`
	Language   graphLanguage    `json:"language"`
	Components []graphComponent `json:"components,omitempty"`
}

type graphLanguage struct {
	Code string `json:"code"`
}

type graphComponent struct {
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	Parameters []graphParameter `json:"parameters,omitempty"`
	Buttons    []graphButton    `json:"buttons,omitempty"`
}

type graphParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type graphButton struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type graphSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ValidateAddress applies the phone rules; the Graph gateway only accepts
// international numbers.
func (a *MetaAdapter) ValidateAddress(address string) bool {
	return ValidatePhone(address)
}

// SendMessage delivers one message. Invalid input and missing credentials
// short-circuit before any network call.
func (a *MetaAdapter) SendMessage(ctx context.Context, msg Message) Result {
	if !a.ValidateAddress(msg.To) {
		return failure(CodeInvalidAddress, "not a valid international phone number", msg.To)
	}
	if a.creds.AccessToken == "" || a.creds.PhoneNumberID == "" {
		return failure(CodeMissingCredentials, "access token or phone number id not configured", "")
	}

	req := graphSendRequest{
		MessagingProduct: "whatsapp",
		To:               NormalizePhone(msg.To),
	}
	if msg.TemplateName != "" {
		lang := msg.TemplateLang
		if lang == "" {
			lang = a.defaultLanguage
		}
		req.Type = "template"
		req.Template = &graphTemplate{
			Name:     msg.TemplateName,
			Language: graphLanguage{Code: lang},
		}
		if len(msg.TemplateParams) > 0 {
			params := make([]graphParameter, 0, len(msg.TemplateParams))
			for _, p := range msg.TemplateParams {
				params = append(params, graphParameter{Type: "text", Text: p})
			}
			req.Template.Components = []graphComponent{{Type: "body", Parameters: params}}
		}
	} else {
		req.Type = "text"
		req.Text = &graphText{Body: msg.Body}
	}

	var resp graphSendResponse
	if result := a.post(ctx, "/"+a.creds.PhoneNumberID+"/messages", req, &resp); result != nil {
		return *result
	}

	if len(resp.Messages) == 0 {
		return failure(CodeProviderError, "gateway accepted the request without a message id", "")
	}
	return Result{Success: true, MessageID: resp.Messages[0].ID}
}

// TestConnection verifies the credentials by reading the phone number
// resource.
func (a *MetaAdapter) TestConnection(ctx context.Context) error {
	if a.creds.AccessToken == "" || a.creds.PhoneNumberID == "" {
		return fmt.Errorf("%s: access token or phone number id not configured", CodeMissingCredentials)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/"+a.creds.PhoneNumberID, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.creds.AccessToken)

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

// GetTemplates lists the templates registered on the business account.
func (a *MetaAdapter) GetTemplates(ctx context.Context) ([]RemoteTemplate, error) {
	if a.creds.AccessToken == "" || a.creds.BusinessAccountID == "" {
		return nil, fmt.Errorf("%s: access token or business account id not configured", CodeMissingCredentials)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/"+a.creds.BusinessAccountID+"/message_templates", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.creds.AccessToken)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeGraphError(resp)
	}

	var out struct {
		Data []RemoteTemplate `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Data, nil
}

// SubmitTemplate registers a template on the business account and returns
// the provider-assigned identifier.
func (a *MetaAdapter) SubmitTemplate(ctx context.Context, tpl *models.Template) (string, error) {
	if a.creds.AccessToken == "" || a.creds.BusinessAccountID == "" {
		return "", fmt.Errorf("%s: access token or business account id not configured", CodeMissingCredentials)
	}

	components := []graphComponent{}
	if tpl.Components.Header != "" {
		components = append(components, graphComponent{Type: "HEADER", Text: tpl.Components.Header})
	}
	components = append(components, graphComponent{Type: "BODY", Text: tpl.Components.Body})
	if tpl.Components.Footer != "" {
		components = append(components, graphComponent{Type: "FOOTER", Text: tpl.Components.Footer})
	}
	if len(tpl.Components.Buttons) > 0 {
		buttons := make([]graphButton, 0, len(tpl.Components.Buttons))
		for _, b := range tpl.Components.Buttons {
			buttons = append(buttons, graphButton{Type: b.Type, Text: b.Text, URL: b.URL})
		}
		components = append(components, graphComponent{Type: "BUTTONS", Buttons: buttons})
	}

	req := map[string]any{
		"name":       tpl.Name,
		"category":   tpl.Category,
		"language":   tpl.Language,
		"components": components,
	}

	var resp struct {
		ID string `json:"id"`
	}
	if result := a.post(ctx, "/"+a.creds.BusinessAccountID+"/message_templates", req, &resp); result != nil {
		return "", fmt.Errorf("%s: %s", result.Error.Code, result.Error.Message)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("gateway accepted the template without an id")
	}
	return resp.ID, nil
}

// post sends a JSON request and decodes the response into out. A non-nil
// return is the normalized failure; nil means out is populated.
func (a *MetaAdapter) post(ctx context.Context, path string, body, out any) *Result {
	data, err := json.Marshal(body)
	if err != nil {
		r := failure(CodeProviderError, "marshal request", err.Error())
		return &r
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		r := failure(CodeNetworkError, "create request", err.Error())
		return &r
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.creds.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		r := resultFromTransportError(err)
		return &r
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		gerr := decodeGraphError(resp)
		a.logger.Debug("gateway error", "status", resp.StatusCode, "error", gerr)
		r := failure(CodeProviderError, gerr.Error(), fmt.Sprintf("HTTP %d", resp.StatusCode))
		return &r
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		r := failure(CodeProviderError, "decode response", err.Error())
		return &r
	}
	return nil
}

func decodeGraphError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	var gerr graphError
	if err := json.Unmarshal(body, &gerr); err == nil && gerr.Error.Message != "" {
		return fmt.Errorf("%s (code %d)", gerr.Error.Message, gerr.Error.Code)
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}
