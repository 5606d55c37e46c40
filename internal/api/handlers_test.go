package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reachkit/reachkit/internal/campaign"
	"github.com/reachkit/reachkit/internal/config"
	"github.com/reachkit/reachkit/internal/db"
	"github.com/reachkit/reachkit/internal/models"
	"github.com/reachkit/reachkit/internal/provider"
	"github.com/reachkit/reachkit/internal/repository"
	"github.com/reachkit/reachkit/internal/template"
	"github.com/reachkit/reachkit/internal/webhook"
)

// fakeAdapter answers every gateway call successfully.
type fakeAdapter struct {
	connectionErr error
}

func (f *fakeAdapter) SendMessage(ctx context.Context, msg provider.Message) provider.Result {
	return provider.Result{Success: true, MessageID: "msg-" + msg.To}
}
func (f *fakeAdapter) TestConnection(ctx context.Context) error { return f.connectionErr }
func (f *fakeAdapter) ValidateAddress(address string) bool      { return true }
func (f *fakeAdapter) GetTemplates(ctx context.Context) ([]provider.RemoteTemplate, error) {
	return nil, nil
}
func (f *fakeAdapter) SubmitTemplate(ctx context.Context, tpl *models.Template) (string, error) {
	return "remote-1", nil
}

type testServer struct {
	server    *Server
	adapter   *fakeAdapter
	providers *repository.ProviderRepository
	contacts  *repository.ContactRepository
	campaigns *repository.CampaignRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every pooled connection gets its own :memory: database; pin to one.
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	for _, m := range db.Migrations {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("failed to apply migration: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	campaigns := repository.NewCampaignRepository(conn)
	contacts := repository.NewContactRepository(conn)
	providers := repository.NewProviderRepository(conn)
	templates := repository.NewTemplateRepository(conn)
	activities := repository.NewActivityRepository(conn)
	history := repository.NewHistoryRepository(conn)

	adapter := &fakeAdapter{}
	factory := func(cfg *models.ProviderConfig, logger *slog.Logger, opts ...provider.Option) (provider.Adapter, error) {
		return adapter, nil
	}

	campaignSvc := campaign.NewService(campaign.Repos{
		Campaigns:  campaigns,
		Contacts:   contacts,
		Providers:  providers,
		Templates:  templates,
		Activities: activities,
		History:    history,
	}, config.DispatchConfig{
		Concurrency:   4,
		SendTimeout:   5 * time.Second,
		ProviderQPS:   1000,
		ProviderBurst: 100,
	}, nil, logger)
	campaignSvc.SetAdapterFactory(factory)

	templateSvc := template.NewService(templates, providers, logger)
	templateSvc.SetAdapterFactory(factory)

	reconciler := webhook.NewReconciler(history, activities, contacts, templateSvc, "verify-token-0123456789", logger)

	srv := NewServer(campaignSvc, templateSvc, reconciler, providers, contacts,
		&config.ServerConfig{ListenAddr: ":0"}, nil, logger)
	srv.newAdapter = factory

	return &testServer{
		server:    srv,
		adapter:   adapter,
		providers: providers,
		contacts:  contacts,
		campaigns: campaigns,
	}
}

func (ts *testServer) request(t *testing.T, method, path, orgID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if orgID != "" {
		req.Header.Set("X-Org-ID", orgID)
	}
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func (ts *testServer) seedVerifiedProvider(t *testing.T, orgID string) {
	t.Helper()
	p := &models.ProviderConfig{
		OrgID: orgID,
		Type:  models.ProviderMeta,
		Credentials: models.Credentials{
			Meta: &models.MetaCredentials{AccessToken: "token", PhoneNumberID: "555000"},
		},
	}
	if err := ts.providers.Create(p); err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	if err := ts.providers.SetVerificationStatus(p.ID, models.VerificationVerified); err != nil {
		t.Fatalf("failed to verify provider: %v", err)
	}
}

func (ts *testServer) seedList(t *testing.T, orgID string, phones ...string) string {
	t.Helper()
	list := &models.List{OrgID: orgID, Name: "Subscribers"}
	if err := ts.contacts.CreateList(list); err != nil {
		t.Fatalf("failed to create list: %v", err)
	}
	for i, phone := range phones {
		c := &models.Contact{OrgID: orgID, Name: fmt.Sprintf("Contact %d", i), Phone: phone}
		if err := ts.contacts.CreateContact(c); err != nil {
			t.Fatalf("failed to create contact: %v", err)
		}
		if err := ts.contacts.AddToList(list.ID, c.ID); err != nil {
			t.Fatalf("failed to add contact: %v", err)
		}
	}
	return list.ID
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" {
		t.Errorf("expected ok, got %q", resp.Status)
	}
}

func TestOrgHeaderRequired(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodGet, "/api/v1/campaigns", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without an org header, got %d", w.Code)
	}
}

func TestCampaignCRUD(t *testing.T) {
	ts := newTestServer(t)
	listID := ts.seedList(t, "org-1", "+2348123456701")

	w := ts.request(t, http.MethodPost, "/api/v1/campaigns", "org-1", CampaignRequest{
		Name:    "Spring Sale",
		Content: "Hello {{name}}",
		ListIDs: []string{listID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[models.Campaign](t, w)
	if created.Status != models.CampaignDraft {
		t.Errorf("expected DRAFT, got %s", created.Status)
	}

	w = ts.request(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, "org-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// Another organization cannot see it.
	w = ts.request(t, http.MethodGet, "/api/v1/campaigns/"+created.ID, "org-2", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a foreign org, got %d", w.Code)
	}

	w = ts.request(t, http.MethodPut, "/api/v1/campaigns/"+created.ID, "org-1", CampaignRequest{
		Name:    "Spring Sale v2",
		Content: "Hello again {{name}}",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	updated := decode[models.Campaign](t, w)
	if updated.Name != "Spring Sale v2" {
		t.Errorf("expected the rename, got %q", updated.Name)
	}

	w = ts.request(t, http.MethodGet, "/api/v1/campaigns?search=Spring", "org-1", nil)
	list := decode[CampaignListResponse](t, w)
	if list.Total != 1 {
		t.Errorf("expected one match, got %d", list.Total)
	}

	w = ts.request(t, http.MethodDelete, "/api/v1/campaigns/"+created.ID, "org-1", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestCampaignCreateValidation(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodPost, "/api/v1/campaigns", "org-1", CampaignRequest{Content: "no name"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing name, got %d", w.Code)
	}
}

func TestCampaignSendEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVerifiedProvider(t, "org-1")
	listID := ts.seedList(t, "org-1", "+2348123456701", "+2348123456702")

	w := ts.request(t, http.MethodPost, "/api/v1/campaigns", "org-1", CampaignRequest{
		Name:    "Launch",
		Content: "It is live",
		ListIDs: []string{listID},
	})
	created := decode[models.Campaign](t, w)

	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/send", "org-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	summary := decode[campaign.SendSummary](t, w)
	if summary.SuccessCount != 2 || summary.FailureCount != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	// A second send conflicts with the terminal state.
	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/send", "org-1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a re-send, got %d", w.Code)
	}
}

func TestCampaignSendWithoutProvider(t *testing.T) {
	ts := newTestServer(t)
	listID := ts.seedList(t, "org-1", "+2348123456701")

	w := ts.request(t, http.MethodPost, "/api/v1/campaigns", "org-1", CampaignRequest{
		Name:    "Launch",
		Content: "It is live",
		ListIDs: []string{listID},
	})
	created := decode[models.Campaign](t, w)

	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/send", "org-1", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 without a provider, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCampaignScheduleEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodPost, "/api/v1/campaigns", "org-1", CampaignRequest{Name: "Later"})
	created := decode[models.Campaign](t, w)

	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/schedule", "org-1",
		ScheduleRequest{At: time.Now().Add(time.Hour)})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/pause", "org-1", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/resume", "org-1", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/cancel", "org-1", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}

	// Cancelled is terminal.
	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/pause", "org-1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestTemplateEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVerifiedProvider(t, "org-1")

	w := ts.request(t, http.MethodPost, "/api/v1/templates", "org-1", TemplateRequest{
		Name:       "welcome",
		Components: models.TemplateComponents{Body: "Hello {{name}}"},
		Variables:  []string{"name"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[models.Template](t, w)
	if created.Status != models.TemplatePending {
		t.Errorf("expected PENDING, got %s", created.Status)
	}

	w = ts.request(t, http.MethodPost, "/api/v1/templates/"+created.ID+"/approve", "org-1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// A decided template refuses the opposite decision.
	w = ts.request(t, http.MethodPost, "/api/v1/templates/"+created.ID+"/reject", "org-1",
		RejectRequest{Reason: "too late"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestProviderEndpoints(t *testing.T) {
	ts := newTestServer(t)

	req := ProviderRequest{
		Type: models.ProviderMeta,
		Credentials: models.Credentials{
			Meta: &models.MetaCredentials{AccessToken: "secret-token", PhoneNumberID: "555000"},
		},
	}
	w := ts.request(t, http.MethodPost, "/api/v1/providers", "org-1", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[models.ProviderConfig](t, w)
	if created.Credentials.Meta == nil || created.Credentials.Meta.AccessToken != "" {
		t.Error("expected the access token to be redacted")
	}
	if created.VerificationStatus != models.VerificationPending {
		t.Errorf("expected pending, got %s", created.VerificationStatus)
	}

	// One provider per organization.
	w = ts.request(t, http.MethodPost, "/api/v1/providers", "org-1", req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a second provider, got %d", w.Code)
	}

	w = ts.request(t, http.MethodPost, "/api/v1/providers/"+created.ID+"/test", "org-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := decode[TestResponse](t, w)
	if !result.Verified {
		t.Errorf("expected verification success, got %+v", result)
	}

	w = ts.request(t, http.MethodGet, "/api/v1/providers", "org-1", nil)
	got := decode[models.ProviderConfig](t, w)
	if got.VerificationStatus != models.VerificationVerified {
		t.Errorf("expected verified after the test, got %s", got.VerificationStatus)
	}

	// Other organizations cannot touch it.
	w = ts.request(t, http.MethodPost, "/api/v1/providers/"+created.ID+"/test", "org-2", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a foreign org, got %d", w.Code)
	}
}

func TestProviderCreateInvalidCredentials(t *testing.T) {
	ts := newTestServer(t)
	w := ts.request(t, http.MethodPost, "/api/v1/providers", "org-1", ProviderRequest{
		Type:        models.ProviderMeta,
		Credentials: models.Credentials{Meta: &models.MetaCredentials{}},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
}

func TestWebhookVerifyEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodGet,
		"/webhooks/org-1?hub.mode=subscribe&hub.verify_token=verify-token-0123456789&hub.challenge=42", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "42" {
		t.Errorf("expected the raw challenge echo, got %q", w.Body.String())
	}

	w = ts.request(t, http.MethodGet,
		"/webhooks/org-1?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestWebhookEventEndpoint(t *testing.T) {
	ts := newTestServer(t)

	payload := map[string]any{
		"entry": []map[string]any{{
			"changes": []map[string]any{{
				"field": "messages",
				"value": map[string]any{
					"statuses": []map[string]any{{"id": "wamid.unknown", "status": "delivered"}},
				},
			}},
		}},
	}
	w := ts.request(t, http.MethodPost, "/webhooks/org-1", "", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	ack := decode[map[string]string](t, w)
	if ack["status"] != "received" {
		t.Errorf("expected a received ack, got %v", ack)
	}

	// Even a broken payload gets an ack so the gateway does not retry-storm.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/org-1", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a malformed payload, got %d", rec.Code)
	}
}
