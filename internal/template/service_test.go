package template

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reachkit/reachkit/internal/db"
	"github.com/reachkit/reachkit/internal/models"
	"github.com/reachkit/reachkit/internal/provider"
	"github.com/reachkit/reachkit/internal/repository"
)

// fakeAdapter returns a fixed provider template id, or fails every
// submission when submitErr is set.
type fakeAdapter struct {
	submitID  string
	submitErr error
	submitted []*models.Template
}

func (f *fakeAdapter) SendMessage(ctx context.Context, msg provider.Message) provider.Result {
	return provider.Result{Success: true}
}
func (f *fakeAdapter) TestConnection(ctx context.Context) error { return nil }
func (f *fakeAdapter) ValidateAddress(address string) bool      { return true }
func (f *fakeAdapter) GetTemplates(ctx context.Context) ([]provider.RemoteTemplate, error) {
	return nil, nil
}
func (f *fakeAdapter) SubmitTemplate(ctx context.Context, tpl *models.Template) (string, error) {
	f.submitted = append(f.submitted, tpl)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

type testEnv struct {
	svc       *Service
	templates *repository.TemplateRepository
	providers *repository.ProviderRepository
	adapter   *fakeAdapter
}

func newTestEnv(t *testing.T) *testEnv {
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
	env := &testEnv{
		templates: repository.NewTemplateRepository(conn),
		providers: repository.NewProviderRepository(conn),
		adapter:   &fakeAdapter{submitID: "remote-1"},
	}
	env.svc = NewService(env.templates, env.providers, logger)
	env.svc.SetAdapterFactory(func(cfg *models.ProviderConfig, logger *slog.Logger, opts ...provider.Option) (provider.Adapter, error) {
		return env.adapter, nil
	})
	return env
}

func (e *testEnv) seedProvider(t *testing.T, orgID string, status models.VerificationStatus) {
	t.Helper()
	p := &models.ProviderConfig{
		OrgID: orgID,
		Type:  models.ProviderMeta,
		Credentials: models.Credentials{
			Meta: &models.MetaCredentials{AccessToken: "token", PhoneNumberID: "555000"},
		},
	}
	if err := e.providers.Create(p); err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	if status != models.VerificationPending {
		if err := e.providers.SetVerificationStatus(p.ID, status); err != nil {
			t.Fatalf("failed to set verification status: %v", err)
		}
	}
}

func draft(orgID, name string) *models.Template {
	return &models.Template{
		OrgID:      orgID,
		Name:       name,
		Components: models.TemplateComponents{Body: "Hello {{name}}"},
		Variables:  []string{"name"},
	}
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.seedProvider(t, "org-1", models.VerificationVerified)

	tpl, err := env.svc.Submit(context.Background(), draft("org-1", "welcome"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if tpl.Status != models.TemplatePending {
		t.Errorf("expected PENDING, got %s", tpl.Status)
	}
	if tpl.ProviderTemplateID != "remote-1" {
		t.Errorf("expected the provider-assigned id, got %q", tpl.ProviderTemplateID)
	}
	if tpl.Language != "en_US" || tpl.Category != models.CategoryUtility {
		t.Errorf("expected defaults applied, got %q %q", tpl.Language, tpl.Category)
	}

	got, err := env.templates.GetByID(tpl.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil || got.Status != models.TemplatePending {
		t.Errorf("expected a persisted pending template, got %+v", got)
	}
}

func TestSubmitRequiresVerifiedProvider(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.Submit(context.Background(), draft("org-1", "welcome")); err != ErrNoProvider {
		t.Errorf("expected ErrNoProvider without a provider, got %v", err)
	}

	env.seedProvider(t, "org-1", models.VerificationPending)
	if _, err := env.svc.Submit(context.Background(), draft("org-1", "welcome")); err != ErrNoProvider {
		t.Errorf("expected ErrNoProvider for an unverified provider, got %v", err)
	}
	if len(env.adapter.submitted) != 0 {
		t.Error("expected no provider calls without verification")
	}
}

func TestSubmitProviderRejection(t *testing.T) {
	env := newTestEnv(t)
	env.seedProvider(t, "org-1", models.VerificationVerified)
	env.adapter.submitErr = errors.New("template contains prohibited content")

	if _, err := env.svc.Submit(context.Background(), draft("org-1", "welcome")); err == nil {
		t.Fatal("expected the rejection to surface")
	}

	// No local record exists for a rejected submission.
	list, total, err := env.svc.List("org-1", models.TemplateListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 0 || len(list) != 0 {
		t.Errorf("expected no templates, got %d", total)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedProvider(t, "org-1", models.VerificationVerified)

	noName := draft("org-1", "")
	if _, err := env.svc.Submit(context.Background(), noName); err == nil {
		t.Error("expected an error for a missing name")
	}

	noBody := draft("org-1", "welcome")
	noBody.Components.Body = ""
	if _, err := env.svc.Submit(context.Background(), noBody); err == nil {
		t.Error("expected an error for a missing body")
	}

	badCategory := draft("org-1", "welcome")
	badCategory.Category = "SPAM"
	if _, err := env.svc.Submit(context.Background(), badCategory); err == nil {
		t.Error("expected an error for an unknown category")
	}
}

func TestAdministrativeOverride(t *testing.T) {
	env := newTestEnv(t)
	env.seedProvider(t, "org-1", models.VerificationVerified)

	tpl, err := env.svc.Submit(context.Background(), draft("org-1", "welcome"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := env.svc.Approve("org-1", tpl.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	got, _ := env.templates.GetByID(tpl.ID)
	if got.Status != models.TemplateApproved {
		t.Errorf("expected APPROVED, got %s", got.Status)
	}

	// A decided template is terminal.
	if err := env.svc.Reject("org-1", tpl.ID, "late change of mind"); err != ErrInvalidState {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	if err := env.svc.Approve("org-2", tpl.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for a foreign org, got %v", err)
	}
}

func TestRejectStoresReason(t *testing.T) {
	env := newTestEnv(t)
	env.seedProvider(t, "org-1", models.VerificationVerified)

	tpl, err := env.svc.Submit(context.Background(), draft("org-1", "welcome"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := env.svc.Reject("org-1", tpl.ID, "body too vague"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	got, _ := env.templates.GetByID(tpl.ID)
	if got.Status != models.TemplateRejected {
		t.Errorf("expected REJECTED, got %s", got.Status)
	}
	if got.RejectionReason != "body too vague" {
		t.Errorf("expected the reason to persist, got %q", got.RejectionReason)
	}
}

func TestApplyProviderDecision(t *testing.T) {
	env := newTestEnv(t)
	env.seedProvider(t, "org-1", models.VerificationVerified)

	tpl, err := env.svc.Submit(context.Background(), draft("org-1", "welcome"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := env.svc.ApplyProviderDecision("remote-1", "APPROVED", ""); err != nil {
		t.Fatalf("ApplyProviderDecision failed: %v", err)
	}
	got, _ := env.templates.GetByID(tpl.ID)
	if got.Status != models.TemplateApproved {
		t.Errorf("expected APPROVED, got %s", got.Status)
	}

	// Replay and the opposite decision are both no-ops after the first.
	if err := env.svc.ApplyProviderDecision("remote-1", "APPROVED", ""); err != nil {
		t.Errorf("expected a replay no-op, got %v", err)
	}
	if err := env.svc.ApplyProviderDecision("remote-1", "REJECTED", "x"); err != nil {
		t.Errorf("expected a late reversal no-op, got %v", err)
	}
	got, _ = env.templates.GetByID(tpl.ID)
	if got.Status != models.TemplateApproved {
		t.Errorf("expected the first decision to stick, got %s", got.Status)
	}

	// Unknown ids and unknown events are tolerated.
	if err := env.svc.ApplyProviderDecision("remote-unknown", "APPROVED", ""); err != nil {
		t.Errorf("expected unknown ids to be tolerated, got %v", err)
	}
	if err := env.svc.ApplyProviderDecision("remote-1", "FLAGGED", ""); err != nil {
		t.Errorf("expected unknown events to be tolerated, got %v", err)
	}
}

func TestUpdateProtectsStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedProvider(t, "org-1", models.VerificationVerified)

	tpl, err := env.svc.Submit(context.Background(), draft("org-1", "welcome"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	tpl.Status = models.TemplateApproved
	tpl.ProviderTemplateID = "forged"
	tpl.Components.Body = "Hello again {{name}}"
	if err := env.svc.Update("org-1", tpl); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := env.templates.GetByID(tpl.ID)
	if got.Status != models.TemplatePending {
		t.Errorf("expected status to stay PENDING, got %s", got.Status)
	}
	if got.ProviderTemplateID != "remote-1" {
		t.Errorf("expected the provider reference to stay, got %q", got.ProviderTemplateID)
	}
	if got.Components.Body != "Hello again {{name}}" {
		t.Errorf("expected the body edit to apply, got %q", got.Components.Body)
	}
}
