package repository

import (
	"testing"

	"github.com/reachkit/reachkit/internal/models"
)

func pendingTemplate(orgID, name string) *models.Template {
	return &models.Template{
		OrgID:    orgID,
		Name:     name,
		Category: models.CategoryMarketing,
		Language: "en_US",
		Components: models.TemplateComponents{
			Body: "Hello {{name}}",
		},
		Variables:          []string{"name"},
		ProviderTemplateID: "ptid-" + name,
	}
}

func TestTemplateCreateDefaultsPending(t *testing.T) {
	repo := NewTemplateRepository(setupTestDB(t))

	tpl := pendingTemplate("org-1", "welcome")
	if err := repo.Create(tpl); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if tpl.Status != models.TemplatePending {
		t.Errorf("expected PENDING, got %s", tpl.Status)
	}

	got, err := repo.GetByID(tpl.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Components.Body != "Hello {{name}}" {
		t.Errorf("components did not round-trip: %+v", got.Components)
	}
}

func TestTemplateTransitionStatusTerminal(t *testing.T) {
	repo := NewTemplateRepository(setupTestDB(t))

	tpl := pendingTemplate("org-1", "welcome")
	if err := repo.Create(tpl); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.TransitionStatus(tpl.ID, models.TemplateApproved, ""); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	// APPROVED is terminal, a later rejection must not apply.
	if err := repo.TransitionStatus(tpl.ID, models.TemplateRejected, "nope"); err != ErrConflict {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	got, err := repo.GetByID(tpl.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.TemplateApproved {
		t.Errorf("expected APPROVED, got %s", got.Status)
	}
}

func TestTemplateRejectionStoresReason(t *testing.T) {
	repo := NewTemplateRepository(setupTestDB(t))

	tpl := pendingTemplate("org-1", "promo")
	if err := repo.Create(tpl); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.TransitionStatus(tpl.ID, models.TemplateRejected, "policy violation"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	got, err := repo.GetByID(tpl.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.TemplateRejected {
		t.Errorf("expected REJECTED, got %s", got.Status)
	}
	if got.RejectionReason != "policy violation" {
		t.Errorf("expected rejection reason, got %q", got.RejectionReason)
	}
}

func TestTemplateGetByProviderTemplateID(t *testing.T) {
	repo := NewTemplateRepository(setupTestDB(t))

	tpl := pendingTemplate("org-1", "welcome")
	if err := repo.Create(tpl); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByProviderTemplateID("ptid-welcome")
	if err != nil {
		t.Fatalf("GetByProviderTemplateID failed: %v", err)
	}
	if got == nil || got.ID != tpl.ID {
		t.Errorf("expected template, got %+v", got)
	}

	missing, err := repo.GetByProviderTemplateID("ptid-unknown")
	if err != nil {
		t.Fatalf("GetByProviderTemplateID failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown provider template id")
	}
}

func TestTemplateUniquePerOrgNameLanguage(t *testing.T) {
	repo := NewTemplateRepository(setupTestDB(t))

	if err := repo.Create(pendingTemplate("org-1", "welcome")); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	dup := pendingTemplate("org-1", "welcome")
	dup.ProviderTemplateID = "ptid-other"
	if err := repo.Create(dup); err != ErrConflict {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}
}
