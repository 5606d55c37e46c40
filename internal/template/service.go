package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reachkit/reachkit/internal/models"
	"github.com/reachkit/reachkit/internal/provider"
	"github.com/reachkit/reachkit/internal/repository"
)

var (
	ErrNotFound     = errors.New("template not found")
	ErrNoProvider   = errors.New("no verified provider configured")
	ErrInvalidState = errors.New("template already in a terminal state")
)

// AdapterFactory builds the gateway adapter for a provider configuration.
type AdapterFactory func(cfg *models.ProviderConfig, logger *slog.Logger, opts ...provider.Option) (provider.Adapter, error)

// Service is the template registry: it submits templates to the provider for
// review and tracks their approval state locally.
type Service struct {
	templates *repository.TemplateRepository
	providers *repository.ProviderRepository
	logger    *slog.Logger

	newAdapter AdapterFactory
}

func NewService(templates *repository.TemplateRepository, providers *repository.ProviderRepository, logger *slog.Logger) *Service {
	return &Service{
		templates:  templates,
		providers:  providers,
		logger:     logger.With("component", "template"),
		newAdapter: provider.New,
	}
}

// SetAdapterFactory overrides gateway adapter construction. Used by tests.
func (s *Service) SetAdapterFactory(f AdapterFactory) { s.newAdapter = f }

// Submit registers a template with the organization's provider for review.
// A provider-side rejection surfaces to the caller and no local record is
// created.
func (s *Service) Submit(ctx context.Context, tpl *models.Template) (*models.Template, error) {
	if err := validateSpec(tpl); err != nil {
		return nil, err
	}

	pcfg, err := s.providers.GetByOrg(tpl.OrgID)
	if err != nil {
		return nil, err
	}
	if pcfg == nil || pcfg.VerificationStatus != models.VerificationVerified {
		return nil, ErrNoProvider
	}

	adapter, err := s.newAdapter(pcfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("build provider adapter: %w", err)
	}

	providerID, err := adapter.SubmitTemplate(ctx, tpl)
	if err != nil {
		return nil, fmt.Errorf("provider rejected template submission: %w", err)
	}

	tpl.ProviderTemplateID = providerID
	tpl.Status = models.TemplatePending
	if err := s.templates.Create(tpl); err != nil {
		return nil, err
	}

	s.logger.Info("template submitted",
		"template_id", tpl.ID,
		"provider_template_id", providerID,
		"name", tpl.Name)
	return tpl, nil
}

// Get returns a template scoped to the organization.
func (s *Service) Get(orgID, id string) (*models.Template, error) {
	t, err := s.templates.GetByID(id)
	if err != nil {
		return nil, err
	}
	if t == nil || t.OrgID != orgID {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns the organization's templates with the total match count.
func (s *Service) List(orgID string, filter models.TemplateListFilter) ([]models.Template, int, error) {
	return s.templates.List(orgID, filter)
}

// Update saves edits to a template's content. Status and the provider
// reference are not writable here.
func (s *Service) Update(orgID string, tpl *models.Template) error {
	existing, err := s.Get(orgID, tpl.ID)
	if err != nil {
		return err
	}
	tpl.OrgID = existing.OrgID
	tpl.Status = existing.Status
	tpl.ProviderTemplateID = existing.ProviderTemplateID
	return s.templates.Update(tpl)
}

// Delete removes a template.
func (s *Service) Delete(orgID, id string) error {
	if _, err := s.Get(orgID, id); err != nil {
		return err
	}
	return s.templates.Delete(id)
}

// Approve is the administrative override for a pending template. The
// authoritative transition normally arrives via webhook.
func (s *Service) Approve(orgID, id string) error {
	return s.transition(orgID, id, models.TemplateApproved, "")
}

// Reject is the administrative override for a pending template.
func (s *Service) Reject(orgID, id, reason string) error {
	return s.transition(orgID, id, models.TemplateRejected, reason)
}

func (s *Service) transition(orgID, id string, to models.TemplateStatus, reason string) error {
	if _, err := s.Get(orgID, id); err != nil {
		return err
	}
	if err := s.templates.TransitionStatus(id, to, reason); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrInvalidState
		}
		return err
	}
	return nil
}

// ApplyProviderDecision records a provider-side review outcome delivered by
// webhook, keyed by the provider-assigned template id. An unknown id or a
// template already decided is a no-op.
func (s *Service) ApplyProviderDecision(providerTemplateID, status, reason string) error {
	t, err := s.templates.GetByProviderTemplateID(providerTemplateID)
	if err != nil {
		return err
	}
	if t == nil {
		s.logger.Warn("template decision for unknown provider template id",
			"provider_template_id", providerTemplateID)
		return nil
	}

	var to models.TemplateStatus
	switch strings.ToUpper(status) {
	case "APPROVED":
		to = models.TemplateApproved
	case "REJECTED":
		to = models.TemplateRejected
	default:
		s.logger.Warn("unknown template decision", "status", status, "template_id", t.ID)
		return nil
	}

	err = s.templates.TransitionStatus(t.ID, to, reason)
	if errors.Is(err, repository.ErrConflict) {
		// Already decided, webhook replay is expected.
		return nil
	}
	if err == nil {
		s.logger.Info("template decision applied", "template_id", t.ID, "status", to)
	}
	return err
}

func validateSpec(tpl *models.Template) error {
	if tpl.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if tpl.Components.Body == "" {
		return fmt.Errorf("template body is required")
	}
	if tpl.Language == "" {
		tpl.Language = "en_US"
	}
	switch tpl.Category {
	case models.CategoryAuthentication, models.CategoryMarketing, models.CategoryUtility:
	case "":
		tpl.Category = models.CategoryUtility
	default:
		return fmt.Errorf("unknown template category: %q", tpl.Category)
	}
	return nil
}
