package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reachkit/reachkit/internal/models"
	"github.com/reachkit/reachkit/internal/repository"
)

// ProviderRequest is the request body for configuring a provider
type ProviderRequest struct {
	Type            models.ProviderType `json:"type"`
	Credentials     models.Credentials  `json:"credentials"`
	DefaultLanguage string              `json:"default_language,omitempty"`
}

func (s *Server) handleProviderCreate(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Credentials.Validate(req.Type); err != nil {
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	cfg := &models.ProviderConfig{
		OrgID:           orgID(r),
		Type:            req.Type,
		Credentials:     req.Credentials,
		DefaultLanguage: req.DefaultLanguage,
	}
	if err := s.providers.Create(cfg); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.sendError(w, http.StatusConflict, "organization already has a provider configured")
			return
		}
		s.logger.Error("provider create failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.sendJSON(w, http.StatusCreated, redact(cfg))
}

func (s *Server) handleProviderGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.providers.GetByOrg(orgID(r))
	if err != nil {
		s.logger.Error("provider get failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if cfg == nil {
		s.sendError(w, http.StatusNotFound, "no provider configured")
		return
	}
	s.sendJSON(w, http.StatusOK, redact(cfg))
}

func (s *Server) handleProviderUpdate(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Credentials.Validate(req.Type); err != nil {
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	cfg, err := s.ownedProvider(r)
	if err != nil {
		s.providerError(w, err)
		return
	}

	cfg.Type = req.Type
	cfg.Credentials = req.Credentials
	cfg.DefaultLanguage = req.DefaultLanguage
	// Credential changes invalidate any previous verification.
	cfg.VerificationStatus = models.VerificationPending
	if err := s.providers.Update(cfg); err != nil {
		s.providerError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, redact(cfg))
}

func (s *Server) handleProviderDelete(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ownedProvider(r)
	if err != nil {
		s.providerError(w, err)
		return
	}
	if err := s.providers.Delete(cfg.ID); err != nil {
		s.providerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestResponse is the response for POST /providers/{id}/test
type TestResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// handleProviderTest exercises the stored credentials against the live
// gateway and records the verification outcome. Only a verified provider is
// eligible for dispatch.
func (s *Server) handleProviderTest(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ownedProvider(r)
	if err != nil {
		s.providerError(w, err)
		return
	}

	adapter, err := s.newAdapter(cfg, s.logger)
	if err != nil {
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	status := models.VerificationVerified
	resp := TestResponse{Verified: true}
	if err := adapter.TestConnection(r.Context()); err != nil {
		status = models.VerificationFailed
		resp = TestResponse{Verified: false, Error: err.Error()}
	}

	if err := s.providers.SetVerificationStatus(cfg.ID, status); err != nil {
		s.providerError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

var errProviderNotFound = errors.New("provider not found")

// ownedProvider loads the provider at {id} and checks it belongs to the
// caller's organization.
func (s *Server) ownedProvider(r *http.Request) (*models.ProviderConfig, error) {
	cfg, err := s.providers.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if cfg == nil || cfg.OrgID != orgID(r) {
		return nil, errProviderNotFound
	}
	return cfg, nil
}

func (s *Server) providerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errProviderNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("provider request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// redact strips secrets before a provider config leaves the API.
func redact(cfg *models.ProviderConfig) *models.ProviderConfig {
	out := *cfg
	out.Credentials = models.Credentials{}
	if cfg.Credentials.Meta != nil {
		c := *cfg.Credentials.Meta
		c.AccessToken = ""
		out.Credentials.Meta = &c
	}
	if cfg.Credentials.Twilio != nil {
		c := *cfg.Credentials.Twilio
		c.AuthToken = ""
		out.Credentials.Twilio = &c
	}
	if cfg.Credentials.SMTP != nil {
		c := *cfg.Credentials.SMTP
		c.Password = ""
		out.Credentials.SMTP = &c
	}
	return &out
}
