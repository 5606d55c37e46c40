package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reachkit/reachkit/internal/models"
	"github.com/reachkit/reachkit/internal/template"
)

// TemplateRequest is the request body for submitting or updating a template
type TemplateRequest struct {
	Name       string                    `json:"name"`
	Category   models.TemplateCategory   `json:"category"`
	Language   string                    `json:"language"`
	Components models.TemplateComponents `json:"components"`
	Variables  []string                  `json:"variables,omitempty"`
}

// TemplateListResponse is the response for GET /templates
type TemplateListResponse struct {
	Templates []models.Template `json:"templates"`
	Total     int               `json:"total"`
}

// RejectRequest is the request body for POST /templates/{id}/reject
type RejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleTemplateSubmit(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tpl := &models.Template{
		OrgID:      orgID(r),
		Name:       req.Name,
		Category:   req.Category,
		Language:   req.Language,
		Components: req.Components,
		Variables:  req.Variables,
	}
	created, err := s.templates.Submit(r.Context(), tpl)
	if err != nil {
		s.templateError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, created)
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	filter := models.TemplateListFilter{
		Status: models.TemplateStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	templates, total, err := s.templates.List(orgID(r), filter)
	if err != nil {
		s.templateError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, TemplateListResponse{Templates: templates, Total: total})
}

func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.templates.Get(orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.templateError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tpl := &models.Template{
		ID:         chi.URLParam(r, "id"),
		Name:       req.Name,
		Category:   req.Category,
		Language:   req.Language,
		Components: req.Components,
		Variables:  req.Variables,
	}
	if err := s.templates.Update(orgID(r), tpl); err != nil {
		s.templateError(w, err)
		return
	}

	updated, err := s.templates.Get(orgID(r), tpl.ID)
	if err != nil {
		s.templateError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Delete(orgID(r), chi.URLParam(r, "id")); err != nil {
		s.templateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTemplateApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Approve(orgID(r), chi.URLParam(r, "id")); err != nil {
		s.templateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTemplateReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.templates.Reject(orgID(r), chi.URLParam(r, "id"), req.Reason); err != nil {
		s.templateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) templateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, template.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, template.ErrInvalidState):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, template.ErrNoProvider):
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
	case strings.Contains(err.Error(), "required"),
		strings.Contains(err.Error(), "rejected"):
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("template request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}
