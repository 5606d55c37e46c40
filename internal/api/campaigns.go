package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reachkit/reachkit/internal/campaign"
	"github.com/reachkit/reachkit/internal/models"
)

// CampaignRequest is the request body for creating or updating a campaign
type CampaignRequest struct {
	Name       string   `json:"name"`
	Content    string   `json:"content"`
	TemplateID string   `json:"template_id,omitempty"`
	ListIDs    []string `json:"list_ids,omitempty"`
	SegmentIDs []string `json:"segment_ids,omitempty"`
}

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Campaigns []models.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
}

// ScheduleRequest is the request body for POST /campaigns/{id}/schedule
type ScheduleRequest struct {
	At time.Time `json:"at"`
}

func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := &models.Campaign{
		OrgID:      orgID(r),
		Name:       req.Name,
		Content:    req.Content,
		TemplateID: req.TemplateID,
	}
	if err := s.campaigns.Create(c); err != nil {
		s.campaignError(w, err)
		return
	}
	if err := s.campaigns.SetAssociations(c.ID, req.ListIDs, req.SegmentIDs); err != nil {
		s.campaignError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	filter := models.CampaignListFilter{
		Status: models.CampaignStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	campaigns, total, err := s.campaigns.List(orgID(r), filter)
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: campaigns, Total: total})
}

func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	c := &models.Campaign{
		ID:         id,
		Name:       req.Name,
		Content:    req.Content,
		TemplateID: req.TemplateID,
	}
	if err := s.campaigns.Update(orgID(r), c); err != nil {
		s.campaignError(w, err)
		return
	}
	if req.ListIDs != nil || req.SegmentIDs != nil {
		if err := s.campaigns.SetAssociations(id, req.ListIDs, req.SegmentIDs); err != nil {
			s.campaignError(w, err)
			return
		}
	}

	updated, err := s.campaigns.Get(orgID(r), id)
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Delete(orgID(r), chi.URLParam(r, "id")); err != nil {
		s.campaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCampaignDuplicate(w http.ResponseWriter, r *http.Request) {
	dup, err := s.campaigns.Duplicate(orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, dup)
}

func (s *Server) handleCampaignSend(w http.ResponseWriter, r *http.Request) {
	summary, err := s.campaigns.Send(r.Context(), orgID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCampaignSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.At.IsZero() {
		s.sendError(w, http.StatusBadRequest, "at is required")
		return
	}
	if err := s.campaigns.Schedule(orgID(r), chi.URLParam(r, "id"), req.At); err != nil {
		s.campaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCampaignPause(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Pause(orgID(r), chi.URLParam(r, "id")); err != nil {
		s.campaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCampaignResume(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Resume(orgID(r), chi.URLParam(r, "id")); err != nil {
		s.campaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCampaignCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Cancel(orgID(r), chi.URLParam(r, "id")); err != nil {
		s.campaignError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid to date")
		return
	}

	analytics, err := s.campaigns.Analytics(orgID(r), chi.URLParam(r, "id"), from, to)
	if err != nil {
		s.campaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, analytics)
}

// campaignError maps lifecycle errors to HTTP statuses. Conflicts are
// distinguishable from validation failures so clients can retry sensibly.
func (s *Server) campaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrInvalidState):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrNoProvider),
		errors.Is(err, campaign.ErrNoRecipients),
		errors.Is(err, campaign.ErrTemplateNotApproved):
		s.sendError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("campaign request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
