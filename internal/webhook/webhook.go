package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/metrics"
	"github.com/reachkit/reachkit/internal/models"
	"github.com/reachkit/reachkit/internal/provider"
	"github.com/reachkit/reachkit/internal/repository"
	"github.com/reachkit/reachkit/internal/template"
)

// Payload is the nested event structure the gateway posts: entries wrap
// changes, each change carries a value with status updates and inbound
// messages.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	Statuses []Status         `json:"statuses,omitempty"`
	Messages []InboundMessage `json:"messages,omitempty"`

	// Template review decisions
	Event             string `json:"event,omitempty"`
	MessageTemplateID any    `json:"message_template_id,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// Status is one delivery state update for a previously sent message.
type Status struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

type StatusError struct {
	Code  int    `json:"code"`
	Title string `json:"title"`
}

// InboundMessage is a message a recipient sent back to the gateway number.
type InboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Reconciler applies gateway webhook events to the local delivery ledger.
type Reconciler struct {
	history     *repository.HistoryRepository
	activities  *repository.ActivityRepository
	contacts    *repository.ContactRepository
	templates   *template.Service
	verifyToken string
	logger      *slog.Logger
}

func NewReconciler(
	history *repository.HistoryRepository,
	activities *repository.ActivityRepository,
	contacts *repository.ContactRepository,
	templates *template.Service,
	verifyToken string,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		history:     history,
		activities:  activities,
		contacts:    contacts,
		templates:   templates,
		verifyToken: verifyToken,
		logger:      logger.With("component", "webhook"),
	}
}

// Verify answers the gateway's subscription handshake. The challenge is
// echoed only for a subscribe request with the exact configured token.
func (r *Reconciler) Verify(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || token != r.verifyToken {
		return "", false
	}
	return challenge, true
}

// Process applies one webhook payload for an organization. A malformed or
// unmatched entry is logged and skipped; only an unparseable envelope is an
// error. Replays are safe: a status update that changes nothing writes
// nothing.
func (r *Reconciler) Process(orgID string, raw []byte) error {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			r.processChange(orgID, change)
		}
	}
	return nil
}

func (r *Reconciler) processChange(orgID string, change Change) {
	if change.Field == "message_template_status_update" {
		r.processTemplateDecision(change.Value)
		return
	}

	for _, st := range change.Value.Statuses {
		if err := r.applyStatus(orgID, st); err != nil {
			r.logger.Warn("status update skipped",
				"provider_message_id", st.ID,
				"status", st.Status,
				"error", err)
		}
	}
	for _, msg := range change.Value.Messages {
		if err := r.processInbound(orgID, msg); err != nil {
			r.logger.Warn("inbound message skipped", "from", msg.From, "error", err)
		}
	}
}

// applyStatus moves one History record forward and appends the matching
// Activity when the state actually changed.
func (r *Reconciler) applyStatus(orgID string, st Status) error {
	hstatus, atype, ok := mapStatus(st.Status)
	if !ok {
		r.logger.Warn("unknown delivery status ignored", "status", st.Status, "provider_message_id", st.ID)
		return nil
	}
	metrics.IncWebhookEvents(st.Status)

	errMsg := ""
	if len(st.Errors) > 0 {
		errMsg = st.Errors[0].Title
	}

	prev, err := r.history.UpdateStatusByProviderMessageID(orgID, st.ID, hstatus, errMsg)
	if err != nil {
		return err
	}
	if prev == nil {
		// At-least-once delivery may reference ids we never stored or have
		// since purged.
		metrics.IncWebhookUnknown()
		r.logger.Info("status update for unknown message id", "provider_message_id", st.ID)
		return nil
	}
	if prev.Status == hstatus || atype == "" {
		return nil
	}

	return r.activities.Create(&models.Activity{
		ID:         uuid.New().String(),
		CampaignID: prev.CampaignID,
		ContactID:  prev.ContactID,
		Type:       atype,
		CreatedAt:  time.Now(),
	})
}

// processInbound handles replies. A STOP keyword opts the contact out and
// records an UNSUBSCRIBED activity against the campaign that last messaged
// them.
func (r *Reconciler) processInbound(orgID string, msg InboundMessage) error {
	metrics.IncWebhookEvents("inbound")
	if !isOptOut(msg.Text.Body) {
		return nil
	}

	// Gateways report the sender as bare digits; operators store formatted
	// numbers. Match on the normalized form, same as the send path.
	from := provider.NormalizePhone(msg.From)
	contact, err := r.contacts.FindByAddress(orgID, from)
	if err != nil {
		return err
	}
	if contact == nil {
		r.logger.Info("opt-out from unknown address", "from", msg.From)
		return nil
	}
	if err := r.contacts.SetOptedOut(contact.ID, true); err != nil {
		return err
	}
	r.logger.Info("contact opted out", "contact_id", contact.ID)

	last, err := r.history.LatestByAddress(orgID, from)
	if err != nil || last == nil {
		return err
	}
	return r.activities.Create(&models.Activity{
		ID:         uuid.New().String(),
		CampaignID: last.CampaignID,
		ContactID:  contact.ID,
		Type:       models.ActivityUnsubscribed,
		CreatedAt:  time.Now(),
	})
}

func (r *Reconciler) processTemplateDecision(v Value) {
	metrics.IncWebhookEvents("template_decision")
	id := fmt.Sprintf("%v", v.MessageTemplateID)
	if id == "" || id == "<nil>" {
		r.logger.Warn("template decision without template id", "event", v.Event)
		return
	}
	if err := r.templates.ApplyProviderDecision(id, v.Event, v.Reason); err != nil {
		r.logger.Warn("template decision failed", "provider_template_id", id, "error", err)
	}
}

// mapStatus translates a gateway status string to the ledger's history
// status and activity type. The send pipeline already wrote the SENT
// activity, so "sent" maps to no activity.
func mapStatus(s string) (models.HistoryStatus, models.ActivityType, bool) {
	switch strings.ToLower(s) {
	case "sent":
		return models.HistorySent, "", true
	case "delivered":
		return models.HistoryDelivered, models.ActivityDelivered, true
	case "read":
		return models.HistoryRead, models.ActivityRead, true
	case "failed":
		return models.HistoryFailed, models.ActivityFailed, true
	case "undelivered":
		return models.HistoryFailed, models.ActivityBounced, true
	default:
		return "", "", false
	}
}

var optOutKeywords = map[string]struct{}{
	"STOP":        {},
	"UNSUBSCRIBE": {},
	"CANCEL":      {},
	"QUIT":        {},
}

func isOptOut(body string) bool {
	_, ok := optOutKeywords[strings.ToUpper(strings.TrimSpace(body))]
	return ok
}
