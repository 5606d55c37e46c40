package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxWebhookBody bounds inbound event payloads.
const maxWebhookBody = 1 << 20

// handleWebhookVerify answers the gateway's subscription handshake. The
// challenge is echoed only on a valid subscribe request.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	if mode == "" {
		mode = q.Get("mode")
	}
	token := q.Get("hub.verify_token")
	if token == "" {
		token = q.Get("verify_token")
	}
	challenge := q.Get("hub.challenge")
	if challenge == "" {
		challenge = q.Get("challenge")
	}

	echo, ok := s.reconciler.Verify(mode, token, challenge)
	if !ok {
		s.logger.Warn("webhook verification rejected",
			"org_id", chi.URLParam(r, "orgID"),
			"mode", mode,
			"remote_addr", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(echo))
}

// handleWebhookEvent accepts a gateway event payload. Once the payload is
// accepted the response is always a success ack; partial processing failures
// are logged, never surfaced, so the gateway does not retry-storm.
func (s *Server) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	orgID := chi.URLParam(r, "orgID")
	if err := s.reconciler.Process(orgID, body); err != nil {
		s.logger.Warn("webhook payload rejected", "org_id", orgID, "error", err)
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
