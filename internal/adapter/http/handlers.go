package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bleam/bridge/internal/domain"
	"github.com/bleam/bridge/internal/domain/envelope"
	"github.com/bleam/bridge/internal/service"
)

// Controller is the tenant lifecycle surface exposed to the control API.
type Controller interface {
	Start(ctx context.Context, tenantID, credential string) error
	Stop(ctx context.Context, tenantID string) error
}

// WebhookSink accepts verified webhook updates for forwarding.
type WebhookSink interface {
	HandleWebhook(ctx context.Context, tenantID string, upd envelope.Update)
}

// Handlers bundles the HTTP handler dependencies.
type Handlers struct {
	Manager Controller
	Ingest  WebhookSink
	Secrets *service.WebhookSecrets
}

type startRequest struct {
	UserID   flexID `json:"userId"`
	APIToken string `json:"apiToken"`
}

// StartPlatform activates a tenant connection.
func (h *Handlers) StartPlatform(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[startRequest](w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err := h.Manager.Start(r.Context(), string(req.UserID), req.APIToken)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Message: "platform started for " + string(req.UserID)})
	case errors.Is(err, domain.ErrAlreadyActive):
		writeJSON(w, http.StatusOK, messageResponse{Message: "already active"})
	default:
		writeDomainError(w, err, "failed to start platform")
	}
}

type stopRequest struct {
	UserID flexID `json:"userId"`
}

// StopPlatform deactivates a tenant connection.
func (h *Handlers) StopPlatform(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[stopRequest](w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.Manager.Stop(r.Context(), string(req.UserID)); err != nil {
		writeDomainError(w, err, "failed to stop platform")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "platform stopped for " + string(req.UserID)})
}

// Webhook accepts a platform update for a tenant. The embedded secret is the
// only authorization; a mismatch is rejected without side effects. Forwarding
// failures are invisible to the caller: the source platform must not retry
// delivery.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	tenantID := urlParam(r, "userId")
	secret := urlParam(r, "secret")

	if !h.Secrets.Verify(tenantID, secret) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var upd envelope.Update
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.Ingest.HandleWebhook(r.Context(), tenantID, upd)
	w.WriteHeader(http.StatusOK)
}
