package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/znz-systems/courier/internal/mail"
	"github.com/znz-systems/courier/internal/personalize"
)

// SettingsHandler serves the transport test and the placeholder catalog.
type SettingsHandler struct {
	transport mail.Transport
	company   personalize.Company
}

func NewSettingsHandler(transport mail.Transport, company personalize.Company) *SettingsHandler {
	return &SettingsHandler{
		transport: transport,
		company:   company,
	}
}

type testEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// HandleTestEmail sends a fixed message through the configured transport.
func (h *SettingsHandler) HandleTestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	subject := fmt.Sprintf("Test Email - %s", h.company.Name)
	body := fmt.Sprintf("<h2>Email configuration test</h2><p>This message confirms that %s can deliver email.</p>", h.company.Name)

	if err := h.transport.Send(r.Context(), req.Email, subject, body); err != nil {
		slog.ErrorContext(r.Context(), "test email failed", "recipient", mail.RedactAddress(req.Email), "error", err)
		writeJSON(w, http.StatusBadGateway, jsonResponse{Error: "test email could not be sent"})
		return
	}

	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleVariables lists the supported personalization placeholders.
func (h *SettingsHandler) HandleVariables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"variables": personalize.Variables()})
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, jsonResponse{Error: "database unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}
