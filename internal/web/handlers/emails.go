package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/znz-systems/courier/internal/delivery"
	"github.com/znz-systems/courier/internal/queue"
)

// EmailHandler serves single-email queueing, cancellation and on-demand
// queue processing.
type EmailHandler struct {
	manager   *queue.Manager
	processor *delivery.Processor
}

func NewEmailHandler(manager *queue.Manager, processor *delivery.Processor) *EmailHandler {
	return &EmailHandler{
		manager:   manager,
		processor: processor,
	}
}

type queueEmailRequest struct {
	TemplateID      *int64        `json:"template_id"`
	UserID          int64         `json:"user_id" validate:"gt=0"`
	CustomSubject   string        `json:"custom_subject"`
	CustomBody      string        `json:"custom_body"`
	ScheduleTime    *scheduleSpec `json:"schedule_time"`
	SendImmediately bool          `json:"send_immediately"`
}

type queueEmailResponse struct {
	OK            bool                  `json:"ok"`
	Email         queuedEmailJSON       `json:"email"`
	Delivery      *delivery.BatchResult `json:"delivery,omitempty"`
	DeliveryError string                `json:"delivery_error,omitempty"`
}

// HandleQueueEmail queues one email. With send_immediately the new row is
// processed right away if it is already due. The row is queued either way,
// so a failed delivery attempt is reported in the 201 body.
func (h *EmailHandler) HandleQueueEmail(w http.ResponseWriter, r *http.Request) {
	var req queueEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	email, err := h.manager.Enqueue(r.Context(), queue.EnqueueRequest{
		TemplateID:  req.TemplateID,
		RecipientID: req.UserID,
		Subject:     req.CustomSubject,
		Body:        req.CustomBody,
		Schedule:    req.ScheduleTime.value(),
	})
	if err != nil {
		writeServiceError(w, r, "queue email", err)
		return
	}

	resp := queueEmailResponse{OK: true, Email: toQueuedEmailJSON(email)}
	if req.SendImmediately {
		result, err := h.processor.ProcessBatch(r.Context(), 1, &email.ID)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to process queued email", "queued_email_id", email.ID, "error", err)
			resp.DeliveryError = deliveryErrorMessage
		} else {
			resp.Delivery = result
		}
		if row, err := h.manager.Get(r.Context(), email.ID); err == nil {
			resp.Email = toQueuedEmailJSON(row)
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

type scheduleEmailRequest struct {
	TemplateID    *int64    `json:"template_id"`
	UserID        int64     `json:"user_id" validate:"gt=0"`
	CustomSubject string    `json:"custom_subject"`
	CustomBody    string    `json:"custom_body"`
	ScheduledAt   time.Time `json:"scheduled_at" validate:"required"`
}

// HandleScheduleEmail queues one email for an absolute future time.
func (h *EmailHandler) HandleScheduleEmail(w http.ResponseWriter, r *http.Request) {
	var req scheduleEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	email, err := h.manager.Schedule(r.Context(), queue.EnqueueRequest{
		TemplateID:  req.TemplateID,
		RecipientID: req.UserID,
		Subject:     req.CustomSubject,
		Body:        req.CustomBody,
	}, req.ScheduledAt)
	if err != nil {
		writeServiceError(w, r, "schedule email", err)
		return
	}

	writeJSON(w, http.StatusCreated, queueEmailResponse{OK: true, Email: toQueuedEmailJSON(email)})
}

// HandleCancelEmail cancels a pending email.
func (h *EmailHandler) HandleCancelEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid email id"})
		return
	}

	cancelled, err := h.manager.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "cancel email", err)
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: "email not found or not pending"})
		return
	}

	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

type processQueueRequest struct {
	Limit   int    `json:"limit" validate:"gte=0,lte=500"`
	EmailID *int64 `json:"email_id" validate:"omitempty,gt=0"`
}

// HandleProcessQueue runs one delivery batch. An empty body processes the
// default batch size.
func (h *EmailHandler) HandleProcessQueue(w http.ResponseWriter, r *http.Request) {
	var req processQueueRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	result, err := h.processor.ProcessBatch(r.Context(), req.Limit, req.EmailID)
	if err != nil {
		writeServiceError(w, r, "process queue", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
