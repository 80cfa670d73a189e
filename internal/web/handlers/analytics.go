package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/znz-systems/courier/internal/analytics"
	"github.com/znz-systems/courier/internal/models"
)

type AnalyticsHandler struct {
	analytics *analytics.Service
}

func NewAnalyticsHandler(analytics *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

type pageJSON struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func readPage(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// HandleQueue lists queue rows, optionally filtered by ?status=.
func (h *AnalyticsHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := readPage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
		return
	}
	q := models.QueueQuery{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
			return
		}
		q.Status = &st
	}

	rows, total, err := h.analytics.ListQueue(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, "list queue", err)
		return
	}

	out := make([]queuedEmailJSON, 0, len(rows))
	for _, v := range rows {
		out = append(out, toQueueViewJSON(v))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"emails": out,
		"page":   pageJSON{Total: total, Limit: limit, Offset: offset},
	})
}

// HandleDeliveryLog lists delivery log entries, optionally filtered by
// ?status= and ?template_id=.
func (h *AnalyticsHandler) HandleDeliveryLog(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := readPage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
		return
	}
	q := models.DeliveryLogQuery{Limit: limit, Offset: offset}
	switch raw := r.URL.Query().Get("status"); raw {
	case "":
	case string(models.LogSent), string(models.LogFailed):
		st := models.LogStatus(raw)
		q.Status = &st
	default:
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "status must be sent or failed"})
		return
	}
	if raw := r.URL.Query().Get("template_id"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid template_id"})
			return
		}
		q.TemplateID = &id
	}

	rows, total, err := h.analytics.ListDeliveryLog(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, "list delivery log", err)
		return
	}

	out := make([]deliveryLogJSON, 0, len(rows))
	for _, v := range rows {
		out = append(out, toDeliveryLogJSON(v))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": out,
		"page":    pageJSON{Total: total, Limit: limit, Offset: offset},
	})
}

// HandleAnalytics reports delivery statistics over ?days= (default 30).
func (h *AnalyticsHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	window := analytics.DefaultWindow
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 || days > 365 {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "days must be between 1 and 365"})
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	summary, err := h.analytics.Summary(r.Context(), window)
	if err != nil {
		writeServiceError(w, r, "build analytics", err)
		return
	}

	writeJSON(w, http.StatusOK, toAnalyticsJSON(summary))
}
