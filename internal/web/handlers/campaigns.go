package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/znz-systems/courier/internal/campaign"
	"github.com/znz-systems/courier/internal/delivery"
)

type CampaignHandler struct {
	campaigns *campaign.Service
	processor *delivery.Processor
}

func NewCampaignHandler(campaigns *campaign.Service, processor *delivery.Processor) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		processor: processor,
	}
}

type createCampaignRequest struct {
	Name            string        `json:"name"`
	TemplateID      *int64        `json:"template_id"`
	CustomSubject   string        `json:"custom_subject"`
	CustomBody      string        `json:"custom_body"`
	UserIDs         []int64       `json:"user_ids" validate:"required,min=1"`
	CreatedBy       string        `json:"created_by"`
	ScheduleTime    *scheduleSpec `json:"schedule_time"`
	SendImmediately bool          `json:"send_immediately"`
}

type createCampaignResponse struct {
	OK            bool                        `json:"ok"`
	Campaign      campaignJSON                `json:"campaign"`
	Queued        int                         `json:"queued"`
	Total         int                         `json:"total"`
	Skipped       []campaign.SkippedRecipient `json:"skipped"`
	Delivery      *delivery.BatchResult       `json:"delivery,omitempty"`
	DeliveryError string                      `json:"delivery_error,omitempty"`
}

// HandleCreateCampaign fans a message out to the given users. With
// send_immediately one batch sized to the queued count is processed.
func (h *CampaignHandler) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.campaigns.CreateCampaign(r.Context(), campaign.CampaignRequest{
		Name:         req.Name,
		TemplateID:   req.TemplateID,
		Subject:      req.CustomSubject,
		Body:         req.CustomBody,
		RecipientIDs: req.UserIDs,
		CreatedBy:    req.CreatedBy,
		Schedule:     req.ScheduleTime.value(),
	})
	if err != nil {
		writeServiceError(w, r, "create campaign", err)
		return
	}

	resp := createCampaignResponse{
		OK:       true,
		Campaign: toCampaignJSON(res.Campaign),
		Queued:   res.Queued,
		Total:    res.Total,
		Skipped:  res.Skipped,
	}
	if resp.Skipped == nil {
		resp.Skipped = []campaign.SkippedRecipient{}
	}
	if req.SendImmediately && res.Queued > 0 {
		result, err := h.processor.ProcessBatch(r.Context(), res.Queued, nil)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to process campaign batch", "campaign_id", res.Campaign.ID, "error", err)
			resp.DeliveryError = deliveryErrorMessage
		} else {
			resp.Delivery = result
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *CampaignHandler) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid campaign id"})
		return
	}

	c, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "get campaign", err)
		return
	}

	writeJSON(w, http.StatusOK, toCampaignJSON(c))
}

func (h *CampaignHandler) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
		return
	}

	campaigns, err := h.campaigns.ListCampaigns(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, "list campaigns", err)
		return
	}

	out := make([]campaignJSON, 0, len(campaigns))
	for i := range campaigns {
		out = append(out, toCampaignJSON(&campaigns[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaigns": out})
}
