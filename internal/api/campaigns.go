package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/campaign-center/internal/domain"
	"github.com/ashureev/campaign-center/internal/identity"
	"github.com/ashureev/campaign-center/internal/store"
)

const maxRequestBody = 64 << 10

// LaunchResponse is returned by the async create endpoint.
type LaunchResponse struct {
	Message      string `json:"message"`
	CampaignID   string `json:"campaign_id"`
	WebsocketURL string `json:"websocket_url"`
}

// CreateCampaign launches a campaign in the background and returns its id
// immediately. Observers connect to the returned websocket URL.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	id := domain.NewCampaignID()
	h.launch(id, req, identity.CallerFromContext(r.Context()))

	JSON(w, http.StatusOK, LaunchResponse{
		Message:      "Campaign launched! Connect to WebSocket to watch agents work.",
		CampaignID:   id,
		WebsocketURL: "/ws/" + id,
	})
}

// CreateCampaignSync runs a campaign within the request and returns its
// result.
func (h *Handler) CreateCampaignSync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := domain.NewCampaignID()
	result := h.runner.Run(ctx, id, req)
	h.save(context.WithoutCancel(ctx), result)

	JSON(w, http.StatusOK, result)
}

// GetCampaign returns a stored campaign result.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	result, err := h.repo.Load(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load campaign", "campaign_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if result == nil {
		JSON(w, http.StatusOK, map[string]string{
			"status":      "running or not found",
			"campaign_id": id,
		})
		return
	}
	JSON(w, http.StatusOK, result)
}

// ListCampaigns returns the most recent campaigns.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	results, err := h.repo.ListRecent(r.Context(), store.DefaultListLimit)
	if err != nil {
		h.logger.Error("Failed to list campaigns", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if results == nil {
		results = []domain.CampaignResult{}
	}
	JSON(w, http.StatusOK, results)
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (domain.CampaignRequest, bool) {
	var req domain.CampaignRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return req, false
	}
	return req, true
}

// launch runs the campaign detached from the request, bounded by the
// campaign timeout, and stores the result whatever its status.
func (h *Handler) launch(id domain.CampaignID, req domain.CampaignRequest, caller string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(h.baseCtx, h.timeout)
		defer cancel()

		h.logger.Info("Campaign launched", "campaign_id", id, "topic", req.Topic, "platforms", req.PlatformNames(), "caller", caller)
		result := h.runner.Run(ctx, id, req)
		h.save(context.WithoutCancel(ctx), result)
	}()
}

func (h *Handler) save(ctx context.Context, result domain.CampaignResult) {
	if err := h.repo.Save(ctx, result); err != nil {
		h.logger.Error("Failed to store campaign", "campaign_id", result.CampaignID, "error", err)
		return
	}
	h.logger.Info("Campaign stored", "campaign_id", result.CampaignID, "status", result.Status)
}
