package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/api/response"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/cache"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/queue"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/store"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

// countsCacheTTL bounds how stale the campaign job counts endpoint may be.
const countsCacheTTL = 30 * time.Second

// JobQueue is the queue surface the job handlers depend on.
type JobQueue interface {
	Add(ctx context.Context, jobType string, campaignID uuid.UUID, payload map[string]string, priority string, maxRetries int) (*models.Job, error)
	CountsByCampaign(ctx context.Context, campaignID uuid.UUID) (queue.Counts, error)
	RemoveByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
	Ping(ctx context.Context) error
}

// NewEnqueueJobHandler returns the handler for POST /api/v1/jobs. The job is
// validated against the campaign it targets before entering the queue.
func NewEnqueueJobHandler(q JobQueue, s store.Store, maxRetries int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type       string            `json:"type"`
			CampaignID string            `json:"campaign_id"`
			Payload    map[string]string `json:"payload"`
			Priority   string            `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if !models.ValidJobType(req.Type) {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_TYPE",
				"type must be search or profile-fetch", nil)
			return
		}

		campaignID, err := uuid.Parse(req.CampaignID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_CAMPAIGN_ID", "Invalid campaign_id format", nil)
			return
		}

		campaign, err := s.GetCampaign(r.Context(), campaignID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "Campaign not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load campaign", nil)
			return
		}

		priority := req.Priority
		if priority == "" {
			priority = campaign.Priority
		}
		if !models.ValidPriority(priority) {
			response.Error(w, http.StatusBadRequest, "INVALID_PRIORITY",
				"priority must be high, medium, or low", nil)
			return
		}

		job, err := q.Add(r.Context(), req.Type, campaignID, req.Payload, priority, maxRetries)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to enqueue job", nil)
			return
		}

		response.Accepted(w, map[string]any{
			"job_id":      job.ID.String(),
			"type":        job.Type,
			"campaign_id": job.CampaignID.String(),
			"priority":    job.Priority,
		})
	}
}

// NewCampaignJobsHandler returns the handler for
// GET /api/v1/campaigns/{campaignID}/jobs. Counts are served from a short-TTL
// cache to keep repeated polling off the queue's key scans.
func NewCampaignJobsHandler(q JobQueue, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_CAMPAIGN_ID", "Invalid campaign ID", nil)
			return
		}

		cacheKey := cache.CampaignCountsKey(campaignID)
		if raw, found, err := c.Get(r.Context(), cacheKey); err == nil && found {
			var counts queue.Counts
			if json.Unmarshal(raw, &counts) == nil {
				writeCounts(w, campaignID, counts)
				return
			}
		}

		counts, err := q.CountsByCampaign(r.Context(), campaignID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count jobs", nil)
			return
		}

		if raw, err := json.Marshal(counts); err == nil {
			// Best effort; a cache miss next time just recounts.
			_ = c.Set(r.Context(), cacheKey, raw, countsCacheTTL)
		}

		writeCounts(w, campaignID, counts)
	}
}

func writeCounts(w http.ResponseWriter, campaignID uuid.UUID, counts queue.Counts) {
	response.JSON(w, map[string]any{
		"campaign_id": campaignID.String(),
		"counts":      counts,
	})
}

// NewCancelJobsHandler returns the handler for
// DELETE /api/v1/campaigns/{campaignID}/jobs. Every job of the campaign is
// removed, whatever set it sits in, along with its record.
func NewCancelJobsHandler(q JobQueue, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_CAMPAIGN_ID", "Invalid campaign ID", nil)
			return
		}

		removed, err := q.RemoveByCampaign(r.Context(), campaignID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel jobs", nil)
			return
		}

		_ = c.Delete(r.Context(), cache.CampaignCountsKey(campaignID))

		response.JSON(w, map[string]any{
			"campaign_id": campaignID.String(),
			"removed":     removed,
		})
	}
}
