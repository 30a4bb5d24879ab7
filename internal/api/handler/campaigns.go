package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/api/response"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/store"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

func validRecurrence(r string) bool {
	switch r {
	case models.RecurrenceOnce, models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly:
		return true
	}
	return false
}

// NewCreateCampaignHandler returns the handler for POST /api/v1/campaigns.
// A new campaign starts queued; the reconciliation pass picks it up and
// enqueues its first search job.
func NewCreateCampaignHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name            string `json:"name"`
			SearchQuery     string `json:"search_query"`
			AccountID       string `json:"account_id"`
			Priority        string `json:"priority"`
			ScheduledFor    string `json:"scheduled_for"`
			Recurrence      string `json:"recurrence"`
			ScheduleEndDate string `json:"schedule_end_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if req.SearchQuery == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "search_query is required", nil)
			return
		}

		accountID, err := uuid.Parse(req.AccountID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ACCOUNT_ID", "Invalid account_id format", nil)
			return
		}
		if _, err := s.GetAccount(r.Context(), accountID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load account", nil)
			return
		}

		priority := req.Priority
		if priority == "" {
			priority = models.PriorityMedium
		}
		if !models.ValidPriority(priority) {
			response.Error(w, http.StatusBadRequest, "INVALID_PRIORITY",
				"priority must be high, medium, or low", nil)
			return
		}

		recurrence := req.Recurrence
		if recurrence == "" {
			recurrence = models.RecurrenceOnce
		}
		if !validRecurrence(recurrence) {
			response.Error(w, http.StatusBadRequest, "INVALID_RECURRENCE",
				"recurrence must be once, daily, weekly, or monthly", nil)
			return
		}

		var scheduledFor *time.Time
		if req.ScheduledFor != "" {
			t, err := time.Parse(time.RFC3339, req.ScheduledFor)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"scheduled_for must be a valid RFC3339 timestamp", nil)
				return
			}
			scheduledFor = &t
		}

		var endDate *time.Time
		if req.ScheduleEndDate != "" {
			t, err := time.Parse(time.RFC3339, req.ScheduleEndDate)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"schedule_end_date must be a valid RFC3339 timestamp", nil)
				return
			}
			endDate = &t
		}
		if recurrence != models.RecurrenceOnce && scheduledFor == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"recurring campaigns require scheduled_for", nil)
			return
		}

		now := time.Now().UTC()
		campaign := &models.Campaign{
			ID:              uuid.New(),
			Name:            req.Name,
			SearchQuery:     req.SearchQuery,
			Status:          models.CampaignStatusQueued,
			Priority:        priority,
			AccountID:       accountID,
			ScheduledFor:    scheduledFor,
			Recurrence:      recurrence,
			ScheduleEndDate: endDate,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := s.CreateCampaign(r.Context(), campaign); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create campaign", nil)
			return
		}

		response.Created(w, campaign)
	}
}

// NewGetCampaignHandler returns the handler for GET /api/v1/campaigns/{campaignID}.
func NewGetCampaignHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_CAMPAIGN_ID", "Invalid campaign ID", nil)
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

		response.JSON(w, campaign)
	}
}

// NewListCampaignsHandler returns the handler for GET /api/v1/campaigns.
// Supports ?status=, ?page=, and ?limit= query parameters.
func NewListCampaignsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.CampaignFilter{
			Status: r.URL.Query().Get("status"),
			Page:   queryInt(r, "page", 1),
			Limit:  queryInt(r, "limit", 20),
		}

		campaigns, total, err := s.ListCampaigns(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list campaigns", nil)
			return
		}

		response.Collection(w, campaigns, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: total > filter.Page*filter.Limit,
		})
	}
}

func queryInt(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
