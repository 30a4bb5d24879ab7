package linkedin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/scheduler"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/session"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/store"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

// HandlerConfig tunes the execution handlers.
type HandlerConfig struct {
	LeadBatchSize    int // profiles fetched per profile-fetch job
	DisableThreshold int // auth failures before an account is disabled
}

// core carries the collaborators both handlers share.
type core struct {
	pool    *session.Pool
	store   store.Store
	scraper Scraper
	cfg     HandlerConfig
	logger  *slog.Logger
}

// SearchHandler executes search jobs: run the campaign's query and persist the
// discovered leads.
type SearchHandler struct {
	core
}

// ProfileHandler executes profile-fetch jobs: work through a batch of
// unprocessed leads, fetching and storing each profile.
type ProfileHandler struct {
	core
}

func newCore(pool *session.Pool, st store.Store, scraper Scraper, cfg HandlerConfig, logger *slog.Logger) core {
	if cfg.LeadBatchSize <= 0 {
		cfg.LeadBatchSize = 25
	}
	if cfg.DisableThreshold <= 0 {
		cfg.DisableThreshold = 5
	}
	return core{pool: pool, store: st, scraper: scraper, cfg: cfg, logger: logger}
}

func NewSearchHandler(pool *session.Pool, st store.Store, scraper Scraper, cfg HandlerConfig, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{core: newCore(pool, st, scraper, cfg, logger.With("handler", "search"))}
}

func NewProfileHandler(pool *session.Pool, st store.Store, scraper Scraper, cfg HandlerConfig, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{core: newCore(pool, st, scraper, cfg, logger.With("handler", "profile-fetch"))}
}

func (h *SearchHandler) Execute(ctx context.Context, job *models.Job) scheduler.Outcome {
	campaign, outcome := h.campaign(ctx, job.CampaignID)
	if outcome != nil {
		return *outcome
	}

	if campaign.Status == models.CampaignStatusQueued {
		if err := h.store.UpdateCampaignStatus(ctx, campaign.ID, models.CampaignStatusRunning); err != nil {
			return scheduler.Retry(fmt.Sprintf("mark campaign running: %v", err))
		}
	}

	sess, outcome := h.session(ctx, campaign)
	if outcome != nil {
		return *outcome
	}

	results, err := h.scraper.Search(ctx, sess.Driver, campaign.SearchQuery)
	if err != nil {
		return h.classify(ctx, campaign, "search", err)
	}

	leads := make([]*models.Lead, 0, len(results))
	now := time.Now().UTC()
	for _, r := range results {
		leads = append(leads, &models.Lead{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			ProfileURL: r.ProfileURL,
			FullName:   r.FullName,
			Headline:   r.Headline,
			Location:   r.Location,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	inserted, err := h.store.InsertLeads(ctx, leads)
	if err != nil {
		return scheduler.Retry(fmt.Sprintf("persist leads: %v", err))
	}

	if err := h.store.ResetAccountFailures(ctx, campaign.AccountID); err != nil {
		h.logger.Warn("resetting account failures", "account_id", campaign.AccountID, "error", err)
	}
	if err := h.store.UpdateCampaignStatus(ctx, campaign.ID, models.CampaignStatusSearchCompleted); err != nil {
		return scheduler.Retry(fmt.Sprintf("mark search completed: %v", err))
	}

	h.logger.Info("search finished",
		"campaign_id", campaign.ID, "found", len(results), "new", inserted)
	return scheduler.Success()
}

func (h *ProfileHandler) Execute(ctx context.Context, job *models.Job) scheduler.Outcome {
	campaign, outcome := h.campaign(ctx, job.CampaignID)
	if outcome != nil {
		return *outcome
	}

	leads, err := h.store.ListUnprocessedLeads(ctx, campaign.ID, h.cfg.LeadBatchSize)
	if err != nil {
		return scheduler.Retry(fmt.Sprintf("list unprocessed leads: %v", err))
	}
	if len(leads) == 0 {
		return scheduler.Success()
	}

	sess, outcome := h.session(ctx, campaign)
	if outcome != nil {
		return *outcome
	}

	processed := 0
	for _, lead := range leads {
		data, err := h.scraper.FetchProfile(ctx, sess.Driver, lead.ProfileURL)
		if err != nil {
			// Partial progress stands; the remainder is retried next round.
			h.logger.Warn("profile fetch failed",
				"campaign_id", campaign.ID, "profile_url", lead.ProfileURL,
				"processed", processed, "error", err)
			return h.classify(ctx, campaign, "fetch profile", err)
		}
		if err := h.store.MarkLeadProcessed(ctx, lead.ID, data); err != nil {
			return scheduler.Retry(fmt.Sprintf("mark lead processed: %v", err))
		}
		processed++
	}

	if err := h.store.ResetAccountFailures(ctx, campaign.AccountID); err != nil {
		h.logger.Warn("resetting account failures", "account_id", campaign.AccountID, "error", err)
	}

	// Drop the campaign's sessions once its last lead is done rather than
	// waiting for the idle sweep.
	total, done, err := h.store.LeadCounts(ctx, campaign.ID)
	if err == nil && done == total {
		h.pool.Release(campaign.ID)
	}

	h.logger.Info("profile batch finished", "campaign_id", campaign.ID, "processed", processed)
	return scheduler.Success()
}

// campaign loads the job's campaign. A missing campaign is permanent; store
// unavailability is retryable.
func (h *core) campaign(ctx context.Context, id uuid.UUID) (*models.Campaign, *scheduler.Outcome) {
	campaign, err := h.store.GetCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		out := scheduler.Permanent("campaign not found")
		return nil, &out
	}
	if err != nil {
		out := scheduler.Retry(fmt.Sprintf("load campaign: %v", err))
		return nil, &out
	}
	return campaign, nil
}

// session borrows an authenticated session for the campaign's account,
// routing through the next available proxy if one exists.
func (h *core) session(ctx context.Context, campaign *models.Campaign) (*session.Session, *scheduler.Outcome) {
	account, err := h.store.GetAccount(ctx, campaign.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		out := scheduler.Permanent("account not found")
		return nil, &out
	}
	if err != nil {
		out := scheduler.Retry(fmt.Sprintf("load account: %v", err))
		return nil, &out
	}
	if account.Status == models.AccountStatusDisabled {
		out := scheduler.Permanent("account disabled")
		return nil, &out
	}

	var proxy *session.ProxyConfig
	p, err := h.store.NextProxy(ctx)
	switch {
	case err == nil:
		proxy = &session.ProxyConfig{Host: p.Host, Port: p.Port, Username: p.Username, Password: p.Password}
	case errors.Is(err, store.ErrNotFound):
		// No proxies configured; sessions go direct.
	default:
		out := scheduler.Retry(fmt.Sprintf("pick proxy: %v", err))
		return nil, &out
	}

	sess, err := h.pool.Acquire(ctx, campaign.ID, campaign.AccountID,
		session.Credentials{Email: account.Email, Password: account.Password}, proxy)
	if err != nil {
		out := h.classify(ctx, campaign, "acquire session", err)
		return nil, &out
	}
	return sess, nil
}

// classify maps an execution error to an outcome. Challenges count against the
// account's health; everything transient retries with the queue's backoff.
func (h *core) classify(ctx context.Context, campaign *models.Campaign, stage string, err error) scheduler.Outcome {
	var challenge *ChallengeError
	if errors.As(err, &challenge) {
		if rerr := h.store.RecordAccountFailure(ctx, campaign.AccountID, h.cfg.DisableThreshold); rerr != nil {
			h.logger.Error("recording account failure", "account_id", campaign.AccountID, "error", rerr)
		}
		return scheduler.Retry(fmt.Sprintf("%s: challenge %s raised", stage, challenge.Type))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scheduler.Retry(fmt.Sprintf("%s: timed out", stage))
	}
	return scheduler.Retry(fmt.Sprintf("%s: %v", stage, err))
}
