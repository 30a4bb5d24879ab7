package linkedin_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/linkedin"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/session"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/store"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

// fakeStore backs handler tests in memory. Campaign, account, and lead methods
// behave; the rest are no-ops.
type fakeStore struct {
	campaigns map[uuid.UUID]*models.Campaign
	accounts  map[uuid.UUID]*models.Account
	proxies   []*models.Proxy
	leads     map[uuid.UUID]*models.Lead

	resetCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns: make(map[uuid.UUID]*models.Campaign),
		accounts:  make(map[uuid.UUID]*models.Account),
		leads:     make(map[uuid.UUID]*models.Lead),
	}
}

func (s *fakeStore) addCampaign(status string) *models.Campaign {
	account := &models.Account{
		ID:     uuid.New(),
		Email:  "bot@example.com",
		Status: models.AccountStatusActive,
	}
	account.Password = "secret"
	s.accounts[account.ID] = account

	c := &models.Campaign{
		ID:          uuid.New(),
		Name:        "test",
		SearchQuery: "golang developer",
		Status:      status,
		Priority:    models.PriorityMedium,
		AccountID:   account.ID,
	}
	s.campaigns[c.ID] = c
	return c
}

func (s *fakeStore) addLead(campaignID uuid.UUID, url string) *models.Lead {
	l := &models.Lead{ID: uuid.New(), CampaignID: campaignID, ProfileURL: url}
	s.leads[l.ID] = l
	return l
}

func (s *fakeStore) Ping(_ context.Context) error { return nil }

func (s *fakeStore) CreateCampaign(_ context.Context, c *models.Campaign) error {
	s.campaigns[c.ID] = c
	return nil
}

func (s *fakeStore) GetCampaign(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) ListCampaigns(_ context.Context, _ store.CampaignFilter) ([]*models.Campaign, int, error) {
	return nil, 0, nil
}

func (s *fakeStore) ListCampaignsByStatus(_ context.Context, _ string) ([]*models.Campaign, error) {
	return nil, nil
}

func (s *fakeStore) UpdateCampaignStatus(_ context.Context, id uuid.UUID, status string, _ ...store.CampaignUpdateOption) error {
	c, ok := s.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	return nil
}

func (s *fakeStore) SetCampaignCounters(_ context.Context, _ uuid.UUID, _, _ int) error { return nil }

func (s *fakeStore) InsertLeads(_ context.Context, leads []*models.Lead) (int, error) {
	inserted := 0
	for _, l := range leads {
		dup := false
		for _, existing := range s.leads {
			if existing.CampaignID == l.CampaignID && existing.ProfileURL == l.ProfileURL {
				dup = true
				break
			}
		}
		if !dup {
			s.leads[l.ID] = l
			inserted++
		}
	}
	return inserted, nil
}

func (s *fakeStore) LeadCounts(_ context.Context, campaignID uuid.UUID) (int, int, error) {
	total, processed := 0, 0
	for _, l := range s.leads {
		if l.CampaignID != campaignID {
			continue
		}
		total++
		if l.Processed {
			processed++
		}
	}
	return total, processed, nil
}

func (s *fakeStore) ListUnprocessedLeads(_ context.Context, campaignID uuid.UUID, limit int) ([]*models.Lead, error) {
	var out []*models.Lead
	for _, l := range s.leads {
		if l.CampaignID == campaignID && !l.Processed && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkLeadProcessed(_ context.Context, id uuid.UUID, data []byte) error {
	l, ok := s.leads[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	l.Processed = true
	l.ProfileData = data
	l.ProcessedAt = &now
	return nil
}

func (s *fakeStore) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) RecordAccountFailure(_ context.Context, id uuid.UUID, threshold int) error {
	a, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.FailureCount++
	if a.FailureCount >= threshold {
		a.Status = models.AccountStatusDisabled
	}
	return nil
}

func (s *fakeStore) ResetAccountFailures(_ context.Context, id uuid.UUID) error {
	s.resetCalls++
	if a, ok := s.accounts[id]; ok {
		a.FailureCount = 0
	}
	return nil
}

func (s *fakeStore) NextProxy(_ context.Context) (*models.Proxy, error) {
	if len(s.proxies) == 0 {
		return nil, store.ErrNotFound
	}
	return s.proxies[0], nil
}

func (s *fakeStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}

func (s *fakeStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *fakeStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error { return nil }

func (s *fakeStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) { return nil, nil }

func (s *fakeStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error { return nil }

// fakeScraper wraps the stub with scriptable failures.
type fakeScraper struct {
	linkedin.StubScraper
	searchErr error
	fetchErr  error
	fetchOK   int // fetches that succeed before fetchErr kicks in
	fetches   int
}

func (f *fakeScraper) Search(ctx context.Context, d session.Driver, query string) ([]linkedin.LeadResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.StubScraper.Search(ctx, d, query)
}

func (f *fakeScraper) FetchProfile(ctx context.Context, d session.Driver, url string) ([]byte, error) {
	f.fetches++
	if f.fetchErr != nil && f.fetches > f.fetchOK {
		return nil, f.fetchErr
	}
	return f.StubScraper.FetchProfile(ctx, d, url)
}

func newPool() *session.Pool {
	return session.NewPool(&linkedin.StubDriverFactory{}, &linkedin.StubAuthenticator{},
		time.Minute, time.Minute, slog.New(slog.DiscardHandler))
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func jobFor(c *models.Campaign, jobType string) *models.Job {
	return &models.Job{
		ID:         uuid.New(),
		Type:       jobType,
		CampaignID: c.ID,
		Priority:   c.Priority,
		MaxRetries: 3,
	}
}

func TestSearchHandler_PersistsLeadsAndAdvancesCampaign(t *testing.T) {
	fs := newFakeStore()
	c := fs.addCampaign(models.CampaignStatusQueued)
	scraper := &fakeScraper{StubScraper: linkedin.StubScraper{ResultsPerSearch: 4}}
	h := linkedin.NewSearchHandler(newPool(), fs, scraper, linkedin.HandlerConfig{}, discard())

	out := h.Execute(context.Background(), jobFor(c, models.JobTypeSearch))

	assert.True(t, out.Succeeded())
	assert.Equal(t, models.CampaignStatusSearchCompleted, c.Status)

	total, processed, err := fs.LeadCounts(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Zero(t, processed)
	assert.Equal(t, 1, fs.resetCalls)
}

func TestSearchHandler_MissingCampaignIsPermanent(t *testing.T) {
	fs := newFakeStore()
	h := linkedin.NewSearchHandler(newPool(), fs, &fakeScraper{}, linkedin.HandlerConfig{}, discard())

	orphan := &models.Job{ID: uuid.New(), Type: models.JobTypeSearch, CampaignID: uuid.New()}
	out := h.Execute(context.Background(), orphan)

	assert.False(t, out.Succeeded())
	assert.False(t, out.Retryable())
	assert.Contains(t, out.Reason(), "campaign not found")
}

func TestSearchHandler_DisabledAccountIsPermanent(t *testing.T) {
	fs := newFakeStore()
	c := fs.addCampaign(models.CampaignStatusQueued)
	fs.accounts[c.AccountID].Status = models.AccountStatusDisabled
	h := linkedin.NewSearchHandler(newPool(), fs, &fakeScraper{}, linkedin.HandlerConfig{}, discard())

	out := h.Execute(context.Background(), jobFor(c, models.JobTypeSearch))

	assert.False(t, out.Succeeded())
	assert.False(t, out.Retryable())
	assert.Contains(t, out.Reason(), "account disabled")
}

// A challenge is retryable but counts against the account; repeated challenges
// disable it.
func TestSearchHandler_ChallengeBumpsAccountFailures(t *testing.T) {
	fs := newFakeStore()
	c := fs.addCampaign(models.CampaignStatusRunning)
	scraper := &fakeScraper{searchErr: &linkedin.ChallengeError{Type: "captcha"}}
	h := linkedin.NewSearchHandler(newPool(), fs, scraper,
		linkedin.HandlerConfig{DisableThreshold: 2}, discard())

	out := h.Execute(context.Background(), jobFor(c, models.JobTypeSearch))
	assert.True(t, out.Retryable())
	assert.Contains(t, out.Reason(), "challenge captcha")
	assert.Equal(t, 1, fs.accounts[c.AccountID].FailureCount)
	assert.Equal(t, models.AccountStatusActive, fs.accounts[c.AccountID].Status)

	out = h.Execute(context.Background(), jobFor(c, models.JobTypeSearch))
	assert.True(t, out.Retryable())
	assert.Equal(t, models.AccountStatusDisabled, fs.accounts[c.AccountID].Status)
}

func TestProfileHandler_ProcessesBatchAndReleasesSessions(t *testing.T) {
	fs := newFakeStore()
	c := fs.addCampaign(models.CampaignStatusSearchCompleted)
	fs.addLead(c.ID, "https://linkedin.com/in/a")
	fs.addLead(c.ID, "https://linkedin.com/in/b")
	pool := newPool()
	h := linkedin.NewProfileHandler(pool, fs, &fakeScraper{}, linkedin.HandlerConfig{}, discard())

	out := h.Execute(context.Background(), jobFor(c, models.JobTypeProfileFetch))

	assert.True(t, out.Succeeded())
	total, processed, err := fs.LeadCounts(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, processed)

	// All leads done, so the campaign's session is gone from the pool.
	_, ok := pool.Get(c.ID, c.AccountID)
	assert.False(t, ok)
}

func TestProfileHandler_NoUnprocessedLeadsIsSuccess(t *testing.T) {
	fs := newFakeStore()
	c := fs.addCampaign(models.CampaignStatusSearchCompleted)
	scraper := &fakeScraper{}
	h := linkedin.NewProfileHandler(newPool(), fs, scraper, linkedin.HandlerConfig{}, discard())

	out := h.Execute(context.Background(), jobFor(c, models.JobTypeProfileFetch))

	assert.True(t, out.Succeeded())
	assert.Zero(t, scraper.fetches)
}

// A failure mid-batch keeps the progress already made; the rest is retried by
// the queue.
func TestProfileHandler_PartialBatchFailureKeepsProgress(t *testing.T) {
	fs := newFakeStore()
	c := fs.addCampaign(models.CampaignStatusSearchCompleted)
	for i := 0; i < 3; i++ {
		fs.addLead(c.ID, "https://linkedin.com/in/p"+uuid.NewString()[:4])
	}
	scraper := &fakeScraper{fetchErr: &linkedin.ChallengeError{Type: "checkpoint"}, fetchOK: 1}
	pool := newPool()
	h := linkedin.NewProfileHandler(pool, fs, scraper, linkedin.HandlerConfig{}, discard())

	out := h.Execute(context.Background(), jobFor(c, models.JobTypeProfileFetch))

	assert.True(t, out.Retryable())
	_, processed, err := fs.LeadCounts(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, fs.accounts[c.AccountID].FailureCount)
}

func TestProfileHandler_BatchSizeIsHonored(t *testing.T) {
	fs := newFakeStore()
	c := fs.addCampaign(models.CampaignStatusSearchCompleted)
	for i := 0; i < 5; i++ {
		fs.addLead(c.ID, "https://linkedin.com/in/q"+uuid.NewString()[:4])
	}
	h := linkedin.NewProfileHandler(newPool(), fs, &fakeScraper{}, linkedin.HandlerConfig{LeadBatchSize: 2}, discard())

	out := h.Execute(context.Background(), jobFor(c, models.JobTypeProfileFetch))

	assert.True(t, out.Succeeded())
	_, processed, err := fs.LeadCounts(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
}
