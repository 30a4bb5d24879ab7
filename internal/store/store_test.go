package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/internal/store"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("scraper_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// seedAccount inserts an account row; campaigns reference one.
func seedAccount(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO accounts (id, email, password) VALUES ($1, $2, 'secret')`,
		id, id.String()+"@example.com")
	require.NoError(t, err)
	return id
}

func newCampaign(accountID uuid.UUID) *models.Campaign {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Campaign{
		ID:          uuid.New(),
		Name:        "founders-bangalore",
		SearchQuery: "startup founder bangalore",
		Status:      models.CampaignStatusQueued,
		Priority:    models.PriorityHigh,
		AccountID:   accountID,
		Recurrence:  models.RecurrenceOnce,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// --- Campaign Tests ---

func TestCampaign_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	c := newCampaign(seedAccount(t, pool))
	require.NoError(t, s.CreateCampaign(ctx, c))

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "founders-bangalore", got.Name)
	assert.Equal(t, models.CampaignStatusQueued, got.Status)
	assert.Equal(t, 0, got.LeadsFound)
}

func TestCampaign_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetCampaign(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCampaign_CreateDuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	c := newCampaign(seedAccount(t, pool))
	require.NoError(t, s.CreateCampaign(ctx, c))

	dup := newCampaign(c.AccountID)
	dup.ID = c.ID
	err := s.CreateCampaign(ctx, dup)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestCampaign_ListWithStatusFilter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	accountID := seedAccount(t, pool)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.CreateCampaign(ctx, newCampaign(accountID)))
	}
	running := newCampaign(accountID)
	running.Status = models.CampaignStatusRunning
	require.NoError(t, s.CreateCampaign(ctx, running))

	campaigns, total, err := s.ListCampaigns(ctx, store.CampaignFilter{
		Status: models.CampaignStatusQueued, Page: 1, Limit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, campaigns, 3)

	all, total, err := s.ListCampaigns(ctx, store.CampaignFilter{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)
}

func TestCampaign_ListByStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	accountID := seedAccount(t, pool)

	running := newCampaign(accountID)
	running.Status = models.CampaignStatusRunning
	require.NoError(t, s.CreateCampaign(ctx, running))
	require.NoError(t, s.CreateCampaign(ctx, newCampaign(accountID)))

	campaigns, err := s.ListCampaignsByStatus(ctx, models.CampaignStatusRunning)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, running.ID, campaigns[0].ID)
}

func TestCampaign_UpdateStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	c := newCampaign(seedAccount(t, pool))
	require.NoError(t, s.CreateCampaign(ctx, c))

	require.NoError(t, s.UpdateCampaignStatus(ctx, c.ID, models.CampaignStatusRunning))
	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, got.Status)
	assert.Nil(t, got.LastError)

	require.NoError(t, s.UpdateCampaignStatus(ctx, c.ID, models.CampaignStatusFailed,
		store.WithLastError("account disabled")))
	got, err = s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "account disabled", *got.LastError)
}

func TestCampaign_UpdateStatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateCampaignStatus(context.Background(), uuid.New(), models.CampaignStatusRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCampaign_SetCounters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	c := newCampaign(seedAccount(t, pool))
	require.NoError(t, s.CreateCampaign(ctx, c))

	require.NoError(t, s.SetCampaignCounters(ctx, c.ID, 42, 17))
	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.LeadsFound)
	assert.Equal(t, 17, got.LeadsProcessed)
}

// --- Lead Tests ---

func seedCampaign(t *testing.T, s store.Store, pool *pgxpool.Pool) *models.Campaign {
	t.Helper()
	c := newCampaign(seedAccount(t, pool))
	require.NoError(t, s.CreateCampaign(context.Background(), c))
	return c
}

func newLead(campaignID uuid.UUID, url string) *models.Lead {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Lead{
		ID:         uuid.New(),
		CampaignID: campaignID,
		ProfileURL: url,
		FullName:   "Jane Doe",
		Headline:   "Founder at Acme",
		Location:   "Bangalore",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestLead_InsertDeduplicatesByProfileURL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	c := seedCampaign(t, s, pool)

	inserted, err := s.InsertLeads(ctx, []*models.Lead{
		newLead(c.ID, "https://linkedin.com/in/jane"),
		newLead(c.ID, "https://linkedin.com/in/john"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// A re-run of the same search overlaps; only the new profile lands.
	inserted, err = s.InsertLeads(ctx, []*models.Lead{
		newLead(c.ID, "https://linkedin.com/in/jane"),
		newLead(c.ID, "https://linkedin.com/in/fresh"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	total, processed, err := s.LeadCounts(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 0, processed)
}

func TestLead_MarkProcessedAndCounts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	c := seedCampaign(t, s, pool)

	lead := newLead(c.ID, "https://linkedin.com/in/jane")
	_, err := s.InsertLeads(ctx, []*models.Lead{lead})
	require.NoError(t, err)

	require.NoError(t, s.MarkLeadProcessed(ctx, lead.ID, []byte(`{"skills":["go"]}`)))

	total, processed, err := s.LeadCounts(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, processed)

	unprocessed, err := s.ListUnprocessedLeads(ctx, c.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestLead_ListUnprocessedHonorsLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	c := seedCampaign(t, s, pool)

	for i := 0; i < 5; i++ {
		_, err := s.InsertLeads(ctx, []*models.Lead{
			newLead(c.ID, "https://linkedin.com/in/p"+uuid.NewString()[:8]),
		})
		require.NoError(t, err)
	}

	leads, err := s.ListUnprocessedLeads(ctx, c.ID, 3)
	require.NoError(t, err)
	assert.Len(t, leads, 3)
}

func TestLead_MarkProcessedNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.MarkLeadProcessed(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Account Tests ---

func TestAccount_FailureThresholdDisables(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	id := seedAccount(t, pool)

	require.NoError(t, s.RecordAccountFailure(ctx, id, 3))
	require.NoError(t, s.RecordAccountFailure(ctx, id, 3))

	a, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, a.FailureCount)
	assert.Equal(t, models.AccountStatusActive, a.Status)

	require.NoError(t, s.RecordAccountFailure(ctx, id, 3))
	a, err = s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, a.FailureCount)
	assert.Equal(t, models.AccountStatusDisabled, a.Status)
}

func TestAccount_ResetFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	id := seedAccount(t, pool)

	require.NoError(t, s.RecordAccountFailure(ctx, id, 5))
	require.NoError(t, s.ResetAccountFailures(ctx, id))

	a, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, a.FailureCount)
	assert.NotNil(t, a.LastUsedAt)
}

// --- Proxy Tests ---

func TestNextProxy_RotatesLeastRecentlyUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{first, second} {
		_, err := pool.Exec(ctx,
			`INSERT INTO proxies (id, host, port) VALUES ($1, $2, 8080)`,
			id, "proxy-"+id.String()[:8]+".example.com")
		require.NoError(t, err)
	}

	a, err := s.NextProxy(ctx)
	require.NoError(t, err)
	b, err := s.NextProxy(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	// Both touched; the next pick goes back to the first one handed out.
	c, err := s.NextProxy(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID)
}

func TestNextProxy_SkipsInactive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO proxies (id, host, port, active) VALUES ($1, 'dead.example.com', 8080, FALSE)`,
		uuid.New())
	require.NoError(t, err)

	_, err = s.NextProxy(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "sc_abcd",
		Scopes:    []string{"campaigns", "read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "sc_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID: uuid.New(), Name: "revoke-me", KeyHash: "hash", KeyPrefix: "sc_revk",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.GetAPIKeyByPrefix(ctx, "sc_revk")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAPIKey_RevokeNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.RevokeAPIKey(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID: uuid.New(), Name: "usage-key", KeyHash: "hash", KeyPrefix: "sc_used",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "sc_used")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
