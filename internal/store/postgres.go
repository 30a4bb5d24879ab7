package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Campaigns ---

const campaignColumns = `id, name, search_query, status, priority, account_id, scheduled_for,
	recurrence, schedule_end_date, leads_found, leads_processed, last_error, created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.SearchQuery, &c.Status, &c.Priority, &c.AccountID,
		&c.ScheduledFor, &c.Recurrence, &c.ScheduleEndDate, &c.LeadsFound, &c.LeadsProcessed,
		&c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, search_query, status, priority, account_id, scheduled_for,
		   recurrence, schedule_end_date, leads_found, leads_processed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.Name, c.SearchQuery, c.Status, c.Priority, c.AccountID, c.ScheduledFor,
		c.Recurrence, c.ScheduleEndDate, c.LeadsFound, c.LeadsProcessed, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*models.Campaign, int, error) {
	where := "TRUE"
	args := []any{}
	if filter.Status != "" {
		where = "status = $1"
		args = append(args, filter.Status)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM campaigns WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	argIdx := len(args) + 1
	query := fmt.Sprintf(`SELECT `+campaignColumns+` FROM campaigns WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (s *PostgresStore) ListCampaignsByStatus(ctx context.Context, status string) ([]*models.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *PostgresStore) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string, opts ...CampaignUpdateOption) error {
	params := &campaignUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var tag pgconn.CommandTag
	var err error
	if params.LastError != nil {
		tag, err = s.pool.Exec(ctx,
			`UPDATE campaigns SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1`,
			id, status, *params.LastError)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	}
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetCampaignCounters(ctx context.Context, id uuid.UUID, leadsFound, leadsProcessed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET leads_found = $2, leads_processed = $3, updated_at = NOW() WHERE id = $1`,
		id, leadsFound, leadsProcessed)
	if err != nil {
		return fmt.Errorf("set campaign counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Leads ---

// InsertLeads upserts search results by (campaign_id, profile_url), so a
// re-run search does not duplicate leads. Returns the number of new rows.
func (s *PostgresStore) InsertLeads(ctx context.Context, leads []*models.Lead) (int, error) {
	inserted := 0
	for _, l := range leads {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO leads (id, campaign_id, profile_url, full_name, headline, location, processed, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
			 ON CONFLICT (campaign_id, profile_url) DO NOTHING`,
			l.ID, l.CampaignID, l.ProfileURL, l.FullName, l.Headline, l.Location, l.CreatedAt, l.UpdatedAt)
		if err != nil {
			return inserted, fmt.Errorf("insert lead: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) LeadCounts(ctx context.Context, campaignID uuid.UUID) (int, int, error) {
	var total, processed int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE processed) FROM leads WHERE campaign_id = $1`,
		campaignID).Scan(&total, &processed)
	if err != nil {
		return 0, 0, fmt.Errorf("lead counts: %w", err)
	}
	return total, processed, nil
}

func (s *PostgresStore) ListUnprocessedLeads(ctx context.Context, campaignID uuid.UUID, limit int) ([]*models.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, campaign_id, profile_url, full_name, headline, location, processed, profile_data, processed_at, created_at, updated_at
		 FROM leads WHERE campaign_id = $1 AND NOT processed ORDER BY created_at ASC LIMIT $2`,
		campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed leads: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.ProfileURL, &l.FullName, &l.Headline,
			&l.Location, &l.Processed, &l.ProfileData, &l.ProcessedAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, &l)
	}
	return leads, rows.Err()
}

func (s *PostgresStore) MarkLeadProcessed(ctx context.Context, id uuid.UUID, profileData []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET processed = TRUE, profile_data = $2, processed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`, id, profileData)
	if err != nil {
		return fmt.Errorf("mark lead processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Accounts ---

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password, status, failure_count, last_used_at, created_at, updated_at
		 FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &a.Password, &a.Status, &a.FailureCount, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// RecordAccountFailure bumps the failure counter and disables the account once
// the threshold is reached, so repeatedly challenged identities stop being
// handed out.
func (s *PostgresStore) RecordAccountFailure(ctx context.Context, id uuid.UUID, disableThreshold int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET failure_count = failure_count + 1,
		   status = CASE WHEN failure_count + 1 >= $2 THEN 'disabled' ELSE status END,
		   updated_at = NOW()
		 WHERE id = $1`, id, disableThreshold)
	if err != nil {
		return fmt.Errorf("record account failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResetAccountFailures(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE accounts SET failure_count = 0, last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset account failures: %w", err)
	}
	return nil
}

// --- Proxies ---

// NextProxy returns the least recently used active proxy and touches its
// last_used_at, giving round-robin rotation across egress points.
func (s *PostgresStore) NextProxy(ctx context.Context) (*models.Proxy, error) {
	var p models.Proxy
	err := s.pool.QueryRow(ctx,
		`UPDATE proxies SET last_used_at = NOW(), updated_at = NOW()
		 WHERE id = (
		   SELECT id FROM proxies WHERE active
		   ORDER BY last_used_at ASC NULLS FIRST LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, host, port, username, password, active, last_used_at, created_at, updated_at`,
	).Scan(&p.ID, &p.Host, &p.Port, &p.Username, &p.Password, &p.Active, &p.LastUsedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next proxy: %w", err)
	}
	return &p, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
