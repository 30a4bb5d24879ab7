package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/zysk/chiratae-linkedIn-scrapper-backend-sub001/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*models.Campaign, int, error)
	ListCampaignsByStatus(ctx context.Context, status string) ([]*models.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string, opts ...CampaignUpdateOption) error
	SetCampaignCounters(ctx context.Context, id uuid.UUID, leadsFound, leadsProcessed int) error

	InsertLeads(ctx context.Context, leads []*models.Lead) (int, error)
	LeadCounts(ctx context.Context, campaignID uuid.UUID) (total int, processed int, err error)
	ListUnprocessedLeads(ctx context.Context, campaignID uuid.UUID, limit int) ([]*models.Lead, error)
	MarkLeadProcessed(ctx context.Context, id uuid.UUID, profileData []byte) error

	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	RecordAccountFailure(ctx context.Context, id uuid.UUID, disableThreshold int) error
	ResetAccountFailures(ctx context.Context, id uuid.UUID) error

	NextProxy(ctx context.Context) (*models.Proxy, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type CampaignFilter struct {
	Status string
	Page   int
	Limit  int
}

type campaignUpdateParams struct {
	LastError *string
}

type CampaignUpdateOption func(*campaignUpdateParams)

func WithLastError(msg string) CampaignUpdateOption {
	return func(p *campaignUpdateParams) {
		p.LastError = &msg
	}
}
