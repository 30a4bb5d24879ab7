// Package session manages long-lived automation sessions, one per
// (campaign, account) pair. Sessions are created lazily, reused across jobs,
// and evicted once idle past a max age so stale browser state is not kept
// around indefinitely.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// Credentials are the raw login credentials for one LinkedIn account.
type Credentials struct {
	Email    string
	Password string
}

// ProxyConfig selects the egress point a session routes through.
type ProxyConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Driver is the opaque automation handle a session owns. The orchestration
// core never looks inside it; execution handlers hand it to the scraper.
type Driver interface {
	Close(ctx context.Context) error
}

// DriverFactory creates fresh automation drivers.
type DriverFactory interface {
	New(ctx context.Context, proxy *ProxyConfig) (Driver, error)
}

// Authenticator performs the login flow against the target site. Consumed as
// an opaque "make this driver ready" capability.
type Authenticator interface {
	Authenticate(ctx context.Context, driver Driver, creds Credentials) error
}

const closeTimeout = 15 * time.Second

// Session is one authenticated, stateful automation handle.
type Session struct {
	CampaignID uuid.UUID
	AccountID  uuid.UUID
	Driver     Driver
	CreatedAt  time.Time
}

// Pool holds live sessions keyed by (campaign, account). Safe for concurrent
// use; creation is single-flight per key so two concurrent jobs never log the
// same account in twice.
type Pool struct {
	cache   *ttlcache.Cache[string, *Session]
	factory DriverFactory
	auth    Authenticator
	sweep   time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPool creates a Pool. idleMaxAge is the touch-refreshed TTL after which an
// unused session is destroyed.
func NewPool(factory DriverFactory, auth Authenticator, idleMaxAge, sweepInterval time.Duration, logger *slog.Logger) *Pool {
	p := &Pool{
		factory: factory,
		auth:    auth,
		sweep:   sweepInterval,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
	p.cache = ttlcache.New(
		ttlcache.WithTTL[string, *Session](idleMaxAge),
	)
	// ttlcache dispatches eviction callbacks on its own goroutine, so only the
	// idle sweep relies on it; Release and Shutdown close drivers inline and
	// must not race a second Close through this path.
	p.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		if reason == ttlcache.EvictionReasonExpired {
			p.destroy(item.Value(), reason)
		}
	})
	return p
}

func sessionKey(campaignID, accountID uuid.UUID) string {
	return campaignID.String() + ":" + accountID.String()
}

// Start runs the idle-eviction sweep until ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	ticker := time.NewTicker(p.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cache.DeleteExpired()
		}
	}
}

// Acquire returns the live session for the key, creating and authenticating
// one if needed. Reuse refreshes the idle TTL (lastUsedAt). Authentication
// failures destroy the half-built driver and propagate; the pool never retries
// internally — the caller's job fails and the queue's backoff applies.
func (p *Pool) Acquire(ctx context.Context, campaignID, accountID uuid.UUID, creds Credentials, proxy *ProxyConfig) (*Session, error) {
	key := sessionKey(campaignID, accountID)

	lock := p.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if item := p.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	driver, err := p.factory.New(ctx, proxy)
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}

	if err := p.auth.Authenticate(ctx, driver, creds); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := driver.Close(closeCtx); cerr != nil {
			p.logger.Warn("closing unauthenticated driver failed",
				"campaign_id", campaignID, "error", cerr)
		}
		return nil, fmt.Errorf("authenticate session: %w", err)
	}

	sess := &Session{
		CampaignID: campaignID,
		AccountID:  accountID,
		Driver:     driver,
		CreatedAt:  time.Now().UTC(),
	}
	p.cache.Set(key, sess, ttlcache.DefaultTTL)
	p.logger.Info("session created", "campaign_id", campaignID, "account_id", accountID)
	return sess, nil
}

// Get returns the live session for the key without creating one.
func (p *Pool) Get(campaignID, accountID uuid.UUID) (*Session, bool) {
	item := p.cache.Get(sessionKey(campaignID, accountID))
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Release destroys every session owned by the campaign, used when it finishes
// all its work so sessions are not held open until the idle sweep. Drivers are
// closed before Release returns.
func (p *Pool) Release(campaignID uuid.UUID) {
	for _, item := range p.cache.Items() {
		if item.Value().CampaignID != campaignID {
			continue
		}
		p.cache.Delete(item.Key())
		p.destroy(item.Value(), ttlcache.EvictionReasonDeleted)
	}
}

// Shutdown destroys all sessions, closing every driver before returning.
// Called at process termination.
func (p *Pool) Shutdown() {
	for _, item := range p.cache.Items() {
		p.cache.Delete(item.Key())
		p.destroy(item.Value(), ttlcache.EvictionReasonDeleted)
	}
}

func (p *Pool) destroy(sess *Session, reason ttlcache.EvictionReason) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := sess.Driver.Close(ctx); err != nil {
		p.logger.Warn("session driver close failed",
			"campaign_id", sess.CampaignID, "account_id", sess.AccountID, "error", err)
		return
	}
	p.logger.Info("session destroyed",
		"campaign_id", sess.CampaignID, "account_id", sess.AccountID, "reason", evictionReason(reason))
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonExpired:
		return "idle"
	case ttlcache.EvictionReasonDeleted:
		return "released"
	default:
		return "capacity"
	}
}

func (p *Pool) keyLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	return lock
}
