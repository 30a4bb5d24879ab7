// Package guard enforces at most one active processing pass per campaign. The
// marker lives in Redis rather than process memory so the invariant holds when
// the orchestrator scales to multiple instances.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the marker only if this guard instance owns it, so a
// slow pass whose marker already expired cannot release another instance's.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Guard is the campaign exclusivity guard. The marker TTL is a safety net for
// crashed holders; it must exceed the stalled-job timeout so a live pass never
// loses its marker mid-flight.
type Guard struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[uuid.UUID]string
}

// New creates a Guard with the given marker TTL.
func New(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Guard{
		client: client,
		ttl:    ttl,
		tokens: make(map[uuid.UUID]string),
	}
}

func markerKey(campaignID uuid.UUID) string {
	return fmt.Sprintf("campaign:active:%s", campaignID)
}

// TryEnter atomically checks-and-adds the campaign to the in-flight set.
// Returns false if a pass is already active anywhere.
func (g *Guard) TryEnter(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, markerKey(campaignID), token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire campaign marker: %w", err)
	}
	if !ok {
		return false, nil
	}

	g.mu.Lock()
	g.tokens[campaignID] = token
	g.mu.Unlock()
	return true, nil
}

// Exit removes the campaign from the in-flight set. Callers must invoke it on
// every exit path of a processing pass; pair TryEnter with a deferred Exit.
func (g *Guard) Exit(ctx context.Context, campaignID uuid.UUID) error {
	g.mu.Lock()
	token, ok := g.tokens[campaignID]
	delete(g.tokens, campaignID)
	g.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, g.client, []string{markerKey(campaignID)}, token).Err(); err != nil {
		return fmt.Errorf("release campaign marker: %w", err)
	}
	return nil
}
