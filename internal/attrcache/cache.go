// Package attrcache holds pre-resolved attribute sets in Redis, keyed by
// (service, principal), with a pub/sub channel that tells every process
// holding a derived copy to drop it. Entries have no TTL; correctness depends
// on every mutation path invalidating.
package attrcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sentinel-authz/sentinel/internal/directory"
	"github.com/sentinel-authz/sentinel/internal/shared"
)

const (
	keyPrefix = "authz:attrs"
	// InvalidateChannel carries Event payloads; any process may publish.
	InvalidateChannel = "authz.invalidate"
	// emptyScope stands in for the global (no-service) scope in keys. A
	// service slug can never contain '~'.
	emptyScope = "~"
)

// Event is one invalidation notice. An empty Service means every service
// scope for the principal is stale.
type Event struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	Service     string    `json:"service"`
}

// Cache wraps the shared Redis store.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New constructs a Cache.
func New(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

func key(service string, principalID uuid.UUID) string {
	if service == "" {
		service = emptyScope
	}
	return fmt.Sprintf("%s:%s:%s", keyPrefix, service, principalID)
}

// Get loads a cached set. A missing entry returns shared.ErrCacheMiss; the
// caller falls back to the resolver and repopulates.
func (c *Cache) Get(ctx context.Context, principalID uuid.UUID, service string) (*directory.ResolvedAttributeSet, error) {
	payload, err := c.client.Get(ctx, key(service, principalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrCacheMiss
		}
		return nil, fmt.Errorf("attrcache: get: %w", err)
	}
	var set directory.ResolvedAttributeSet
	if err := json.Unmarshal(payload, &set); err != nil {
		// An undecodable entry is as good as a miss; drop it.
		c.logger.Error("cache entry corrupt, dropping",
			slog.String("principal_id", principalID.String()),
			slog.String("service", service),
			slog.Any("error", err))
		_ = c.client.Del(ctx, key(service, principalID)).Err()
		return nil, shared.ErrCacheMiss
	}
	return &set, nil
}

// Set stores a resolved set with no expiry.
func (c *Cache) Set(ctx context.Context, principalID uuid.UUID, service string, set *directory.ResolvedAttributeSet) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("attrcache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, key(service, principalID), payload, 0).Err(); err != nil {
		return fmt.Errorf("attrcache: set: %w", err)
	}
	return nil
}

// Invalidate deletes the entry then publishes the event, in that order. An
// empty service drops every service scope held for the principal.
func (c *Cache) Invalidate(ctx context.Context, principalID uuid.UUID, service string) error {
	if service == "" {
		if err := c.deleteAllScopes(ctx, principalID); err != nil {
			return err
		}
	} else if err := c.client.Del(ctx, key(service, principalID)).Err(); err != nil {
		return fmt.Errorf("attrcache: del: %w", err)
	}
	payload, err := json.Marshal(Event{PrincipalID: principalID, Service: service})
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, InvalidateChannel, payload).Err(); err != nil {
		return fmt.Errorf("attrcache: publish: %w", err)
	}
	return nil
}

func (c *Cache) deleteAllScopes(ctx context.Context, principalID uuid.UUID) error {
	pattern := fmt.Sprintf("%s:*:%s", keyPrefix, principalID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("attrcache: del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("attrcache: scan: %w", err)
	}
	return nil
}

// Subscribe listens for invalidation events until ctx is cancelled, invoking
// fn for each. Malformed payloads are logged and skipped.
func (c *Cache) Subscribe(ctx context.Context, fn func(Event)) {
	pubsub := c.client.Subscribe(ctx, InvalidateChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("invalid invalidation payload", slog.Any("error", err))
					continue
				}
				fn(event)
			}
		}
	}()
}
