package attrcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sentinel-authz/sentinel/internal/directory"
	"github.com/sentinel-authz/sentinel/internal/shared"
)

// populateConcurrency bounds parallel resolutions during PopulateAll.
const populateConcurrency = 8

// Resolver computes an attribute set directly from the durable store.
type Resolver interface {
	Resolve(ctx context.Context, principalID uuid.UUID, service string) (*directory.ResolvedAttributeSet, error)
}

// PrincipalLister enumerates every known principal for bulk population.
type PrincipalLister interface {
	ListPrincipalIDs(ctx context.Context) ([]uuid.UUID, error)
}

// LookupRecorder observes shared-cache lookup outcomes, typically for
// metrics.
type LookupRecorder interface {
	RecordCacheLookup(result string)
}

// Loader layers a small in-process memo over the shared cache, falling back
// to the resolver on miss. Concurrent misses for the same key resolve once.
type Loader struct {
	cache      *Cache
	resolver   Resolver
	principals PrincipalLister
	logger     *slog.Logger
	recorder   LookupRecorder
	group      singleflight.Group

	mu   sync.RWMutex
	memo map[string]*directory.ResolvedAttributeSet
}

// NewLoader constructs a Loader. Call Start to subscribe the memo layer to
// invalidation events.
func NewLoader(cache *Cache, resolver Resolver, principals PrincipalLister, logger *slog.Logger) *Loader {
	return &Loader{
		cache:      cache,
		resolver:   resolver,
		principals: principals,
		logger:     logger,
		memo:       make(map[string]*directory.ResolvedAttributeSet),
	}
}

// SetRecorder wires a lookup outcome recorder. Call during boot wiring,
// before the loader sees traffic.
func (l *Loader) SetRecorder(rec LookupRecorder) {
	l.recorder = rec
}

// Start subscribes the in-process memo to the invalidation channel. The memo
// holds derived copies, so it must drop entries on every event.
func (l *Loader) Start(ctx context.Context) {
	l.cache.Subscribe(ctx, func(event Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if event.Service == "" {
			suffix := ":" + event.PrincipalID.String()
			for k := range l.memo {
				if len(k) >= len(suffix) && k[len(k)-len(suffix):] == suffix {
					delete(l.memo, k)
				}
			}
			return
		}
		delete(l.memo, key(event.Service, event.PrincipalID))
	})
}

// Load returns the attribute set for (principal, service): memo, then shared
// cache, then resolve-and-populate. Cache unavailability degrades to a
// direct resolve.
func (l *Loader) Load(ctx context.Context, principalID uuid.UUID, service string) (*directory.ResolvedAttributeSet, error) {
	k := key(service, principalID)

	l.mu.RLock()
	memoized, ok := l.memo[k]
	l.mu.RUnlock()
	if ok {
		return memoized, nil
	}

	set, err := l.cache.Get(ctx, principalID, service)
	if err == nil {
		l.record("hit")
		l.remember(k, set)
		return set, nil
	}
	if errors.Is(err, shared.ErrCacheMiss) {
		l.record("miss")
	} else {
		// Treat an unreachable cache as a miss and resolve directly.
		l.record("error")
		l.logger.Warn("cache unavailable, resolving directly",
			slog.String("principal_id", principalID.String()),
			slog.String("service", service),
			slog.Any("error", err))
	}

	resolved, err, _ := l.group.Do(k, func() (any, error) {
		set, err := l.resolver.Resolve(ctx, principalID, service)
		if err != nil {
			return nil, err
		}
		if err := l.cache.Set(ctx, principalID, service, set); err != nil {
			l.logger.Warn("cache population failed",
				slog.String("principal_id", principalID.String()),
				slog.String("service", service),
				slog.Any("error", err))
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	set = resolved.(*directory.ResolvedAttributeSet)
	l.remember(k, set)
	return set, nil
}

func (l *Loader) record(result string) {
	if l.recorder != nil {
		l.recorder.RecordCacheLookup(result)
	}
}

func (l *Loader) remember(k string, set *directory.ResolvedAttributeSet) {
	l.mu.Lock()
	l.memo[k] = set
	l.mu.Unlock()
}

// PopulateAll resolves and caches every principal for one service. Used
// right after a manifest changes a service's schema. Per-principal failures
// are logged and skipped; the next natural cache miss repairs them.
func (l *Loader) PopulateAll(ctx context.Context, service string) error {
	ids, err := l.principals.ListPrincipalIDs(ctx)
	if err != nil {
		return fmt.Errorf("attrcache: list principals: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(populateConcurrency)
	for _, id := range ids {
		id := id // per-iteration copy; required while go.mod targets go < 1.22
		g.Go(func() error {
			set, err := l.resolver.Resolve(gctx, id, service)
			if err != nil {
				l.logger.Warn("populate: resolve failed, skipping principal",
					slog.String("principal_id", id.String()),
					slog.String("service", service),
					slog.Any("error", err))
				return nil
			}
			if err := l.cache.Set(gctx, id, service, set); err != nil {
				l.logger.Warn("populate: cache set failed, skipping principal",
					slog.String("principal_id", id.String()),
					slog.String("service", service),
					slog.Any("error", err))
			}
			return nil
		})
	}
	return g.Wait()
}
