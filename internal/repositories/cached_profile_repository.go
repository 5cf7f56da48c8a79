package repositories

import (
	"context"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/pkg/cache"
)

// CachedProfileRepository decorates a ProfileRepository with a read-through
// cache for GetByIDs. Search is never cached because its result depends on
// the caller's exclusion set.
type CachedProfileRepository struct {
	next  ProfileRepository
	cache cache.Cache[entities.Profile]
	ttl   time.Duration
}

// NewCachedProfileRepository wraps next with the given cache
func NewCachedProfileRepository(next ProfileRepository, c cache.Cache[entities.Profile], ttl time.Duration) *CachedProfileRepository {
	return &CachedProfileRepository{next: next, cache: c, ttl: ttl}
}

// Search delegates to the wrapped repository and refreshes cached entries
func (r *CachedProfileRepository) Search(ctx context.Context, filter *ProfileFilter) ([]*entities.Profile, error) {
	profiles, err := r.next.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		_ = r.cache.Set(ctx, p.ID, *p, r.ttl)
	}
	return profiles, nil
}

// GetByIDs serves cached profiles and fetches the rest in one call
func (r *CachedProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entities.Profile, error) {
	result := make(map[string]*entities.Profile, len(ids))
	var missing []string
	for _, id := range ids {
		if p, ok := r.cache.Get(ctx, id); ok {
			result[id] = &p
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := r.next.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		result[id] = p
		_ = r.cache.Set(ctx, id, *p, r.ttl)
	}
	return result, nil
}

// Invalidate evicts a single profile, e.g. after a profile change notification
func (r *CachedProfileRepository) Invalidate(ctx context.Context, id string) error {
	return r.cache.Delete(ctx, id)
}

// Purge drops every cached profile. Used when change notifications may have been missed.
func (r *CachedProfileRepository) Purge(ctx context.Context) error {
	return r.cache.Clear(ctx)
}
