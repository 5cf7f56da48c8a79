package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/repositories"
	"go.uber.org/zap"
)

// DefaultLimit caps the number of profiles a search returns
const DefaultLimit = 10

// policyOverfetch multiplies the store limit when a restrictive policy may
// drop rows after the store has applied its LIMIT
const policyOverfetch = 3

// Engine runs exclusion-aware username searches against the profile projection
type Engine struct {
	profiles repositories.ProfileRepository
	policy   *Policy
	limit    int
	logger   *zap.Logger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithPolicy filters results through a discoverability policy
func WithPolicy(p *Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithLimit overrides DefaultLimit
func WithLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine over profiles
func NewEngine(profiles repositories.ProfileRepository, opts ...EngineOption) *Engine {
	e := &Engine{
		profiles: profiles,
		limit:    DefaultLimit,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("discovery")
	return e
}

// Search returns up to the configured limit of profiles whose username contains
// query (case-insensitively) and whose id is not in exclusion. A blank query
// returns no profiles without touching the store. A store failure returns an
// empty result and ErrSearchFailed.
func (e *Engine) Search(ctx context.Context, query string, exclusion entities.ExclusionSet) ([]entities.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []entities.Profile{}, nil
	}

	found, err := e.profiles.Search(ctx, &repositories.ProfileFilter{
		UsernameContains: query,
		ExcludeIDs:       exclusion.IDs(),
		Limit:            e.fetchLimit(),
	})
	if err != nil {
		e.logger.Warn("profile search failed", zap.String("query", query), zap.Error(err))
		return []entities.Profile{}, fmt.Errorf("search %q: %w: %w", query, entities.ErrSearchFailed, err)
	}

	results := make([]entities.Profile, 0, len(found))
	for _, p := range found {
		if p == nil || exclusion.Contains(p.ID) {
			continue
		}
		if e.policy != nil {
			allowed, err := e.policy.Allow(query, p)
			if err != nil {
				e.logger.Warn("policy evaluation failed", zap.String("profile_id", p.ID), zap.Error(err))
				continue
			}
			if !allowed {
				continue
			}
		}
		results = append(results, *p)
		if len(results) == e.limit {
			break
		}
	}

	e.logger.Debug("search executed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

func (e *Engine) fetchLimit() int {
	if e.policy == nil || e.policy.Expression() == DefaultPolicy {
		return e.limit
	}
	return e.limit * policyOverfetch
}
