package repositories

import (
	"context"

	"github.com/asakaida/kizuna/internal/entities"
)

// ProfileFilter defines search criteria for the profile projection
type ProfileFilter struct {
	UsernameContains string   // Case-insensitive substring match
	ExcludeIDs       []string // Ids that must not be returned
	Limit            int      // Maximum number of rows, <= 0 means no limit
}

// ProfileRepository is the read-only profile projection
type ProfileRepository interface {
	// Search returns profiles matching the filter ordered by username
	Search(ctx context.Context, filter *ProfileFilter) ([]*entities.Profile, error)

	// GetByIDs returns the profiles that exist among ids, keyed by id
	GetByIDs(ctx context.Context, ids []string) (map[string]*entities.Profile, error)
}
