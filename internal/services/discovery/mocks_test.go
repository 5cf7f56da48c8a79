package discovery

import (
	"context"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/repositories"
)

// mockProfileRepository is a function-field mock of repositories.ProfileRepository
type mockProfileRepository struct {
	searchFunc   func(ctx context.Context, filter *repositories.ProfileFilter) ([]*entities.Profile, error)
	getByIDsFunc func(ctx context.Context, ids []string) (map[string]*entities.Profile, error)
}

func (m *mockProfileRepository) Search(ctx context.Context, filter *repositories.ProfileFilter) ([]*entities.Profile, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, filter)
	}
	return nil, nil
}

func (m *mockProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entities.Profile, error) {
	if m.getByIDsFunc != nil {
		return m.getByIDsFunc(ctx, ids)
	}
	return map[string]*entities.Profile{}, nil
}

func profiles(ids ...string) []*entities.Profile {
	out := make([]*entities.Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, &entities.Profile{ID: id, Username: "user_" + id})
	}
	return out
}

func profileIDs(ps []entities.Profile) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}
