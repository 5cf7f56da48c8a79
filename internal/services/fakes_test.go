package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/events"
	"github.com/asakaida/kizuna/internal/repositories"
)

// memEdgeStore is an in-memory EdgeRepository enforcing the (from, to)
// uniqueness constraint. The *Hook fields inject failures or interleavings.
type memEdgeStore struct {
	mu     sync.Mutex
	nextID int
	edges  map[string]*entities.Edge

	insertHook func(from, to string) error
	updateHook func(id string) error
	deleteHook func(filter *repositories.EdgeFilter) error
	queryHook  func(filter *repositories.EdgeFilter) error
}

func newMemEdgeStore() *memEdgeStore {
	return &memEdgeStore{edges: map[string]*entities.Edge{}}
}

func (m *memEdgeStore) InsertEdge(ctx context.Context, from, to string, status entities.EdgeStatus) (*entities.Edge, error) {
	if m.insertHook != nil {
		if err := m.insertHook(from, to); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.edges {
		if e.FromUser == from && e.ToUser == to {
			return nil, fmt.Errorf("insert %s->%s: %w", from, to, repositories.ErrConstraintViolation)
		}
	}
	m.nextID++
	now := time.Now()
	e := &entities.Edge{
		ID:        fmt.Sprintf("e%d", m.nextID),
		FromUser:  from,
		ToUser:    to,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.edges[e.ID] = e
	cp := *e
	return &cp, nil
}

func (m *memEdgeStore) UpdateEdgeStatus(ctx context.Context, edgeID string, status entities.EdgeStatus) (*entities.Edge, error) {
	if m.updateHook != nil {
		if err := m.updateHook(edgeID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.edges[edgeID]
	if !ok {
		return nil, fmt.Errorf("edge %s: %w", edgeID, repositories.ErrNotFound)
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

func (m *memEdgeStore) DeleteEdges(ctx context.Context, filter *repositories.EdgeFilter) (int64, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("refusing to delete edges without a filter")
	}
	if m.deleteHook != nil {
		if err := m.deleteHook(filter); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, e := range m.edges {
		if matches(e, filter) {
			delete(m.edges, id)
			n++
		}
	}
	return n, nil
}

func (m *memEdgeStore) QueryEdges(ctx context.Context, filter *repositories.EdgeFilter) ([]*entities.Edge, error) {
	if m.queryHook != nil {
		if err := m.queryHook(filter); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entities.Edge
	for _, e := range m.edges {
		if filter.IsEmpty() || matches(e, filter) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// edge returns the edge for the ordered pair, or nil
func (m *memEdgeStore) edge(from, to string) *entities.Edge {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.edges {
		if e.FromUser == from && e.ToUser == to {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (m *memEdgeStore) count(from, to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.edges {
		if e.FromUser == from && e.ToUser == to {
			n++
		}
	}
	return n
}

func matches(e *entities.Edge, f *repositories.EdgeFilter) bool {
	return (f.ID == "" || e.ID == f.ID) &&
		(f.FromUser == "" || e.FromUser == f.FromUser) &&
		(f.ToUser == "" || e.ToUser == f.ToUser) &&
		(f.Status == "" || e.Status == f.Status)
}

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

// staticProfiles serves every known id as a profile named after it
func staticProfiles(ids ...string) *mockProfileRepository {
	known := map[string]*entities.Profile{}
	for _, id := range ids {
		known[id] = &entities.Profile{ID: id, Username: "name_" + id}
	}
	return &mockProfileRepository{
		getByIDsFunc: func(ctx context.Context, ids []string) (map[string]*entities.Profile, error) {
			out := map[string]*entities.Profile{}
			for _, id := range ids {
				if p, ok := known[id]; ok {
					out[id] = p
				}
			}
			return out, nil
		},
		searchFunc: func(ctx context.Context, filter *repositories.ProfileFilter) ([]*entities.Profile, error) {
			var out []*entities.Profile
			for _, id := range ids {
				out = append(out, known[id])
			}
			return out, nil
		},
	}
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
