package handlers

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/identity"
	"github.com/asakaida/kizuna/internal/repositories"
	"github.com/asakaida/kizuna/internal/services/discovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// mockRelationshipService is a function-field mock of services.RelationshipServiceInterface
type mockRelationshipService struct {
	loadViewFunc         func(ctx context.Context, currentUser string) (*entities.RelationshipView, error)
	sendRequestFunc      func(ctx context.Context, currentUser, targetUser string) error
	cancelRequestFunc    func(ctx context.Context, currentUser, targetUser string) error
	respondToRequestFunc func(ctx context.Context, edgeID, senderUser, currentUser string, accept bool) error
	removeFriendFunc     func(ctx context.Context, currentUser, otherUser string) error
	statusFunc           func(ctx context.Context, currentUser, otherUser string) (entities.RelationshipStatus, error)
	audienceFunc         func(ctx context.Context, currentUser string) ([]string, error)
}

func (m *mockRelationshipService) LoadView(ctx context.Context, currentUser string) (*entities.RelationshipView, error) {
	if m.loadViewFunc != nil {
		return m.loadViewFunc(ctx, currentUser)
	}
	return entities.EmptyView(), nil
}

func (m *mockRelationshipService) SendRequest(ctx context.Context, currentUser, targetUser string) error {
	if m.sendRequestFunc != nil {
		return m.sendRequestFunc(ctx, currentUser, targetUser)
	}
	return nil
}

func (m *mockRelationshipService) CancelRequest(ctx context.Context, currentUser, targetUser string) error {
	if m.cancelRequestFunc != nil {
		return m.cancelRequestFunc(ctx, currentUser, targetUser)
	}
	return nil
}

func (m *mockRelationshipService) Accept(ctx context.Context, edgeID, senderUser, currentUser string) error {
	return m.RespondToRequest(ctx, edgeID, senderUser, currentUser, true)
}

func (m *mockRelationshipService) Reject(ctx context.Context, edgeID, senderUser, currentUser string) error {
	return m.RespondToRequest(ctx, edgeID, senderUser, currentUser, false)
}

func (m *mockRelationshipService) RespondToRequest(ctx context.Context, edgeID, senderUser, currentUser string, accept bool) error {
	if m.respondToRequestFunc != nil {
		return m.respondToRequestFunc(ctx, edgeID, senderUser, currentUser, accept)
	}
	return nil
}

func (m *mockRelationshipService) RemoveFriend(ctx context.Context, currentUser, otherUser string) error {
	if m.removeFriendFunc != nil {
		return m.removeFriendFunc(ctx, currentUser, otherUser)
	}
	return nil
}

func (m *mockRelationshipService) Status(ctx context.Context, currentUser, otherUser string) (entities.RelationshipStatus, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, currentUser, otherUser)
	}
	return entities.RelationshipNone, nil
}

func (m *mockRelationshipService) Audience(ctx context.Context, currentUser string) ([]string, error) {
	if m.audienceFunc != nil {
		return m.audienceFunc(ctx, currentUser)
	}
	return []string{currentUser}, nil
}

// stubProfiles serves a fixed directory to the discovery engine
type stubProfiles struct {
	profiles []*entities.Profile
	err      error
}

func (s *stubProfiles) Search(ctx context.Context, filter *repositories.ProfileFilter) ([]*entities.Profile, error) {
	return s.profiles, s.err
}

func (s *stubProfiles) GetByIDs(ctx context.Context, ids []string) (map[string]*entities.Profile, error) {
	return map[string]*entities.Profile{}, nil
}

func directory(ids ...string) *stubProfiles {
	out := make([]*entities.Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, &entities.Profile{ID: id, Username: "user_" + id})
	}
	return &stubProfiles{profiles: out}
}

// setupTestServer starts the Relationships service on an in-memory listener
func setupTestServer(t *testing.T, svc *mockRelationshipService, profiles repositories.ProfileRepository) *RelationshipsClient {
	t.Helper()

	if profiles == nil {
		profiles = directory()
	}
	engine := discovery.NewEngine(profiles)
	handler := NewRelationshipHandler(svc, engine, identity.MetadataProvider{}, 10*time.Millisecond, nil)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	RegisterRelationshipsServer(server, handler)
	go func() {
		_ = server.Serve(listener)
	}()

	conn, err := grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufconn: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		_ = listener.Close()
	})

	return NewRelationshipsClient(conn)
}

func asUser(user string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), identity.UserIDHeader, user)
}
