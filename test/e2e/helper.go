package e2e

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/events"
	"github.com/asakaida/kizuna/internal/handlers"
	"github.com/asakaida/kizuna/internal/identity"
	"github.com/asakaida/kizuna/internal/repositories"
	"github.com/asakaida/kizuna/internal/repositories/sqlite"
	"github.com/asakaida/kizuna/internal/services"
	"github.com/asakaida/kizuna/internal/services/discovery"
	"github.com/asakaida/kizuna/pkg/cache/memorycache"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
)

const bufSize = 1024 * 1024

// E2ETestServer is the full stack on an embedded SQLite store behind bufconn
type E2ETestServer struct {
	Server    *grpc.Server
	Client    *handlers.RelationshipsClient
	Conn      *grpc.ClientConn
	DB        *gorm.DB
	Profiles  *sqlite.ProfileRepository
	Published *recordingPublisher
	Listener  *bufconn.Listener
}

// recordingPublisher captures published events in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// SetupE2ETest sets up an E2E test environment
func SetupE2ETest(t *testing.T) *E2ETestServer {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := sqlite.RunMigrations(ctx, db, zap.NewNop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	edgeRepo := sqlite.NewEdgeRepository(db)
	profileRepo := sqlite.NewProfileRepository(db)
	profileCache := memorycache.New(&memorycache.Config[entities.Profile]{
		MaxSizeBytes:  1 << 20,
		DefaultTTL:    time.Minute,
		EnableMetrics: true,
	})
	cachedProfiles := repositories.NewCachedProfileRepository(profileRepo, profileCache, time.Minute)

	publisher := &recordingPublisher{}
	logger := zap.NewNop()
	relationships := services.NewRelationshipService(edgeRepo, cachedProfiles, publisher, logger)
	engine := discovery.NewEngine(profileRepo, discovery.WithLogger(logger))
	handler := handlers.NewRelationshipHandler(relationships, engine, identity.MetadataProvider{}, 10*time.Millisecond, logger)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	handlers.RegisterRelationshipsServer(server, handler)
	go func() {
		if err := server.Serve(listener); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	bufDialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to create client connection: %v", err)
	}

	e := &E2ETestServer{
		Server:    server,
		Client:    handlers.NewRelationshipsClient(conn),
		Conn:      conn,
		DB:        db,
		Profiles:  profileRepo,
		Published: publisher,
		Listener:  listener,
	}
	t.Cleanup(func() { e.Teardown(t) })
	return e
}

// Teardown cleans up the E2E test environment
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.Conn != nil {
		e.Conn.Close()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
	if e.Listener != nil {
		e.Listener.Close()
	}
	if e.DB != nil {
		if sqlDB, err := e.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

// SeedProfiles inserts users into the profile projection
func (e *E2ETestServer) SeedProfiles(t *testing.T, profiles ...entities.Profile) {
	t.Helper()
	for i := range profiles {
		if err := e.Profiles.UpsertProfile(context.Background(), &profiles[i]); err != nil {
			t.Fatalf("failed to seed profile %s: %v", profiles[i].ID, err)
		}
	}
}

// As returns a context that authenticates as user
func As(user string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), identity.UserIDHeader, user)
}
