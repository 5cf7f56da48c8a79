package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/events"
	"github.com/asakaida/kizuna/internal/handlers"
	"github.com/asakaida/kizuna/internal/identity"
	"github.com/asakaida/kizuna/internal/infrastructure/cache"
	"github.com/asakaida/kizuna/internal/infrastructure/config"
	"github.com/asakaida/kizuna/internal/infrastructure/database"
	"github.com/asakaida/kizuna/internal/infrastructure/logging"
	"github.com/asakaida/kizuna/internal/infrastructure/metrics"
	"github.com/asakaida/kizuna/internal/repositories"
	"github.com/asakaida/kizuna/internal/repositories/postgres"
	"github.com/asakaida/kizuna/internal/repositories/sqlite"
	"github.com/asakaida/kizuna/internal/services"
	"github.com/asakaida/kizuna/internal/services/discovery"
	"github.com/asakaida/kizuna/pkg/cache/memorycache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	defaultEnv      = "dev"
	shutdownTimeout = 30 * time.Second
	healthInterval  = 10 * time.Second
)

// store bundles the selected backend
type store struct {
	edges    repositories.EdgeRepository
	profiles repositories.ProfileRepository
	health   func(ctx context.Context) error
	close    func() error
	// pg is set for the postgres driver only
	pg *database.Postgres
}

func main() {
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("error closing database connection", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector()
	var exporter *metrics.PrometheusExporter
	if cfg.Server.MetricsPort > 0 {
		exporter = metrics.NewPrometheusExporter(collector)
	}

	profiles := st.profiles
	if cfg.Cache.Enabled {
		profileCache := memorycache.New(&memorycache.Config[entities.Profile]{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    cfg.Cache.TTL(),
			SizeOf:        profileSize,
			EnableMetrics: cfg.Cache.Metrics,
		})
		defer profileCache.Close()
		cached := repositories.NewCachedProfileRepository(st.profiles, profileCache, cfg.Cache.TTL())
		profiles = cached
		collector.SetCache(profileCache)

		if st.pg != nil {
			invalidator := cache.NewProfileInvalidator(cached, cfg.Database.ConnectionString(), logger)
			if err := invalidator.Start(ctx); err != nil {
				logger.Warn("profile invalidation disabled, relying on cache TTL", zap.Error(err))
			} else {
				defer invalidator.Stop()
			}
		}
		logger.Info("profile cache enabled",
			zap.Int64("max_memory_bytes", cfg.Cache.MaxMemoryBytes),
			zap.Duration("ttl", cfg.Cache.TTL()))
	}

	publisher, closePublisher, err := openPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	policy, err := discovery.NewPolicy(cfg.Search.Policy)
	if err != nil {
		return fmt.Errorf("invalid SEARCH_POLICY: %w", err)
	}
	engine := discovery.NewEngine(profiles,
		discovery.WithPolicy(policy),
		discovery.WithLimit(cfg.Search.Limit),
		discovery.WithLogger(logger),
	)

	relationships := services.NewRelationshipService(st.edges, profiles, publisher, logger)
	handler := handlers.NewRelationshipHandler(relationships, engine, identity.MetadataProvider{}, cfg.Search.Debounce(), logger)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor(collector, exporter)),
		grpc.ChainStreamInterceptor(metrics.StreamServerInterceptor(collector, exporter)),
	)
	handlers.RegisterRelationshipsServer(grpcServer, handler)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handlers.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Register reflection service (for grpcurl, etc.)
	reflection.Register(grpcServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.Info("gRPC server listening", zap.String("addr", addr))

	serverErrors := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	var metricsServer *http.Server
	if exporter != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
		logger.Info("metrics server listening", zap.String("addr", metricsServer.Addr))
	}

	go watchHealth(ctx, st, healthServer, exporter, logger)

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		logger.Info("initiating graceful shutdown")
	}

	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.RunMigrations(ctx, db, logger); err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		logger.Info("using sqlite store", zap.String("path", cfg.Database.SQLitePath))
		return &store{
			edges:    sqlite.NewEdgeRepository(db),
			profiles: sqlite.NewProfileRepository(db),
			health:   sqlDB.PingContext,
			close:    sqlDB.Close,
		}, nil

	default:
		pg, err := database.NewPostgres(&cfg.Database)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to database",
			zap.String("user", cfg.Database.User),
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Database))
		return &store{
			edges:    postgres.NewPostgresEdgeRepository(pg.DB),
			profiles: postgres.NewPostgresProfileRepository(pg.DB),
			health:   pg.HealthCheck,
			close:    pg.Close,
			pg:       pg,
		}, nil
	}
}

func openPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Publisher, func(), error) {
	if cfg.Events.NatsURL == "" {
		logger.Info("event publishing disabled")
		return events.Nop{}, func() {}, nil
	}

	publisher, err := events.NewNatsPublisher(ctx, cfg.Events.NatsURL, cfg.Events.Stream)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing relationship events",
		zap.String("url", cfg.Events.NatsURL),
		zap.String("stream", cfg.Events.Stream))
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("error closing event publisher", zap.Error(err))
		}
	}, nil
}

// watchHealth flips the gRPC health status with the store and refreshes cache gauges
func watchHealth(ctx context.Context, st *store, hs *health.Server, exporter *metrics.PrometheusExporter, logger *zap.Logger) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if exporter != nil {
			exporter.Update()
		}

		err := st.health(ctx)
		switch {
		case err != nil && serving:
			logger.Warn("store health check failed", zap.Error(err))
			hs.SetServingStatus(handlers.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			serving = false
		case err == nil && !serving:
			logger.Info("store healthy again")
			hs.SetServingStatus(handlers.ServiceName, healthpb.HealthCheckResponse_SERVING)
			serving = true
		}
	}
}

// profileSize approximates the memory held by one cached profile
func profileSize(p entities.Profile) int64 {
	return int64(len(p.ID) + len(p.Username) + len(p.AvatarURL))
}
