package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/asakaida/kizuna/internal/infrastructure/config"
	"github.com/asakaida/kizuna/internal/infrastructure/database"
	"github.com/asakaida/kizuna/internal/infrastructure/logging"
	"github.com/asakaida/kizuna/internal/repositories/sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	envFlag string
	cfg     *config.Config
	logger  *zap.Logger
	pg      *database.Postgres
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool for Kizuna",
	Long: `Database migration tool for Kizuna.
Manages PostgreSQL schema migrations using golang-migrate.
The sqlite driver only supports "up", which applies the embedded goose migrations.`,
	PersistentPreRun:  setup,
	PersistentPostRun: teardown,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Long:  `Apply all pending migrations to the database.`,
	Run:   runUp,
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Rollback migrations",
	Long:  `Rollback the specified number of migrations (default: 1).`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runDown,
}

var gotoCmd = &cobra.Command{
	Use:   "goto <version>",
	Short: "Migrate to a specific version",
	Long:  `Migrate to a specific version number.`,
	Args:  cobra.ExactArgs(1),
	Run:   runGoto,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current migration version",
	Long:  `Display the current migration version of the database.`,
	Run:   runVersion,
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Force set migration version (use with caution)",
	Long:  `Force set the migration version without running migrations. Use with caution.`,
	Args:  cobra.ExactArgs(1),
	Run:   runForce,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(forceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func setup(cmd *cobra.Command, args []string) {
	if err := config.InitConfig(envFlag); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err = logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger.Info("using environment", zap.String("env", envFlag), zap.String("driver", cfg.Database.Driver))

	if cfg.Database.Driver != config.DriverPostgres {
		return
	}

	pg, err = database.NewPostgres(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	logger.Info("connected to database",
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database))
}

func teardown(cmd *cobra.Command, args []string) {
	if pg != nil {
		_ = pg.Close()
	}
	if logger != nil {
		_ = logger.Sync()
	}
}

// newMigrate opens golang-migrate on the PostgreSQL migrations directory
func newMigrate() *migrate.Migrate {
	if pg == nil {
		logger.Fatal("command is only supported for the postgres driver", zap.String("driver", cfg.Database.Driver))
	}

	projectRoot, err := config.FindProjectRoot()
	if err != nil {
		logger.Fatal("failed to find project root", zap.Error(err))
	}
	migrationsPath := database.MigrationsPath(projectRoot)
	logger.Info("using migrations path", zap.String("path", migrationsPath))

	m, err := pg.NewMigrate(migrationsPath)
	if err != nil {
		logger.Fatal("failed to create migrate instance", zap.Error(err))
	}
	return m
}

func parseVersion(arg string) int {
	v, err := strconv.Atoi(arg)
	if err != nil || v < 0 {
		logger.Fatal("invalid version", zap.String("arg", arg))
	}
	return v
}

func runUp(cmd *cobra.Command, args []string) {
	if cfg.Database.Driver == config.DriverSQLite {
		runSQLiteUp()
		return
	}

	m := newMigrate()
	defer m.Close()

	err := m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations to apply")
	case err != nil:
		logger.Fatal("migration up failed", zap.Error(err))
	default:
		logger.Info("migration up completed successfully")
	}
}

func runSQLiteUp() {
	db, err := sqlite.Open(cfg.Database.SQLitePath)
	if err != nil {
		logger.Fatal("failed to open sqlite database", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := sqlite.RunMigrations(context.Background(), db, logger); err != nil {
		logger.Fatal("migration up failed", zap.Error(err))
	}
	logger.Info("sqlite migrations applied", zap.String("path", cfg.Database.SQLitePath))
}

func runDown(cmd *cobra.Command, args []string) {
	steps := 1
	if len(args) > 0 {
		steps = parseVersion(args[0])
	}

	m := newMigrate()
	defer m.Close()

	err := m.Steps(-steps)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations to rollback")
	case err != nil:
		logger.Fatal("migration down failed", zap.Error(err))
	default:
		logger.Info("migration down completed successfully", zap.Int("steps", steps))
	}
}

func runGoto(cmd *cobra.Command, args []string) {
	version := uint(parseVersion(args[0]))

	m := newMigrate()
	defer m.Close()

	err := m.Migrate(version)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("already at version", zap.Uint("version", version))
	case err != nil:
		logger.Fatal("migration goto failed", zap.Error(err))
	default:
		logger.Info("migration goto completed successfully", zap.Uint("version", version))
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	m := newMigrate()
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("Current version: No migrations applied yet")
		return
	}
	if err != nil {
		logger.Fatal("failed to get version", zap.Error(err))
	}

	if dirty {
		fmt.Printf("Current version: %d (dirty - migration may have failed)\n", version)
	} else {
		fmt.Printf("Current version: %d\n", version)
	}
}

func runForce(cmd *cobra.Command, args []string) {
	version := parseVersion(args[0])

	m := newMigrate()
	defer m.Close()

	if err := m.Force(version); err != nil {
		logger.Fatal("migration force failed", zap.Error(err))
	}
	logger.Info("migration forced", zap.Int("version", version))
}
