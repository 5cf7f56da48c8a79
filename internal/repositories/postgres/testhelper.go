package postgres

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/asakaida/kizuna/internal/infrastructure/config"
	"github.com/asakaida/kizuna/internal/infrastructure/database"
	_ "github.com/lib/pq"
)

// SetupTestDB creates a test database connection and runs migrations.
// The test is skipped when no PostgreSQL instance is reachable.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("Failed to init config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Skipf("Skipping PostgreSQL test, config not available: %v", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		t.Skipf("Skipping PostgreSQL test, DB_DRIVER=%s", cfg.Database.Driver)
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("Skipping PostgreSQL test, database not reachable: %v", err)
	}

	root, err := config.FindProjectRoot()
	if err != nil {
		t.Fatalf("Failed to find project root: %v", err)
	}
	if err := pg.RunMigrations(database.MigrationsPath(root)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	truncate(t, pg.DB)
	return pg.DB
}

// CleanupTestDB closes the database connection and cleans up test data
func CleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()

	truncate(t, db)

	if err := db.Close(); err != nil {
		t.Logf("Warning: Failed to close database: %v", err)
	}
}

func truncate(t *testing.T, db *sql.DB) {
	t.Helper()

	for _, table := range []string{"friends", "profiles"} {
		if _, err := db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			t.Logf("Warning: Failed to clean up table %s: %v", table, err)
		}
	}
}

// insertProfile seeds a profile row
func insertProfile(t *testing.T, db *sql.DB, id, username string) {
	t.Helper()

	if _, err := db.Exec(`INSERT INTO profiles (id, username) VALUES ($1, $2)`, id, username); err != nil {
		t.Fatalf("Failed to insert profile %s: %v", id, err)
	}
}
