// Package persistence selects and opens a persistent store backend.
package persistence

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"atlasprep/internal/infra/persistence/memory"
	"atlasprep/internal/infra/persistence/postgres"
	"atlasprep/internal/infra/persistence/sqlite"
	"atlasprep/pkg/domain"
)

// Driver identifies a concrete persistent storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Environment variables consulted by OpenFromEnv.
const (
	EnvDriver = "ATLASPREP_STORAGE_DRIVER"
	EnvDSN    = "ATLASPREP_STORAGE_DSN"
)

// Open constructs the backend named by driver. dsn is the sqlite file path or
// the postgres connection string and is ignored for memory. An empty driver
// selects sqlite.
func Open(ctx context.Context, driver Driver, dsn string, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	switch Driver(strings.ToLower(string(driver))) {
	case "", DriverSQLite:
		return sqlite.NewStore(dsn, engine)
	case DriverMemory:
		return memory.NewStore(engine), nil
	case DriverPostgres:
		return postgres.NewStore(ctx, dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// OpenFromEnv selects a backend using environment variables.
//
//	ATLASPREP_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ATLASPREP_STORAGE_DSN: sqlite path (default ./atlasprep.db) or postgres DSN
func OpenFromEnv(ctx context.Context, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	return Open(ctx, Driver(os.Getenv(EnvDriver)), os.Getenv(EnvDSN), engine)
}

// Close releases backend resources when the store holds any.
func Close(store domain.PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
