package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"atlasprep/internal/infra/persistence/memory"
	"atlasprep/internal/infra/persistence/postgres"
	"atlasprep/internal/infra/persistence/postgres/testutil"
	"atlasprep/internal/infra/persistence/sqlite"
)

func TestOpenMemory(t *testing.T) {
	store, err := Open(context.Background(), DriverMemory, "", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
	if err := Close(store); err != nil {
		t.Fatalf("close memory: %v", err)
	}
}

func TestOpenSQLiteDefaultDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(context.Background(), "", path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = Close(store) })
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	if s.Path() != path {
		t.Fatalf("expected path %s, got %s", path, s.Path())
	}
}

func TestOpenPostgres(t *testing.T) {
	db, _ := testutil.NewStubDB()
	t.Cleanup(postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil }))
	store, err := Open(context.Background(), "POSTGRES", "postgres://stub", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*postgres.Store); !ok {
		t.Fatalf("expected *postgres.Store, got %T", store)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", "", nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenFromEnv(t *testing.T) {
	t.Setenv(EnvDriver, "memory")
	t.Setenv(EnvDSN, "")
	store, err := OpenFromEnv(context.Background(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}
