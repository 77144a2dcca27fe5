// Package sqlite persists the dedupe seen-set and the sync ledger next to
// the vault using the ncruces SQLite driver (WASM-based, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/untoldecay/kira/internal/types"
)

// setupWASMCache configures WASM compilation caching so SQLite startup
// costs are paid once per machine instead of once per process.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		if c, err := wazero.NewCompilationCacheWithDir(filepath.Join(userCache, "kira", "wasm")); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// Store wraps one SQLite database holding the seen_events and sync_ledger
// tables. Writes serialize on the connection; the busy timeout keeps
// concurrent openers from failing fast.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	var connStr string
	if path == ":memory:" {
		connStr = "file:kiradb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=busy_timeout(10000)&_time_format=sqlite"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: creating directory %s: %v", types.ErrIO, dir, err)
		}
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", types.ErrIO, err)
	}
	// A single writer connection sidesteps table-lock contention between
	// pooled connections.
	if strings.Contains(connStr, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path}
	if err := s.applySchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) applySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: applying schema: %v", types.ErrIO, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
