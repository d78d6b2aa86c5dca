package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/portctl/internal/store/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS port_mappings(
			port INTEGER PRIMARY KEY,
			project_name TEXT NOT NULL,
			project_path TEXT NOT NULL,
			auto_kill BOOLEAN NOT NULL DEFAULT 0,
			last_used TIMESTAMP NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_port_mappings_project ON port_mappings(project_path);`,
		`CREATE TABLE IF NOT EXISTS settings(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
	},
}

// DB stores mappings in SQLite (modernc.org/sqlite driver, CGO-free).
// The path may be ":memory:" for a throwaway database.
type DB struct {
	*sqlstore.DB
}

// New opens the database at path and creates the schema.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared and avoids writer contention
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{DB: sqlstore.New(d, dialect)}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}
