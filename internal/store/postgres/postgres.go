package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/portctl/internal/store/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS port_mappings(
			port INTEGER PRIMARY KEY,
			project_name TEXT NOT NULL,
			project_path TEXT NOT NULL,
			auto_kill BOOLEAN NOT NULL DEFAULT FALSE,
			last_used TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_port_mappings_project ON port_mappings(project_path);`,
		`CREATE TABLE IF NOT EXISTS settings(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	},
}

type DB struct {
	*sqlstore.DB
	raw *sql.DB
}

// New opens dsn with the pgx stdlib driver. The schema is created on Init,
// so constructing a DB does not require a reachable server.
func New(dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty PostgreSQL DSN")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{DB: sqlstore.New(d, dialect), raw: d}, nil
}

// Init pings the server and creates the schema.
func (p *DB) Init(ctx context.Context) error {
	if err := p.raw.PingContext(ctx); err != nil {
		return err
	}
	return p.EnsureSchema(ctx)
}
