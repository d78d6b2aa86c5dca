package factory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loykin/portctl/internal/store"
	"github.com/loykin/portctl/internal/store/jsonfile"
	pg "github.com/loykin/portctl/internal/store/postgres"
	sq "github.com/loykin/portctl/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - json:    "" (~/.portctl/state.json), "json://<path>" or a bare *.json path
//   - sqlite:  "sqlite://<path>" or any other bare path
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(ctx context.Context, dsn string, log *slog.Logger) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case d == "":
		path, err := jsonfile.DefaultPath()
		if err != nil {
			return nil, err
		}
		return jsonfile.Open(path, log)
	case strings.HasPrefix(ld, "json://"):
		return jsonfile.Open(d[len("json://"):], log)
	case strings.HasSuffix(ld, ".json") && !strings.Contains(ld, "://"):
		return jsonfile.Open(d, log)
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		db, err := pg.New(d)
		if err != nil {
			return nil, err
		}
		if err := db.Init(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	}
	// default to sqlite path
	return sq.New(d)
}
