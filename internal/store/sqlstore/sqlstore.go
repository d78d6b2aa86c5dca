// Package sqlstore implements store.Store over database/sql. The sqlite and
// postgres packages supply the driver and the dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/portctl/internal/store"
)

// Dialect carries what differs between SQL engines.
type Dialect struct {
	Name   string
	Schema []string
	// Numbered uses $1..$n placeholders instead of ?.
	Numbered bool
}

// DB is a store.Store backed by a *sql.DB.
type DB struct {
	db *sql.DB
	d  Dialect
}

var _ store.Store = (*DB)(nil)

func New(db *sql.DB, d Dialect) *DB { return &DB{db: db, d: d} }

func (s *DB) EnsureSchema(ctx context.Context) error {
	for _, q := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.Name, err)
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// q rewrites ? placeholders for numbered dialects.
func (s *DB) q(query string) string {
	if !s.d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const mappingCols = `port, project_name, project_path, auto_kill, last_used`

func (s *DB) GetPortMapping(ctx context.Context, port int) (*store.Mapping, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+mappingCols+` FROM port_mappings WHERE port=?;`), port)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *DB) AddPortMapping(ctx context.Context, m store.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.ProjectPath = store.CleanPath(m.ProjectPath)
	var lastUsed any
	if !m.LastUsed.IsZero() {
		lastUsed = m.LastUsed.UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO port_mappings(`+mappingCols+`)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(port) DO UPDATE SET
			project_name=excluded.project_name,
			project_path=excluded.project_path,
			auto_kill=excluded.auto_kill,
			last_used=excluded.last_used;`),
		m.Port, m.ProjectName, m.ProjectPath, m.AutoKill, lastUsed)
	return err
}

func (s *DB) RemovePortMapping(ctx context.Context, port int) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM port_mappings WHERE port=?;`), port)
	return err
}

func (s *DB) GetAllMappings(ctx context.Context) ([]store.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mappingCols+` FROM port_mappings ORDER BY port;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMappings(rows)
}

func (s *DB) GetMappingsForProject(ctx context.Context, projectPath string) ([]store.Mapping, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+mappingCols+` FROM port_mappings WHERE project_path=? ORDER BY port;`),
		store.CleanPath(projectPath))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMappings(rows)
}

func (s *DB) IsAutoKillEnabled(ctx context.Context) (bool, error) {
	return s.getBool(ctx, store.SettingAutoKill, store.DefaultAutoKill)
}

func (s *DB) SetAutoKill(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, store.SettingAutoKill, enabled)
}

func (s *DB) IsConfirmKillEnabled(ctx context.Context) (bool, error) {
	return s.getBool(ctx, store.SettingConfirmKill, store.DefaultConfirmKill)
}

func (s *DB) SetConfirmKill(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, store.SettingConfirmKill, enabled)
}

func (s *DB) getBool(ctx context.Context, key string, def bool) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM settings WHERE key=?;`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("setting %s: %w", key, err)
	}
	return b, nil
}

func (s *DB) setBool(ctx context.Context, key string, v bool) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at;`),
		key, strconv.FormatBool(v), time.Now().UTC())
	return err
}

type scanner interface{ Scan(dest ...any) error }

func scanMapping(r scanner) (store.Mapping, error) {
	var (
		m        store.Mapping
		lastUsed sql.NullTime
	)
	if err := r.Scan(&m.Port, &m.ProjectName, &m.ProjectPath, &m.AutoKill, &lastUsed); err != nil {
		return store.Mapping{}, err
	}
	if lastUsed.Valid {
		m.LastUsed = lastUsed.Time
	}
	return m, nil
}

func scanMappings(rows *sql.Rows) ([]store.Mapping, error) {
	out := make([]store.Mapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
