// Package jsonfile keeps port mappings and settings in a single JSON document
// under the user's home directory.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/portctl/internal/store"
)

// CurrentVersion is the schema version written by this package.
const CurrentVersion = 2

const (
	dirName  = ".portctl"
	fileName = "state.json"
)

type settings struct {
	AutoKill    bool `json:"autoKill"`
	ConfirmKill bool `json:"confirmKill"`
}

type document struct {
	Version      int                      `json:"version"`
	Settings     settings                 `json:"settings"`
	PortMappings map[string]store.Mapping `json:"portMappings"`
}

func defaultDocument() document {
	return document{
		Version:      CurrentVersion,
		Settings:     settings{AutoKill: store.DefaultAutoKill, ConfirmKill: store.DefaultConfirmKill},
		PortMappings: map[string]store.Mapping{},
	}
}

// DefaultPath returns ~/.portctl/state.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}

// File is a store.Store over one JSON document. Every mutation rewrites the
// whole file atomically.
type File struct {
	mu   sync.Mutex
	path string
	doc  document
	log  *slog.Logger
}

var _ store.Store = (*File)(nil)

// Open loads path, migrating older documents in place. A missing file yields
// defaults; an unreadable one is logged and replaced by defaults.
func Open(path string, log *slog.Logger) (*File, error) {
	if log == nil {
		log = slog.Default()
	}
	f := &File{path: path, doc: defaultDocument(), log: log.With("store", "jsonfile", "path", path)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	doc, migrated, err := decode(data)
	if err != nil {
		f.log.Warn("state file is corrupt, using defaults", "err", err)
		return f, nil
	}
	f.doc = doc
	if migrated {
		f.log.Info("state file migrated", "version", CurrentVersion)
		if err := f.save(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// decode reads a document of any known version and reports whether it was upgraded.
func decode(data []byte) (document, bool, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return document{}, false, err
	}
	if probe.Version == nil {
		doc, err := migrateV1(data)
		return doc, true, err
	}
	if *probe.Version > CurrentVersion {
		return document{}, false, fmt.Errorf("unsupported state version %d", *probe.Version)
	}

	doc := defaultDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, false, err
	}
	if doc.PortMappings == nil {
		doc.PortMappings = map[string]store.Mapping{}
	}
	if err := normalize(&doc); err != nil {
		return document{}, false, err
	}
	migrated := doc.Version < CurrentVersion
	doc.Version = CurrentVersion
	return doc, migrated, nil
}

// normalize rekeys mappings by their port and drops entries with a bad key.
func normalize(doc *document) error {
	out := make(map[string]store.Mapping, len(doc.PortMappings))
	for k, m := range doc.PortMappings {
		port, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("mapping key %q: %w", k, err)
		}
		m.Port = port
		out[k] = m
	}
	doc.PortMappings = out
	return nil
}

// v1 documents had flat settings and stored lastUsed as epoch milliseconds
// or an RFC 3339 string.
type v1Document struct {
	AutoKill     *bool                `json:"autoKill"`
	ConfirmKill  *bool                `json:"confirmKill"`
	PortMappings map[string]v1Mapping `json:"portMappings"`
}

type v1Mapping struct {
	ProjectName string          `json:"projectName"`
	ProjectPath string          `json:"projectPath"`
	AutoKill    bool            `json:"autoKill"`
	LastUsed    json.RawMessage `json:"lastUsed"`
}

func migrateV1(data []byte) (document, error) {
	var old v1Document
	if err := json.Unmarshal(data, &old); err != nil {
		return document{}, err
	}
	doc := defaultDocument()
	if old.AutoKill != nil {
		doc.Settings.AutoKill = *old.AutoKill
	}
	if old.ConfirmKill != nil {
		doc.Settings.ConfirmKill = *old.ConfirmKill
	}
	for k, m := range old.PortMappings {
		port, err := strconv.Atoi(k)
		if err != nil {
			return document{}, fmt.Errorf("mapping key %q: %w", k, err)
		}
		doc.PortMappings[k] = store.Mapping{
			Port:        port,
			ProjectName: m.ProjectName,
			ProjectPath: m.ProjectPath,
			AutoKill:    m.AutoKill,
			LastUsed:    parseV1Time(m.LastUsed),
		}
	}
	return doc, nil
}

func parseV1Time(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// save writes the document to a temp file in the same directory and renames it over path.
func (f *File) save() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// mutate applies fn and persists; the in-memory document is rolled back on failure.
func (f *File) mutate(fn func(*document)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.doc
	prev.PortMappings = make(map[string]store.Mapping, len(f.doc.PortMappings))
	for k, v := range f.doc.PortMappings {
		prev.PortMappings[k] = v
	}
	fn(&f.doc)
	if err := f.save(); err != nil {
		f.doc = prev
		return err
	}
	return nil
}

func (f *File) GetPortMapping(_ context.Context, port int) (*store.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.doc.PortMappings[strconv.Itoa(port)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *File) AddPortMapping(_ context.Context, m store.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.ProjectPath = store.CleanPath(m.ProjectPath)
	if !m.LastUsed.IsZero() {
		m.LastUsed = m.LastUsed.UTC()
	}
	return f.mutate(func(d *document) { d.PortMappings[strconv.Itoa(m.Port)] = m })
}

func (f *File) RemovePortMapping(_ context.Context, port int) error {
	f.mu.Lock()
	_, ok := f.doc.PortMappings[strconv.Itoa(port)]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return f.mutate(func(d *document) { delete(d.PortMappings, strconv.Itoa(port)) })
}

func (f *File) GetAllMappings(context.Context) ([]store.Mapping, error) {
	return f.filter(func(store.Mapping) bool { return true }), nil
}

func (f *File) GetMappingsForProject(_ context.Context, projectPath string) ([]store.Mapping, error) {
	want := store.CleanPath(projectPath)
	return f.filter(func(m store.Mapping) bool { return m.ProjectPath == want }), nil
}

func (f *File) filter(keep func(store.Mapping) bool) []store.Mapping {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Mapping, 0, len(f.doc.PortMappings))
	for _, m := range f.doc.PortMappings {
		if keep(m) {
			out = append(out, m)
		}
	}
	store.SortByPort(out)
	return out
}

func (f *File) IsAutoKillEnabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Settings.AutoKill, nil
}

func (f *File) SetAutoKill(_ context.Context, enabled bool) error {
	return f.mutate(func(d *document) { d.Settings.AutoKill = enabled })
}

func (f *File) IsConfirmKillEnabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Settings.ConfirmKill, nil
}

func (f *File) SetConfirmKill(_ context.Context, enabled bool) error {
	return f.mutate(func(d *document) { d.Settings.ConfirmKill = enabled })
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

func (f *File) Close() error { return nil }
