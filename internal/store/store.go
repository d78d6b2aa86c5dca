package store

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"time"
)

// Mapping associates a port with the project that last used it.
// Port is unique across all mappings.
type Mapping struct {
	Port        int       `json:"port"`
	ProjectName string    `json:"projectName"`
	ProjectPath string    `json:"projectPath"`
	AutoKill    bool      `json:"autoKill"`
	LastUsed    time.Time `json:"lastUsed"`
}

// Defaults for the two global switches.
const (
	DefaultAutoKill    = false
	DefaultConfirmKill = true
)

// Setting keys used by the SQL backends.
const (
	SettingAutoKill    = "auto_kill"
	SettingConfirmKill = "confirm_kill"
)

var ErrInvalidMapping = errors.New("invalid port mapping")

// Store persists port mappings and the global kill settings.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetPortMapping returns nil, nil when port has no mapping.
	GetPortMapping(ctx context.Context, port int) (*Mapping, error)
	// AddPortMapping inserts or replaces the mapping for m.Port.
	AddPortMapping(ctx context.Context, m Mapping) error
	RemovePortMapping(ctx context.Context, port int) error
	// GetAllMappings returns every mapping ordered by port.
	GetAllMappings(ctx context.Context) ([]Mapping, error)
	GetMappingsForProject(ctx context.Context, projectPath string) ([]Mapping, error)

	IsAutoKillEnabled(ctx context.Context) (bool, error)
	SetAutoKill(ctx context.Context, enabled bool) error
	IsConfirmKillEnabled(ctx context.Context) (bool, error)
	SetConfirmKill(ctx context.Context, enabled bool) error

	Close() error
}

// Validate checks the fields every backend relies on.
func (m Mapping) Validate() error {
	if m.Port < 1 || m.Port > 65535 {
		return ErrInvalidMapping
	}
	if m.ProjectPath == "" {
		return ErrInvalidMapping
	}
	return nil
}

// CleanPath normalizes a project path for comparison.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}

// SortByPort orders mappings in place.
func SortByPort(ms []Mapping) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Port < ms[j].Port })
}
