// Package workflow implements the user-facing operations on top of the
// process directory: kill with escalation, scan, auto-kill and claim.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/loykin/portctl/internal/history"
	"github.com/loykin/portctl/internal/resolver"
	"github.com/loykin/portctl/internal/store"
)

var (
	ErrNotInUse   = errors.New("port is not in use")
	ErrKillFailed = errors.New("process could not be terminated; try again with elevated privileges")
	ErrAborted    = errors.New("aborted")
)

// Directory is the subset of directory.Service the workflows need.
type Directory interface {
	FindByPort(ctx context.Context, port int) (*resolver.Record, error)
	KillProcess(ctx context.Context, pid int, forceful bool) (bool, error)
	ListListening(ctx context.Context) []resolver.Record
	IsCriticalProcess(rec resolver.Record) bool
}

// Confirmer asks the user before destructive steps.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
	Warn(msg string)
}

// Service wires the directory to persistence and history.
type Service struct {
	dir     Directory
	store   store.Store
	sink    history.Sink
	confirm Confirmer
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithHistory records every kill attempt to sink.
func WithHistory(sink history.Sink) Option { return func(s *Service) { s.sink = sink } }

// WithConfirmer sets the prompt used for confirmations and warnings.
func WithConfirmer(c Confirmer) Option { return func(s *Service) { s.confirm = c } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func New(dir Directory, st store.Store, opts ...Option) *Service {
	s := &Service{
		dir:     dir,
		store:   st,
		sink:    history.Nop{},
		confirm: denyConfirmer{},
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "workflow")
	return s
}

// KillOptions control Kill.
type KillOptions struct {
	// Force skips the graceful attempt.
	Force bool
	// Yes answers every confirmation with yes.
	Yes bool
}

// KillResult describes a successful kill.
type KillResult struct {
	Record   resolver.Record
	Forceful bool
	Critical bool
}

// Kill terminates the process listening on port. A graceful request that
// leaves the process alive is retried once with force.
func (s *Service) Kill(ctx context.Context, port int, opts KillOptions) (*KillResult, error) {
	rec, err := s.dir.FindByPort(ctx, port)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotInUse, port)
	}

	critical := s.dir.IsCriticalProcess(*rec)
	if critical {
		s.confirm.Warn(fmt.Sprintf("%s (PID %d) looks like a system process; killing it may destabilize the machine", rec.ProcessName, rec.PID))
	}
	if !opts.Yes {
		ask, err := s.store.IsConfirmKillEnabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("read settings: %w", err)
		}
		if ask || critical {
			ok, err := s.confirm.Confirm(fmt.Sprintf("Kill %s (PID %d) on port %d?", rec.ProcessName, rec.PID, port))
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrAborted
			}
		}
	}

	forceful, err := s.terminate(ctx, *rec, opts.Force, history.EventKill)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, port)
	return &KillResult{Record: *rec, Forceful: forceful, Critical: critical}, nil
}

// terminate kills rec, escalating at most once, and records the outcome.
// It reports whether force was used.
func (s *Service) terminate(ctx context.Context, rec resolver.Record, force bool, evt history.EventType) (bool, error) {
	ok, err := s.dir.KillProcess(ctx, rec.PID, force)
	if err != nil {
		return force, err
	}
	if !ok && !force {
		s.log.Info("graceful termination did not stop process, forcing", "pid", rec.PID, "port", rec.Port)
		force = true
		ok, err = s.dir.KillProcess(ctx, rec.PID, true)
		if err != nil {
			return force, err
		}
	}

	e := history.Event{
		Type:        evt,
		OccurredAt:  s.now().UTC(),
		Port:        rec.Port,
		PID:         rec.PID,
		ProcessName: rec.ProcessName,
		Command:     rec.Command,
		Forceful:    force,
		Success:     ok,
		Project:     s.projectName(ctx, rec.Port),
	}
	if !ok {
		e.Type = history.EventKillFailed
		history.Emit(ctx, s.sink, s.log, e)
		return force, fmt.Errorf("%w (pid %d on port %d)", ErrKillFailed, rec.PID, rec.Port)
	}
	history.Emit(ctx, s.sink, s.log, e)
	return force, nil
}

func (s *Service) projectName(ctx context.Context, port int) string {
	m, err := s.store.GetPortMapping(ctx, port)
	if err != nil || m == nil {
		return ""
	}
	return m.ProjectName
}

// touch refreshes LastUsed on an existing mapping.
func (s *Service) touch(ctx context.Context, port int) {
	m, err := s.store.GetPortMapping(ctx, port)
	if err != nil || m == nil {
		return
	}
	m.LastUsed = s.now().UTC()
	if err := s.store.AddPortMapping(ctx, *m); err != nil {
		s.log.Warn("could not update mapping", "port", port, "err", err)
	}
}

// Entry is one listening process with the mapping for its port, if any.
type Entry struct {
	resolver.Record
	Mapping *store.Mapping `json:"mapping,omitempty"`
}

// MarshalJSON flattens the record and adds the mapping next to its fields.
// Without it the embedded Record's marshaller would drop the mapping.
func (e Entry) MarshalJSON() ([]byte, error) {
	rec, err := json.Marshal(e.Record)
	if err != nil || e.Mapping == nil {
		return rec, err
	}
	m, err := json.Marshal(e.Mapping)
	if err != nil {
		return nil, err
	}
	out := append(rec[:len(rec)-1:len(rec)-1], `,"mapping":`...)
	out = append(out, m...)
	return append(out, '}'), nil
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &e.Record); err != nil {
		return err
	}
	var aux struct {
		Mapping *store.Mapping `json:"mapping"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.Mapping = aux.Mapping
	return nil
}

// Scan lists every listening process ordered by port then pid.
func (s *Service) Scan(ctx context.Context) ([]Entry, error) {
	recs := s.dir.ListListening(ctx)
	all, err := s.store.GetAllMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	byPort := make(map[int]store.Mapping, len(all))
	for _, m := range all {
		byPort[m.Port] = m
	}

	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		e := Entry{Record: r}
		if m, ok := byPort[r.Port]; ok {
			e.Mapping = &m
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].PID < out[j].PID
	})
	return out, nil
}

// Outcome is what Auto did for one mapped port.
type Outcome string

const (
	OutcomeKilled   Outcome = "killed"
	OutcomeFree     Outcome = "free"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeCritical Outcome = "critical"
	OutcomeFailed   Outcome = "failed"
)

// AutoResult reports one mapped port handled by Auto.
type AutoResult struct {
	Mapping store.Mapping    `json:"mapping"`
	Record  *resolver.Record `json:"record,omitempty"`
	Outcome Outcome          `json:"outcome"`
	Err     error            `json:"-"`
}

// Auto frees every port mapped to projectPath whose auto-kill is enabled,
// either globally or on the mapping. Critical processes are never killed.
func (s *Service) Auto(ctx context.Context, projectPath string) ([]AutoResult, error) {
	global, err := s.store.IsAutoKillEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	mappings, err := s.store.GetMappingsForProject(ctx, projectPath)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	out := make([]AutoResult, 0, len(mappings))
	for _, m := range mappings {
		res := AutoResult{Mapping: m}
		switch {
		case !global && !m.AutoKill:
			res.Outcome = OutcomeSkipped
		default:
			res.Record, res.Err = s.dir.FindByPort(ctx, m.Port)
			switch {
			case res.Err != nil:
				res.Outcome = OutcomeFailed
			case res.Record == nil:
				res.Outcome = OutcomeFree
			case s.dir.IsCriticalProcess(*res.Record):
				res.Outcome = OutcomeCritical
			default:
				if _, err := s.terminate(ctx, *res.Record, false, history.EventAutoKill); err != nil {
					res.Outcome, res.Err = OutcomeFailed, err
				} else {
					res.Outcome = OutcomeKilled
					s.touch(ctx, m.Port)
				}
			}
		}
		s.log.Debug("auto-kill", "port", m.Port, "outcome", res.Outcome)
		out = append(out, res)
	}
	return out, nil
}

// Claim records that projectPath uses port. The project name is the
// directory's base name.
func (s *Service) Claim(ctx context.Context, port int, projectPath string, autoKill bool) (store.Mapping, error) {
	abs := store.CleanPath(projectPath)
	m := store.Mapping{
		Port:        port,
		ProjectName: filepath.Base(abs),
		ProjectPath: abs,
		AutoKill:    autoKill,
		LastUsed:    s.now().UTC(),
	}
	if err := m.Validate(); err != nil {
		return store.Mapping{}, fmt.Errorf("%w: port %d path %q", err, port, projectPath)
	}
	if err := s.store.AddPortMapping(ctx, m); err != nil {
		return store.Mapping{}, err
	}
	return m, nil
}
