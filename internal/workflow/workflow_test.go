package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/portctl/internal/history"
	"github.com/loykin/portctl/internal/resolver"
	"github.com/loykin/portctl/internal/store"
	"github.com/loykin/portctl/internal/store/jsonfile"
)

type killCall struct {
	pid      int
	forceful bool
}

// fakeDirectory serves records by port and kills by script.
type fakeDirectory struct {
	mu       sync.Mutex
	byPort   map[int]*resolver.Record
	critical map[string]bool
	// results are consumed per call; missing entries mean failure
	results []bool
	kills   []killCall
}

func (f *fakeDirectory) FindByPort(_ context.Context, port int) (*resolver.Record, error) {
	if r, ok := f.byPort[port]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDirectory) KillProcess(_ context.Context, pid int, forceful bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, killCall{pid, forceful})
	if len(f.results) == 0 {
		return false, nil
	}
	ok := f.results[0]
	f.results = f.results[1:]
	return ok, nil
}

func (f *fakeDirectory) ListListening(context.Context) []resolver.Record {
	out := make([]resolver.Record, 0, len(f.byPort))
	for _, r := range f.byPort {
		out = append(out, *r)
	}
	return out
}

func (f *fakeDirectory) IsCriticalProcess(r resolver.Record) bool { return f.critical[r.ProcessName] }

type scriptedConfirmer struct {
	answer bool
	asked  []string
	warned []string
}

func (s *scriptedConfirmer) Confirm(p string) (bool, error) {
	s.asked = append(s.asked, p)
	return s.answer, nil
}

func (s *scriptedConfirmer) Warn(m string) { s.warned = append(s.warned, m) }

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

var clock = time.Date(2025, 12, 13, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, dir *fakeDirectory, c Confirmer) (*Service, store.Store, *memSink) {
	t.Helper()
	st, err := jsonfile.Open(filepath.Join(t.TempDir(), "state.json"), nil)
	require.NoError(t, err)
	sink := &memSink{}
	svc := New(dir, st, WithHistory(sink), WithConfirmer(c))
	svc.now = func() time.Time { return clock }
	return svc, st, sink
}

func node() *resolver.Record {
	return &resolver.Record{PID: 4242, Port: 3000, ProcessName: "node", Command: "node server.js"}
}

func TestKillNotInUse(t *testing.T) {
	svc, _, sink := newTestService(t, &fakeDirectory{}, &scriptedConfirmer{})
	_, err := svc.Kill(context.Background(), 3000, KillOptions{Yes: true})
	assert.ErrorIs(t, err, ErrNotInUse)
	assert.Empty(t, sink.events)
}

func TestKillGracefulSucceeds(t *testing.T) {
	dir := &fakeDirectory{byPort: map[int]*resolver.Record{3000: node()}, results: []bool{true}}
	svc, st, sink := newTestService(t, dir, &scriptedConfirmer{})
	ctx := context.Background()
	require.NoError(t, st.AddPortMapping(ctx, store.Mapping{Port: 3000, ProjectName: "web", ProjectPath: "/src/web"}))

	res, err := svc.Kill(ctx, 3000, KillOptions{Yes: true})
	require.NoError(t, err)
	assert.False(t, res.Forceful)
	assert.Equal(t, []killCall{{4242, false}}, dir.kills)

	require.Len(t, sink.events, 1)
	assert.Equal(t, history.EventKill, sink.events[0].Type)
	assert.True(t, sink.events[0].Success)
	assert.Equal(t, "web", sink.events[0].Project)

	m, err := st.GetPortMapping(ctx, 3000)
	require.NoError(t, err)
	assert.True(t, clock.Equal(m.LastUsed))
}

func TestKillEscalatesOnce(t *testing.T) {
	dir := &fakeDirectory{byPort: map[int]*resolver.Record{3000: node()}, results: []bool{false, true}}
	svc, _, sink := newTestService(t, dir, &scriptedConfirmer{})

	res, err := svc.Kill(context.Background(), 3000, KillOptions{Yes: true})
	require.NoError(t, err)
	assert.True(t, res.Forceful)
	assert.Equal(t, []killCall{{4242, false}, {4242, true}}, dir.kills)
	require.Len(t, sink.events, 1)
	assert.True(t, sink.events[0].Forceful)
}

func TestKillFailsAfterEscalation(t *testing.T) {
	dir := &fakeDirectory{byPort: map[int]*resolver.Record{3000: node()}, results: []bool{false, false}}
	svc, _, sink := newTestService(t, dir, &scriptedConfirmer{})

	_, err := svc.Kill(context.Background(), 3000, KillOptions{Yes: true})
	require.ErrorIs(t, err, ErrKillFailed)
	assert.Contains(t, err.Error(), "elevated privileges")
	assert.Len(t, dir.kills, 2)
	require.Len(t, sink.events, 1)
	assert.Equal(t, history.EventKillFailed, sink.events[0].Type)
	assert.False(t, sink.events[0].Success)
}

func TestKillForceSkipsGraceful(t *testing.T) {
	dir := &fakeDirectory{byPort: map[int]*resolver.Record{3000: node()}, results: []bool{false}}
	svc, _, _ := newTestService(t, dir, &scriptedConfirmer{})

	_, err := svc.Kill(context.Background(), 3000, KillOptions{Yes: true, Force: true})
	require.ErrorIs(t, err, ErrKillFailed)
	assert.Equal(t, []killCall{{4242, true}}, dir.kills)
}

func TestKillConfirmation(t *testing.T) {
	dir := &fakeDirectory{byPort: map[int]*resolver.Record{3000: node()}, results: []bool{true}}
	c := &scriptedConfirmer{answer: false}
	svc, st, _ := newTestService(t, dir, c)
	ctx := context.Background()

	_, err := svc.Kill(ctx, 3000, KillOptions{})
	assert.ErrorIs(t, err, ErrAborted)
	require.Len(t, c.asked, 1)
	assert.Contains(t, c.asked[0], "node (PID 4242) on port 3000")
	assert.Empty(t, dir.kills)

	// confirm-kill off: no prompt
	require.NoError(t, st.SetConfirmKill(ctx, false))
	_, err = svc.Kill(ctx, 3000, KillOptions{})
	require.NoError(t, err)
	assert.Len(t, c.asked, 1)
}

func TestKillCriticalWarnsAndAsks(t *testing.T) {
	sys := &resolver.Record{PID: 1, Port: 22, ProcessName: "sshd", Command: "sshd -D"}
	dir := &fakeDirectory{
		byPort:   map[int]*resolver.Record{22: sys},
		critical: map[string]bool{"sshd": true},
		results:  []bool{true},
	}
	c := &scriptedConfirmer{answer: true}
	svc, st, _ := newTestService(t, dir, c)
	require.NoError(t, st.SetConfirmKill(context.Background(), false))

	res, err := svc.Kill(context.Background(), 22, KillOptions{})
	require.NoError(t, err)
	assert.True(t, res.Critical)
	require.Len(t, c.warned, 1)
	assert.Contains(t, c.warned[0], "system process")
	assert.Len(t, c.asked, 1, "critical processes are confirmed even with confirm-kill off")
}

func TestScanJoinsMappingsAndSorts(t *testing.T) {
	dir := &fakeDirectory{byPort: map[int]*resolver.Record{
		8080: {PID: 9, Port: 8080, ProcessName: "java"},
		3000: node(),
		22:   {PID: 1, Port: 22, ProcessName: "sshd"},
	}}
	svc, st, _ := newTestService(t, dir, &scriptedConfirmer{})
	ctx := context.Background()
	require.NoError(t, st.AddPortMapping(ctx, store.Mapping{Port: 3000, ProjectName: "web", ProjectPath: "/src/web"}))

	entries, err := svc.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int{22, 3000, 8080}, []int{entries[0].Port, entries[1].Port, entries[2].Port})
	assert.Nil(t, entries[0].Mapping)
	require.NotNil(t, entries[1].Mapping)
	assert.Equal(t, "web", entries[1].Mapping.ProjectName)
}

func TestAuto(t *testing.T) {
	dir := &fakeDirectory{
		byPort: map[int]*resolver.Record{
			3000: node(),
			3001: {PID: 77, Port: 3001, ProcessName: "vite"},
			3002: {PID: 1, Port: 3002, ProcessName: "launchd"},
		},
		critical: map[string]bool{"launchd": true},
		results:  []bool{true},
	}
	svc, st, sink := newTestService(t, dir, &scriptedConfirmer{})
	ctx := context.Background()
	proj := filepath.Join(t.TempDir(), "web")
	for _, m := range []store.Mapping{
		{Port: 3000, ProjectName: "web", ProjectPath: proj, AutoKill: true},
		{Port: 3001, ProjectName: "web", ProjectPath: proj},
		{Port: 3002, ProjectName: "web", ProjectPath: proj, AutoKill: true},
		{Port: 3003, ProjectName: "web", ProjectPath: proj, AutoKill: true},
		{Port: 9000, ProjectName: "other", ProjectPath: "/other", AutoKill: true},
	} {
		require.NoError(t, st.AddPortMapping(ctx, m))
	}

	res, err := svc.Auto(ctx, proj)
	require.NoError(t, err)
	got := map[int]Outcome{}
	for _, r := range res {
		got[r.Mapping.Port] = r.Outcome
	}
	assert.Equal(t, map[int]Outcome{
		3000: OutcomeKilled,
		3001: OutcomeSkipped,
		3002: OutcomeCritical,
		3003: OutcomeFree,
	}, got)
	require.Len(t, sink.events, 1)
	assert.Equal(t, history.EventAutoKill, sink.events[0].Type)

	// global switch turns every mapping on
	require.NoError(t, st.SetAutoKill(ctx, true))
	dir.results = []bool{true, true}
	res, err = svc.Auto(ctx, proj)
	require.NoError(t, err)
	for _, r := range res {
		if r.Mapping.Port == 3001 {
			assert.Equal(t, OutcomeKilled, r.Outcome)
		}
	}
}

func TestClaim(t *testing.T) {
	svc, st, _ := newTestService(t, &fakeDirectory{}, &scriptedConfirmer{})
	ctx := context.Background()
	proj := filepath.Join(t.TempDir(), "my-api")

	m, err := svc.Claim(ctx, 8080, proj, true)
	require.NoError(t, err)
	assert.Equal(t, "my-api", m.ProjectName)
	assert.True(t, m.AutoKill)

	got, err := st.GetPortMapping(ctx, 8080)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.CleanPath(proj), got.ProjectPath)

	_, err = svc.Claim(ctx, 0, proj, false)
	assert.ErrorIs(t, err, store.ErrInvalidMapping)
}

func TestPromptConfirmer(t *testing.T) {
	var out bytes.Buffer
	p := &PromptConfirmer{In: strings.NewReader("y\nno\nYES\n"), Out: &out}

	for _, want := range []bool{true, false, true, false} {
		got, err := p.Confirm("Kill?")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 4, strings.Count(out.String(), "Kill? [y/N] "))

	p.Warn("careful")
	assert.Contains(t, out.String(), "warning: careful\n")
}

func TestEntryJSONKeepsMapping(t *testing.T) {
	e := Entry{
		Record:  resolver.Record{PID: 42, Port: 3000, ProcessName: "node", Command: "node", Uptime: 2 * time.Second},
		Mapping: &store.Mapping{Port: 3000, ProjectName: "web", ProjectPath: "/src/web"},
	}
	b, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.EqualValues(t, 42, m["pid"])
	assert.EqualValues(t, 2000, m["uptime"])
	require.Contains(t, m, "mapping")

	var back Entry
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, 2*time.Second, back.Uptime)
	require.NotNil(t, back.Mapping)
	assert.Equal(t, "web", back.Mapping.ProjectName)

	b, err = json.Marshal(Entry{Record: resolver.Record{PID: 1, Port: 22, ProcessName: "sshd", Command: "sshd"}})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "mapping")
}
