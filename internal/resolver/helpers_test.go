package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// fakeRunner answers scripted command lines; anything unscripted fails as if
// the tool were missing.
type fakeRunner struct {
	mu      sync.Mutex
	replies map[string]reply
	paths   map[string]bool
	calls   []string
	lookups int
}

type reply struct {
	out string
	err error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{replies: map[string]reply{}, paths: map[string]bool{}}
}

func (f *fakeRunner) on(cmdline, out string) *fakeRunner {
	f.replies[cmdline] = reply{out: out}
	return f
}

func (f *fakeRunner) fail(cmdline string, err error) *fakeRunner {
	f.replies[cmdline] = reply{err: err}
	return f
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	r, ok := f.replies[key]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, exec.ErrNotFound)
	}
	return []byte(r.out), r.err
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.paths[name] {
		return "/usr/bin/" + name, nil
	}
	return "", exec.ErrNotFound
}

func (f *fakeRunner) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2025, time.December, 13, 12, 0, 0, 0, time.Local)

// signalLog records signals delivered through the hook.
type signalLog struct {
	mu   sync.Mutex
	sent []syscall.Signal
	err  error
}

func (s *signalLog) send(_ int, sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sig)
	return s.err
}

// offlineHooks fails every direct OS access.
func offlineHooks(sig *signalLog) sysHooks {
	if sig == nil {
		sig = &signalLog{}
	}
	return sysHooks{
		signal:    sig.send,
		readFile:  func(string) ([]byte, error) { return nil, os.ErrPermission },
		readlink:  func(string) (string, error) { return "", os.ErrPermission },
		sleep:     func(context.Context, time.Duration) {},
		procStart: func(int) (time.Time, bool) { return time.Time{}, false },
		now:       func() time.Time { return fixedNow },
	}
}

// exitErr returns a real *exec.ExitError, optionally carrying stderr.
func exitErr(t *testing.T, stderr string) error {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sh to produce exit errors")
	}
	script := "exit 1"
	if stderr != "" {
		script = fmt.Sprintf("printf '%%s' %q >&2; exit 128", stderr)
	}
	_, err := exec.Command("sh", "-c", script).Output()
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected exit error, got %v", err)
	}
	return err
}
