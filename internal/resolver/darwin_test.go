package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func darwinFixture() *fakeRunner {
	return newFakeRunner().
		on("lsof -nP -iTCP:3000 -sTCP:LISTEN -t", "4250\n4242\n").
		on("ps -p 4242 -o user=,args=", "alice node /Users/alice/app/server.js --port 3000\n").
		on("ps -p 4242 -o ucomm=", "node\n").
		on("ps -p 4242 -o etime=,lstart=", "   01:02:03 Sat Dec 13 10:57:57 2025\n").
		on("ps -p 4242 -o ppid=", "  4100\n").
		on("ps -p 4100 -o comm=", "/bin/zsh\n").
		on("lsof -a -p 4242 -d cwd -Fn", "p4242\nfcwd\nn/Users/alice/app\n").
		on("launchctl list", "PID\tStatus\tLabel\n4242\t0\tcom.alice.app\n-\t0\tcom.apple.x\n")
}

func TestDarwinFindByPortEnriches(t *testing.T) {
	fr := darwinFixture()
	d := NewDarwin(fr)
	d.sys = offlineHooks(nil)

	rec := d.FindByPort(context.Background(), 3000)
	require.NotNil(t, rec)

	assert.Equal(t, 4242, rec.PID, "lowest pid is the main listener")
	assert.Equal(t, 3000, rec.Port)
	assert.Equal(t, "node", rec.ProcessName)
	assert.Equal(t, "node /Users/alice/app/server.js --port 3000", rec.Command)
	assert.Equal(t, "alice", rec.User)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, rec.Uptime)
	assert.Equal(t, time.Date(2025, time.December, 13, 10, 57, 57, 0, time.Local), rec.StartTime)
	assert.Equal(t, 4100, rec.ParentPID)
	assert.Equal(t, "zsh", rec.ParentName)
	assert.Equal(t, "/Users/alice/app", rec.WorkDir)
	require.NotNil(t, rec.Service)
	assert.Equal(t, ServiceLaunchd, rec.Service.Manager)
	assert.Equal(t, "com.alice.app", rec.Service.Name)
}

func TestDarwinEnrichmentFailuresKeepPrimaryFields(t *testing.T) {
	fr := newFakeRunner().
		on("lsof -nP -iTCP:3000 -sTCP:LISTEN -t", "4242\n").
		on("ps -p 4242 -o user=,args=", "alice node server.js\n").
		on("ps -p 4242 -o ucomm=", "node\n")
	d := NewDarwin(fr)
	d.sys = offlineHooks(nil)

	rec := d.FindByPort(context.Background(), 3000)
	require.NotNil(t, rec)
	assert.Equal(t, Record{
		PID:         4242,
		Port:        3000,
		ProcessName: "node",
		Command:     "node server.js",
		User:        "alice",
	}, *rec)
}

func TestDarwinFindByPortAbsent(t *testing.T) {
	d := NewDarwin(newFakeRunner())
	d.sys = offlineHooks(nil)
	assert.Nil(t, d.FindByPort(context.Background(), 3000))

	fr := newFakeRunner().on("lsof -nP -iTCP:3000 -sTCP:LISTEN -t", "\n")
	d = NewDarwin(fr)
	assert.Nil(t, d.FindByPort(context.Background(), 3000))
}

func TestDarwinTimingFallsBackToProcStart(t *testing.T) {
	start := fixedNow.Add(-30 * time.Minute)
	fr := newFakeRunner().
		on("lsof -nP -iTCP:3000 -sTCP:LISTEN -t", "4242\n").
		on("ps -p 4242 -o user=,args=", "alice node server.js\n").
		on("ps -p 4242 -o ucomm=", "node\n")
	d := NewDarwin(fr)
	d.sys = offlineHooks(nil)
	d.sys.procStart = func(pid int) (time.Time, bool) { return start, pid == 4242 }

	rec := d.FindByPort(context.Background(), 3000)
	require.NotNil(t, rec)
	assert.Equal(t, start, rec.StartTime)
	assert.Equal(t, 30*time.Minute, rec.Uptime)
}

func TestDarwinListListening(t *testing.T) {
	table := `COMMAND     PID  USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
node       4242 alice   23u  IPv4 0x1234567890abcdef      0t0  TCP *:3000 (LISTEN)
node       4242 alice   24u  IPv6 0x1234567890abcdee      0t0  TCP *:3000 (LISTEN)
postgres    512 alice    7u  IPv6 0x1234567890abcded      0t0  TCP [::1]:5432 (LISTEN)
rapportd    600 alice    4u  IPv4 0x1234567890abcdec      0t0  TCP *:*
`
	fr := newFakeRunner().
		on("lsof -nP -iTCP -sTCP:LISTEN", table).
		on("ps -p 4242 -o user=,args=", "alice node server.js\n").
		on("ps -p 4242 -o ucomm=", "node\n")
	d := NewDarwin(fr)
	d.sys = offlineHooks(nil)

	recs := d.ListListening(context.Background())
	require.Len(t, recs, 2)

	byPort := map[int]Record{}
	for _, r := range recs {
		byPort[r.Port] = r
	}
	assert.Equal(t, "node server.js", byPort[3000].Command)
	// ps failed for postgres: the lsof columns fill in
	assert.Equal(t, "postgres", byPort[5432].ProcessName)
	assert.Equal(t, "postgres", byPort[5432].Command)
	assert.Equal(t, "alice", byPort[5432].User)
}

func TestDarwinListListeningToolFailure(t *testing.T) {
	d := NewDarwin(newFakeRunner())
	recs := d.ListListening(context.Background())
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestParseLaunchctlList(t *testing.T) {
	out := "PID\tStatus\tLabel\n-\t0\tcom.apple.idle\n321\t0\tcom.example.agent\n"
	label, ok := parseLaunchctlList(out, 321)
	assert.True(t, ok)
	assert.Equal(t, "com.example.agent", label)

	_, ok = parseLaunchctlList(out, 32)
	assert.False(t, ok)
}

func TestDarwinNameWithSpaces(t *testing.T) {
	fr := newFakeRunner().
		on("lsof -nP -iTCP:9229 -sTCP:LISTEN -t", "5150\n").
		on("ps -p 5150 -o user=,args=", "bob /Applications/Visual Studio Code.app/Contents/Frameworks/Code Helper.app/Contents/MacOS/Code Helper --type=utility\n").
		on("ps -p 5150 -o ucomm=", "Code Helper\n")
	d := NewDarwin(fr)
	d.sys = offlineHooks(nil)

	rec := d.FindByPort(context.Background(), 9229)
	require.NotNil(t, rec)
	assert.Equal(t, "Code Helper", rec.ProcessName)
	assert.Equal(t, "/Applications/Visual Studio Code.app/Contents/Frameworks/Code Helper.app/Contents/MacOS/Code Helper --type=utility", rec.Command)
	assert.Equal(t, "bob", rec.User)
}

func TestDarwinNameQueryFailureFallsBack(t *testing.T) {
	fr := newFakeRunner().
		on("lsof -nP -iTCP:3000 -sTCP:LISTEN -t", "4242\n").
		on("ps -p 4242 -o user=,args=", "alice /usr/local/bin/node server.js\n")
	d := NewDarwin(fr)
	d.sys = offlineHooks(nil)

	rec := d.FindByPort(context.Background(), 3000)
	require.NotNil(t, rec)
	assert.Equal(t, "node", rec.ProcessName, "first argument's base name")
	assert.Equal(t, "/usr/local/bin/node server.js", rec.Command)
}
