package resolver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var netstatWindowsFixture = strings.ReplaceAll(`
Active Connections

  Proto  Local Address          Foreign Address        State           PID
  TCP    0.0.0.0:135            0.0.0.0:0              LISTENING       888
  TCP    0.0.0.0:3000           0.0.0.0:0              LISTENING       4242
  TCP    127.0.0.1:3000         127.0.0.1:51000        ESTABLISHED     4242
  TCP    127.0.0.1:51000        127.0.0.1:3000         ESTABLISHED     5100
  TCP    [::]:3000              [::]:0                 LISTENING       4242
  UDP    0.0.0.0:5353           *:*                                    1999
`, "\n", "\r\n")

const (
	wmicCommandLine = "\r\r\nCommandLine=\"C:\\Program Files\\nodejs\\node.exe\" server.js\r\r\n\r\r\n"
	wmicDetails     = "\r\r\nCreationDate=20251213103045.123456+060\r\r\nExecutablePath=C:\\Program Files\\nodejs\\node.exe\r\r\nParentProcessId=700\r\r\n"
)

func windowsFixture() *fakeRunner {
	return newFakeRunner().
		on("netstat -ano", netstatWindowsFixture).
		on(`tasklist /FI PID eq 4242 /FO CSV /NH`, "\"node.exe\",\"4242\",\"Console\",\"1\",\"45,120 K\"\r\n").
		on(`tasklist /FI PID eq 700 /FO CSV /NH`, "\"services.exe\",\"700\",\"Services\",\"0\",\"9,000 K\"\r\n").
		on("wmic process where ProcessId=4242 get CommandLine /value", wmicCommandLine).
		on("wmic process where ProcessId=4242 get CreationDate,ExecutablePath,ParentProcessId /value", wmicDetails)
}

func newWindowsFixture(fr *fakeRunner) *Windows {
	w := NewWindows(fr)
	w.sys = offlineHooks(nil)
	return w
}

func TestWindowsFindByPortEnriches(t *testing.T) {
	w := newWindowsFixture(windowsFixture())

	rec := w.FindByPort(context.Background(), 3000)
	require.NotNil(t, rec)
	assert.Equal(t, 4242, rec.PID)
	assert.Equal(t, "node.exe", rec.ProcessName)
	assert.Equal(t, `"C:\Program Files\nodejs\node.exe" server.js`, rec.Command)
	assert.Empty(t, rec.User)
	assert.Equal(t, time.Date(2025, time.December, 13, 10, 30, 45, 0, time.Local), rec.StartTime)
	assert.Equal(t, time.Hour+29*time.Minute+15*time.Second, rec.Uptime)
	assert.Equal(t, `C:\Program Files\nodejs`, rec.WorkDir)
	assert.Equal(t, 700, rec.ParentPID)
	assert.Equal(t, "services.exe", rec.ParentName)
	require.NotNil(t, rec.Service)
	assert.Equal(t, ServiceWindows, rec.Service.Manager)
}

func TestWindowsOnlyListeningRowsCount(t *testing.T) {
	w := newWindowsFixture(windowsFixture())
	// 51000 appears only as an ESTABLISHED connection
	assert.Nil(t, w.FindByPort(context.Background(), 51000))
	// UDP rows are ignored
	assert.Nil(t, w.FindByPort(context.Background(), 5353))
}

func TestWindowsEnrichmentFailuresKeepPrimaryFields(t *testing.T) {
	fr := newFakeRunner().
		on("netstat -ano", netstatWindowsFixture).
		on(`tasklist /FI PID eq 4242 /FO CSV /NH`, "\"node.exe\",\"4242\",\"Console\",\"1\",\"45,120 K\"\r\n")
	w := newWindowsFixture(fr)

	rec := w.FindByPort(context.Background(), 3000)
	require.NotNil(t, rec)
	assert.Equal(t, Record{PID: 4242, Port: 3000, ProcessName: "node.exe", Command: "node.exe"}, *rec)
}

func TestWindowsTasklistFailureUsesUnknown(t *testing.T) {
	fr := newFakeRunner().
		on("netstat -ano", netstatWindowsFixture).
		on(`tasklist /FI PID eq 888 /FO CSV /NH`, "INFO: No tasks are running which match the specified criteria.\r\n")
	w := newWindowsFixture(fr)

	rec := w.FindByPort(context.Background(), 135)
	require.NotNil(t, rec)
	assert.Equal(t, "unknown", rec.ProcessName)
	assert.Equal(t, "unknown", rec.Command)
}

func TestWindowsServiceHeuristicSystemParent(t *testing.T) {
	fr := newFakeRunner().
		on("wmic process where ProcessId=888 get CreationDate,ExecutablePath,ParentProcessId /value", "ParentProcessId=4\r\n")
	w := newWindowsFixture(fr)

	p := w.details(context.Background(), 888)
	require.NotNil(t, p)
	assert.Equal(t, 4, p.ParentPID)
	require.NotNil(t, p.Service)
	assert.Equal(t, ServiceWindows, p.Service.Manager)

	fr.on("wmic process where ProcessId=889 get CreationDate,ExecutablePath,ParentProcessId /value", "ParentProcessId=1200\r\n").
		on(`tasklist /FI PID eq 1200 /FO CSV /NH`, "\"explorer.exe\",\"1200\",\"Console\",\"1\",\"80,000 K\"\r\n")
	p = w.details(context.Background(), 889)
	require.NotNil(t, p)
	assert.Equal(t, "explorer.exe", p.ParentName)
	assert.Nil(t, p.Service)
}

func TestWindowsListListening(t *testing.T) {
	w := newWindowsFixture(windowsFixture())
	recs := w.ListListening(context.Background())
	require.Len(t, recs, 2)
	ports := []int{recs[0].Port, recs[1].Port}
	assert.ElementsMatch(t, []int{135, 3000}, ports)
}

func TestParseTasklistName(t *testing.T) {
	name, err := parseTasklistName(`"my app.exe","77","Console","1","1,024 K"`)
	require.NoError(t, err)
	assert.Equal(t, "my app.exe", name)

	_, err = parseTasklistName("INFO: No tasks are running which match the specified criteria.")
	assert.Error(t, err)
}

func TestWindowsDir(t *testing.T) {
	assert.Equal(t, `C:\Program Files\nodejs`, windowsDir(`C:\Program Files\nodejs\node.exe`))
	assert.Equal(t, `C:\`, windowsDir(`C:\node.exe`))
	assert.Equal(t, "", windowsDir("node.exe"))
}
