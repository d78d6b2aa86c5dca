//go:build windows

package resolver

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// procStartTime returns the process creation time via gopsutil (GetProcessTimes).
func procStartTime(pid int) (time.Time, bool) {
	if pid <= 0 {
		return time.Time{}, false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}, false
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
