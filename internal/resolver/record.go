package resolver

import (
	"encoding/json"
	"time"
)

// ServiceManager names the supervisor a process appears to be managed by.
type ServiceManager string

const (
	ServiceLaunchd ServiceManager = "launchd"
	ServiceSystemd ServiceManager = "systemd"
	ServiceWindows ServiceManager = "windows-service"
)

// ServiceInfo is the service-manager classification of a process.
// Name is the registered label/unit when it could be recovered.
type ServiceInfo struct {
	Manager ServiceManager `json:"manager"`
	Name    string         `json:"name,omitempty"`
}

// Record is one process bound to one listening port at observation time.
// Only PID, Port, ProcessName and Command are guaranteed; every other field
// is best-effort and left at its zero value when it could not be determined.
// A Record is a snapshot: the process may be gone by the time it is read.
type Record struct {
	PID         int           `json:"pid"`
	Port        int           `json:"port"`
	ProcessName string        `json:"processName"`
	Command     string        `json:"command"`
	User        string        `json:"user,omitempty"`
	StartTime   time.Time     `json:"startTime,omitzero"`
	Uptime      time.Duration `json:"-"`
	ParentPID   int           `json:"parentPid,omitempty"`
	ParentName  string        `json:"parentName,omitempty"`
	WorkDir     string        `json:"workDir,omitempty"`
	Service     *ServiceInfo  `json:"service,omitempty"`
}

// recordJSON is the wire form of Record. Uptime travels as milliseconds.
type recordJSON struct {
	PID         int          `json:"pid"`
	Port        int          `json:"port"`
	ProcessName string       `json:"processName"`
	Command     string       `json:"command"`
	User        string       `json:"user,omitempty"`
	StartTime   time.Time    `json:"startTime,omitzero"`
	UptimeMS    int64        `json:"uptime,omitempty"`
	ParentPID   int          `json:"parentPid,omitempty"`
	ParentName  string       `json:"parentName,omitempty"`
	WorkDir     string       `json:"workDir,omitempty"`
	Service     *ServiceInfo `json:"service,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		PID:         r.PID,
		Port:        r.Port,
		ProcessName: r.ProcessName,
		Command:     r.Command,
		User:        r.User,
		StartTime:   r.StartTime,
		UptimeMS:    r.Uptime.Milliseconds(),
		ParentPID:   r.ParentPID,
		ParentName:  r.ParentName,
		WorkDir:     r.WorkDir,
		Service:     r.Service,
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var w recordJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Record{
		PID:         w.PID,
		Port:        w.Port,
		ProcessName: w.ProcessName,
		Command:     w.Command,
		User:        w.User,
		StartTime:   w.StartTime,
		Uptime:      time.Duration(w.UptimeMS) * time.Millisecond,
		ParentPID:   w.ParentPID,
		ParentName:  w.ParentName,
		WorkDir:     w.WorkDir,
		Service:     w.Service,
	}
	return nil
}

// Partial carries the fields produced by one enrichment step.
type Partial struct {
	User       string
	StartTime  time.Time
	Uptime     time.Duration
	ParentPID  int
	ParentName string
	WorkDir    string
	Service    *ServiceInfo
}

// Absorb merges p into r without overwriting fields r already has.
// A nil Partial is a failed step and leaves r untouched.
func (r *Record) Absorb(p *Partial) {
	if p == nil {
		return
	}
	if r.User == "" {
		r.User = p.User
	}
	if r.StartTime.IsZero() {
		r.StartTime = p.StartTime
	}
	if r.Uptime == 0 {
		r.Uptime = p.Uptime
	}
	if r.ParentPID == 0 {
		r.ParentPID = p.ParentPID
	}
	if r.ParentName == "" {
		r.ParentName = p.ParentName
	}
	if r.WorkDir == "" {
		r.WorkDir = p.WorkDir
	}
	if r.Service == nil && p.Service != nil {
		s := *p.Service
		r.Service = &s
	}
}
