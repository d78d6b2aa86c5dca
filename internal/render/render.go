// Package render formats records and workflow results for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/loykin/portctl/internal/resolver"
	"github.com/loykin/portctl/internal/store"
	"github.com/loykin/portctl/internal/workflow"
)

const maxCommandWidth = 60

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func Success(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, SuccessStyle.Render("✔ "+fmt.Sprintf(format, args...)))
}

func Warning(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, WarningStyle.Render("! "+fmt.Sprintf(format, args...)))
}

func Error(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, ErrorStyle.Render("✘ "+fmt.Sprintf(format, args...)))
}

// Record prints one process as label/value lines; absent optional fields are omitted.
func Record(w io.Writer, rec resolver.Record, mapping *store.Mapping) {
	type row struct{ label, value string }
	rows := []row{
		{"Port", strconv.Itoa(rec.Port)},
		{"PID", strconv.Itoa(rec.PID)},
		{"Process", rec.ProcessName},
		{"Command", rec.Command},
	}
	if rec.User != "" {
		rows = append(rows, row{"User", rec.User})
	}
	if rec.Uptime > 0 {
		rows = append(rows, row{"Uptime", Duration(rec.Uptime)})
	}
	if !rec.StartTime.IsZero() {
		rows = append(rows, row{"Started", rec.StartTime.Format(time.DateTime)})
	}
	if rec.ParentPID > 0 {
		parent := strconv.Itoa(rec.ParentPID)
		if rec.ParentName != "" {
			parent = rec.ParentName + " (" + parent + ")"
		}
		rows = append(rows, row{"Parent", parent})
	}
	if rec.WorkDir != "" {
		rows = append(rows, row{"Directory", rec.WorkDir})
	}
	if rec.Service != nil {
		svc := string(rec.Service.Manager)
		if rec.Service.Name != "" {
			svc += ": " + rec.Service.Name
		}
		rows = append(rows, row{"Service", svc})
	}
	if mapping != nil {
		rows = append(rows, row{"Project", mapping.ProjectName + " " + MutedStyle.Render(mapping.ProjectPath)})
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r.label))
	}
	label := LabelStyle.Width(width + 2)
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, label.Render(r.label), ValueStyle.Render(r.value)))
	}
	_, _ = fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		})
}

// Scan prints listening processes as a table.
func Scan(w io.Writer, entries []workflow.Entry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, MutedStyle.Render("No listening ports found."))
		return
	}
	t := newTable("PORT", "PID", "PROCESS", "USER", "UPTIME", "PROJECT", "COMMAND")
	for _, e := range entries {
		project := ""
		if e.Mapping != nil {
			project = e.Mapping.ProjectName
		}
		uptime := ""
		if e.Uptime > 0 {
			uptime = Duration(e.Uptime)
		}
		t.Row(strconv.Itoa(e.Port), strconv.Itoa(e.PID), e.ProcessName, e.User, uptime, project, Truncate(e.Command, maxCommandWidth))
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

// Mappings prints stored port mappings as a table.
func Mappings(w io.Writer, ms []store.Mapping) {
	if len(ms) == 0 {
		_, _ = fmt.Fprintln(w, MutedStyle.Render("No port mappings."))
		return
	}
	t := newTable("PORT", "PROJECT", "PATH", "AUTO-KILL", "LAST USED")
	for _, m := range ms {
		last := "never"
		if !m.LastUsed.IsZero() {
			last = m.LastUsed.Local().Format(time.DateTime)
		}
		t.Row(strconv.Itoa(m.Port), m.ProjectName, m.ProjectPath, yesNo(m.AutoKill), last)
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

// AutoResults prints what auto-kill did per mapped port.
func AutoResults(w io.Writer, rs []workflow.AutoResult) {
	if len(rs) == 0 {
		_, _ = fmt.Fprintln(w, MutedStyle.Render("No ports mapped to this project."))
		return
	}
	t := newTable("PORT", "OUTCOME", "PROCESS", "DETAIL")
	for _, r := range rs {
		proc, detail := "", ""
		if r.Record != nil {
			proc = fmt.Sprintf("%s (%d)", r.Record.ProcessName, r.Record.PID)
		}
		if r.Err != nil {
			detail = r.Err.Error()
		}
		t.Row(strconv.Itoa(r.Mapping.Port), outcomeStyle(r.Outcome).Render(string(r.Outcome)), proc, detail)
	}
	_, _ = fmt.Fprintln(w, t.Render())
}

// Settings prints the global switches.
func Settings(w io.Writer, autoKill, confirmKill bool) {
	_, _ = fmt.Fprintf(w, "%s %s\n%s %s\n",
		LabelStyle.Render("auto-kill:   "), ValueStyle.Render(yesNo(autoKill)),
		LabelStyle.Render("confirm-kill:"), ValueStyle.Render(yesNo(confirmKill)))
}

func outcomeStyle(o workflow.Outcome) lipgloss.Style {
	switch o {
	case workflow.OutcomeKilled:
		return SuccessStyle
	case workflow.OutcomeFailed:
		return ErrorStyle
	case workflow.OutcomeCritical:
		return WarningStyle
	}
	return MutedStyle
}

// Duration renders an uptime compactly, e.g. "2d 3h", "4h 5m", "12m 3s".
func Duration(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d / (24 * time.Hour))
	h := int(d%(24*time.Hour)) / int(time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, h)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// Truncate shortens s to n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 2 {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
