package resolver

import (
	"strconv"
	"strings"
	"time"
)

// ParseElapsed parses the ps etime column: "DD-HH:MM:SS", "HH:MM:SS" or "MM:SS".
func ParseElapsed(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	var days int
	if d, rest, ok := strings.Cut(s, "-"); ok {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			return 0, false
		}
		days = n
		s = rest
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		nums[i] = n
	}
	var h, m, sec int
	if len(nums) == 3 {
		h, m, sec = nums[0], nums[1], nums[2]
	} else {
		m, sec = nums[0], nums[1]
	}
	total := time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second
	return total, true
}

// ParseLStart parses the ps lstart column, e.g. "Sat Dec 13 10:30:45 2025",
// in local time. Runs of spaces (single-digit day padding) are tolerated.
func ParseLStart(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("Mon Jan 2 15:04:05 2006", s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// wmiDateLayout is the 14-digit prefix of a CIM_DATETIME value.
const wmiDateLayout = "20060102150405"

// ParseWMIDate parses a WMI CreationDate such as "20251213103045.123456+060".
// Only the YYYYMMDDHHmmss prefix is used; fraction and UTC offset are ignored
// and the value is read as local time.
func ParseWMIDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(wmiDateLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(wmiDateLayout, s[:len(wmiDateLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
