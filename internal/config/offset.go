package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultUTCOffset = "+03:00"

// ParseUTCOffset turns "+hh:mm" / "-hh:mm" (also "+hh", "Z", "UTC") into a fixed zone.
func ParseUTCOffset(raw string) (*time.Location, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultUTCOffset
	}
	if strings.EqualFold(s, "z") || strings.EqualFold(s, "utc") {
		return time.FixedZone("UTC", 0), nil
	}
	sign := 1
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("scheduler.utc_offset: %q must start with + or -", raw)
	}
	hh, mm, hasMinutes := strings.Cut(s[1:], ":")
	h, err := strconv.Atoi(hh)
	if err != nil || len(hh) == 0 || len(hh) > 2 || h > 14 {
		return nil, fmt.Errorf("scheduler.utc_offset: invalid hours in %q", raw)
	}
	m := 0
	if hasMinutes {
		m, err = strconv.Atoi(mm)
		if err != nil || len(mm) != 2 || m > 59 {
			return nil, fmt.Errorf("scheduler.utc_offset: invalid minutes in %q", raw)
		}
	}
	secs := sign * (h*3600 + m*60)
	name := fmt.Sprintf("UTC%c%02d:%02d", s[0], h, m)
	return time.FixedZone(name, secs), nil
}
