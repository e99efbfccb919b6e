package subscriber

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// ParseTimes parses a comma or space separated list and returns it sorted and
// de-duplicated.
func ParseTimes(s string) ([]TimeOfDay, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("no times given")
	}
	out := make([]TimeOfDay, 0, len(fields))
	for _, f := range fields {
		t, err := ParseTimeOfDay(f)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return NormalizeTimes(out), nil
}

// NormalizeTimes sorts and de-duplicates ts into a new slice.
func NormalizeTimes(ts []TimeOfDay) []TimeOfDay {
	out := slices.Clone(ts)
	slices.SortFunc(out, func(a, b TimeOfDay) int { return a.Minutes() - b.Minutes() })
	return slices.Compact(out)
}

// DefaultTimes is 09:00 through 18:00 every 30 minutes.
func DefaultTimes() []TimeOfDay {
	out := make([]TimeOfDay, 0, 19)
	for m := 9 * 60; m <= 18*60; m += 30 {
		out = append(out, TimeOfDay{Hour: m / 60, Minute: m % 60})
	}
	return out
}

// FormatTimes joins ts as "HH:MM, HH:MM".
func FormatTimes(ts []TimeOfDay) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
