package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const MaxPreping = 365

// TimeOfDay is a wall-clock time in the configured zone.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Date is a civil date without zone.
type Date struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

func (d Date) String() string { return fmt.Sprintf("%02d:%02d:%04d", d.Day, int(d.Month), d.Year) }

// At returns the instant of d at tod in loc.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, tod.Hour, tod.Minute, 0, 0, loc)
}

// DateOf returns the civil date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// ParseText accepts any line that is non-empty after trimming and keeps it verbatim.
func ParseText(line string) (string, error) {
	if strings.TrimSpace(line) == "" {
		return "", fmt.Errorf("%w: empty text", ErrMalformedInput)
	}
	return line, nil
}

// ParseBirthdayDate parses "dd:mm" (year unknown, returned as 0) or "dd:mm:yyyy".
// 29:02 without a year is accepted; with a year it needs a leap year.
func ParseBirthdayDate(line string) (day int, month time.Month, year int, err error) {
	parts, err := numericFields(line, 2, 3)
	if err != nil {
		return 0, 0, 0, err
	}
	day, m := parts[0], parts[1]
	if len(parts) == 3 {
		year = parts[2]
		if year < 1 {
			return 0, 0, 0, fmt.Errorf("%w: year must be positive", ErrMalformedInput)
		}
	}
	if err := checkRanges(day, m); err != nil {
		return 0, 0, 0, err
	}
	// A leap year stands in for an unknown year so that 29:02 passes.
	checkYear := year
	if checkYear == 0 {
		checkYear = 2000
	}
	if day > daysIn(time.Month(m), checkYear) {
		return 0, 0, 0, fmt.Errorf("%w: %02d:%02d", ErrInvalidCalendarDate, day, m)
	}
	return day, time.Month(m), year, nil
}

// ParseSimpleDate parses "dd:mm:yyyy" and rejects dates before today in loc.
func ParseSimpleDate(line string, now time.Time, loc *time.Location) (Date, error) {
	parts, err := numericFields(line, 3, 3)
	if err != nil {
		return Date{}, err
	}
	day, m, year := parts[0], parts[1], parts[2]
	if year < 1 {
		return Date{}, fmt.Errorf("%w: year must be positive", ErrMalformedInput)
	}
	if err := checkRanges(day, m); err != nil {
		return Date{}, err
	}
	if day > daysIn(time.Month(m), year) {
		return Date{}, fmt.Errorf("%w: %02d:%02d:%04d", ErrInvalidCalendarDate, day, m, year)
	}
	d := Date{Year: year, Month: time.Month(m), Day: day}
	if d.Before(DateOf(now, loc)) {
		return Date{}, fmt.Errorf("%w: %s", ErrInPast, d)
	}
	return d, nil
}

// ParseTimeOfDay parses "hh:mm" with hh in 0..23 and mm in 0..59.
func ParseTimeOfDay(line string) (TimeOfDay, error) {
	parts, err := numericFields(line, 2, 2)
	if err != nil {
		return TimeOfDay{}, err
	}
	h, m := parts[0], parts[1]
	if h > 23 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %02d:%02d is not a time of day", ErrMalformedInput, h, m)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// ParsePreping parses a day count in 0..MaxPreping. 0 means no advance reminder.
func ParsePreping(line string) (int, error) {
	s := strings.TrimSpace(line)
	n, err := strconv.Atoi(s)
	if err != nil || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: %q is not a whole number", ErrMalformedInput, s)
	}
	if n < 0 || n > MaxPreping {
		return 0, fmt.Errorf("%w: days must be between 0 and %d", ErrMalformedInput, MaxPreping)
	}
	return n, nil
}

// numericFields splits on ':' and requires between min and max unsigned integer fields.
func numericFields(line string, min, max int) ([]int, error) {
	fields := strings.Split(strings.TrimSpace(line), ":")
	if len(fields) < min || len(fields) > max {
		return nil, fmt.Errorf("%w: expected %d to %d fields separated by ':'", ErrMalformedInput, min, max)
	}
	out := make([]int, len(fields))
	for i, f := range fields {
		if f == "" || strings.TrimLeft(f, "0123456789") != "" {
			return nil, fmt.Errorf("%w: %q is not a number", ErrMalformedInput, f)
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrMalformedInput, f)
		}
		out[i] = n
	}
	return out, nil
}

func checkRanges(day, month int) error {
	if day < 1 || day > 31 {
		return fmt.Errorf("%w: day %d is out of range", ErrMalformedInput, day)
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: month %d is out of range", ErrMalformedInput, month)
	}
	return nil
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
