package reminder

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindSimple   Kind = "simple"
	KindBirthday Kind = "birthday"
)

// Spec is a closed union over the reminder variants. Exactly one of simple and
// birthday is set, matching kind. The zero Spec is invalid.
//
// A Spec is owned by one goroutine at a time (the builder, then the scheduling
// task); use Clone to hand out copies.
type Spec struct {
	kind     Kind
	enabled  bool
	simple   *Simple
	birthday *Birthday
}

// NewSimple returns a disabled one-off reminder.
func NewSimple(s Simple) Spec {
	return Spec{kind: KindSimple, simple: &s}
}

// NewBirthday returns a disabled yearly reminder.
func NewBirthday(b Birthday) Spec {
	return Spec{kind: KindBirthday, birthday: &b}
}

func (s *Spec) Kind() Kind    { return s.kind }
func (s *Spec) Enabled() bool { return s.enabled }
func (s *Spec) Enable()       { s.enabled = true }
func (s *Spec) Disable()      { s.enabled = false }

// Name is the registry key: the birthday person's name or the reminder text.
func (s *Spec) Name() string {
	switch s.kind {
	case KindSimple:
		return s.simple.Text
	case KindBirthday:
		return s.birthday.Name
	}
	return ""
}

// Recurring reports whether the reminder fires more than once.
func (s *Spec) Recurring() bool { return s.kind == KindBirthday }

// PrepingOffset is the number of days a birthday reminder fires early.
func (s *Spec) PrepingOffset() int {
	if s.kind == KindBirthday {
		return s.birthday.Preping
	}
	return 0
}

// NextTrigger returns the next instant the reminder should fire at or after now.
// ok is false when the reminder is disabled or a one-off has already fired.
func (s *Spec) NextTrigger(now time.Time, loc *time.Location) (time.Time, bool) {
	if !s.enabled {
		return time.Time{}, false
	}
	switch s.kind {
	case KindSimple:
		return s.simple.next(loc)
	case KindBirthday:
		return s.birthday.next(now, loc), true
	}
	return time.Time{}, false
}

// MarkFired records that a one-off reminder has been delivered. No-op for
// recurring reminders.
func (s *Spec) MarkFired() {
	if s.kind == KindSimple {
		s.simple.Fired = true
	}
}

// Message is the text delivered when the reminder fires at at.
func (s *Spec) Message(at time.Time) string {
	switch s.kind {
	case KindSimple:
		return "🔔 " + s.simple.Text
	case KindBirthday:
		return s.birthday.message(at)
	}
	return ""
}

// Describe renders the reminder's fields, one per line.
func (s *Spec) Describe() string {
	switch s.kind {
	case KindSimple:
		return fmt.Sprintf("text: %s\ndate: %s\ntime: %s", s.simple.Text, s.simple.Date, s.simple.At)
	case KindBirthday:
		b := s.birthday
		date := fmt.Sprintf("%02d:%02d", b.Day, int(b.Month))
		if b.Year > 0 {
			date = fmt.Sprintf("%s:%04d", date, b.Year)
		}
		return fmt.Sprintf("name: %s\nbirthday: %s\npreping: %d\nnotify at: %s", b.Name, date, b.Preping, b.NotifyAt)
	}
	return ""
}

// Simple returns a copy of the one-off fields.
func (s *Spec) Simple() (Simple, bool) {
	if s.kind != KindSimple {
		return Simple{}, false
	}
	return *s.simple, true
}

// Birthday returns a copy of the birthday fields.
func (s *Spec) Birthday() (Birthday, bool) {
	if s.kind != KindBirthday {
		return Birthday{}, false
	}
	return *s.birthday, true
}

// Clone returns a deep copy.
func (s *Spec) Clone() Spec {
	c := *s
	if s.simple != nil {
		v := *s.simple
		c.simple = &v
	}
	if s.birthday != nil {
		v := *s.birthday
		c.birthday = &v
	}
	return c
}

// Record is the persisted form of a Spec.
type Record struct {
	Kind     Kind      `json:"kind"`
	Enabled  bool      `json:"enabled"`
	Simple   *Simple   `json:"simple,omitempty"`
	Birthday *Birthday `json:"birthday,omitempty"`
}

func (s *Spec) Record() Record {
	c := s.Clone()
	return Record{Kind: c.kind, Enabled: c.enabled, Simple: c.simple, Birthday: c.birthday}
}

var ErrBadRecord = errors.New("invalid reminder record")

// FromRecord rebuilds a Spec, re-checking the invariants the builder enforces
// on user input (dates are not re-checked against the clock).
func FromRecord(r Record) (Spec, error) {
	var s Spec
	switch r.Kind {
	case KindSimple:
		if r.Simple == nil || r.Birthday != nil {
			return Spec{}, fmt.Errorf("%w: simple payload missing", ErrBadRecord)
		}
		v := *r.Simple
		if _, err := ParseText(v.Text); err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
		}
		if v.Date.Year < 1 || checkRanges(v.Date.Day, int(v.Date.Month)) != nil || v.Date.Day > daysIn(v.Date.Month, v.Date.Year) {
			return Spec{}, fmt.Errorf("%w: bad date %s", ErrBadRecord, v.Date)
		}
		if !validTime(v.At) {
			return Spec{}, fmt.Errorf("%w: bad time %s", ErrBadRecord, v.At)
		}
		s = NewSimple(v)
	case KindBirthday:
		if r.Birthday == nil || r.Simple != nil {
			return Spec{}, fmt.Errorf("%w: birthday payload missing", ErrBadRecord)
		}
		v := *r.Birthday
		if _, err := ParseText(v.Name); err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
		}
		year := v.Year
		if year == 0 {
			year = 2000
		}
		if v.Year < 0 || checkRanges(v.Day, int(v.Month)) != nil || v.Day > daysIn(v.Month, year) {
			return Spec{}, fmt.Errorf("%w: bad birthday %02d:%02d", ErrBadRecord, v.Day, int(v.Month))
		}
		if v.Preping < 0 || v.Preping > MaxPreping || !validTime(v.NotifyAt) {
			return Spec{}, fmt.Errorf("%w: bad preping or time", ErrBadRecord)
		}
		s = NewBirthday(v)
	default:
		return Spec{}, fmt.Errorf("%w: unknown kind %q", ErrBadRecord, r.Kind)
	}
	s.enabled = r.Enabled
	return s, nil
}

func validTime(t TimeOfDay) bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}
