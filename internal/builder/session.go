// Package builder turns a sequence of chat lines into a reminder.Spec.
//
// A Session walks a fixed list of states, one field per state. Bad input
// never aborts a session: the state and partial record stay as they were and
// the caller gets a *RejectedInput carrying the re-prompt.
package builder

import (
	"errors"
	"fmt"
	"time"

	"remindbot/internal/reminder"
)

type Flow string

const (
	FlowBirthday Flow = "birthday"
	FlowSimple   Flow = "simple"
)

type State string

const (
	StateBirthdayName    State = "birthday.name"
	StateBirthdayDate    State = "birthday.date"
	StateBirthdayPreping State = "birthday.preping"
	StateBirthdayDaytime State = "birthday.daytime"

	StateSimpleText State = "simple.text"
	StateSimpleDate State = "simple.date"
	StateSimpleTime State = "simple.time"

	StateReady State = "ready"
)

var (
	// ErrIncomplete is returned by Complete before the session reached StateReady.
	ErrIncomplete = errors.New("reminder is incomplete")
	// ErrFinished is returned by Step once the session is ready.
	ErrFinished = errors.New("session already complete")
	ErrUnknownFlow = errors.New("unknown flow")
)

var prompts = map[State]string{
	StateBirthdayName:    "Whose birthday is it? Send me a name.",
	StateBirthdayDate:    "What's the date?\nEnter dd:mm:yyyy, or dd:mm if you don't know the year.",
	StateBirthdayPreping: "If you'd like a reminder in advance, how many days before? (0 if you don't)",
	StateBirthdayDaytime: "What time of day should I notify you?\nformat: hh:mm",
	StateSimpleText:      "Text of the notification?",
	StateSimpleDate:      "When should I send it?\nformat: dd:mm:yyyy",
	StateSimpleTime:      "What time of day should I send it?\nformat: hh:mm",
}

// Prompt is the question asked while the session is in st.
func Prompt(st State) string { return prompts[st] }

// Session is the partial record of one reminder being described. Fields are
// nil until their state accepts a line. Not safe for concurrent use; the
// router serializes turns per conversation.
type Session struct {
	flow  Flow
	state State
	loc   *time.Location
	now   func() time.Time

	// simple
	text *string
	date *reminder.Date
	at   *reminder.TimeOfDay

	// birthday
	name     *string
	day      *int
	month    *time.Month
	year     *int
	preping  *int
	notifyAt *reminder.TimeOfDay
}

// New opens a session for flow. Dates and times are read in loc; now is the
// clock used to reject one-off reminders in the past (nil means time.Now).
func New(flow Flow, loc *time.Location, now func() time.Time) (*Session, error) {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	s := &Session{flow: flow, loc: loc, now: now}
	switch flow {
	case FlowBirthday:
		s.state = StateBirthdayName
	case FlowSimple:
		s.state = StateSimpleText
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
	}
	return s, nil
}

func (s *Session) Flow() Flow     { return s.flow }
func (s *Session) State() State   { return s.state }
func (s *Session) Prompt() string { return Prompt(s.state) }

// Step feeds one line to the current state. On success it returns the new
// state and its prompt (empty for StateReady). On bad input it returns the
// unchanged state, its prompt and a *RejectedInput.
func (s *Session) Step(line string) (State, string, error) {
	if s.state == StateReady {
		return s.state, "", ErrFinished
	}
	next, err := s.accept(line)
	if err != nil {
		return s.state, s.Prompt(), &RejectedInput{State: s.state, Reason: err, Prompt: s.Prompt()}
	}
	s.state = next
	return s.state, s.Prompt(), nil
}

// accept parses line for the current state, stores it and names the next state.
// Nothing is written when it fails.
func (s *Session) accept(line string) (State, error) {
	switch s.state {
	case StateBirthdayName:
		v, err := reminder.ParseText(line)
		if err != nil {
			return "", err
		}
		s.name = &v
		return StateBirthdayDate, nil

	case StateBirthdayDate:
		d, m, y, err := reminder.ParseBirthdayDate(line)
		if err != nil {
			return "", err
		}
		s.day, s.month, s.year = &d, &m, &y
		return StateBirthdayPreping, nil

	case StateBirthdayPreping:
		n, err := reminder.ParsePreping(line)
		if err != nil {
			return "", err
		}
		s.preping = &n
		return StateBirthdayDaytime, nil

	case StateBirthdayDaytime:
		t, err := reminder.ParseTimeOfDay(line)
		if err != nil {
			return "", err
		}
		s.notifyAt = &t
		return StateReady, nil

	case StateSimpleText:
		v, err := reminder.ParseText(line)
		if err != nil {
			return "", err
		}
		s.text = &v
		return StateSimpleDate, nil

	case StateSimpleDate:
		d, err := reminder.ParseSimpleDate(line, s.now(), s.loc)
		if err != nil {
			return "", err
		}
		s.date = &d
		return StateSimpleTime, nil

	case StateSimpleTime:
		t, err := reminder.ParseTimeOfDay(line)
		if err != nil {
			return "", err
		}
		if at := s.date.At(t, s.loc); at.Before(s.now()) {
			return "", fmt.Errorf("%w: %s %s", reminder.ErrInPast, s.date, t)
		}
		s.at = &t
		return StateReady, nil
	}
	return "", fmt.Errorf("unexpected state %q", s.state)
}

// Complete returns the finished, still disabled reminder.
func (s *Session) Complete() (reminder.Spec, error) {
	if s.state != StateReady {
		return reminder.Spec{}, fmt.Errorf("%w: waiting for %s", ErrIncomplete, s.state)
	}
	switch s.flow {
	case FlowBirthday:
		if s.name == nil || s.day == nil || s.month == nil || s.year == nil || s.preping == nil || s.notifyAt == nil {
			return reminder.Spec{}, ErrIncomplete
		}
		return reminder.NewBirthday(reminder.Birthday{
			Name:     *s.name,
			Day:      *s.day,
			Month:    *s.month,
			Year:     *s.year,
			Preping:  *s.preping,
			NotifyAt: *s.notifyAt,
		}), nil
	case FlowSimple:
		if s.text == nil || s.date == nil || s.at == nil {
			return reminder.Spec{}, ErrIncomplete
		}
		return reminder.NewSimple(reminder.Simple{Text: *s.text, Date: *s.date, At: *s.at}), nil
	}
	return reminder.Spec{}, ErrIncomplete
}

// RejectedInput reports a line the current state could not accept.
type RejectedInput struct {
	State  State
	Reason error
	Prompt string
}

func (e *RejectedInput) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Reason)
}

func (e *RejectedInput) Unwrap() error { return e.Reason }

// Reply is the user-facing text: what was wrong, then the question again.
func (e *RejectedInput) Reply() string {
	var why string
	switch {
	case errors.Is(e.Reason, reminder.ErrInPast):
		why = "That moment is already in the past."
	case errors.Is(e.Reason, reminder.ErrInvalidCalendarDate):
		why = "That date doesn't exist."
	default:
		why = "I couldn't read that."
	}
	return why + "\n" + e.Prompt
}
