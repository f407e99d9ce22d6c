package reminder

import "time"

// Simple is a one-off reminder at a fixed date and time.
type Simple struct {
	Text  string    `json:"text"`
	Date  Date      `json:"date"`
	At    TimeOfDay `json:"at"`
	Fired bool      `json:"fired,omitempty"`
}

// next returns the fixed instant until the reminder has fired. An instant that
// is already behind the clock is still returned so it fires right away.
func (s *Simple) next(loc *time.Location) (time.Time, bool) {
	if s.Fired {
		return time.Time{}, false
	}
	return s.Date.At(s.At, loc), true
}
