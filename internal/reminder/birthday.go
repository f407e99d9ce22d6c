package reminder

import (
	"fmt"
	"time"
)

// Birthday is a yearly reminder. Year 0 means the birth year is unknown;
// Preping is how many days early to fire (0 fires on the day).
type Birthday struct {
	Name     string     `json:"name"`
	Day      int        `json:"day"`
	Month    time.Month `json:"month"`
	Year     int        `json:"year,omitempty"`
	Preping  int        `json:"preping,omitempty"`
	NotifyAt TimeOfDay  `json:"notify_at"`
}

// occurrence is the birthday in year y at NotifyAt. 29 Feb falls back to
// 28 Feb in common years.
func (b *Birthday) occurrence(y int, loc *time.Location) time.Time {
	day := min(b.Day, daysIn(b.Month, y))
	return time.Date(y, b.Month, day, b.NotifyAt.Hour, b.NotifyAt.Minute, 0, 0, loc)
}

// next returns the first occurrence, shifted back by Preping days, that is not
// before now.
func (b *Birthday) next(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	for y := now.Year(); ; y++ {
		c := b.occurrence(y, loc).AddDate(0, 0, -b.Preping)
		if !c.Before(now) {
			return c
		}
	}
}

func (b *Birthday) message(at time.Time) string {
	day := at.AddDate(0, 0, b.Preping)
	var msg string
	switch b.Preping {
	case 0:
		msg = fmt.Sprintf("🎂 Today is %s's birthday!", b.Name)
	case 1:
		msg = fmt.Sprintf("🎂 Tomorrow (%02d.%02d) is %s's birthday!", day.Day(), int(day.Month()), b.Name)
	default:
		msg = fmt.Sprintf("🎂 In %d days (%02d.%02d) it's %s's birthday!", b.Preping, day.Day(), int(day.Month()), b.Name)
	}
	if b.Year > 0 {
		if age := day.Year() - b.Year; age > 0 {
			msg += fmt.Sprintf(" Turning %d.", age)
		}
	}
	return msg
}
