package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var msk = time.FixedZone("UTC+03:00", 3*3600)

func birthday(day int, month time.Month, year, preping int, at TimeOfDay) Spec {
	s := NewBirthday(Birthday{Name: "Ann", Day: day, Month: month, Year: year, Preping: preping, NotifyAt: at})
	s.Enable()
	return s
}

func TestBirthdayNextTrigger(t *testing.T) {
	t.Parallel()

	nine := TimeOfDay{Hour: 9}
	cases := []struct {
		name string
		spec Spec
		now  time.Time
		want time.Time
	}{
		{
			name: "preping rolls into previous year",
			spec: birthday(1, time.January, 0, 5, nine),
			now:  time.Date(2024, 1, 1, 10, 0, 0, 0, msk),
			want: time.Date(2024, 12, 27, 9, 0, 0, 0, msk),
		},
		{
			name: "later this year",
			spec: birthday(15, time.June, 1990, 0, nine),
			now:  time.Date(2024, 3, 1, 0, 0, 0, 0, msk),
			want: time.Date(2024, 6, 15, 9, 0, 0, 0, msk),
		},
		{
			name: "same day before notify time",
			spec: birthday(15, time.June, 0, 0, nine),
			now:  time.Date(2024, 6, 15, 8, 59, 0, 0, msk),
			want: time.Date(2024, 6, 15, 9, 0, 0, 0, msk),
		},
		{
			name: "exactly now fires now",
			spec: birthday(15, time.June, 0, 0, nine),
			now:  time.Date(2024, 6, 15, 9, 0, 0, 0, msk),
			want: time.Date(2024, 6, 15, 9, 0, 0, 0, msk),
		},
		{
			name: "already passed rolls to next year",
			spec: birthday(15, time.June, 0, 0, nine),
			now:  time.Date(2024, 6, 15, 9, 0, 1, 0, msk),
			want: time.Date(2025, 6, 15, 9, 0, 0, 0, msk),
		},
		{
			name: "leap day in common year",
			spec: birthday(29, time.February, 0, 0, nine),
			now:  time.Date(2025, 1, 1, 0, 0, 0, 0, msk),
			want: time.Date(2025, 2, 28, 9, 0, 0, 0, msk),
		},
		{
			name: "leap day in leap year",
			spec: birthday(29, time.February, 0, 0, nine),
			now:  time.Date(2027, 3, 1, 0, 0, 0, 0, msk),
			want: time.Date(2028, 2, 29, 9, 0, 0, 0, msk),
		},
		{
			name: "now in another zone",
			spec: birthday(2, time.January, 0, 0, TimeOfDay{Hour: 1}),
			now:  time.Date(2024, 1, 1, 21, 30, 0, 0, time.UTC), // 00:30 on the 2nd in msk
			want: time.Date(2024, 1, 2, 1, 0, 0, 0, msk),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tc.spec.NextTrigger(tc.now, msk)
			require.True(t, ok)
			require.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
			require.True(t, tc.spec.Recurring())
		})
	}
}

func TestBirthdayFiresEveryYear(t *testing.T) {
	t.Parallel()

	s := birthday(10, time.May, 0, 0, TimeOfDay{Hour: 12})
	first, ok := s.NextTrigger(time.Date(2024, 1, 1, 0, 0, 0, 0, msk), msk)
	require.True(t, ok)

	s.MarkFired()
	next, ok := s.NextTrigger(first.Add(time.Second), msk)
	require.True(t, ok)
	require.Equal(t, 2025, next.Year())
	require.True(t, first.AddDate(1, 0, 0).Equal(next))
}

func TestDisabledHasNoTrigger(t *testing.T) {
	t.Parallel()

	s := birthday(10, time.May, 0, 0, TimeOfDay{})
	s.Disable()
	_, ok := s.NextTrigger(time.Now(), msk)
	require.False(t, ok)

	s.Enable()
	_, ok = s.NextTrigger(time.Now(), msk)
	require.True(t, ok)
}

func TestSimpleTrigger(t *testing.T) {
	t.Parallel()

	s := NewSimple(Simple{Text: "call bank", Date: Date{Year: 2024, Month: time.March, Day: 5}, At: TimeOfDay{Hour: 14, Minute: 30}})
	_, ok := s.NextTrigger(time.Time{}, msk)
	require.False(t, ok, "new specs start disabled")

	s.Enable()
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, msk)
	got, ok := s.NextTrigger(time.Date(2024, 3, 1, 0, 0, 0, 0, msk), msk)
	require.True(t, ok)
	require.True(t, want.Equal(got))

	// Late: still returned so it fires at once.
	got, ok = s.NextTrigger(time.Date(2024, 3, 6, 0, 0, 0, 0, msk), msk)
	require.True(t, ok)
	require.True(t, want.Equal(got))

	s.MarkFired()
	_, ok = s.NextTrigger(time.Date(2024, 3, 1, 0, 0, 0, 0, msk), msk)
	require.False(t, ok)
	require.False(t, s.Recurring())
	require.Equal(t, "call bank", s.Name())
}

func TestBirthdayMessage(t *testing.T) {
	t.Parallel()

	s := birthday(1, time.January, 1990, 5, TimeOfDay{Hour: 9})
	at := time.Date(2024, 12, 27, 9, 0, 0, 0, msk)
	require.Equal(t, "🎂 In 5 days (01.01) it's Ann's birthday! Turning 35.", s.Message(at))

	s2 := birthday(3, time.March, 0, 0, TimeOfDay{Hour: 9})
	require.Equal(t, "🎂 Today is Ann's birthday!", s2.Message(time.Date(2024, 3, 3, 9, 0, 0, 0, msk)))
}

func TestRecordRoundTripKeepsState(t *testing.T) {
	t.Parallel()

	s := NewSimple(Simple{Text: "x", Date: Date{Year: 2030, Month: time.July, Day: 1}, At: TimeOfDay{Hour: 8}})
	s.Enable()
	s.MarkFired()

	back, err := FromRecord(s.Record())
	require.NoError(t, err)
	require.True(t, back.Enabled())
	_, ok := back.NextTrigger(time.Now(), msk)
	require.False(t, ok, "fired flag survives")

	_, err = FromRecord(Record{Kind: KindBirthday, Birthday: &Birthday{Name: "A", Day: 31, Month: time.April}})
	require.ErrorIs(t, err, ErrBadRecord)
	_, err = FromRecord(Record{Kind: "weekly"})
	require.ErrorIs(t, err, ErrBadRecord)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	s := NewSimple(Simple{Text: "a", Date: Date{Year: 2030, Month: 1, Day: 1}})
	c := s.Clone()
	c.MarkFired()
	got, _ := s.Simple()
	require.False(t, got.Fired)
}

func TestParseBirthdayDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		day     int
		month   time.Month
		year    int
		wantErr error
	}{
		{in: "15:06", day: 15, month: time.June},
		{in: "15:06:1990", day: 15, month: time.June, year: 1990},
		{in: " 01:01 ", day: 1, month: time.January},
		{in: "29:02", day: 29, month: time.February},
		{in: "29:02:2000", day: 29, month: time.February, year: 2000},
		{in: "29:02:2023", wantErr: ErrInvalidCalendarDate},
		{in: "31:04", wantErr: ErrInvalidCalendarDate},
		{in: "32:01", wantErr: ErrMalformedInput},
		{in: "00:01", wantErr: ErrMalformedInput},
		{in: "10:13", wantErr: ErrMalformedInput},
		{in: "10", wantErr: ErrMalformedInput},
		{in: "1:2:3:4", wantErr: ErrMalformedInput},
		{in: "aa:01", wantErr: ErrMalformedInput},
		{in: "-1:01", wantErr: ErrMalformedInput},
		{in: "10::", wantErr: ErrMalformedInput},
	}
	for _, tc := range cases {
		day, month, year, err := ParseBirthdayDate(tc.in)
		if tc.wantErr != nil {
			require.True(t, errors.Is(err, tc.wantErr), "%q: got %v", tc.in, err)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.day, day, tc.in)
		require.Equal(t, tc.month, month, tc.in)
		require.Equal(t, tc.year, year, tc.in)
	}
}

func TestParseSimpleDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 23, 30, 0, 0, time.UTC) // 11 May 02:30 in msk

	d, err := ParseSimpleDate("11:05:2024", now, msk)
	require.NoError(t, err)
	require.Equal(t, Date{Year: 2024, Month: time.May, Day: 11}, d)

	_, err = ParseSimpleDate("10:05:2024", now, msk)
	require.ErrorIs(t, err, ErrInPast)

	_, err = ParseSimpleDate("11:05", now, msk)
	require.ErrorIs(t, err, ErrMalformedInput)

	_, err = ParseSimpleDate("30:02:2025", now, msk)
	require.ErrorIs(t, err, ErrInvalidCalendarDate)
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tod, err := ParseTimeOfDay("07:05")
	require.NoError(t, err)
	require.Equal(t, TimeOfDay{Hour: 7, Minute: 5}, tod)
	require.Equal(t, "07:05", tod.String())

	for _, bad := range []string{"24:00", "12:60", "12", "12:00:00", "ab:cd", ""} {
		_, err := ParseTimeOfDay(bad)
		require.ErrorIs(t, err, ErrMalformedInput, bad)
	}
}

func TestParsePreping(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]int{"0": 0, "5": 5, " 365 ": 365} {
		got, err := ParsePreping(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	for _, bad := range []string{"-1", "366", "five", "", "+3", "1.5"} {
		_, err := ParsePreping(bad)
		require.ErrorIs(t, err, ErrMalformedInput, bad)
	}
}

func TestParseText(t *testing.T) {
	t.Parallel()

	got, err := ParseText("  buy milk ")
	require.NoError(t, err)
	require.Equal(t, "  buy milk ", got)

	_, err = ParseText(" \t ")
	require.ErrorIs(t, err, ErrMalformedInput)
}
