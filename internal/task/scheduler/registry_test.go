package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type recordingSender struct {
	ch  chan kit.Notification
	err error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan kit.Notification, 16)}
}

func (s *recordingSender) Send(_ context.Context, n kit.Notification) error {
	s.ch <- n
	return s.err
}

func (s *recordingSender) next(t *testing.T) kit.Notification {
	t.Helper()
	select {
	case n := <-s.ch:
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("no notification sent")
		return kit.Notification{}
	}
}

func (s *recordingSender) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case n := <-s.ch:
		t.Fatalf("unexpected notification %q", n.Text)
	case <-time.After(wait):
	}
}

// clockBefore returns a clock that starts lead before at and runs in real time.
func clockBefore(at time.Time, lead time.Duration) func() time.Time {
	start := time.Now()
	base := at.Add(-lead)
	return func() time.Time { return base.Add(time.Since(start)) }
}

var chat = kit.ChatTarget{ChatID: 42}

func simpleAt(text string, at time.Time) reminder.Spec {
	s := reminder.NewSimple(reminder.Simple{
		Text: text,
		Date: reminder.DateOf(at, time.UTC),
		At:   reminder.TimeOfDay{Hour: at.Hour(), Minute: at.Minute()},
	})
	s.Enable()
	return s
}

func birthday(name string, day int, month time.Month) reminder.Spec {
	s := reminder.NewBirthday(reminder.Birthday{Name: name, Day: day, Month: month, NotifyAt: reminder.TimeOfDay{Hour: 9}})
	s.Enable()
	return s
}

func newRegistry(t *testing.T, sender Sender, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithLocation(time.UTC), WithLogger(logx.Nop())}, opts...)
	r := New(context.Background(), sender, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func TestOneShotFiresOnceThenIsGone(t *testing.T) {
	at := time.Date(2030, time.January, 1, 9, 0, 0, 0, time.UTC)
	s := newRecordingSender()
	r := newRegistry(t, s, WithClock(clockBefore(at, 100*time.Millisecond)))

	_, replaced, err := r.Activate("tea", chat, simpleAt("tea", at))
	require.NoError(t, err)
	require.False(t, replaced)

	n := s.next(t)
	require.Equal(t, "🔔 tea", n.Text)
	require.Equal(t, chat, n.Target)
	require.Equal(t, "reminder", n.Channel)
	require.NotEmpty(t, n.Key)

	require.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, r.Control("tea", CmdEnable), ErrNotFound)
	s.none(t, 100*time.Millisecond)
}

func TestBirthdayReschedulesAfterFiring(t *testing.T) {
	at := time.Date(2030, time.March, 3, 9, 0, 0, 0, time.UTC)
	s := newRecordingSender()
	r := newRegistry(t, s, WithClock(clockBefore(at, 100*time.Millisecond)))

	_, _, err := r.Activate("ann", chat, birthday("Ann", 3, time.March))
	require.NoError(t, err)
	require.Equal(t, "🎂 Today is Ann's birthday!", s.next(t).Text)

	want := time.Date(2031, time.March, 3, 9, 0, 0, 0, time.UTC)
	require.Eventually(t, func() bool {
		info, ok := r.Lookup("ann")
		return ok && info.Next.Equal(want) && info.Fired == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeleteUnblocksLongSleep(t *testing.T) {
	r := newRegistry(t, newRecordingSender())
	now := time.Now().UTC().AddDate(0, 0, 10)

	h, _, err := r.Activate("far", chat, birthday("Far", now.Day(), now.Month()))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, _ := r.Lookup("far")
		return !info.Next.IsZero()
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, r.Control("far", CmdDelete))
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task still running after delete")
	}
	require.Less(t, time.Since(start), time.Second)
	require.Zero(t, r.Len())
	require.ErrorIs(t, r.Control("far", CmdEnable), ErrNotFound)
	require.ErrorIs(t, r.Delete("far"), ErrNotFound)
}

func TestActivateSameNameReplaces(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	r := newRegistry(t, newRecordingSender(), WithBus(bus))

	first, _, err := r.Activate("x", chat, birthday("One", 1, time.June))
	require.NoError(t, err)
	second, replaced, err := r.Activate("x", chat, birthday("Two", 2, time.July))
	require.NoError(t, err)
	require.True(t, replaced)
	require.NotEqual(t, first.ID(), second.ID())

	select {
	case <-first.Done():
	default:
		t.Fatal("replaced task still running")
	}
	require.Equal(t, []string{"x"}, r.Names())
	info, ok := r.Lookup("x")
	require.True(t, ok)
	require.Contains(t, info.Description, "Two")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != eventbus.ReminderRemoved {
				continue
			}
			require.Equal(t, "replaced", ev.Data.(eventbus.ReminderEvent).Reason)
			return
		case <-deadline:
			t.Fatal("no removal event for the replaced task")
		}
	}
}

func TestNamesAreKeptVerbatim(t *testing.T) {
	r := newRegistry(t, newRecordingSender())
	_, _, err := r.Activate("  Ann ", chat, birthday("  Ann ", 3, time.March))
	require.NoError(t, err)
	require.Equal(t, []string{"  Ann "}, r.Names())
	_, ok := r.Lookup("Ann")
	require.False(t, ok)
	require.NoError(t, r.Control("  Ann ", CmdDisable))
}

func TestDisableThenEnable(t *testing.T) {
	r := newRegistry(t, newRecordingSender())
	_, _, err := r.Activate("b", chat, birthday("B", 15, time.August))
	require.NoError(t, err)

	require.NoError(t, r.Control("b", CmdDisable))
	require.Eventually(t, func() bool {
		info, _ := r.Lookup("b")
		return !info.Enabled && info.Next.IsZero()
	}, time.Second, 5*time.Millisecond)
	disabledAt := time.Now()

	require.NoError(t, r.Control("b", CmdEnable))
	require.Eventually(t, func() bool {
		info, _ := r.Lookup("b")
		return info.Enabled && info.Next.After(disabledAt)
	}, time.Second, 5*time.Millisecond)
}

func TestDisabledReminderWaitsForEnable(t *testing.T) {
	at := time.Date(2030, time.May, 5, 12, 30, 0, 0, time.UTC)
	s := newRecordingSender()
	r := newRegistry(t, s, WithClock(clockBefore(at, 50*time.Millisecond)))

	spec := simpleAt("stretch", at)
	spec.Disable()
	_, _, err := r.Activate("stretch", chat, spec)
	require.NoError(t, err)
	s.none(t, 200*time.Millisecond)

	require.NoError(t, r.Control("stretch", CmdEnable))
	require.Equal(t, "🔔 stretch", s.next(t).Text)
}

func TestSendFailureStillFinishesOneShot(t *testing.T) {
	at := time.Date(2030, time.January, 1, 9, 0, 0, 0, time.UTC)
	s := newRecordingSender()
	s.err = errors.New("telegram down")
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	r := newRegistry(t, s, WithClock(clockBefore(at, 50*time.Millisecond)), WithBus(bus))
	_, _, err := r.Activate("x", chat, simpleAt("x", at))
	require.NoError(t, err)
	s.next(t)

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[eventbus.ReminderFailed] || !seen[eventbus.ReminderRemoved] {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("events seen: %v", seen)
		}
	}
	require.Zero(t, r.Len())
}

func TestRecurringSendFailureReschedules(t *testing.T) {
	at := time.Date(2030, time.March, 3, 9, 0, 0, 0, time.UTC)
	s := newRecordingSender()
	s.err = errors.New("down")
	r := newRegistry(t, s, WithClock(clockBefore(at, 50*time.Millisecond)))

	_, _, err := r.Activate("ann", chat, birthday("Ann", 3, time.March))
	require.NoError(t, err)
	s.next(t)

	want := time.Date(2031, time.March, 3, 9, 0, 0, 0, time.UTC)
	require.Eventually(t, func() bool {
		info, ok := r.Lookup("ann")
		return ok && info.Next.Equal(want) && info.LastErr == "down" && info.Enabled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisablePendingAtDueTimeSkipsFire(t *testing.T) {
	at := time.Date(2030, time.January, 1, 9, 0, 0, 0, time.UTC)
	gate := make(chan struct{})
	var once sync.Once
	// The task's first clock read blocks, so the Disable is queued before
	// the already due timer is armed.
	clock := func() time.Time {
		once.Do(func() { <-gate })
		return at
	}
	s := newRecordingSender()
	r := newRegistry(t, s, WithClock(clock))

	_, _, err := r.Activate("tea", chat, simpleAt("tea", at))
	require.NoError(t, err)
	require.NoError(t, r.Control("tea", CmdDisable))
	close(gate)

	require.Eventually(t, func() bool {
		info, ok := r.Lookup("tea")
		return ok && !info.Enabled
	}, 2*time.Second, 5*time.Millisecond)
	s.none(t, 200*time.Millisecond)
	require.Equal(t, 1, r.Len())
}

type gatedSender struct {
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSender) Send(ctx context.Context, _ kit.Notification) error {
	s.entered <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestFiringOneShotRefusesCommands(t *testing.T) {
	at := time.Date(2030, time.January, 1, 9, 0, 0, 0, time.UTC)
	s := &gatedSender{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := newRegistry(t, s, WithClock(clockBefore(at, 50*time.Millisecond)))

	h, _, err := r.Activate("tea", chat, simpleAt("tea", at))
	require.NoError(t, err)
	select {
	case <-s.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("reminder did not fire")
	}

	require.ErrorIs(t, r.Control("tea", CmdEnable), ErrNotFound)
	close(s.release)
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task still running")
	}
	require.Zero(t, r.Len())
}

func TestControlErrors(t *testing.T) {
	r := newRegistry(t, newRecordingSender())
	require.ErrorIs(t, r.Control("nope", CmdDisable), ErrNotFound)
	require.ErrorIs(t, r.Control("nope", Command(99)), ErrUnknownCommand)
	_, _, err := r.Activate("  ", chat, birthday("x", 1, time.January))
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestShutdownRejectsActivate(t *testing.T) {
	r := New(context.Background(), newRecordingSender(), WithLocation(time.UTC))
	_, _, err := r.Activate("a", chat, birthday("A", 1, time.January))
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))
	require.Zero(t, r.Len())

	_, _, err = r.Activate("b", chat, birthday("B", 1, time.January))
	require.ErrorIs(t, err, ErrClosed)
}

func TestRestoreFromStore(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	r := New(context.Background(), newRecordingSender(), WithLocation(time.UTC), WithStore(st))
	_, _, err = r.Activate("ann", chat, birthday("Ann", 3, time.March))
	require.NoError(t, err)
	_, _, err = r.Activate("bob", chat, birthday("Bob", 4, time.April))
	require.NoError(t, err)
	require.NoError(t, r.Control("bob", CmdDisable))
	require.Eventually(t, func() bool {
		recs, err := st.ListReminders(context.Background())
		return err == nil && len(recs) == 2 && !recs[1].Spec.Enabled
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Delete("ann"))
	require.NoError(t, r.Shutdown(context.Background()))

	r2 := newRegistry(t, newRecordingSender(), WithStore(st))
	n, err := r2.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	info, ok := r2.Lookup("bob")
	require.True(t, ok)
	require.False(t, info.Enabled)
	require.Equal(t, chat, info.Target)
}

func TestMailboxKeepsLatest(t *testing.T) {
	m := newMailbox()
	m.post(CmdEnable)
	m.post(CmdDisable)
	c, ok := m.take()
	require.True(t, ok)
	require.Equal(t, CmdDisable, c)
	_, ok = m.take()
	require.False(t, ok)
}
