package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: ReminderFired, Data: ReminderEvent{Name: "mom"}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		require.Equal(t, ReminderFired, e.Type)
		require.False(t, e.Time.IsZero())
		require.Equal(t, "mom", e.Data.(ReminderEvent).Name)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	require.Equal(t, "a", (<-ch).Type)
	require.Equal(t, uint64(1), Dropped(b))
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "late"})
}
