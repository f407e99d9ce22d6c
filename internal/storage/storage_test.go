package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

func birthdayRecord(name string) ReminderRecord {
	s := reminder.NewBirthday(reminder.Birthday{Name: name, Day: 3, Month: time.March, NotifyAt: reminder.TimeOfDay{Hour: 9}})
	s.Enable()
	return ReminderRecord{Name: name, Target: kit.ChatTarget{ChatID: 10, ThreadID: 2}, Spec: s.Record()}
}

func backends(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"file":   {Driver: "file", Path: filepath.Join(dir, "store", "bot.db")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "bot.db")},
	}
}

func TestStoreRoundTripAndReopen(t *testing.T) {
	for name, cfg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)

			require.NoError(t, st.PutReminder(ctx, birthdayRecord("bob")))
			require.NoError(t, st.PutReminder(ctx, birthdayRecord("alice")))
			require.NoError(t, st.PutReminder(ctx, birthdayRecord("carol")))
			require.NoError(t, st.DeleteReminder(ctx, "carol"))
			require.NoError(t, st.DeleteReminder(ctx, "nobody"))

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			require.NoError(t, st.PutDedup(ctx, "reminder:bob:1", until))
			require.NoError(t, st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)))
			require.NoError(t, st.Close())

			st, err = Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			got, err := st.ListReminders(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "alice", got[0].Name)
			require.Equal(t, "bob", got[1].Name)
			require.Equal(t, kit.ChatTarget{ChatID: 10, ThreadID: 2}, got[1].Target)

			spec, err := reminder.FromRecord(got[1].Spec)
			require.NoError(t, err)
			require.True(t, spec.Enabled())
			require.Equal(t, "bob", spec.Name())

			u, ok, err := st.GetDedup(ctx, "reminder:bob:1")
			require.NoError(t, err)
			require.True(t, ok)
			require.True(t, until.Equal(u))

			_, ok, err = st.GetDedup(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestFileStorePrunesExpiredDedupOnOpen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutDedup(ctx, "old", time.Now().Add(-time.Minute)))
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	_, ok, err := st.GetDedup(ctx, "old")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "x")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.PutReminder(context.Background(), birthdayRecord("a")), ErrClosed)
}
