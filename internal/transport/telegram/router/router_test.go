package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu  sync.Mutex
	out []sent
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                    { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.out = append(a.out, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(a.out)}, nil
}

func (a *fakeAdapter) last(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.out)
	return a.out[len(a.out)-1].text
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.out)
}

type nopSender struct{}

func (nopSender) Send(context.Context, kit.Notification) error { return nil }

const owner = 7

func newTestRouter(t *testing.T, owners ...int64) (*Router, *fakeAdapter, *scheduler.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	reg := scheduler.New(ctx, nopSender{}, scheduler.WithLocation(time.UTC), scheduler.WithLogger(logx.Nop()))
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = reg.Shutdown(sctx)
		cancel()
	})
	ad := &fakeAdapter{}
	r := New(Config{Owners: owners, Location: time.UTC, CommandTimeout: 5 * time.Second}, ad, reg, logx.Nop(), nil)
	r.now = func() time.Time { return time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC) }
	return r, ad, reg
}

func say(r *Router, chatID int64, text string) {
	r.process(context.Background(), kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: chatID, FromID: owner, Text: text},
	})
}

func TestBirthdayDialogueActivatesReminder(t *testing.T) {
	r, ad, reg := newTestRouter(t)

	say(r, 1, "/addbirthday")
	require.Contains(t, ad.last(t), "Whose birthday")
	say(r, 1, "Ann")
	require.Contains(t, ad.last(t), "What's the date?")
	say(r, 1, "31:02")
	require.Contains(t, ad.last(t), "doesn't exist")
	say(r, 1, "15:03")
	require.Contains(t, ad.last(t), "how many days before")
	say(r, 1, "2")
	require.Contains(t, ad.last(t), "What time of day")
	say(r, 1, "09:30")

	require.Contains(t, ad.last(t), `Reminder "Ann" is active.`)
	require.Equal(t, 0, r.Sessions().Len())

	info, ok := reg.Lookup("Ann")
	require.True(t, ok)
	require.True(t, info.Enabled)
	require.Equal(t, int64(1), info.Target.ChatID)
	require.Equal(t, "birthday", info.Kind)
}

func TestSimpleDialogueRejectsPastTime(t *testing.T) {
	r, ad, reg := newTestRouter(t)

	say(r, 1, "/simplenotification")
	say(r, 1, "call mom")
	say(r, 1, "10:01:2030")
	say(r, 1, "11:00")
	require.Contains(t, ad.last(t), "already in the past")
	require.Equal(t, 1, r.Sessions().Len())

	say(r, 1, "13:00")
	_, ok := reg.Lookup("call mom")
	require.True(t, ok)
}

func TestCommandsAreCaseInsensitiveAndStripBotName(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	say(r, 1, "/AddBirthday@remind_bot")
	require.Contains(t, ad.last(t), "Whose birthday")
}

func TestUnknownCommand(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	say(r, 1, "/frobnicate")
	require.Equal(t, replyNotFound, ad.last(t))
}

func TestFreeTextWithoutSessionIsRejected(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	say(r, 1, "hello there")
	require.Equal(t, 1, ad.count())
	require.Equal(t, replyNotFound, ad.last(t))
	require.Zero(t, r.Sessions().Len())
}

func TestNameIsStoredVerbatim(t *testing.T) {
	r, ad, reg := newTestRouter(t)
	for _, line := range []string{"/addbirthday", "  Ann  ", " 15:03 ", "0", "09:30"} {
		say(r, 1, line)
	}
	require.Contains(t, ad.last(t), `Reminder "  Ann  " is active.`)
	require.Equal(t, []string{"  Ann  "}, reg.Names())

	say(r, 1, "/disable Ann")
	require.Equal(t, `Reminder "  Ann  " disabled.`, ad.last(t))
	say(r, 2, "/disable Ann")
	require.Equal(t, `No reminder named "Ann".`, ad.last(t))
}

func TestNonOwner(t *testing.T) {
	r, ad, _ := newTestRouter(t, 99)
	say(r, 1, "/help")
	require.Equal(t, "unauthorized", ad.last(t))
	say(r, 1, "just text")
	require.Equal(t, 1, ad.count())
}

func TestNewFlowReplacesOpenSession(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	say(r, 1, "/addbirthday")
	say(r, 1, "/simplenotification")
	require.Contains(t, ad.last(t), "was dropped")
	say(r, 1, "/cancel")
	require.Equal(t, "Cancelled.", ad.last(t))
	say(r, 1, "/cancel")
	require.Equal(t, "Nothing to cancel.", ad.last(t))
}

func TestSessionsArePerChat(t *testing.T) {
	r, _, _ := newTestRouter(t)
	say(r, 1, "/addbirthday")
	say(r, 2, "/simplenotification")
	require.Equal(t, 2, r.Sessions().Len())
}

func TestControlCommandsScopedToChat(t *testing.T) {
	r, ad, reg := newTestRouter(t)
	for _, line := range []string{"/addbirthday", "Bob", "01:05:1990", "0", "08:00"} {
		say(r, 1, line)
	}

	say(r, 2, "/disable Bob")
	require.Contains(t, ad.last(t), "No reminder named")

	say(r, 1, "/disable Bob")
	require.Equal(t, `Reminder "Bob" disabled.`, ad.last(t))
	require.Eventually(t, func() bool {
		in, ok := reg.Lookup("Bob")
		return ok && !in.Enabled
	}, 2*time.Second, 10*time.Millisecond)

	say(r, 1, "/list")
	require.Contains(t, ad.last(t), "• Bob (birthday, off)")
	say(r, 2, "/list")
	require.Contains(t, ad.last(t), "No reminders yet")

	say(r, 1, "/delete")
	require.Equal(t, "Usage: /delete <name>", ad.last(t))
	say(r, 1, "/delete Bob")
	require.Equal(t, `Reminder "Bob" deleted.`, ad.last(t))
	_, ok := reg.Lookup("Bob")
	require.False(t, ok)
}

func TestHelpListsCommands(t *testing.T) {
	r, ad, _ := newTestRouter(t)
	say(r, 1, "/help")
	out := ad.last(t)
	require.Contains(t, out, "/addbirthday")
	require.Contains(t, out, "/enable &lt;name&gt;")
}

func TestParseCommand(t *testing.T) {
	name, args := parseCommand("/Delete@bot call  mom")
	require.Equal(t, "delete", name)
	require.Equal(t, []string{"call", "mom"}, args)
}

func TestBuildMenu(t *testing.T) {
	menu := buildMenu([]Command{
		{Name: "help", Description: "show"},
		{Name: "Help"},
		{Name: "add-birthday"},
	})
	require.Equal(t, []kit.BotCommand{
		{Command: "help", Description: "show"},
		{Command: "add_birthday", Description: "add_birthday"},
	}, menu)
}

func TestShardIsStable(t *testing.T) {
	a := shard(kit.ChatTarget{ChatID: 5, ThreadID: 1}, 8)
	require.Equal(t, a, shard(kit.ChatTarget{ChatID: 5, ThreadID: 1}, 8))
	require.Less(t, a, 8)
}
