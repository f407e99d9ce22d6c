package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"remindbot/internal/builder"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const summaryIntro = "Nice! Now let's check what we got."

func (r *Router) builtinCommands() []Command {
	return []Command{
		{Name: "help", Description: "show the list of commands", Usage: "/help", Handle: r.handleHelp},
		{Name: "addbirthday", Description: "remember a birthday", Usage: "/addbirthday", Handle: r.startFlow(builder.FlowBirthday)},
		{Name: "simplenotification", Description: "one-off reminder at a date and time", Usage: "/simplenotification", Handle: r.startFlow(builder.FlowSimple)},
		{Name: "list", Description: "reminders in this chat", Usage: "/list", Handle: r.handleList},
		{Name: "enable", Description: "turn a reminder back on", Usage: "/enable <name>", Handle: r.control(scheduler.CmdEnable)},
		{Name: "disable", Description: "pause a reminder", Usage: "/disable <name>", Handle: r.control(scheduler.CmdDisable)},
		{Name: "delete", Description: "remove a reminder", Usage: "/delete <name>", Handle: r.control(scheduler.CmdDelete)},
		{Name: "cancel", Description: "abandon the reminder being described", Usage: "/cancel", Handle: r.handleCancel},
	}
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	_, err := r.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	r.mu.RLock()
	cmds := append([]Command(nil), r.order...)
	r.mu.RUnlock()

	lines := []string{"📚 <b>Commands</b>", ""}
	for _, c := range cmds {
		line := "• <code>" + html.EscapeString(c.Usage) + "</code>"
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "While I'm asking questions, just answer with plain text.")
	_, err := r.adapter.SendText(ctx, req.Chat, strings.Join(lines, "\n"), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

func (r *Router) startFlow(flow builder.Flow) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		s, err := builder.New(flow, r.config().Location, r.now)
		if err != nil {
			return err
		}
		replaced := r.sessions.Put(sessionKey(req.Chat), s)
		r.metrics.SessionStarted(string(flow))
		req.Logger.Debug("session started", logx.String("flow", string(flow)), logx.Bool("replaced", replaced))

		text := s.Prompt()
		if replaced {
			text = "The previous reminder you were describing was dropped.\n" + text
		}
		return r.reply(ctx, req, text)
	}
}

func (r *Router) handleCancel(ctx context.Context, req *Request) error {
	if r.sessions.Drop(sessionKey(req.Chat)) {
		return r.reply(ctx, req, "Cancelled.")
	}
	return r.reply(ctx, req, "Nothing to cancel.")
}

func (r *Router) handleText(ctx context.Context, req *Request) error {
	key := sessionKey(req.Chat)
	s, ok := r.sessions.Get(key)
	if !ok {
		return r.reply(ctx, req, replyNotFound)
	}

	state, prompt, err := s.Step(req.Text)
	var rej *builder.RejectedInput
	if errors.As(err, &rej) {
		r.metrics.InputRejected(string(rej.State))
		req.Logger.Debug("input rejected", logx.String("state", string(rej.State)), logx.Err(rej.Reason))
		return r.reply(ctx, req, rej.Reply())
	}
	if err != nil {
		r.sessions.Drop(key)
		return err
	}
	if state != builder.StateReady {
		return r.reply(ctx, req, prompt)
	}

	r.sessions.Drop(key)
	spec, err := s.Complete()
	if err != nil {
		return err
	}
	if err := r.reply(ctx, req, summaryIntro+"\n"+spec.Describe()); err != nil {
		req.Logger.Debug("summary reply failed", logx.Err(err))
	}

	spec.Enable()
	name := spec.Name()
	h, replaced, err := r.reg.Activate(name, req.Chat, spec)
	if err != nil {
		_ = r.reply(ctx, req, "Sorry, I couldn't schedule that reminder.")
		return fmt.Errorf("activate %q: %w", name, err)
	}
	r.metrics.SessionCompleted(string(s.Flow()))

	var b strings.Builder
	if replaced {
		fmt.Fprintf(&b, "A reminder named %q already existed; it has been replaced.\n", name)
	}
	fmt.Fprintf(&b, "Done! Reminder %q is active.", h.Name())
	if info, ok := r.reg.Lookup(name); ok && !info.Next.IsZero() {
		fmt.Fprintf(&b, "\nNext: %s", info.Next.In(r.config().Location).Format("02.01.2006 15:04"))
	}
	return r.reply(ctx, req, b.String())
}

func (r *Router) handleList(ctx context.Context, req *Request) error {
	loc := r.config().Location
	var lines []string
	for _, in := range r.reg.List() {
		if in.Target.ChatID != req.Chat.ChatID {
			continue
		}
		state := "on"
		if !in.Enabled {
			state = "off"
		}
		line := fmt.Sprintf("• %s (%s, %s)", in.Name, in.Kind, state)
		if !in.Next.IsZero() {
			line += " next " + in.Next.In(loc).Format("02.01.2006 15:04")
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return r.reply(ctx, req, "No reminders yet. Try /addbirthday or /simplenotification.")
	}
	return r.reply(ctx, req, "Your reminders:\n"+strings.Join(lines, "\n"))
}

func (r *Router) control(cmd scheduler.Command) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		arg := strings.Join(req.Args, " ")
		if arg == "" {
			return r.reply(ctx, req, fmt.Sprintf("Usage: /%s <name>", cmd))
		}
		name, ok := r.resolve(req.Chat, arg)
		if !ok {
			return r.reply(ctx, req, fmt.Sprintf("No reminder named %q.", arg))
		}
		err := r.reg.Control(name, cmd)
		if errors.Is(err, scheduler.ErrNotFound) {
			return r.reply(ctx, req, fmt.Sprintf("No reminder named %q.", name))
		}
		if err != nil {
			return err
		}
		var done string
		switch cmd {
		case scheduler.CmdEnable:
			done = "enabled"
		case scheduler.CmdDisable:
			done = "disabled"
		default:
			done = "deleted"
		}
		return r.reply(ctx, req, fmt.Sprintf("Reminder %q %s.", name, done))
	}
}

// resolve finds the registered name a command argument refers to. Names are
// stored verbatim, so the argument also matches a name that differs only in
// surrounding or repeated whitespace. Reminders of other chats are invisible.
func (r *Router) resolve(chat kit.ChatTarget, arg string) (string, bool) {
	if in, ok := r.reg.Lookup(arg); ok {
		return arg, in.Target.ChatID == chat.ChatID
	}
	for _, in := range r.reg.List() {
		if in.Target.ChatID == chat.ChatID && strings.Join(strings.Fields(in.Name), " ") == arg {
			return in.Name, true
		}
	}
	return "", false
}

func sessionKey(t kit.ChatTarget) builder.Key {
	return builder.Key{ChatID: t.ChatID, ThreadID: t.ThreadID}
}
