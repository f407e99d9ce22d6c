package scheduler

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/eventbus"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// run is the task loop for h. It returns when ctx is canceled (Delete,
// replacement, Shutdown) or when the reminder has no further trigger.
func (r *Registry) run(ctx context.Context, h *Handle, prev *Handle) {
	defer close(h.done)
	defer func() {
		if p := recover(); p != nil {
			r.finish(h, false, "panic")
			panic(p)
		}
	}()

	r.metrics.TaskStarted(h.kind)
	defer r.metrics.TaskStopped(h.kind)

	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return
		}
	}

	from := r.now()
	for {
		spec := h.snapshot()
		if !spec.Enabled() {
			h.setNext(time.Time{})
			select {
			case <-ctx.Done():
				return
			case cmd := <-h.box.ch:
				r.apply(h, cmd)
				from = r.now()
				continue
			}
		}

		at, ok := spec.NextTrigger(from, r.loc)
		if !ok {
			h.claim(true)
			r.finish(h, true, "completed")
			return
		}
		h.setNext(at)

		timer := time.NewTimer(max(at.Sub(r.now()), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case cmd := <-h.box.ch:
			timer.Stop()
			r.apply(h, cmd)
			from = r.now()
			continue
		case <-timer.C:
		}

		// A command that raced the timer is decided before firing.
		if cmd, ok := h.claim(!spec.Recurring()); ok {
			r.apply(h, cmd)
			if cmd == CmdDisable {
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}

		r.fire(ctx, h, at)
		if !spec.Recurring() {
			r.finish(h, true, "fired")
			return
		}
		from = at.Add(time.Second)
	}
}

// apply mutates h's spec for an Enable or Disable and persists the change.
func (r *Registry) apply(h *Handle, cmd Command) {
	h.mu.Lock()
	changed := false
	switch cmd {
	case CmdEnable:
		changed = !h.spec.Enabled()
		h.spec.Enable()
	case CmdDisable:
		changed = h.spec.Enabled()
		h.spec.Disable()
	}
	h.mu.Unlock()

	r.log.Debug("reminder command applied",
		logx.String("name", h.name),
		logx.String("cmd", cmd.String()),
		logx.Bool("changed", changed),
	)
	if changed {
		r.persist(h)
	}
}

func (r *Registry) fire(ctx context.Context, h *Handle, at time.Time) {
	spec := h.snapshot()
	kind := h.kind

	var err error
	if r.sender == nil {
		err = ErrNoSender
	} else {
		sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		err = r.sender.Send(sctx, kit.Notification{
			Channel: "reminder",
			Key:     fmt.Sprintf("reminder:%s:%d", h.name, at.Unix()),
			Target:  h.target,
			Text:    spec.Message(at),
		})
		cancel()
	}

	h.mu.Lock()
	h.fired++
	h.lastFired = at
	h.lastErr = ""
	if err != nil {
		h.lastErr = err.Error()
	}
	if !spec.Recurring() {
		h.spec.MarkFired()
	}
	h.mu.Unlock()

	r.metrics.ReminderFired(kind, err)
	if err != nil {
		r.log.Warn("reminder send failed",
			logx.String("name", h.name),
			logx.String("kind", kind),
			logx.Time("trigger", at),
			logx.Err(err),
		)
		r.publish(eventbus.ReminderFailed, h, at, "", err)
		return
	}
	r.log.Info("reminder fired",
		logx.String("name", h.name),
		logx.String("kind", kind),
		logx.Int64("chat_id", h.target.ChatID),
		logx.Time("trigger", at),
	)
	r.publish(eventbus.ReminderFired, h, at, "", nil)
}

func (h *Handle) setNext(at time.Time) {
	h.mu.Lock()
	h.next = at
	h.mu.Unlock()
}
