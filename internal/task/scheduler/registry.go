package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/observability/metrics"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const storeTimeout = 2 * time.Second

// Handle controls one running task.
type Handle struct {
	name   string
	id     uint64
	kind   string
	target kit.ChatTarget
	box    mailbox
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	spec      reminder.Spec
	next      time.Time
	fired     int
	lastFired time.Time
	lastErr   string
	sealed    bool
}

func (h *Handle) Name() string { return h.name }

// ID distinguishes successive tasks registered under the same name.
func (h *Handle) ID() uint64 { return h.id }

// Done is closed when the task goroutine has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// offer posts cmd unless the task has committed to its final run.
func (h *Handle) offer(cmd Command) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sealed {
		return false
	}
	h.box.post(cmd)
	return true
}

// claim takes the pending command. A final run seals h unless that command
// is a Disable, so nothing posted afterwards is accepted and then lost.
func (h *Handle) claim(final bool) (Command, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cmd, ok := h.box.take()
	if final && !(ok && cmd == CmdDisable) {
		h.sealed = true
	}
	return cmd, ok
}

func (h *Handle) snapshot() reminder.Spec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec.Clone()
}

func (h *Handle) info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		Name:        h.name,
		Kind:        h.kind,
		Target:      h.target,
		Enabled:     h.spec.Enabled(),
		Next:        h.next,
		Fired:       h.fired,
		LastFired:   h.lastFired,
		LastErr:     h.lastErr,
		Description: h.spec.Describe(),
	}
}

// Registry is the process-wide map of reminder name to running task.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*Handle
	closed bool
	seq    atomic.Uint64

	sup         *supervisor.Supervisor
	sender      Sender
	loc         *time.Location
	now         func() time.Time
	sendTimeout time.Duration

	store   storage.Store
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
}

// New creates a registry whose tasks live until ctx is canceled or Shutdown.
func New(ctx context.Context, sender Sender, opts ...Option) *Registry {
	r := &Registry{
		tasks:       map[string]*Handle{},
		sender:      sender,
		loc:         time.Local,
		now:         time.Now,
		sendTimeout: 30 * time.Second,
		log:         logx.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	r.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(r.log))
	return r
}

// Activate starts a task for spec under name. An existing reminder with the
// same name is deleted first and replaced reports that. The returned handle's
// predecessor, if any, has terminated by the time Activate returns.
func (r *Registry) Activate(name string, target kit.ChatTarget, spec reminder.Spec) (*Handle, bool, error) {
	return r.activate(name, target, spec, true)
}

func (r *Registry) activate(name string, target kit.ChatTarget, spec reminder.Spec, persist bool) (*Handle, bool, error) {
	// Names are keys as given; only blank ones are refused.
	if strings.TrimSpace(name) == "" {
		return nil, false, ErrEmptyName
	}
	ctx, cancel := context.WithCancel(r.sup.Context())
	h := &Handle{
		name:   name,
		id:     r.seq.Add(1),
		kind:   string(spec.Kind()),
		target: target,
		box:    newMailbox(),
		cancel: cancel,
		done:   make(chan struct{}),
		spec:   spec.Clone(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, false, ErrClosed
	}
	prev := r.tasks[name]
	if prev != nil {
		prev.cancel()
	}
	r.tasks[name] = h
	if persist {
		r.putRecord(h)
	}
	r.sup.Go("reminder.task", func(context.Context) error {
		r.run(ctx, h, prev)
		return nil
	})
	r.mu.Unlock()

	if prev != nil {
		<-prev.done
		r.log.Info("reminder replaced", logx.String("name", name))
		r.publish(eventbus.ReminderRemoved, prev, time.Time{}, "replaced", nil)
	}
	r.log.Info("reminder activated",
		logx.String("name", name),
		logx.String("kind", string(spec.Kind())),
		logx.Int64("chat_id", target.ChatID),
		logx.Bool("enabled", spec.Enabled()),
	)
	r.publish(eventbus.ReminderActivated, h, time.Time{}, "", nil)
	return h, prev != nil, nil
}

// Control delivers cmd to the named task. Unknown names yield ErrNotFound, as
// does a one-shot that is already firing or done.
func (r *Registry) Control(name string, cmd Command) error {
	switch cmd {
	case CmdDelete:
		return r.Delete(name)
	case CmdEnable, CmdDisable:
	default:
		return ErrUnknownCommand
	}
	r.mu.RLock()
	h := r.tasks[name]
	r.mu.RUnlock()
	if h == nil || !h.offer(cmd) {
		return ErrNotFound
	}
	return nil
}

// Delete removes the reminder and its persisted record and stops its task.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	h := r.tasks[name]
	if h == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.tasks, name)
	r.deleteRecord(name)
	r.mu.Unlock()

	h.cancel()
	r.log.Info("reminder deleted", logx.String("name", name))
	r.publish(eventbus.ReminderRemoved, h, time.Time{}, "deleted", nil)
	return nil
}

// List returns every registered reminder sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	hs := make([]*Handle, 0, len(r.tasks))
	for _, h := range r.tasks {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Names() []string {
	infos := r.List()
	out := make([]string, len(infos))
	for i, in := range infos {
		out[i] = in.Name
	}
	return out
}

func (r *Registry) Lookup(name string) (Info, bool) {
	r.mu.RLock()
	h := r.tasks[name]
	r.mu.RUnlock()
	if h == nil {
		return Info{}, false
	}
	return h.info(), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Stats exposes the task supervisor's counters.
func (r *Registry) Stats() supervisor.Snapshot { return r.sup.Snapshot() }

// Restore activates every persisted reminder. Unreadable records are skipped.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	recs, err := r.store.ListReminders(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		spec, err := reminder.FromRecord(rec.Spec)
		if err != nil {
			r.log.Warn("skipping persisted reminder", logx.String("name", rec.Name), logx.Err(err))
			continue
		}
		if _, _, err := r.activate(rec.Name, rec.Target, spec, false); err != nil {
			return n, err
		}
		n++
	}
	r.log.Info("reminders restored", logx.Int("count", n))
	return n, nil
}

// Shutdown stops every task and waits for them. Persisted records are kept.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	n := len(r.tasks)
	r.tasks = map[string]*Handle{}
	r.mu.Unlock()

	start := time.Now()
	err := r.sup.Stop(ctx)
	r.log.Info("scheduler stopped", logx.Int("tasks", n), logx.Duration("took", time.Since(start)))
	return err
}

// finish removes h if it is still the registered task for its name.
func (r *Registry) finish(h *Handle, dropRecord bool, reason string) {
	r.mu.Lock()
	cur := r.tasks[h.name] == h
	if cur {
		delete(r.tasks, h.name)
		if dropRecord {
			r.deleteRecord(h.name)
		}
	}
	r.mu.Unlock()
	if cur {
		r.log.Info("reminder finished", logx.String("name", h.name), logx.String("reason", reason))
		r.publish(eventbus.ReminderRemoved, h, time.Time{}, reason, nil)
	}
}

// persist writes h's current spec if h is still registered.
func (r *Registry) persist(h *Handle) {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.tasks[h.name] == h {
		r.putRecord(h)
	}
}

// putRecord and deleteRecord run with r.mu held so storage sees mutations in
// registry order.
func (r *Registry) putRecord(h *Handle) {
	if r.store == nil {
		return
	}
	spec := h.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := r.store.PutReminder(ctx, storage.ReminderRecord{
		Name:      h.name,
		Target:    h.target,
		Spec:      spec.Record(),
		UpdatedAt: r.now(),
	})
	if err != nil {
		r.log.Warn("persist reminder failed", logx.String("name", h.name), logx.Err(err))
	}
}

func (r *Registry) deleteRecord(name string) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.DeleteReminder(ctx, name); err != nil {
		r.log.Warn("delete persisted reminder failed", logx.String("name", name), logx.Err(err))
	}
}

func (r *Registry) publish(typ string, h *Handle, trigger time.Time, reason string, err error) {
	if r.bus == nil {
		return
	}
	ev := eventbus.ReminderEvent{
		Name:    h.name,
		Kind:    h.kind,
		ChatID:  h.target.ChatID,
		Trigger: trigger,
		Reason:  reason,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: ev})
}
