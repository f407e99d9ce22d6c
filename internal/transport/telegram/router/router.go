// Package router turns Telegram messages into builder steps and registry calls.
//
// Updates are sharded by conversation onto a fixed set of workers, so turns
// of one conversation are handled one at a time and in order while separate
// chats proceed in parallel.
package router

import (
	"context"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/builder"
	"remindbot/internal/observability/metrics"
	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	queuePerWorker = 64
	replyNotFound  = "Command not found!"
	replyBusy      = "Busy, try again in a moment."
)

type Router struct {
	mu       sync.RWMutex
	cfg      Config
	commands map[string]Command
	order    []Command

	adapter  kit.Adapter
	reg      Reminders
	sessions *builder.Store
	log      logx.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(cfg Config, adapter kit.Adapter, reg Reminders, log logx.Logger, m *metrics.Metrics) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		adapter: adapter,
		reg:     reg,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
	r.sessions = builder.NewStore(func() time.Time { return r.now() })
	r.Apply(cfg)
	r.register(r.builtinCommands())
	return r
}

// Apply swaps owners, timeouts and the zone. Safe during hot reload.
func (r *Router) Apply(cfg Config) {
	cfg.Owners = append([]int64(nil), cfg.Owners...)
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Router) register(cmds []Command) {
	byName := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		byName[c.Name] = c
	}
	r.mu.Lock()
	r.commands = byName
	r.order = cmds
	r.mu.Unlock()
}

// Sessions exposes the open builder dialogues.
func (r *Router) Sessions() *builder.Store { return r.sessions }

// Supervisor returns the dispatcher's supervisor, nil while not running.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// Run dispatches updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	cfg := r.config()
	workers := max(cfg.Workers, 1)

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	queues := make([]chan func(), workers)
	for i := range queues {
		q := make(chan func(), queuePerWorker)
		queues[i] = q
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-q:
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	sup.Go0("router.sessions.expire", r.expireLoop)
	r.updateMenu(sup)
	r.log.Info("router started", logx.Int("workers", workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			q := queues[shard(up.Message.Target(), workers)]
			job := func() { r.process(ctx, up) }
			select {
			case q <- job:
			default:
				r.log.Warn("router queue full; dropping update", logx.Int64("chat_id", up.Message.ChatID))
				_, _ = r.adapter.SendText(ctx, up.Message.Target(), replyBusy, nil)
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func shard(t kit.ChatTarget, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(t.ChatID, 10) + "/" + strconv.Itoa(t.ThreadID)))
	return int(h.Sum32() % uint32(n))
}

func (r *Router) expireLoop(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.sessions.Expire(r.config().SessionTTL); n > 0 {
				r.log.Debug("idle sessions dropped", logx.Int("count", n))
			}
		}
	}
}

func (r *Router) updateMenu(sup *rtsup.Supervisor) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	r.mu.RLock()
	menu := buildMenu(r.order)
	r.mu.RUnlock()
	sup.Go("telegram.menu.update", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, menu); err != nil {
			r.log.Debug("menu update failed", logx.Err(err))
		}
		return nil
	})
}

// process handles one message synchronously.
func (r *Router) process(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	cfg := r.config()
	// Answers are kept verbatim; only command detection looks at the trimmed line.
	text := strings.TrimSpace(msg.Text)

	req := &Request{
		Message: msg,
		Chat:    msg.Target(),
		FromID:  msg.FromID,
		Text:    msg.Text,
		ReqID:   uuid.NewString(),
	}

	if !isOwner(msg.FromID, cfg.Owners) {
		r.log.Debug("ignoring message from non-owner", logx.Int64("from_id", msg.FromID), logx.Int64("chat_id", msg.ChatID))
		if strings.HasPrefix(text, "/") {
			_, _ = r.adapter.SendText(ctx, req.Chat, "unauthorized", nil)
		}
		return
	}

	var h HandlerFunc
	timeout := cfg.CommandTimeout
	if strings.HasPrefix(text, "/") {
		name, args := parseCommand(text)
		req.Command, req.Args = name, args
		r.mu.RLock()
		cmd, ok := r.commands[name]
		r.mu.RUnlock()
		if !ok {
			r.metrics.UpdateHandled("unknown", 0)
			_, _ = r.adapter.SendText(ctx, req.Chat, replyNotFound, nil)
			return
		}
		h = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	} else {
		h = r.handleText
	}

	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int("thread_id", msg.ThreadID),
		logx.Int64("from_id", msg.FromID),
	)
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log, r.metrics),
		MWTimeout(timeout),
	)
	_ = final(ctx, req)
}

// parseCommand splits "/cmd@bot a b" into "cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), parts[1:]
}

func isOwner(id int64, owners []int64) bool {
	if len(owners) == 0 {
		return true
	}
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
