package scheduler

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/observability/metrics"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrNotFound       = errors.New("reminder not found")
	ErrClosed         = errors.New("scheduler is shut down")
	ErrEmptyName      = errors.New("reminder name is empty")
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoSender       = errors.New("no sender configured")
)

type Command int

const (
	CmdEnable Command = iota + 1
	CmdDisable
	CmdDelete
)

func (c Command) String() string {
	switch c {
	case CmdEnable:
		return "enable"
	case CmdDisable:
		return "disable"
	case CmdDelete:
		return "delete"
	}
	return "unknown"
}

// Sender is the side effect a task invokes when a reminder fires.
type Sender interface {
	Send(ctx context.Context, n kit.Notification) error
}

// Info is a point-in-time view of one registered reminder.
type Info struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Target      kit.ChatTarget `json:"target"`
	Enabled     bool           `json:"enabled"`
	Next        time.Time      `json:"next,omitzero"`
	Fired       int            `json:"fired"`
	LastFired   time.Time      `json:"last_fired,omitzero"`
	LastErr     string         `json:"last_err,omitempty"`
	Description string         `json:"description"`
}

type Option func(*Registry)

func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }

// WithClock replaces time.Now. Timers still run on real time, so a test clock
// should advance with it (for example a fixed offset from time.Now).
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithLocation(loc *time.Location) Option { return func(r *Registry) { r.loc = loc } }

// WithStore persists reminders. A nil store keeps everything in memory.
func WithStore(st storage.Store) Option { return func(r *Registry) { r.store = st } }

func WithBus(b eventbus.Bus) Option { return func(r *Registry) { r.bus = b } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

func WithSendTimeout(d time.Duration) Option { return func(r *Registry) { r.sendTimeout = d } }
