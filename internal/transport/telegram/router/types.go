package router

import (
	"context"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Request is one incoming message on its way through the middleware chain.
type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string // empty for free text
	Args    []string
	Text    string
	ReqID   string
	Logger  logx.Logger
}

// Reminders is the registry surface the chat commands drive.
type Reminders interface {
	Activate(name string, target kit.ChatTarget, spec reminder.Spec) (*scheduler.Handle, bool, error)
	Control(name string, cmd scheduler.Command) error
	List() []scheduler.Info
	Lookup(name string) (scheduler.Info, bool)
}

// Config is the hot-reloadable part of the router settings. Workers is read
// once when Run starts.
type Config struct {
	Workers        int
	CommandTimeout time.Duration
	SessionTTL     time.Duration
	Owners         []int64
	Location       *time.Location
}
