package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty or "none" Driver disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ReminderRecord is one activated reminder, keyed by Name.
type ReminderRecord struct {
	Name      string          `json:"name"`
	Target    kit.ChatTarget  `json:"target"`
	Spec      reminder.Record `json:"spec"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the persistence API used by the scheduler and the notifier.
type Store interface {
	PutReminder(ctx context.Context, r ReminderRecord) error
	DeleteReminder(ctx context.Context, name string) error
	// ListReminders returns every stored reminder sorted by name.
	ListReminders(ctx context.Context) ([]ReminderRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
