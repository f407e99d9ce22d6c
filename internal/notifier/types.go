package notifier

import (
	"context"
	"time"

	kit "remindbot/internal/transport"
)

// Config controls delivery. Zero values fall back to defaults in Apply.
type Config struct {
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// TextSender is the transport the notifier delivers through.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	ChatID  int64     `json:"chat_id"`
	Text    string    `json:"text"`
	Error   string    `json:"error,omitempty"`
}

// NotificationEvent is published on the event bus for every outcome.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key,omitempty"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}
