package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Router    RouterConfig    `json:"router"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Digest   *DigestConfig   `json:"digest,omitempty"`
	Ops      OpsConfig       `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs restricts the bot to these users. Empty serves everyone.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id receiving the telegram log sink.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls reminder triggers.
type SchedulerConfig struct {
	// UTCOffset is the fixed offset all reminders are interpreted in,
	// formatted "+hh:mm" or "-hh:mm". Default "+03:00".
	UTCOffset string `json:"utc_offset"`
}

// RouterConfig controls update dispatch.
//
// Defaults: workers 4, command_timeout "15s", session_ttl "30m".
type RouterConfig struct {
	Workers        int    `json:"workers,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
	// SessionTTL drops a half-finished reminder dialogue after this much silence.
	SessionTTL string `json:"session_ttl,omitempty"`
}

// NotifierConfig controls reminder delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./remindbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"` // none | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DigestConfig controls the periodic "upcoming reminders" summary sent to owners.
type DigestConfig struct {
	Enabled bool `json:"enabled"`
	// Spec is a 5-field cron expression (or a descriptor such as "@daily").
	Spec string `json:"spec"`
	// Horizon is how far ahead the digest looks. Default "168h".
	Horizon string `json:"horizon,omitempty"`
}

// OpsConfig controls the optional operations HTTP server
// (/healthz, /metrics, /api/reminders, /debug/pprof).
//
// Prefer binding to localhost. A non-loopback address needs a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
