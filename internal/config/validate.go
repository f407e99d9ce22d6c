package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultRouterWorkers  = 4
	DefaultCommandTimeout = 15 * time.Second
	DefaultSessionTTL     = 30 * time.Minute
	DefaultPollTimeout    = 10 * time.Second
	DefaultDigestSpec     = "0 9 * * *"
	DefaultDigestHorizon  = 7 * 24 * time.Hour
	DefaultOpsAddr        = "127.0.0.1:6060"
)

const (
	StorageNone   = "none"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Validate checks a freshly decoded config. It is run at startup, by the
// validate subcommand and before every hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	_, err = ParseUTCOffset(cfg.Scheduler.UTCOffset)
	add(err)

	if cfg.Router.Workers < 0 {
		add(errors.New("router.workers must be >= 0"))
	}
	_, err = ParseDurationField("router.command_timeout", cfg.Router.CommandTimeout)
	add(err)
	_, err = ParseDurationField("router.session_ttl", cfg.Router.SessionTTL)
	add(err)

	if n := cfg.Notifier; n != nil {
		if n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
			add(errors.New("notifier: numeric fields must be >= 0"))
		}
		for k, v := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			_, err := ParseDurationField(k, v)
			add(err)
		}
	}

	if s := cfg.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", StorageNone:
		case StorageFile, StorageSQLite:
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", d))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	if d := cfg.Digest; d != nil && d.Enabled {
		if _, err := cron.ParseStandard(cfg.DigestSpec()); err != nil {
			add(fmt.Errorf("digest.spec: %w", err))
		}
		_, err := ParseDurationField("digest.horizon", d.Horizon)
		add(err)
	}

	if o := cfg.Ops; o.Enabled {
		addr := cfg.OpsAddr()
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			add(fmt.Errorf("ops.addr: %w", err))
		} else if !isLoopbackHost(host) && strings.TrimSpace(o.Token) == "" && !o.AllowInsecure {
			add(fmt.Errorf("ops.addr %q is not loopback: set ops.token or ops.allow_insecure", addr))
		}
		for k, v := range map[string]string{
			"ops.read_timeout":  o.ReadTimeout,
			"ops.write_timeout": o.WriteTimeout,
			"ops.idle_timeout":  o.IdleTimeout,
		} {
			_, err := ParseDurationField(k, v)
			add(err)
		}
	}

	return errors.Join(errs...)
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Location returns the configured fixed zone, falling back to the default.
func (c *Config) Location() *time.Location {
	loc, err := ParseUTCOffset(c.Scheduler.UTCOffset)
	if err != nil {
		loc, _ = ParseUTCOffset(DefaultUTCOffset)
	}
	return loc
}

func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, DefaultPollTimeout)
}

func (c *Config) RouterWorkers() int {
	if c.Router.Workers > 0 {
		return c.Router.Workers
	}
	return DefaultRouterWorkers
}

func (c *Config) CommandTimeout() time.Duration {
	return durationOr(c.Router.CommandTimeout, DefaultCommandTimeout)
}

func (c *Config) SessionTTL() time.Duration {
	return durationOr(c.Router.SessionTTL, DefaultSessionTTL)
}

func (c *Config) StorageDriver() string {
	if c.Storage == nil {
		return StorageNone
	}
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d == "" {
		return StorageNone
	}
	return d
}

func (c *Config) DigestEnabled() bool { return c.Digest != nil && c.Digest.Enabled }

func (c *Config) DigestSpec() string {
	if c.Digest == nil || strings.TrimSpace(c.Digest.Spec) == "" {
		return DefaultDigestSpec
	}
	return strings.TrimSpace(c.Digest.Spec)
}

func (c *Config) DigestHorizon() time.Duration {
	if c.Digest == nil {
		return DefaultDigestHorizon
	}
	return durationOr(c.Digest.Horizon, DefaultDigestHorizon)
}

func (c *Config) OpsAddr() string {
	if a := strings.TrimSpace(c.Ops.Addr); a != "" {
		return a
	}
	return DefaultOpsAddr
}

// IsOwner reports whether userID may use the bot. An empty owner list allows everyone.
func (c *Config) IsOwner(userID int64) bool {
	if len(c.Telegram.OwnerUserIDs) == 0 {
		return true
	}
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
