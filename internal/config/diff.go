package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// RestartRequired lists sections whose changes only apply after a restart.
var RestartRequired = map[string]bool{
	"telegram.token": true,
	"scheduler":      true,
	"router.workers": true,
	"storage":        true,
}

// SummarizeConfigChange returns the changed sections (sorted) and safe log
// fields describing them. Secrets (bot token, ops token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differs bool, fields ...logx.Field) {
		if differs {
			changed = append(changed, name)
			attrs = append(attrs, fields...)
		}
	}
	o, n := oldCfg, newCfg

	section("telegram.token", strings.TrimSpace(o.Telegram.Token) != strings.TrimSpace(n.Telegram.Token))
	section("telegram",
		strings.TrimSpace(o.Telegram.PollTimeout) != strings.TrimSpace(n.Telegram.PollTimeout) ||
			!reflect.DeepEqual(o.Telegram.OwnerUserIDs, n.Telegram.OwnerUserIDs) ||
			strings.TrimSpace(o.Telegram.GroupLog) != strings.TrimSpace(n.Telegram.GroupLog),
		logx.String("telegram.poll_timeout", strings.TrimSpace(n.Telegram.PollTimeout)),
		logx.Int("telegram.owner_count", len(n.Telegram.OwnerUserIDs)),
		logx.Bool("telegram.group_log_set", strings.TrimSpace(n.Telegram.GroupLog) != ""),
	)
	section("logging", o.Logging != n.Logging,
		logx.String("logging.level", n.Logging.Level),
		logx.Bool("logging.console", n.Logging.Console),
		logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
		logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
	)
	section("scheduler", strings.TrimSpace(o.Scheduler.UTCOffset) != strings.TrimSpace(n.Scheduler.UTCOffset),
		logx.String("scheduler.utc_offset", strings.TrimSpace(n.Scheduler.UTCOffset)),
	)
	section("router.workers", o.Router.Workers != n.Router.Workers,
		logx.Int("router.workers", n.Router.Workers),
	)
	section("router", o.Router.CommandTimeout != n.Router.CommandTimeout || o.Router.SessionTTL != n.Router.SessionTTL,
		logx.String("router.command_timeout", n.Router.CommandTimeout),
		logx.String("router.session_ttl", n.Router.SessionTTL),
	)

	on, nn := derefNotifier(o.Notifier), derefNotifier(n.Notifier)
	section("notifier", on != nn,
		logx.Int("notifier.rate_per_sec", nn.RatePerSec),
		logx.Int("notifier.retry_max", nn.RetryMax),
		logx.String("notifier.dedup_window", nn.DedupWindow),
		logx.Bool("notifier.persist_dedup", nn.PersistDedup),
	)

	section("storage", o.StorageDriver() != n.StorageDriver() || storagePath(o) != storagePath(n) || storageBusy(o) != storageBusy(n),
		logx.String("storage.driver", n.StorageDriver()),
		logx.Bool("storage.path_set", storagePath(n) != ""),
	)

	section("digest", o.DigestEnabled() != n.DigestEnabled() || o.DigestSpec() != n.DigestSpec() || o.DigestHorizon() != n.DigestHorizon(),
		logx.Bool("digest.enabled", n.DigestEnabled()),
		logx.String("digest.spec", n.DigestSpec()),
		logx.Duration("digest.horizon", n.DigestHorizon()),
	)

	oo, no := o.Ops, n.Ops
	oo.Token, no.Token = tokenMark(oo.Token), tokenMark(no.Token)
	section("ops", oo != no,
		logx.Bool("ops.enabled", n.Ops.Enabled),
		logx.String("ops.addr", n.OpsAddr()),
		logx.Bool("ops.token_set", strings.TrimSpace(n.Ops.Token) != ""),
		logx.Bool("ops.pprof", n.Ops.Pprof),
	)

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart reports the changed sections a hot reload cannot apply.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, c := range changed {
		if RestartRequired[c] {
			out = append(out, c)
		}
	}
	return out
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func storagePath(c *Config) string {
	if c.Storage == nil {
		return ""
	}
	return strings.TrimSpace(c.Storage.Path)
}

func storageBusy(c *Config) string {
	if c.Storage == nil {
		return ""
	}
	return strings.TrimSpace(c.Storage.BusyTimeout)
}

// tokenMark collapses a secret to set/unset so comparisons never expose it.
func tokenMark(tok string) string {
	if strings.TrimSpace(tok) == "" {
		return ""
	}
	return "set"
}
