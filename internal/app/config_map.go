package app

import (
	"strconv"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/ops"
	"remindbot/internal/storage"
	"remindbot/internal/task/digest"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

// defaultDedupWindow outlives any retry burst and a quick restart.
const defaultDedupWindow = 48 * time.Hour

// The mappers below read configs that already passed config.Validate, so
// parse failures fall back to defaults instead of erroring.

func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	d := cfg.StorageDriver()
	if d == config.StorageNone {
		return storage.Config{}, false
	}
	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	return storage.Config{
		Driver:      d,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, true
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; 0 disables the telegram log sink.
func logTarget(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		Workers:        cfg.RouterWorkers(),
		CommandTimeout: cfg.CommandTimeout(),
		SessionTTL:     cfg.SessionTTL(),
		Owners:         append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		Location:       cfg.Location(),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{DedupWindow: defaultDedupWindow}
	}
	base, _ := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	maxDelay, _ := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	window, _ := config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, defaultDedupWindow)
	return notifier.Config{
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
}

// mapDigestConfig sends the digest to every owner's private chat.
func mapDigestConfig(cfg *config.Config) digest.Config {
	targets := make([]kit.ChatTarget, 0, len(cfg.Telegram.OwnerUserIDs))
	for _, id := range cfg.Telegram.OwnerUserIDs {
		targets = append(targets, kit.ChatTarget{ChatID: id})
	}
	return digest.Config{
		Enabled: cfg.DigestEnabled() && len(targets) > 0,
		Spec:    cfg.DigestSpec(),
		Horizon: cfg.DigestHorizon(),
		Targets: targets,
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	o := cfg.Ops
	read, _ := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 5*time.Second)
	write, _ := config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 30*time.Second)
	idle, _ := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second)
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          cfg.OpsAddr(),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}
}
