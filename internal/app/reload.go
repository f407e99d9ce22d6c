package app

import (
	"context"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// reloadLoop applies every committed config to the running components.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if pending := config.NeedsRestart(sections); len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", pending))
	}

	a.logs.SetTelegramTarget(logTarget(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	// The zone is fixed for the process lifetime; keep it when reapplying.
	rc := mapRouterConfig(next)
	rc.Location = a.loc
	a.router.Apply(rc)

	a.notif.Apply(mapNotifierConfig(next))

	if err := a.digest.Apply(mapDigestConfig(next)); err != nil {
		a.log.Warn("digest config rejected", logx.Err(err))
	}

	a.ops.Reconfigure(ctx, mapOpsConfig(next))

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
