// Package digest sends owners a periodic summary of upcoming reminders.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const runTimeout = time.Minute

type Config struct {
	Enabled bool
	Spec    string // standard 5-field cron or descriptor
	Horizon time.Duration
	Targets []kit.ChatTarget
}

// Source lists registered reminders.
type Source interface {
	List() []scheduler.Info
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	ctx    context.Context
	parser cron.Parser

	src    Source
	sender scheduler.Sender
	loc    *time.Location
	now    func() time.Time
	log    logx.Logger
}

func New(cfg Config, src Source, sender scheduler.Sender, loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		cfg:    cfg,
		src:    src,
		sender: sender,
		loc:    loc,
		now:    time.Now,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start begins triggering. ctx bounds every run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.restartLocked()
}

// Apply swaps the configuration and reschedules if the digest is running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.ctx == nil || (old.Enabled == cfg.Enabled && old.Spec == cfg.Spec) {
		return nil
	}
	return s.restartLocked()
}

func (s *Service) restartLocked() error {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	if !s.cfg.Enabled {
		s.log.Debug("digest disabled")
		return nil
	}
	sched, err := s.parser.Parse(strings.TrimSpace(s.cfg.Spec))
	if err != nil {
		return fmt.Errorf("digest spec %q: %w", s.cfg.Spec, err)
	}
	c := cron.New(cron.WithLocation(s.loc), cron.WithParser(s.parser))
	c.Schedule(sched, cron.FuncJob(s.tick))
	c.Start()
	s.c = c
	s.log.Info("digest scheduled", logx.String("spec", s.cfg.Spec), logx.Time("next", sched.Next(s.now().In(s.loc))))
	return nil
}

func (s *Service) tick() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, runTimeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("digest run failed", logx.Err(err))
	}
}

// Stop halts triggering and waits for a running digest up to ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ctx = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce composes the digest and sends it to every target. Nothing is sent
// when no reminder is due within the horizon.
func (s *Service) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	now := s.now()
	text, ok := Compose(s.src.List(), now, cfg.Horizon, s.loc)
	if !ok {
		s.log.Debug("digest skipped: nothing upcoming")
		return nil
	}
	stamp := now.In(s.loc).Format("200601021504")
	var errs []error
	for _, to := range cfg.Targets {
		err := s.sender.Send(ctx, kit.Notification{
			Channel: "digest",
			Key:     fmt.Sprintf("digest:%d:%s", to.ChatID, stamp),
			Target:  to,
			Text:    text,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", to.ChatID, err))
		}
	}
	s.log.Info("digest sent", logx.Int("targets", len(cfg.Targets)), logx.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Compose renders enabled reminders whose next trigger falls in
// [now, now+horizon], earliest first.
func Compose(infos []scheduler.Info, now time.Time, horizon time.Duration, loc *time.Location) (string, bool) {
	until := now.Add(horizon)
	var due []scheduler.Info
	for _, in := range infos {
		if !in.Enabled || in.Next.IsZero() || in.Next.Before(now) || in.Next.After(until) {
			continue
		}
		due = append(due, in)
	}
	if len(due) == 0 {
		return "", false
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].Next.Equal(due[j].Next) {
			return due[i].Next.Before(due[j].Next)
		}
		return due[i].Name < due[j].Name
	})

	var b strings.Builder
	fmt.Fprintf(&b, "📅 Upcoming reminders (%s):", horizonLabel(horizon))
	for _, in := range due {
		fmt.Fprintf(&b, "\n• %s %s (%s)", in.Next.In(loc).Format("02.01 15:04"), in.Name, in.Kind)
	}
	return b.String(), true
}

func horizonLabel(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d == day:
		return "next day"
	case d > 0 && d%day == 0:
		return fmt.Sprintf("next %d days", int(d/day))
	}
	return "next " + d.String()
}
