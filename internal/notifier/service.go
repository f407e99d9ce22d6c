package notifier

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/observability/metrics"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrNoSender  = errors.New("notifier has no sender")
	ErrEmptyText = errors.New("notification text is empty")
)

const historySize = 200

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	dedup   *lru.Cache[string, time.Time]

	sender  TextSender
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender TextSender, log logx.Logger, bus eventbus.Bus, store storage.Store, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, store: store, metrics: m}
	s.Apply(cfg)
	return s
}

// Apply swaps the configuration. Dedup marks survive unless the cache size changes.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedup == nil || s.cfg.DedupMaxEntries != cfg.DedupMaxEntries {
		c, _ := lru.New[string, time.Time](cfg.DedupMaxEntries)
		if s.dedup != nil {
			for _, k := range s.dedup.Keys() {
				if v, ok := s.dedup.Peek(k); ok {
					c.Add(k, v)
				}
			}
		}
		s.dedup = c
	}
	if s.cfg.RatePerSec != cfg.RatePerSec || s.limiter == nil {
		// Burst equals the rate so short spikes pass without waiting.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

func (s *Service) snapshot() (Config, *rate.Limiter, *lru.Cache[string, time.Time]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter, s.dedup
}

// Send delivers n, retrying transport failures with jittered exponential
// backoff. A notification whose Key was delivered within the dedup window is
// skipped and reported as success.
func (s *Service) Send(ctx context.Context, n kit.Notification) error {
	if s.sender == nil {
		return ErrNoSender
	}
	if strings.TrimSpace(n.Text) == "" {
		return ErrEmptyText
	}
	cfg, lim, dedup := s.snapshot()

	if cfg.DedupWindow > 0 && n.Key != "" && s.seen(ctx, cfg, dedup, n.Key) {
		s.log.Debug("notification deduped", logx.String("key", n.Key), logx.String("channel", n.Channel))
		s.metrics.Notification(n.Channel, metrics.OutcomeDeduped)
		s.publish("notifier.deduped", n, 0, nil)
		return nil
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.sender.SendText(callCtx, n.Target, n.Text, n.Options)
		cancel()
		if err == nil {
			if cfg.DedupWindow > 0 && n.Key != "" {
				s.mark(ctx, cfg, dedup, n.Key)
			}
			s.record(n, nil)
			s.metrics.Notification(n.Channel, metrics.OutcomeSent)
			s.publish("notifier.sent", n, attempt, nil)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		s.log.Debug("notification send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			attempt = attempts
		}
	}

	s.record(n, lastErr)
	s.metrics.Notification(n.Channel, metrics.OutcomeFailed)
	s.publish("notifier.failed", n, attempts, lastErr)
	return lastErr
}

// seen reports whether key is still inside its dedup window, consulting
// storage when the in-memory cache has no entry.
func (s *Service) seen(ctx context.Context, cfg Config, dedup *lru.Cache[string, time.Time], key string) bool {
	now := time.Now()
	if until, ok := dedup.Get(key); ok {
		if now.Before(until) {
			return true
		}
		dedup.Remove(key)
	}
	if !cfg.PersistDedup || s.store == nil {
		return false
	}
	qctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	until, ok, err := s.store.GetDedup(qctx, key)
	if err != nil {
		s.log.Debug("dedup lookup failed", logx.String("key", key), logx.Err(err))
		return false
	}
	if ok && now.Before(until) {
		dedup.Add(key, until)
		return true
	}
	return false
}

func (s *Service) mark(ctx context.Context, cfg Config, dedup *lru.Cache[string, time.Time], key string) {
	until := time.Now().Add(cfg.DedupWindow)
	dedup.Add(key, until)
	if !cfg.PersistDedup || s.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.store.PutDedup(wctx, key, until); err != nil {
		s.log.Warn("dedup persist failed", logx.String("key", key), logx.Err(err))
	}
}

func (s *Service) publish(typ string, n kit.Notification, attempts int, err error) {
	if s.bus == nil {
		return
	}
	ev := NotificationEvent{
		Channel:  n.Channel,
		ChatID:   n.Target.ChatID,
		ThreadID: n.Target.ThreadID,
		Key:      n.Key,
		At:       time.Now(),
		Attempts: attempts,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) record(n kit.Notification, err error) {
	item := HistoryItem{At: time.Now(), Channel: n.Channel, ChatID: n.Target.ChatID, Text: n.Text}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// retryDelay is the wait before attempt+1: RetryBase doubled per attempt,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
