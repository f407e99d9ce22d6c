// Package metrics holds the Prometheus collectors for the bot. Every method is
// safe on a nil *Metrics so components can run without metrics in tests.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "remindbot"

type Metrics struct {
	tasksActive      *prometheus.GaugeVec
	remindersFired   *prometheus.CounterVec
	sendFailures     *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	updates          *prometheus.CounterVec
	handleDuration   *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
}

// MustNewMetrics registers the collectors on reg (the default registerer when
// nil) and panics on a conflicting registration. Collectors already present
// on reg are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &registrar{reg: reg}
	m := &Metrics{
		tasksActive: register(r, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tasks_active",
			Help: "Reminder tasks currently scheduled.",
		}, []string{"kind"})),
		remindersFired: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "reminders_fired_total",
			Help: "Reminder triggers that elapsed and were handed to the notifier.",
		}, []string{"kind"})),
		sendFailures: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "send_failures_total",
			Help: "Reminder deliveries that failed after retries.",
		}, []string{"kind"})),
		rejections: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "builder", Name: "rejected_inputs_total",
			Help: "Lines the reminder builder rejected, by state.",
		}, []string{"state"})),
		sessionsStarted: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "builder", Name: "sessions_started_total",
			Help: "Builder sessions opened, by flow.",
		}, []string{"flow"})),
		sessionsFinished: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "builder", Name: "sessions_completed_total",
			Help: "Builder sessions that produced an active reminder, by flow.",
		}, []string{"flow"})),
		updates: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "updates_total",
			Help: "Incoming chat updates, by route.",
		}, []string{"route"})),
		handleDuration: register(r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "router", Name: "handle_duration_seconds",
			Help:    "Time spent handling one update.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"})),
		notifications: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifier", Name: "notifications_total",
			Help: "Outbound notifications, by channel and outcome.",
		}, []string{"channel", "outcome"})),
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// registrar keeps the first registration error.
type registrar struct {
	reg prometheus.Registerer
	err error
}

// register adds c to the registry, reusing an identical collector registered earlier.
func register[T prometheus.Collector](r *registrar, c T) T {
	err := r.reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	if r.err == nil {
		r.err = fmt.Errorf("register metric: %w", err)
	}
	return c
}

func (m *Metrics) TaskStarted(kind string) {
	if m != nil {
		m.tasksActive.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) TaskStopped(kind string) {
	if m != nil {
		m.tasksActive.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) ReminderFired(kind string, err error) {
	if m == nil {
		return
	}
	m.remindersFired.WithLabelValues(kind).Inc()
	if err != nil {
		m.sendFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) InputRejected(state string) {
	if m != nil {
		m.rejections.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) SessionStarted(flow string) {
	if m != nil {
		m.sessionsStarted.WithLabelValues(flow).Inc()
	}
}

func (m *Metrics) SessionCompleted(flow string) {
	if m != nil {
		m.sessionsFinished.WithLabelValues(flow).Inc()
	}
}

func (m *Metrics) UpdateHandled(route string, took time.Duration) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(route).Inc()
	m.handleDuration.WithLabelValues(route).Observe(took.Seconds())
}

// Notification outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeDeduped = "deduped"
	OutcomeFailed  = "failed"
)

func (m *Metrics) Notification(channel, outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(channel, outcome).Inc()
	}
}
