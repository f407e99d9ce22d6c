package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersAndReuse(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	m.ReminderFired("birthday", nil)
	m.ReminderFired("birthday", errors.New("down"))
	m.TaskStarted("simple")
	m.UpdateHandled("command", 10*time.Millisecond)
	m.Notification("reminder", OutcomeDeduped)

	require.Equal(t, 2.0, testutil.ToFloat64(m.remindersFired.WithLabelValues("birthday")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sendFailures.WithLabelValues("birthday")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.tasksActive.WithLabelValues("simple")))

	// A second instance on the same registry shares the collectors.
	again := MustNewMetrics(reg)
	again.TaskStopped("simple")
	require.Equal(t, 0.0, testutil.ToFloat64(m.tasksActive.WithLabelValues("simple")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.TaskStarted("x")
	m.ReminderFired("x", nil)
	m.InputRejected("s")
	m.SessionStarted("f")
	m.SessionCompleted("f")
	m.UpdateHandled("r", time.Second)
	m.Notification("c", OutcomeSent)
}
