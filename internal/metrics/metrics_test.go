package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEventIngested(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.EventIngested("Stop", "demo")
	m.EventIngested("Stop", "demo")
	m.EventIngested("UserPromptSubmit", "demo")

	if got := testutil.ToFloat64(m.EventCounter.WithLabelValues("Stop", "demo")); got != 2 {
		t.Fatalf("Stop counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EventCounter.WithLabelValues("UserPromptSubmit", "demo")); got != 1 {
		t.Fatalf("UserPromptSubmit counter = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.SetActiveTransactions(3)
	if got := testutil.ToFloat64(m.ActiveTransactions); got != 3 {
		t.Fatalf("ActiveTransactions = %v", got)
	}

	m.SetAudioQueueDepth(2)
	if got := testutil.ToFloat64(m.AudioQueueDepth); got != 2 {
		t.Fatalf("AudioQueueDepth = %v", got)
	}
}

func TestNotificationAndSummaryCounters(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.NotificationDispatched("discord", "ok")
	m.NotificationDispatched("discord", "error")
	m.SummaryGenerated("fallback")

	if got := testutil.ToFloat64(m.NotificationCounter.WithLabelValues("discord", "ok")); got != 1 {
		t.Fatalf("discord ok = %v", got)
	}
	if got := testutil.ToFloat64(m.SummaryCounter.WithLabelValues("fallback")); got != 1 {
		t.Fatalf("fallback summaries = %v", got)
	}
}

func TestObserveHTTPRequest(t *testing.T) {
	m := newMetrics(prometheus.NewRegistry())

	m.ObserveHTTPRequest("POST", "/events", 200, 5*time.Millisecond)
	m.ObserveHTTPRequest("POST", "/events", 200, 7*time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/events", "200")); got != 2 {
		t.Fatalf("request counter = %v, want 2", got)
	}
}
