package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordRunLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.RunStarted()
	m.StreamBytes("stdout", 512)
	m.StreamBytes("stdout", 0)
	m.DisplayPush("partial", "ok")
	m.Delivery("markdown", "ok")
	m.RunFinished("completed", 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runsActive))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.streamBytes.WithLabelValues("stdout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.displayPushes.WithLabelValues("partial", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestMustNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	second.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.runsStarted))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("failed", time.Second)
		m.StreamBytes("stderr", 3)
		m.DisplayPush("block", "rate_limited")
		m.Delivery("plain", "error")
	})
}

func TestDisabledTracingIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{})
	require.NoError(t, err)
	_, span := tp.Tracer().Start(context.Background(), "relay.run")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))

	_, err = NewTracerProvider(TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestRunAttributes(t *testing.T) {
	attrs := RunAttributes("run-1", 42, 0, "/p")
	assert.Len(t, attrs, 3)
	assert.Len(t, RunAttributes("run-1", 42, 7, "/p"), 4)
}
