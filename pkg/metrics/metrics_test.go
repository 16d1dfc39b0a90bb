package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "order-expiry"
	m.ObserveDuration(job, 250*time.Millisecond)
	m.IncSuccess(job)
	m.IncFailure(job)
	m.AddAffected(job, 3)
	m.AddAffected(job, 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "keymarket_job_success_total", "job", job)
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	got, err = fetchCounterValue(mfs, "keymarket_job_failure_total", "job", job)
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	got, err = fetchCounterValue(mfs, "keymarket_job_rows_affected_total", "job", job)
	require.NoError(t, err)
	require.Equal(t, 3.0, got)

	sum, err := fetchHistogramSum(mfs, "keymarket_job_duration_seconds", "job", job)
	require.NoError(t, err)
	require.Greater(t, sum, 0.0)
}

func TestReconciliationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconciliationMetrics(reg)
	m.Observe("completed")
	m.Observe("completed")
	m.Observe("")
	m.IncUnfulfillable()
	m.IncAmountMismatch()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "keymarket_payment_events_total", "outcome", "completed")
	require.NoError(t, err)
	require.Equal(t, 2.0, got)

	got, err = fetchCounterValue(mfs, "keymarket_payment_events_total", "outcome", "unknown")
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	mf := findMetricFamily(mfs, "keymarket_payment_unfulfillable_total")
	require.NotNil(t, mf)
	require.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
}

func TestAllocatorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllocatorMetrics(reg)
	m.IncAssign(AssignResultAssigned)
	m.IncAssign(AssignResultOutOfStock)
	m.AddImported(5)
	m.AddExpired(2)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "keymarket_license_assignments_total", "result", AssignResultOutOfStock)
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	mf := findMetricFamily(mfs, "keymarket_license_keys_added_total")
	require.NotNil(t, mf)
	require.Equal(t, 5.0, mf.GetMetric()[0].GetCounter().GetValue())
}

func TestNilRegistererIsNoop(t *testing.T) {
	require.NotPanics(t, func() {
		NewCronJobMetrics(nil).IncSuccess("job")
		NewReconciliationMetrics(nil).IncUnfulfillable()
		NewAllocatorMetrics(nil).IncAssign(AssignResultAssigned)
		var nilMetrics *ReconciliationMetrics
		nilMetrics.Observe("completed")
	})
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}

func TestOutboxMetricsLabelsUnresolvedTopic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.Observe("", OutboxResultDeadLettered)
	m.Observe("orders", OutboxResultPublished)
	m.Observe("orders", OutboxResultPublished)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "keymarket_outbox_deliveries_total", "topic", "unresolved")
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	got, err = fetchCounterValue(mfs, "keymarket_outbox_deliveries_total", "topic", "orders")
	require.NoError(t, err)
	require.Equal(t, 2.0, got)

	var nilMetrics *OutboxMetrics
	nilMetrics.Observe("orders", OutboxResultRetry)
}

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.Observe("GET", "/api/orders/{id}", 200, 10*time.Millisecond)
	m.Observe("GET", "/api/orders/{id}", 200, 10*time.Millisecond)
	m.Observe("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "keymarket_http_requests_total", "route", "/api/orders/{id}")
	require.NoError(t, err)
	require.Equal(t, 2.0, got)

	got, err = fetchCounterValue(mfs, "keymarket_http_requests_total", "route", "unknown")
	require.NoError(t, err)
	require.Equal(t, 1.0, got)

	var nilMetrics *HTTPMetrics
	nilMetrics.Observe("GET", "/", 200, time.Millisecond)
}
