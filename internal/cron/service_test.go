package cron

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.released++
	return nil
}

type testJob struct {
	name     string
	affected int64
	err      error
	runs     int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) (int64, error) {
	t.runs++
	return t.affected, t.err
}

func newTestService(t *testing.T, lock Lock, reg prometheus.Registerer, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "sweeper-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "order-expiry", affected: 3}
	bad := &testJob{name: "license-expiry", err: errors.New("boom")}
	last := &testJob{name: "review-window"}
	lock := &fakeLock{}
	reg := prometheus.NewRegistry()
	service := newTestService(t, lock, reg, ok, bad, last)

	err := service.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "license-expiry: boom") {
		t.Fatalf("expected combined job error, got %v", err)
	}
	for _, job := range []*testJob{ok, bad, last} {
		if job.runs != 1 {
			t.Fatalf("expected %s to run once, ran %d", job.name, job.runs)
		}
	}
	if lock.held || lock.released != 1 {
		t.Fatalf("expected lock released once")
	}

	expected := `
# HELP keymarket_job_rows_affected_total Rows transitioned by sweeper jobs.
# TYPE keymarket_job_rows_affected_total counter
keymarket_job_rows_affected_total{job="order-expiry"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "keymarket_job_rows_affected_total"); err != nil {
		t.Fatalf("affected metric: %v", err)
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "order-expiry"}
	lock := &fakeLock{held: true}
	service := newTestService(t, lock, nil, job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job ran without the lock")
	}
	if lock.released != 0 {
		t.Fatalf("released a lock it never held")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "order-expiry"}
	service := newTestService(t, &fakeLock{}, nil, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: &fakeLock{}}); err == nil {
		t.Fatalf("expected logger error")
	}
	if _, err := NewService(ServiceParams{Logger: logger.New(logger.Options{Output: io.Discard})}); err == nil {
		t.Fatalf("expected lock error")
	}
}
