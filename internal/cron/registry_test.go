package cron

import (
	"context"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string                       { return s.name }
func (s *stubJob) Run(context.Context) (int64, error) { return 0, nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	jobA := &stubJob{name: "order-expiry"}
	jobB := &stubJob{name: "license-expiry"}
	registry, err := NewRegistry(jobA, nil, jobB)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
	names := registry.Names()
	if len(names) != 2 || names[0] != "order-expiry" || names[1] != "license-expiry" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	if _, err := NewRegistry(&stubJob{name: "review-window"}, &stubJob{name: "review-window"}); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	var registry Registry
	if err := registry.Register(nil); err == nil {
		t.Fatalf("expected nil job error")
	}
	if err := registry.Register(&stubJob{name: "a"}); err != nil {
		t.Fatalf("register on zero registry: %v", err)
	}
}
