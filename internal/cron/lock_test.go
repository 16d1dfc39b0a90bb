package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLockStore struct {
	values map[string]string
	err    error
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeLockStore) DelIfValue(_ context.Context, key, value string) (bool, error) {
	if f.values[key] != value {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func TestRedisLockIsExclusiveAcrossWorkers(t *testing.T) {
	store := &fakeLockStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "km:lock:sweeper", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	second, err := NewRedisLock(store, "km:lock:sweeper", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx := context.Background()

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatalf("second worker acquired a held lock")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release without ownership: %v", err)
	}
	if _, ok := store.values["km:lock:sweeper"]; !ok {
		t.Fatalf("non-owner released the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatalf("expected lock to be free after release")
	}
}

func TestRedisLockLeavesTakenOverKey(t *testing.T) {
	store := &fakeLockStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "km:lock:sweeper", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatalf("acquire failed")
	}
	store.values["km:lock:sweeper"] = "other-worker"

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["km:lock:sweeper"] != "other-worker" {
		t.Fatalf("released a lock owned by another worker")
	}
}

func TestRedisLockErrors(t *testing.T) {
	if _, err := NewRedisLock(nil, "key", time.Minute); err == nil {
		t.Fatalf("expected nil client error")
	}
	if _, err := NewRedisLock(&fakeLockStore{}, "", time.Minute); err == nil {
		t.Fatalf("expected empty key error")
	}
	lock, err := NewRedisLock(&fakeLockStore{values: map[string]string{}, err: errors.New("conn refused")}, "key", 0)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := lock.Acquire(context.Background()); err == nil {
		t.Fatalf("expected acquire error")
	}
}
