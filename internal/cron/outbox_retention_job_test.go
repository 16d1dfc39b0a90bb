package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

type pruneCall struct {
	cutoff   time.Time
	attempts int
}

type fakeEventPruner struct {
	calls []pruneCall
	rows  int64
	err   error
}

func (f *fakeEventPruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.calls = append(f.calls, pruneCall{cutoff: cutoff, attempts: minAttemptCount})
	return f.rows, f.err
}

type fakeLetterPruner struct {
	cutoffs []time.Time
	rows    int64
}

func (f *fakeLetterPruner) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.rows, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

var retentionNow = time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

func TestOutboxRetentionJobPrunesEventsAndDeadLetters(t *testing.T) {
	events := &fakeEventPruner{rows: 7}
	letters := &fakeLetterPruner{rows: 2}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:         logger.New(logger.Options{Output: io.Discard}),
		DB:             passthroughTx{},
		Events:         events,
		DeadLetters:    letters,
		Retention:      48 * time.Hour,
		DLQRetention:   240 * time.Hour,
		ExhaustedAfter: 4,
		Clock:          func() time.Time { return retentionNow },
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}

	affected, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if affected != 9 {
		t.Fatalf("expected 9 rows pruned, got %d", affected)
	}
	if len(events.calls) != 1 || !events.calls[0].cutoff.Equal(retentionNow.Add(-48*time.Hour)) || events.calls[0].attempts != 4 {
		t.Fatalf("unexpected event prune calls: %+v", events.calls)
	}
	if len(letters.cutoffs) != 1 || !letters.cutoffs[0].Equal(retentionNow.Add(-240*time.Hour)) {
		t.Fatalf("unexpected dlq cutoffs: %v", letters.cutoffs)
	}
}

func TestOutboxRetentionJobDefaults(t *testing.T) {
	events := &fakeEventPruner{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.New(logger.Options{Output: io.Discard}),
		DB:     passthroughTx{},
		Events: events,
		Clock:  func() time.Time { return retentionNow },
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	call := events.calls[0]
	if !call.cutoff.Equal(retentionNow.Add(-defaultOutboxRetention)) || call.attempts != defaultExhaustedAfter {
		t.Fatalf("unexpected defaults: %+v", call)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.New(logger.Options{Output: io.Discard}),
		DB:     passthroughTx{},
		Events: &fakeEventPruner{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOutboxRetentionJobRequiresRepository(t *testing.T) {
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.New(logger.Options{Output: io.Discard}),
		DB:     passthroughTx{},
	}); err == nil {
		t.Fatal("expected error without an outbox repository")
	}
}
