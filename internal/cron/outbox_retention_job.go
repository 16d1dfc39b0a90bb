package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultExhaustedAfter  = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type deliveredEventPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configure outbox housekeeping. A nil DeadLetters
// leaves the DLQ untouched.
type OutboxRetentionJobParams struct {
	Logger         *logger.Logger
	DB             txRunner
	Events         deliveredEventPruner
	DeadLetters    deadLetterPruner
	Retention      time.Duration
	DLQRetention   time.Duration
	ExhaustedAfter int
	Clock          func() time.Time
}

// NewOutboxRetentionJob prunes delivered or exhausted outbox rows and old
// dead letters so the publisher's scan stays small.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Events == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:           params.Logger,
		db:             params.DB,
		events:         params.Events,
		deadLetters:    params.DeadLetters,
		retention:      params.Retention,
		dlqRetention:   params.DLQRetention,
		exhaustedAfter: params.ExhaustedAfter,
		now:            params.Clock,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.dlqRetention <= 0 {
		job.dlqRetention = defaultDLQRetention
	}
	if job.exhaustedAfter <= 0 {
		job.exhaustedAfter = defaultExhaustedAfter
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg           *logger.Logger
	db             txRunner
	events         deliveredEventPruner
	deadLetters    deadLetterPruner
	retention      time.Duration
	dlqRetention   time.Duration
	exhaustedAfter int
	now            func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) (int64, error) {
	now := j.now().UTC()
	eventCutoff := now.Add(-j.retention)
	dlqCutoff := now.Add(-j.dlqRetention)

	var events, letters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if events, err = j.events.DeletePublishedBefore(ctx, tx, eventCutoff, j.exhaustedAfter); err != nil {
			return fmt.Errorf("prune outbox events: %w", err)
		}
		if j.deadLetters == nil {
			return nil
		}
		if letters, err = j.deadLetters.DeleteFailedBefore(ctx, tx, dlqCutoff); err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if events+letters > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"event_cutoff":   eventCutoff,
			"dlq_cutoff":     dlqCutoff,
			"events_pruned":  events,
			"letters_pruned": letters,
		}), "outbox pruned")
	}
	return events + letters, nil
}
