package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/keymarket-backend/pkg/config"
	"github.com/angelmondragon/keymarket-backend/pkg/db/models"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/metrics"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox/registry"
)

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		orderEvent(t, enums.EventOrderCreated, 0),
		orderEvent(t, enums.EventOrderCompleted, 0),
	}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, pub, resolvingRegistry("orders-topic"), dlq, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, []uuid.UUID{repo.events[0].ID}, repo.failed)
	require.Equal(t, []uuid.UUID{repo.events[1].ID}, repo.published)
	require.Empty(t, dlq.entries)
	require.Len(t, pub.messages, 2)
	require.Equal(t, string(enums.EventOrderCreated), pub.messages[0].Attributes["event_type"])
	require.Equal(t, repo.events[1].AggregateID.String(), pub.messages[1].Attributes["aggregate_id"])
}

func TestProcessBatchReportsIdleWhenEmpty(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, resolvingRegistry("orders-topic"), &fakeDLQRepo{}, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestProcessBatchDeadLettersUndecodableRows(t *testing.T) {
	event := orderEvent(t, enums.EventOrderCreated, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, &fakePublisher{}, reg, dlq, nil)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	require.Equal(t, event.ID, entry.EventID)
	require.True(t, bytes.Equal(entry.Payload, event.Payload))
	require.Equal(t, enums.OutboxDLQReasonDecodeFailed, entry.ErrorReason)
	require.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchDeadLettersMissingPublisher(t *testing.T) {
	event := orderEvent(t, enums.EventDisputeOpened, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, nil, resolvingRegistry("notification-topic"), dlq, nil)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
}

func TestProcessBatchDeadLettersOnMaxAttempts(t *testing.T) {
	event := orderEvent(t, enums.EventOrderRefunded, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	dlq := &fakeDLQRepo{}
	reg := prometheus.NewRegistry()
	svc := newTestService(t, repo, pub, resolvingRegistry("orders-topic"), dlq, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})
	svc.metrics = metrics.NewOutboxMetrics(reg)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	require.Empty(t, repo.failed)
	count, err := testutil.GatherAndCount(reg, "keymarket_outbox_deliveries_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPublisherIsCachedPerTopic(t *testing.T) {
	created := 0
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{}}}
	repo := &fakeRepo{events: []models.OutboxEvent{
		orderEvent(t, enums.EventOrderCreated, 0),
		orderEvent(t, enums.EventOrderExpired, 0),
	}}
	svc := newTestService(t, repo, pub, resolvingRegistry("orders-topic"), &fakeDLQRepo{}, nil)
	svc.newPublisher = func(string) publisher {
		created++
		return pub
	}

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, created)
	require.Len(t, repo.published, 2)

	svc.stopPublishers()
	require.True(t, pub.stopped)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, resolvingRegistry("orders-topic"), &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, svc.Run(ctx), context.Canceled)
}

func TestNextBackoffCaps(t *testing.T) {
	require.Equal(t, 200*time.Millisecond, nextBackoff(0, 100*time.Millisecond, time.Second))
	require.Equal(t, time.Second, nextBackoff(800*time.Millisecond, 100*time.Millisecond, time.Second))
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, reg registryResolver, dlq dlqRepository, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	svc, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:            &fakeDB{},
		PubSub:        &fakePubSubClient{},
		Repository:    repo,
		Registry:      reg,
		DLQRepository: dlq,
		PublisherFactory: func(string) publisher {
			if pub == nil {
				return nil
			}
			return pub
		},
	})
	require.NoError(t, err)
	return svc
}

func orderEvent(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	aggregateID := uuid.New()
	env, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   aggregateID,
		Payload:       env,
		AttemptCount:  attempts,
	}
}

func resolvingRegistry(topic string) *fakeRegistry {
	return &fakeRegistry{topic: topic}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
	stopped  bool
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

func (f *fakePublisher) Stop() { f.stopped = true }

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type fakeRegistry struct {
	topic string
	err   error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topic:         f.topic,
		},
		Envelope: env,
		Payload:  &payloads.OrderCreatedEvent{},
	}, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
