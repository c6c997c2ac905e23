//go:build integration

package outbox

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/fittrack/internal/consumer"
	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/persistence/postgres"
)

func TestDLQReplayReachesFeedProjection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := domain.NewService(postgres.NewRepository(pool),
		domain.WithNow(func() time.Time { return now }),
		domain.WithValidator(domain.NewValidator(domain.WithClock(func() time.Time { return now }))),
	)
	tenantID, userID := uuid.NewString(), uuid.NewString()
	res, err := svc.LogActivity(ctx, domain.LogActivityInput{
		TenantID:  tenantID,
		UserID:    userID,
		Candidate: domain.Candidate{ActivityType: "run", DistanceKm: 10, DurationMinutes: 60, Date: "2026-05-10"},
	})
	require.NoError(t, err)
	require.True(t, res.Accepted())

	registry := &stubRegistry{id: 100}
	quiet := WithDispatcherLogger(log.New(io.Discard, "", 0))

	// The broker is unreachable at first, so both events land in the DLQ.
	failing := NewDispatcher(pool, &stubProducer{err: errors.New("upstream kafka unavailable")}, registry, 5*time.Millisecond, 10, quiet)
	require.NoError(t, failing.processBatch(ctx))

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE tenant_id = $1`, tenantID).Scan(&dlqCount))
	require.Equal(t, 2, dlqCount)

	manager := NewDLQManager(pool, 5, time.Second)
	replayed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, replayed)

	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE tenant_id = $1`, tenantID).Scan(&dlqCount))
	require.Zero(t, dlqCount)

	kc, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(
		kafka.TopicConfig{Topic: "activity_events", NumPartitions: 1, ReplicationFactor: 1},
		kafka.TopicConfig{Topic: "progress_events", NumPartitions: 1, ReplicationFactor: 1},
	))
	_ = conn.Close()

	producer := NewKafkaProducer(brokers, WithTopicAutoCreation(false), WithBatchTimeout(time.Millisecond))
	defer producer.Close()
	require.NoError(t, NewDispatcher(pool, producer, registry, 5*time.Millisecond, 10, quiet).processBatch(ctx))

	projector := consumer.NewFeedProjector(pool, log.New(io.Discard, "", 0))
	consumeCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()
	for _, topic := range []string{"activity_events", "progress_events"} {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        "feed-projector-" + uuid.NewString(),
			Topic:          topic,
			StartOffset:    kafka.FirstOffset,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		})
		t.Cleanup(func() { _ = reader.Close() })
		proc := consumer.NewProcessor(reader, projector, consumer.WithLogger(log.New(io.Discard, "", 0)))
		go func() { _ = proc.Run(consumeCtx) }()
	}

	require.Eventually(t, func() bool {
		var streak, total int
		err := pool.QueryRow(ctx,
			`SELECT streak, total_points FROM activity_feed WHERE activity_id = $1`, res.Activity.ID,
		).Scan(&streak, &total)
		return err == nil && streak == 1 && total == 70
	}, 60*time.Second, 500*time.Millisecond, "expected replayed events to be projected into activity_feed")
}
