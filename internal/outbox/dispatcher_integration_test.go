//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/events"
	"example.com/fittrack/internal/persistence/postgres"
)

func logActivities(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID, userID string, dates ...string) {
	t.Helper()

	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := domain.NewService(postgres.NewRepository(pool),
		domain.WithNow(func() time.Time { return now }),
		domain.WithValidator(domain.NewValidator(domain.WithClock(func() time.Time { return now }))),
	)
	for _, date := range dates {
		res, err := svc.LogActivity(ctx, domain.LogActivityInput{
			TenantID:  tenantID,
			UserID:    userID,
			Candidate: domain.Candidate{ActivityType: "run", DistanceKm: 5, DurationMinutes: 30, Date: date},
		})
		require.NoError(t, err)
		require.True(t, res.Accepted())
	}
}

func TestDispatcherPublishesServiceEventsPerTopic(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID, userID := uuid.NewString(), uuid.NewString()
	logActivities(t, ctx, pool, tenantID, userID, "2026-05-08", "2026-05-09")

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 10)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 2)
	require.Equal(t, "activity_events", producer.writes[0].topic)
	require.Equal(t, "progress_events", producer.writes[1].topic)
	require.Len(t, registry.calls, 2, "one registry lookup per subject")

	for _, batch := range producer.writes {
		require.Len(t, batch.messages, 2)
		var lastID int64
		for _, msg := range batch.messages {
			require.Equal(t, []byte(tenantID+":"+userID), msg.Key)
			require.Equal(t, tenantID, headerValue(msg, HeaderTenantID))
			require.Equal(t, batch.topic+"-value", headerValue(msg, HeaderSchemaSubject))

			id, err := strconv.ParseInt(headerValue(msg, HeaderEventID), 10, 64)
			require.NoError(t, err)
			require.Greater(t, id, lastID, "outbox order is kept within a topic")
			lastID = id
		}
	}

	var progress events.ProgressUpdated
	require.NoError(t, json.Unmarshal(producer.writes[1].messages[1].Value[5:], &progress))
	require.Equal(t, 2, progress.Streak)
	require.Equal(t, 70, progress.Points)

	require.InDelta(t, beforeDelivered+4, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE tenant_id = $1 AND published_at IS NULL`, tenantID).Scan(&pending))
	require.Zero(t, pending)

	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 2, "published rows are not claimed again")
}

func TestDispatcherRoutesFailedBatchToDLQ(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID := uuid.NewString()
	eventID := seedOutbox(t, ctx, pool, tenantID, events.TypeProgressUpdated, "progress_events")

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 7}, 10*time.Millisecond, 5)

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues("progress_events"))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues("progress_events")), 0.0001)

	var (
		reason, subject, key string
		retries              int
	)
	err := pool.QueryRow(ctx,
		`SELECT reason, schema_subject, partition_key, retry_count FROM outbox_dlq WHERE event_id = $1`, eventID,
	).Scan(&reason, &subject, &key, &retries)
	require.NoError(t, err)
	require.Contains(t, reason, "kafka write failed")
	require.Contains(t, reason, "(topic=progress_events)")
	require.Equal(t, "progress_events-value", subject)
	require.Contains(t, key, tenantID+":")
	require.Zero(t, retries)

	var publishedAt *time.Time
	require.NoError(t, pool.QueryRow(ctx, `SELECT published_at FROM outbox WHERE event_id = $1`, eventID).Scan(&publishedAt))
	require.NotNil(t, publishedAt, "dead-lettered rows leave the outbox")
}

func TestDispatcherUnknownEventTypeGoesToDLQ(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), "activity.deleted", "activity_events")

	producer := &stubProducer{}
	registry := &stubRegistry{id: 99}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Empty(t, producer.writes)
	require.Empty(t, registry.calls)

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&reason))
	require.Contains(t, reason, "no schema metadata for event_type=activity.deleted")
}

func TestDLQManagerQuarantinesAndBacksOff(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID := uuid.NewString()
	insert := func(subject string, retries int) int64 {
		var id int64
		err := pool.QueryRow(ctx,
			`INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at)
             VALUES ($1, 1, $2, 'progress_events', '{}'::jsonb, 'broker down', 'user', 'u1', $3, $4, $5, NOW())
             RETURNING dlq_id`,
			tenantID, events.TypeProgressUpdated, subject, tenantID+":u1", retries,
		).Scan(&id)
		require.NoError(t, err)
		return id
	}
	exhausted := insert("progress_events-value", 3)
	broken := insert("", 0)

	quarantinedBefore := testutil.ToFloat64(dlqOutcomes.WithLabelValues("progress_events", events.TypeProgressUpdated, dlqOutcomeQuarantined))
	rescheduledBefore := testutil.ToFloat64(dlqOutcomes.WithLabelValues("progress_events", events.TypeProgressUpdated, dlqOutcomeRescheduled))

	requeued, err := NewDLQManager(pool, 3, time.Minute).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, requeued, "entries without a subject are rescheduled, not requeued")

	require.InDelta(t, quarantinedBefore+1, testutil.ToFloat64(dlqOutcomes.WithLabelValues("progress_events", events.TypeProgressUpdated, dlqOutcomeQuarantined)), 0.0001)
	require.InDelta(t, rescheduledBefore+1, testutil.ToFloat64(dlqOutcomes.WithLabelValues("progress_events", events.TypeProgressUpdated, dlqOutcomeRescheduled)), 0.0001)
	require.InDelta(t, 1, testutil.ToFloat64(dlqBacklog.WithLabelValues("quarantined")), 0.0001)

	var quarantineReason *string
	require.NoError(t, pool.QueryRow(ctx, `SELECT quarantine_reason FROM outbox_dlq WHERE dlq_id = $1`, exhausted).Scan(&quarantineReason))
	require.NotNil(t, quarantineReason)
	require.Equal(t, "retry limit reached", *quarantineReason)

	var (
		retries int
		due     bool
	)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT retry_count, next_retry_at > NOW() FROM outbox_dlq WHERE dlq_id = $1`, broken,
	).Scan(&retries, &due))
	require.Equal(t, 1, retries)
	require.True(t, due, "the retry is pushed into the future")

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE tenant_id = $1`, tenantID).Scan(&outboxRows))
	require.Zero(t, outboxRows)
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("fittrack"),
		postgrescontainer.WithUsername("fittrack"),
		postgrescontainer.WithPassword("fittrack"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID, eventType, topic string) int64 {
	t.Helper()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID)
	require.NoError(t, err)

	userID := uuid.NewString()
	payload, err := json.Marshal(events.ProgressUpdated{TenantID: tenantID, UserID: userID, Points: 42, Streak: 1})
	require.NoError(t, err)

	var eventID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,'user',$2,$3,$4,$5,$6,$7)
         RETURNING event_id`,
		tenantID, userID, eventType, topic, topic+"-value", tenantID+":"+userID, payload,
	).Scan(&eventID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return eventID
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	migrationsDir := resolvePath(t, "../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "expected at least one migration .up.sql file")

	sort.Strings(files)

	for _, file := range files {
		contents, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)

		if _, execErr := pool.Exec(ctx, string(contents)); execErr != nil {
			require.NoErrorf(t, execErr, "execute migration %s", file)
		}
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
