//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/fittrack/internal/events"
)

func TestFeedProjectorActivityThenProgress(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	projector := NewFeedProjector(pool, nil)

	tenantID, userID, activityID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	logged := events.ActivityLogged{
		ActivityID: activityID, TenantID: tenantID, UserID: userID, ActivityType: "run",
		ActivityDate: "2026-05-10", PointsEarned: 70, Source: "manual", LoggedAt: time.Now().UTC(),
	}
	require.NoError(t, projector.Handle(ctx, message(t, events.TypeActivityLogged, logged)))
	require.NoError(t, projector.Handle(ctx, message(t, events.TypeActivityLogged, logged)), "replayed events are ignored")

	progress := events.ProgressUpdated{
		TenantID: tenantID, UserID: userID, Points: 70, Streak: 1, LongestStreak: 1,
		LastActivityDate: "2026-05-10", OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, projector.Handle(ctx, message(t, events.TypeProgressUpdated, progress)))

	streak, total := feedRow(t, ctx, pool, activityID)
	require.Equal(t, 1, streak)
	require.Equal(t, 70, total)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity_feed WHERE user_id = $1`, userID).Scan(&count))
	require.Equal(t, 1, count)
}

func TestFeedProjectorProgressBeforeActivity(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	projector := NewFeedProjector(pool, nil)

	tenantID, userID, activityID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	newer := events.ProgressUpdated{
		TenantID: tenantID, UserID: userID, Points: 112, Streak: 2, LongestStreak: 2,
		LastActivityDate: "2026-05-10", OccurredAt: time.Now().UTC(),
	}
	older := newer
	older.Points, older.Streak, older.LastActivityDate = 70, 1, "2026-05-09"

	require.NoError(t, projector.Handle(ctx, message(t, events.TypeProgressUpdated, newer)))
	require.NoError(t, projector.Handle(ctx, message(t, events.TypeProgressUpdated, older)))

	require.NoError(t, projector.Handle(ctx, message(t, events.TypeActivityLogged, events.ActivityLogged{
		ActivityID: activityID, TenantID: tenantID, UserID: userID, ActivityType: "workout",
		ActivityDate: "2026-05-10", PointsEarned: 42, Source: "manual", LoggedAt: time.Now().UTC(),
	})))

	streak, total := feedRow(t, ctx, pool, activityID)
	require.Equal(t, 2, streak)
	require.Equal(t, 112, total)
}

func message(t *testing.T, eventType string, payload interface{}) Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return Message{EventType: eventType, Topic: "test", Payload: body, Timestamp: time.Now().UTC()}
}

func feedRow(t *testing.T, ctx context.Context, pool *pgxpool.Pool, activityID string) (int, int) {
	t.Helper()
	var streak, total int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT streak, total_points FROM activity_feed WHERE activity_id = $1`, activityID,
	).Scan(&streak, &total))
	return streak, total
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("fittrack"),
		postgrescontainer.WithUsername("fittrack"),
		postgrescontainer.WithPassword("fittrack"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	files, err := filepath.Glob(filepath.Join(resolvePath(t, "../../db/postgres/migrations"), "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)
	for _, file := range files {
		content, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(content))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
	return pool
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

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}
