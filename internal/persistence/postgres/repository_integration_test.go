//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/fittrack/internal/domain"
)

func TestRepositoryLogActivityWritesOutbox(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	repo := NewRepository(pool)

	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := domain.NewService(repo,
		domain.WithNow(func() time.Time { return now }),
		domain.WithValidator(domain.NewValidator(domain.WithClock(func() time.Time { return now }))),
	)

	tenantID, userID := uuid.NewString(), uuid.NewString()
	res, err := svc.LogActivity(ctx, domain.LogActivityInput{
		TenantID:       tenantID,
		UserID:         userID,
		Candidate:      domain.Candidate{ActivityType: "run", DistanceKm: 10, DurationMinutes: 60, Date: "2026-05-10"},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.True(t, res.Accepted())
	require.Equal(t, 70, res.Activity.PointsEarned)

	stored, err := repo.Get(ctx, tenantID, res.Activity.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 700, stored.CaloriesEstimate)
	require.True(t, stored.Date.Equal(time.Date(2026, time.May, 10, 0, 0, 0, 0, time.UTC)))

	other, err := repo.Get(ctx, uuid.NewString(), res.Activity.ID)
	require.NoError(t, err)
	require.Nil(t, other, "activities must not leak across tenants")

	replay, err := svc.LogActivity(ctx, domain.LogActivityInput{
		TenantID:       tenantID,
		UserID:         userID,
		Candidate:      domain.Candidate{ActivityType: "run", DistanceKm: 10, DurationMinutes: 60, Date: "2026-05-10"},
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	require.True(t, replay.Replay)
	require.Equal(t, res.Activity.ID, replay.Activity.ID)

	progress, err := repo.GetUserProgress(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, 70, progress.Points)
	require.Equal(t, 1, progress.Streak)

	var eventTypes []string
	rows, err := pool.Query(ctx, `SELECT event_type FROM outbox WHERE tenant_id=$1 ORDER BY event_id`, tenantID)
	require.NoError(t, err)
	for rows.Next() {
		var et string
		require.NoError(t, rows.Scan(&et))
		eventTypes = append(eventTypes, et)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"activity.logged", "progress.updated"}, eventTypes)
}

func TestRepositorySerialisesConcurrentCredits(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	repo := NewRepository(pool)

	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := domain.NewService(repo,
		domain.WithNow(func() time.Time { return now }),
		domain.WithValidator(domain.NewValidator(domain.WithClock(func() time.Time { return now }))),
	)

	tenantID, userID := uuid.NewString(), uuid.NewString()
	const writers = 8

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.LogActivity(ctx, domain.LogActivityInput{
				TenantID:  tenantID,
				UserID:    userID,
				Candidate: domain.Candidate{ActivityType: "workout", DurationMinutes: 60, Date: "2026-05-10"},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	progress, err := repo.GetUserProgress(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, writers*42, progress.Points)
	require.Equal(t, 1, progress.Streak)
}

func TestRepositoryListCalendarAndConnections(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t, ctx)
	repo := NewRepository(pool)

	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := domain.NewService(repo,
		domain.WithNow(func() time.Time { return now }),
		domain.WithValidator(domain.NewValidator(domain.WithClock(func() time.Time { return now }))),
	)

	tenantID, userID := uuid.NewString(), uuid.NewString()
	report, err := svc.ImportActivities(ctx, domain.ImportInput{
		TenantID: tenantID,
		UserID:   userID,
		Source:   "strava",
		Items: []domain.ImportItem{
			{ExternalID: "3", Candidate: domain.Candidate{ActivityType: "walk", DistanceKm: 4, DurationMinutes: 50, Date: "2026-05-09"}},
			{ExternalID: "1", Candidate: domain.Candidate{ActivityType: "run", DistanceKm: 5, DurationMinutes: 30, Date: "2026-05-07"}},
			{ExternalID: "2", Candidate: domain.Candidate{ActivityType: "run", DistanceKm: 8, DurationMinutes: 45, Date: "2026-05-08"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, report.Imported)
	require.Equal(t, 3, report.Progress.Streak)

	again, err := svc.ImportActivities(ctx, domain.ImportInput{
		TenantID: tenantID,
		UserID:   userID,
		Source:   "strava",
		Items:    []domain.ImportItem{{ExternalID: "2", Candidate: domain.Candidate{ActivityType: "run", DistanceKm: 8, DurationMinutes: 45, Date: "2026-05-08"}}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, again.Duplicates)

	page, next, err := repo.ListByUser(ctx, tenantID, userID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)
	require.Equal(t, "3", page[0].ExternalID)

	rest, next, err := repo.ListByUser(ctx, tenantID, userID, next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Nil(t, next)
	require.Equal(t, "1", rest[0].ExternalID)

	days, err := repo.Calendar(ctx, tenantID, userID,
		time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.May, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, days, 3)
	require.Equal(t, 1, days[0].Activities)
	require.Equal(t, 35, days[0].Points)

	require.NoError(t, repo.SaveConnection(ctx, domain.ProviderConnection{
		TenantID: tenantID, UserID: userID, Provider: "strava", AthleteID: "42", AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: now.Add(time.Hour),
	}))
	require.NoError(t, repo.MarkSynced(ctx, tenantID, userID, "strava", now))

	conn, err := repo.GetConnection(ctx, tenantID, userID, "strava")
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.Equal(t, "42", conn.AthleteID)
	require.NotNil(t, conn.LastSyncedAt)
	require.True(t, conn.LastSyncedAt.Equal(now))

	require.ErrorIs(t, repo.MarkSynced(ctx, tenantID, uuid.NewString(), "strava", now), domain.ErrConnectionNotFound)
}

func setupPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
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

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(resolvePath(t, "../../../db/postgres/migrations"), "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	for _, file := range files {
		contents, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(contents))
		require.NoErrorf(t, execErr, "execute migration %s", file)
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
