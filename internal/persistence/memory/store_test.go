package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fittrack/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2026, time.April, d, 0, 0, 0, 0, time.UTC)
}

func activity(id string, date time.Time, points int) domain.Activity {
	return domain.Activity{
		ID:           id,
		TenantID:     "t1",
		UserID:       "u1",
		ActivityType: domain.ActivityRun,
		DistanceKm:   5,
		Date:         date,
		Source:       domain.SourceManual,
		PointsEarned: points,
		CreatedAt:    date.Add(8 * time.Hour),
	}
}

func insert(t *testing.T, s *Store, a domain.Activity, key string) {
	t.Helper()
	err := s.UpdateProgress(context.Background(), a.TenantID, a.UserID, func(ctx context.Context, tx domain.ProgressTx) error {
		if err := tx.InsertActivity(ctx, a, key); err != nil {
			return err
		}
		return tx.SaveProgress(ctx, domain.AdvanceProgress(tx.Progress(), a.PointsEarned, a.Date))
	})
	require.NoError(t, err)
}

func TestUpdateProgressDiscardsWritesOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.UpdateProgress(ctx, "t1", "u1", func(ctx context.Context, tx domain.ProgressTx) error {
		require.NoError(t, tx.InsertActivity(ctx, activity("a1", day(1), 10), "k1"))
		require.NoError(t, tx.SaveProgress(ctx, domain.AdvanceProgress(tx.Progress(), 10, day(1))))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "t1", "a1")
	require.NoError(t, err)
	require.Nil(t, got)

	progress, err := s.GetUserProgress(ctx, "t1", "u1")
	require.NoError(t, err)
	require.Zero(t, progress.Points)
	require.Nil(t, progress.LastActivityDate)
}

func TestStagedActivitiesVisibleInsideTransaction(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.UpdateProgress(ctx, "t1", "u1", func(ctx context.Context, tx domain.ProgressTx) error {
		a := activity("a1", day(2), 10)
		a.Source, a.ExternalID = "strava", "99"
		require.NoError(t, tx.InsertActivity(ctx, a, ""))

		same, err := tx.ActivitiesOn(ctx, day(2))
		require.NoError(t, err)
		require.Len(t, same, 1)

		exists, err := tx.HasExternalID(ctx, "strava", "99")
		require.NoError(t, err)
		require.True(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestIdempotencyKeyConflict(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	insert(t, s, activity("a1", day(1), 10), "k1")

	err := s.UpdateProgress(ctx, "t1", "u1", func(ctx context.Context, tx domain.ProgressTx) error {
		return tx.InsertActivity(ctx, activity("a2", day(1), 10), "k1")
	})
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	found, err := s.FindByIdempotency(ctx, "t1", "u1", "k1")
	require.NoError(t, err)
	require.Equal(t, "a1", found.ID)
}

func TestListByUserPaginatesNewestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	insert(t, s, activity("a1", day(1), 10), "")
	insert(t, s, activity("a3", day(3), 10), "")
	insert(t, s, activity("a2", day(2), 10), "")

	page, next, err := s.ListByUser(ctx, "t1", "u1", nil, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a3", "a2"}, ids(page))
	require.NotNil(t, next)

	page, next, err = s.ListByUser(ctx, "t1", "u1", next, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a1"}, ids(page))
	require.Nil(t, next)

	other, _, err := s.ListByUser(ctx, "t2", "u1", nil, 10)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestCalendarAggregatesPerDay(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	insert(t, s, activity("a1", day(1), 10), "")
	insert(t, s, activity("a2", day(1), 5), "")
	insert(t, s, activity("a3", day(4), 7), "")
	insert(t, s, activity("a4", day(20), 7), "")

	days, err := s.Calendar(ctx, "t1", "u1", day(1), day(10))
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Equal(t, 2, days[0].Activities)
	require.Equal(t, 15, days[0].Points)
	require.InDelta(t, 10, days[0].DistanceKm, 1e-9)
	require.True(t, days[1].Date.Equal(day(4)))
}

func TestConcurrentUpdatesAreSerialised(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.UpdateProgress(ctx, "t1", "u1", func(ctx context.Context, tx domain.ProgressTx) error {
				return tx.SaveProgress(ctx, domain.AdvanceProgress(tx.Progress(), 3, day(5)))
			})
		}()
	}
	wg.Wait()

	progress, err := s.GetUserProgress(ctx, "t1", "u1")
	require.NoError(t, err)
	require.Equal(t, 150, progress.Points)
	require.Equal(t, 1, progress.Streak)
}

func TestConnections(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	conn, err := s.GetConnection(ctx, "t1", "u1", "strava")
	require.NoError(t, err)
	require.Nil(t, conn)

	require.ErrorIs(t, s.MarkSynced(ctx, "t1", "u1", "strava", time.Now()), domain.ErrConnectionNotFound)

	require.NoError(t, s.SaveConnection(ctx, domain.ProviderConnection{TenantID: "t1", UserID: "u1", Provider: "strava", AccessToken: "a"}))
	synced := day(3)
	require.NoError(t, s.MarkSynced(ctx, "t1", "u1", "strava", synced))

	require.NoError(t, s.SaveConnection(ctx, domain.ProviderConnection{TenantID: "t1", UserID: "u1", Provider: "strava", AccessToken: "b"}))
	conn, err = s.GetConnection(ctx, "t1", "u1", "strava")
	require.NoError(t, err)
	require.Equal(t, "b", conn.AccessToken)
	require.NotNil(t, conn.LastSyncedAt)
	require.True(t, conn.LastSyncedAt.Equal(synced))
}

func ids(activities []domain.Activity) []string {
	out := make([]string, len(activities))
	for i, a := range activities {
		out[i] = a.ID
	}
	return out
}
