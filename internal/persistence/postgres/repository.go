package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/events"
	"example.com/fittrack/internal/observability"
)

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for activities, progress and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const activityColumns = `activity_id, tenant_id, user_id, activity_type, title, distance_km, duration_min, duration_estimated,
        activity_date, source, external_id, calories_estimate, points_earned, speed_kmh, pace_min_per_km, created_at`

// inTenantTx runs fn inside a transaction scoped to the tenant's row-level security context.
func (r *Repository) inTenantTx(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindByIdempotency checks if an activity already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.Activity, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND user_id=$2 AND idempotency_key=$3`

	var found *domain.Activity
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		a, err := scanActivity(tx.QueryRow(ctx, query, tenantID, userID, idempotencyKey))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = &a
		return nil
	})
	return found, err
}

// Get retrieves an activity by ID.
func (r *Repository) Get(ctx context.Context, tenantID, activityID string) (*domain.Activity, error) {
	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND activity_id::text=$2`

	var found *domain.Activity
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		a, err := scanActivity(tx.QueryRow(ctx, query, tenantID, activityID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = &a
		return nil
	})
	return found, err
}

// ListByUser returns activities for a user, newest activity date first.
func (r *Repository) ListByUser(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{tenantID, userID, limit}
	query := `SELECT ` + activityColumns + `
        FROM activities WHERE tenant_id=$1 AND user_id=$2`

	if cursor != nil {
		query += ` AND (activity_date, created_at, activity_id) < ($4, $5, $6::uuid)`
		args = append(args, cursor.Date, cursor.CreatedAt, cursor.ID)
	}

	query += ` ORDER BY activity_date DESC, created_at DESC, activity_id DESC LIMIT $3`

	results := make([]domain.Activity, 0, limit)
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanActivity(rows)
			if err != nil {
				return err
			}
			results = append(results, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{Date: last.Date, CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// Calendar aggregates a user's activities per day between from and to inclusive.
func (r *Repository) Calendar(ctx context.Context, tenantID, userID string, from, to time.Time) ([]domain.CalendarDay, error) {
	const query = `SELECT activity_date, COUNT(*), COALESCE(SUM(points_earned), 0), COALESCE(SUM(distance_km), 0), COALESCE(SUM(duration_min), 0)
        FROM activities
        WHERE tenant_id=$1 AND user_id=$2 AND activity_date BETWEEN $3 AND $4
        GROUP BY activity_date
        ORDER BY activity_date`

	days := make([]domain.CalendarDay, 0)
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, userID, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d domain.CalendarDay
			if err := rows.Scan(&d.Date, &d.Activities, &d.Points, &d.DistanceKm, &d.DurationMinutes); err != nil {
				return err
			}
			d.Date = domain.Day(d.Date)
			days = append(days, d)
		}
		return rows.Err()
	})
	return days, err
}

// GetUserProgress returns the stored progress, or zero-valued progress for users without history.
func (r *Repository) GetUserProgress(ctx context.Context, tenantID, userID string) (domain.UserProgress, error) {
	const query = `SELECT points, streak, longest_streak, last_activity_date, updated_at
        FROM user_progress WHERE tenant_id=$1 AND user_id=$2`

	progress := domain.UserProgress{TenantID: tenantID, UserID: userID}
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		err := scanProgress(tx.QueryRow(ctx, query, tenantID, userID), &progress)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	})
	return progress, err
}

// UpdateProgress locks the user's progress row for the lifetime of fn. The
// row is created on first use so concurrent first writers still serialise.
func (r *Repository) UpdateProgress(ctx context.Context, tenantID, userID string, fn func(ctx context.Context, tx domain.ProgressTx) error) error {
	var inserted []domain.Activity
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_progress (tenant_id, user_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			tenantID, userID,
		); err != nil {
			return err
		}

		progress := domain.UserProgress{TenantID: tenantID, UserID: userID}
		row := tx.QueryRow(ctx,
			`SELECT points, streak, longest_streak, last_activity_date, updated_at
             FROM user_progress WHERE tenant_id=$1 AND user_id=$2 FOR UPDATE`,
			tenantID, userID,
		)
		if err := scanProgress(row, &progress); err != nil {
			return err
		}

		ptx := &progressTx{tx: tx, tenantID: tenantID, userID: userID, progress: progress}
		if err := fn(ctx, ptx); err != nil {
			return err
		}
		inserted = ptx.inserted
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "activities_idempotency_idx" {
			return domain.ErrIdempotencyConflict
		}
		return err
	}
	for _, a := range inserted {
		observability.RecordActivityPersisted(a.CreatedAt)
	}
	return nil
}

type progressTx struct {
	tx       pgx.Tx
	tenantID string
	userID   string
	progress domain.UserProgress
	inserted []domain.Activity
}

func (t *progressTx) Progress() domain.UserProgress {
	return t.progress
}

func (t *progressTx) HasExternalID(ctx context.Context, source, externalID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM activities WHERE tenant_id=$1 AND user_id=$2 AND source=$3 AND external_id=$4)`,
		t.tenantID, t.userID, source, externalID,
	).Scan(&exists)
	return exists, err
}

func (t *progressTx) ActivitiesOn(ctx context.Context, day time.Time) ([]domain.Activity, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE tenant_id=$1 AND user_id=$2 AND activity_date=$3`,
		t.tenantID, t.userID, domain.Day(day),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *progressTx) InsertActivity(ctx context.Context, a domain.Activity, idempotencyKey string) error {
	const stmt = `INSERT INTO activities (activity_id, tenant_id, user_id, activity_type, title, distance_km, duration_min, duration_estimated,
        activity_date, source, external_id, calories_estimate, points_earned, speed_kmh, pace_min_per_km, idempotency_key, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	if _, err := t.tx.Exec(ctx, stmt,
		a.ID,
		a.TenantID,
		a.UserID,
		string(a.ActivityType),
		a.Title,
		a.DistanceKm,
		a.DurationMinutes,
		a.DurationEstimated,
		a.Date,
		a.Source,
		nullIfEmpty(a.ExternalID),
		a.CaloriesEstimate,
		a.PointsEarned,
		a.SpeedKmh,
		a.PaceMinPerKm,
		nullIfEmpty(idempotencyKey),
		a.CreatedAt,
	); err != nil {
		return err
	}

	if err := insertOutbox(ctx, t.tx, t.tenantID, "activity", a.ID, events.TypeActivityLogged, partitionKey(t.tenantID, t.userID), a.ID+":"+events.TypeActivityLogged, events.ActivityLogged{
		ActivityID:       a.ID,
		TenantID:         a.TenantID,
		UserID:           a.UserID,
		ActivityType:     string(a.ActivityType),
		ActivityDate:     domain.FormatDate(a.Date),
		DistanceKm:       a.DistanceKm,
		DurationMinutes:  a.DurationMinutes,
		CaloriesEstimate: a.CaloriesEstimate,
		PointsEarned:     a.PointsEarned,
		Source:           a.Source,
		ExternalID:       a.ExternalID,
		LoggedAt:         a.CreatedAt,
	}); err != nil {
		return err
	}
	t.inserted = append(t.inserted, a)
	return nil
}

func (t *progressTx) SaveProgress(ctx context.Context, p domain.UserProgress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	if _, err := t.tx.Exec(ctx,
		`UPDATE user_progress
            SET points=$3, streak=$4, longest_streak=$5, last_activity_date=$6, updated_at=$7
          WHERE tenant_id=$1 AND user_id=$2`,
		t.tenantID, t.userID, p.Points, p.Streak, p.LongestStreak, p.LastActivityDate, p.UpdatedAt,
	); err != nil {
		return err
	}

	var lastDate string
	if p.LastActivityDate != nil {
		lastDate = domain.FormatDate(*p.LastActivityDate)
	}
	if err := insertOutbox(ctx, t.tx, t.tenantID, "user_progress", t.userID, events.TypeProgressUpdated, partitionKey(t.tenantID, t.userID), "", events.ProgressUpdated{
		TenantID:         t.tenantID,
		UserID:           t.userID,
		Points:           p.Points,
		Streak:           p.Streak,
		LongestStreak:    p.LongestStreak,
		LastActivityDate: lastDate,
		OccurredAt:       p.UpdatedAt,
	}); err != nil {
		return err
	}

	p.TenantID, p.UserID = t.tenantID, t.userID
	t.progress = p
	return nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, tenantID, aggregateType, aggregateID, eventType, partitionKey, dedupeKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		tenantID,
		aggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		nullIfEmpty(dedupeKey),
	)
	return err
}

// partitionKey keeps every event for a user on one partition so consumers see them in commit order.
func partitionKey(tenantID, userID string) string {
	return fmt.Sprintf("%s:%s", tenantID, userID)
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		a          domain.Activity
		kind       string
		externalID *string
	)
	if err := row.Scan(
		&a.ID, &a.TenantID, &a.UserID, &kind, &a.Title, &a.DistanceKm, &a.DurationMinutes, &a.DurationEstimated,
		&a.Date, &a.Source, &externalID, &a.CaloriesEstimate, &a.PointsEarned, &a.SpeedKmh, &a.PaceMinPerKm, &a.CreatedAt,
	); err != nil {
		return domain.Activity{}, err
	}
	a.ActivityType = domain.ActivityType(kind)
	a.Date = domain.Day(a.Date)
	if externalID != nil {
		a.ExternalID = *externalID
	}
	return a, nil
}

func scanProgress(row pgx.Row, p *domain.UserProgress) error {
	var last *time.Time
	if err := row.Scan(&p.Points, &p.Streak, &p.LongestStreak, &last, &p.UpdatedAt); err != nil {
		return err
	}
	if last != nil {
		day := domain.Day(*last)
		p.LastActivityDate = &day
	}
	return nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeActivityLogged: {
		Topic:         "activity_events",
		SchemaSubject: "activity_events-value",
	},
	events.TypeProgressUpdated: {
		Topic:         "progress_events",
		SchemaSubject: "progress_events-value",
	},
}
