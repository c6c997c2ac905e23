package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fittrack/internal/events"
)

// FeedProjector maintains the activity_feed read model from activity and
// progress events. Both projections are idempotent and tolerate the two
// topics being consumed in any relative order.
type FeedProjector struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewFeedProjector constructs a projector backed by the provided pool.
func NewFeedProjector(pool *pgxpool.Pool, logger *log.Logger) *FeedProjector {
	if logger == nil {
		logger = log.New(log.Writer(), "[feed] ", log.LstdFlags)
	}
	return &FeedProjector{pool: pool, logger: logger}
}

// Handle routes a message to its projection. Unknown event types are ignored.
func (p *FeedProjector) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeActivityLogged:
		evt, err := decodeActivityLogged(msg.Payload)
		if err != nil {
			return err
		}
		return p.projectActivity(ctx, evt)
	case events.TypeProgressUpdated:
		evt, err := decodeProgressUpdated(msg.Payload)
		if err != nil {
			return err
		}
		return p.projectProgress(ctx, evt)
	default:
		p.logger.Printf("ignoring event_type=%s (topic=%s offset=%d)", msg.EventType, msg.Topic, msg.Offset)
		return nil
	}
}

func decodeActivityLogged(payload json.RawMessage) (events.ActivityLogged, error) {
	var evt events.ActivityLogged
	if err := json.Unmarshal(payload, &evt); err != nil {
		return evt, fmt.Errorf("%w: decode %s: %v", ErrPermanent, events.TypeActivityLogged, err)
	}
	if evt.ActivityID == "" || evt.TenantID == "" || evt.UserID == "" {
		return evt, fmt.Errorf("%w: %s missing identifiers", ErrPermanent, events.TypeActivityLogged)
	}
	if _, err := time.Parse("2006-01-02", evt.ActivityDate); err != nil {
		return evt, fmt.Errorf("%w: %s activity_date %q", ErrPermanent, events.TypeActivityLogged, evt.ActivityDate)
	}
	return evt, nil
}

func decodeProgressUpdated(payload json.RawMessage) (events.ProgressUpdated, error) {
	var evt events.ProgressUpdated
	if err := json.Unmarshal(payload, &evt); err != nil {
		return evt, fmt.Errorf("%w: decode %s: %v", ErrPermanent, events.TypeProgressUpdated, err)
	}
	if evt.TenantID == "" || evt.UserID == "" {
		return evt, fmt.Errorf("%w: %s missing identifiers", ErrPermanent, events.TypeProgressUpdated)
	}
	return evt, nil
}

// projectActivity inserts the feed entry, seeding streak and total points from
// the latest projected progress when it already covers the activity's day.
func (p *FeedProjector) projectActivity(ctx context.Context, evt events.ActivityLogged) error {
	const stmt = `INSERT INTO activity_feed (activity_id, tenant_id, user_id, activity_type, activity_date, points_earned, source, streak, total_points, logged_at)
        SELECT $1::uuid, $2, $3, $4, $5::date, $6, $7,
               COALESCE(fp.streak, 0), COALESCE(fp.points, 0), $8
          FROM (SELECT 1) seed
          LEFT JOIN feed_progress fp
            ON fp.tenant_id = $2 AND fp.user_id = $3 AND fp.last_activity_date = $5::date
        ON CONFLICT (activity_id) DO NOTHING`

	_, err := p.pool.Exec(ctx, stmt,
		evt.ActivityID, evt.TenantID, evt.UserID, evt.ActivityType, evt.ActivityDate,
		evt.PointsEarned, evt.Source, evt.LoggedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("project activity %s: %w", evt.ActivityID, err)
	}
	return nil
}

// projectProgress records the newest progress snapshot and stamps it onto the
// feed entries of the last active day. Points never decrease, so an older
// snapshot arriving late is discarded.
func (p *FeedProjector) projectProgress(ctx context.Context, evt events.ProgressUpdated) error {
	var lastDate *string
	if evt.LastActivityDate != "" {
		lastDate = &evt.LastActivityDate
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO feed_progress (tenant_id, user_id, points, streak, longest_streak, last_activity_date, occurred_at)
         VALUES ($1,$2,$3,$4,$5,$6::date,$7)
         ON CONFLICT (tenant_id, user_id) DO UPDATE
            SET points = EXCLUDED.points,
                streak = EXCLUDED.streak,
                longest_streak = EXCLUDED.longest_streak,
                last_activity_date = EXCLUDED.last_activity_date,
                occurred_at = EXCLUDED.occurred_at
          WHERE feed_progress.points < EXCLUDED.points`,
		evt.TenantID, evt.UserID, evt.Points, evt.Streak, evt.LongestStreak, lastDate, evt.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("project progress for %s: %w", evt.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if lastDate != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE activity_feed
                SET streak = $4, total_points = $5, projected_at = NOW()
              WHERE tenant_id = $1 AND user_id = $2 AND activity_date = $3::date AND total_points < $5`,
			evt.TenantID, evt.UserID, *lastDate, evt.Streak, evt.Points,
		); err != nil {
			return fmt.Errorf("stamp feed for %s: %w", evt.UserID, err)
		}
	}
	return tx.Commit(ctx)
}
