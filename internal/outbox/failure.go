package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter persists failed events so the DLQ manager can retry them.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write records failed outbox messages in the DLQ with the supplied reason.
// Messages are grouped per tenant so each insert runs under that tenant's
// row-level security context.
func (w *DLQWriter) Write(ctx context.Context, messages []Message, reason string) error {
	byTenant := make(map[string][]Message)
	for _, msg := range messages {
		byTenant[msg.TenantID] = append(byTenant[msg.TenantID], msg)
	}

	for tenantID, msgs := range byTenant {
		if err := w.writeTenant(ctx, tenantID, msgs, reason); err != nil {
			return err
		}
	}
	return nil
}

func (w *DLQWriter) writeTenant(ctx context.Context, tenantID string, messages []Message, reason string) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`
	for _, msg := range messages {
		entryReason := reason + " (topic=" + msg.Topic + ")"
		if _, err := tx.Exec(ctx, stmt,
			msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, entryReason,
			msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, msg := range messages {
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}
