package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/fittrack/internal/domain"
)

// GetConnection returns the stored provider connection, or nil when the user has not connected.
func (r *Repository) GetConnection(ctx context.Context, tenantID, userID, provider string) (*domain.ProviderConnection, error) {
	const query = `SELECT athlete_id, access_token, refresh_token, token_type, expiry, last_synced_at, created_at, updated_at
        FROM provider_connections WHERE tenant_id=$1 AND user_id=$2 AND provider=$3`

	var found *domain.ProviderConnection
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		conn := domain.ProviderConnection{TenantID: tenantID, UserID: userID, Provider: provider}
		var expiry *time.Time
		err := tx.QueryRow(ctx, query, tenantID, userID, provider).Scan(
			&conn.AthleteID, &conn.AccessToken, &conn.RefreshToken, &conn.TokenType, &expiry, &conn.LastSyncedAt, &conn.CreatedAt, &conn.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		if expiry != nil {
			conn.Expiry = *expiry
		}
		found = &conn
		return nil
	})
	return found, err
}

// SaveConnection upserts tokens for a provider connection. The sync watermark is left untouched.
func (r *Repository) SaveConnection(ctx context.Context, conn domain.ProviderConnection) error {
	const stmt = `INSERT INTO provider_connections (tenant_id, user_id, provider, athlete_id, access_token, refresh_token, token_type, expiry)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (tenant_id, user_id, provider) DO UPDATE
           SET athlete_id = EXCLUDED.athlete_id,
               access_token = EXCLUDED.access_token,
               refresh_token = EXCLUDED.refresh_token,
               token_type = EXCLUDED.token_type,
               expiry = EXCLUDED.expiry,
               updated_at = NOW()`

	var expiry *time.Time
	if !conn.Expiry.IsZero() {
		e := conn.Expiry.UTC()
		expiry = &e
	}
	return r.inTenantTx(ctx, conn.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt, conn.TenantID, conn.UserID, conn.Provider, conn.AthleteID, conn.AccessToken, conn.RefreshToken, conn.TokenType, expiry)
		return err
	})
}

// MarkSynced advances the sync watermark.
func (r *Repository) MarkSynced(ctx context.Context, tenantID, userID, provider string, at time.Time) error {
	return r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE provider_connections SET last_synced_at=$4, updated_at=NOW() WHERE tenant_id=$1 AND user_id=$2 AND provider=$3`,
			tenantID, userID, provider, at.UTC(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConnectionNotFound
		}
		return nil
	})
}
