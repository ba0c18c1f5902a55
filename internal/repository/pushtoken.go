package repository

import (
	"context"
	"fmt"

	"civic-hazard-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PushTokenRepository handles database operations for device push tokens
type PushTokenRepository struct {
	db *pgxpool.Pool
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(db *pgxpool.Pool) *PushTokenRepository {
	return &PushTokenRepository{db: db}
}

// Upsert registers a device token for a user. Re-registering the same token
// refreshes the platform and timestamp instead of conflicting.
func (r *PushTokenRepository) Upsert(ctx context.Context, token *models.PushToken) error {
	query := `
		INSERT INTO push_tokens (id, user_id, token, platform, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, token)
		DO UPDATE SET platform = EXCLUDED.platform, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Exec(ctx, query,
		token.ID, token.UserID, token.Token, token.Platform, token.CreatedAt, token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert push token: %w", err)
	}
	return nil
}

// ListByUser retrieves the device tokens registered by one user.
func (r *PushTokenRepository) ListByUser(ctx context.Context, userID string) ([]*models.PushToken, error) {
	query := `
		SELECT id, user_id, token, platform, created_at, updated_at
		FROM push_tokens
		WHERE user_id = $1
	`
	return r.list(ctx, query, userID)
}

// ListByAuthorities retrieves the device tokens of all authority-role users.
func (r *PushTokenRepository) ListByAuthorities(ctx context.Context) ([]*models.PushToken, error) {
	query := `
		SELECT pt.id, pt.user_id, pt.token, pt.platform, pt.created_at, pt.updated_at
		FROM push_tokens pt
		JOIN users u ON u.id = pt.user_id
		WHERE u.role IN ('authority', 'admin')
	`
	return r.list(ctx, query)
}

func (r *PushTokenRepository) list(ctx context.Context, query string, args ...any) ([]*models.PushToken, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.PushToken
	for rows.Next() {
		var token models.PushToken
		err := rows.Scan(
			&token.ID, &token.UserID, &token.Token, &token.Platform,
			&token.CreatedAt, &token.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan push token: %w", err)
		}
		tokens = append(tokens, &token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating push tokens: %w", err)
	}
	return tokens, nil
}
