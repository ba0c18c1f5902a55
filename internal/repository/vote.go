package repository

import (
	"context"
	"fmt"

	"civic-hazard-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// VoteRepository handles database operations for votes
type VoteRepository struct {
	db *pgxpool.Pool
}

// NewVoteRepository creates a new vote repository
func NewVoteRepository(db *pgxpool.Pool) *VoteRepository {
	return &VoteRepository{db: db}
}

// Upsert records a user's vote on a report and recomputes the report's
// counters inside one transaction. The unique (report_id, user_id) constraint
// guarantees at most one vote row per pair; recomputing from the vote rows
// keeps counters exact and non-negative under concurrent vote changes.
func (r *VoteRepository) Upsert(ctx context.Context, vote *models.Vote) (upvotes, downvotes int, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin vote upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO votes (id, report_id, user_id, vote_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (report_id, user_id)
		DO UPDATE SET vote_type = EXCLUDED.vote_type
	`
	_, err = tx.Exec(ctx, query,
		vote.ID, vote.ReportID, vote.UserID, vote.VoteType, vote.CreatedAt,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to upsert vote: %w", err)
	}

	counterQuery := `
		UPDATE reports
		SET upvotes = (SELECT COUNT(*) FROM votes WHERE report_id = $1 AND vote_type = 'upvote'),
			downvotes = (SELECT COUNT(*) FROM votes WHERE report_id = $1 AND vote_type = 'downvote')
		WHERE id = $1
		RETURNING upvotes, downvotes
	`
	if err := tx.QueryRow(ctx, counterQuery, vote.ReportID).Scan(&upvotes, &downvotes); err != nil {
		return 0, 0, fmt.Errorf("failed to recompute vote counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit vote upsert: %w", err)
	}
	return upvotes, downvotes, nil
}
