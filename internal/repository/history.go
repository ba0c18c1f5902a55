package repository

import (
	"context"
	"fmt"

	"civic-hazard-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRepository handles database operations for status history
type HistoryRepository struct {
	db *pgxpool.Pool
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ListByReport retrieves the status history of a report, oldest first.
func (r *HistoryRepository) ListByReport(ctx context.Context, reportID string) ([]*models.StatusHistory, error) {
	query := `
		SELECT id, report_id, old_status, new_status, actor_id, created_at
		FROM status_history
		WHERE report_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	var entries []*models.StatusHistory
	for rows.Next() {
		var entry models.StatusHistory
		err := rows.Scan(
			&entry.ID, &entry.ReportID, &entry.OldStatus, &entry.NewStatus,
			&entry.ActorID, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status history: %w", err)
	}
	return entries, nil
}
