package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"civic-hazard-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReportFilters narrows list queries. Zero values mean "no filter".
type ReportFilters struct {
	Status     models.Status
	HazardType models.HazardType
	AssigneeID string
	AuthorID   string
	From       *time.Time
	To         *time.Time
}

// sortColumns whitelists sort keys to SQL expressions.
var sortColumns = map[string]string{
	"created": "created_at",
	"updated": "updated_at",
	"status":  "status",
	"priority": `CASE priority
		WHEN 'critical' THEN 4 WHEN 'high' THEN 3
		WHEN 'medium' THEN 2 ELSE 1 END`,
}

const reportColumns = `id, author_id, title, description, hazard_type, confidence_score,
	latitude, longitude, address, media_urls, media_types, status, priority,
	assignee_id, resolution_notes, duplicate_of, upvotes, downvotes, created_at, updated_at`

// ReportRepository handles database operations for reports
type ReportRepository struct {
	db *pgxpool.Pool
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create creates a new report
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	query := `
		INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := r.db.Exec(ctx, query,
		report.ID, report.AuthorID, report.Title, report.Description,
		report.HazardType, report.ConfidenceScore, report.Latitude, report.Longitude,
		report.Address, report.MediaURLs, report.MediaTypes, report.Status,
		report.Priority, report.AssigneeID, report.ResolutionNotes, report.DuplicateOf,
		report.Upvotes, report.Downvotes, report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

func scanReport(row pgx.Row) (*models.Report, error) {
	var report models.Report
	err := row.Scan(
		&report.ID, &report.AuthorID, &report.Title, &report.Description,
		&report.HazardType, &report.ConfidenceScore, &report.Latitude, &report.Longitude,
		&report.Address, &report.MediaURLs, &report.MediaTypes, &report.Status,
		&report.Priority, &report.AssigneeID, &report.ResolutionNotes, &report.DuplicateOf,
		&report.Upvotes, &report.Downvotes, &report.CreatedAt, &report.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetByID retrieves a report by ID
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`
	report, err := scanReport(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("report not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// Update persists the mutable fields of a report and refreshes its
// UpdatedAt from the stored row.
func (r *ReportRepository) Update(ctx context.Context, report *models.Report) error {
	query := `
		UPDATE reports
		SET title = $1, description = $2, hazard_type = $3, address = $4,
			priority = $5, duplicate_of = $6, updated_at = $7
		WHERE id = $8
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		report.Title, report.Description, report.HazardType, report.Address,
		report.Priority, report.DuplicateOf, time.Now(), report.ID,
	).Scan(&report.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("report not found: %w", ErrNotFound)
		}
		return fmt.Errorf("failed to update report: %w", err)
	}
	return nil
}

// ApplyTransition atomically writes the new status (plus assignee and notes)
// and the audit row for the change.
func (r *ReportRepository) ApplyTransition(ctx context.Context, entry *models.StatusHistory, assigneeID, notes *string) (*models.Report, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE reports
		SET status = $1, assignee_id = $2, resolution_notes = COALESCE($3, resolution_notes),
			updated_at = $4
		WHERE id = $5
		RETURNING ` + reportColumns
	report, err := scanReport(tx.QueryRow(ctx, query,
		entry.NewStatus, assigneeID, notes, time.Now(), entry.ReportID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("report not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	historyQuery := `
		INSERT INTO status_history (id, report_id, old_status, new_status, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, historyQuery,
		entry.ID, entry.ReportID, entry.OldStatus, entry.NewStatus, entry.ActorID, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert status history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return report, nil
}

// Delete deletes a report by ID
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM reports WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("report not found: %w", ErrNotFound)
	}
	return nil
}

// buildFilterClauses turns filters into WHERE clauses and positional args.
func buildFilterClauses(f ReportFilters) ([]string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.HazardType != "" {
		add("hazard_type = $%d", f.HazardType)
	}
	if f.AssigneeID != "" {
		add("assignee_id = $%d", f.AssigneeID)
	}
	if f.AuthorID != "" {
		add("author_id = $%d", f.AuthorID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	return clauses, args
}

// List retrieves reports matching the filters with pagination.
// Page is 1-indexed; sortKey must be one of the whitelisted keys.
func (r *ReportRepository) List(ctx context.Context, f ReportFilters, sortKey string, descending bool, page, pageSize int) ([]*models.Report, int, error) {
	clauses, args := buildFilterClauses(f)
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM reports` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	column, ok := sortColumns[sortKey]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if descending {
		direction = "DESC"
	}

	query := fmt.Sprintf(`SELECT `+reportColumns+` FROM reports%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		where, column, direction, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, total, nil
}

// ListInBox retrieves reports matching the filters inside a lat/lon bounding
// box. The caller applies the exact geodesic filter; this is only the cheap
// index-backed prefilter.
func (r *ReportRepository) ListInBox(ctx context.Context, f ReportFilters, minLat, maxLat, minLon, maxLon float64) ([]*models.Report, error) {
	clauses, args := buildFilterClauses(f)

	args = append(args, minLat, maxLat)
	clauses = append(clauses, fmt.Sprintf("latitude BETWEEN $%d AND $%d", len(args)-1, len(args)))
	args = append(args, minLon, maxLon)
	clauses = append(clauses, fmt.Sprintf("longitude BETWEEN $%d AND $%d", len(args)-1, len(args)))

	query := `SELECT ` + reportColumns + ` FROM reports WHERE ` + strings.Join(clauses, " AND ")
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports in box: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}
