package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"civic-hazard-backend/internal/apperr"
	"civic-hazard-backend/internal/geo"
	"civic-hazard-backend/internal/models"
	"civic-hazard-backend/internal/policy"
	"civic-hazard-backend/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Collaborator interfaces. The concrete implementations live in the
// repository package and in this package's S3/ML/APNs clients; tests swap in
// fakes.

// ReportStore persists reports and their audit trail.
type ReportStore interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id string) (*models.Report, error)
	Update(ctx context.Context, report *models.Report) error
	ApplyTransition(ctx context.Context, entry *models.StatusHistory, assigneeID, notes *string) (*models.Report, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f repository.ReportFilters, sortKey string, descending bool, page, pageSize int) ([]*models.Report, int, error)
	ListInBox(ctx context.Context, f repository.ReportFilters, minLat, maxLat, minLon, maxLon float64) ([]*models.Report, error)
}

// VoteStore upserts votes and recomputes counters.
type VoteStore interface {
	Upsert(ctx context.Context, vote *models.Vote) (upvotes, downvotes int, err error)
}

// HistoryStore reads the status audit trail.
type HistoryStore interface {
	ListByReport(ctx context.Context, reportID string) ([]*models.StatusHistory, error)
}

// UserStore resolves users for assignee checks.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TokenStore resolves device tokens for push delivery.
type TokenStore interface {
	ListByUser(ctx context.Context, userID string) ([]*models.PushToken, error)
	ListByAuthorities(ctx context.Context) ([]*models.PushToken, error)
}

// MediaStore stores and removes report attachments.
type MediaStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	KeyForURL(url string) string
}

// Detector classifies hazard images.
type Detector interface {
	Detect(ctx context.Context, filename string, image []byte) (*DetectionOutcome, error)
}

// Broadcaster pushes live feed events.
type Broadcaster interface {
	BroadcastReportCreated(report *models.Report)
	BroadcastStatusChanged(report *models.Report, oldStatus models.Status)
}

// statusMessages keys author notifications by target status. Statuses absent
// here send nothing.
var statusMessages = map[models.Status]struct{ title, body string }{
	models.StatusInProgress: {"Report in progress", "An authority is now working on your hazard report."},
	models.StatusResolved:   {"Report resolved", "Your hazard report has been resolved. Thank you!"},
	models.StatusRejected:   {"Report rejected", "Your hazard report was reviewed and rejected."},
}

// ReportService orchestrates the report lifecycle across the persistence,
// media, inference and notification collaborators.
type ReportService struct {
	reports   ReportStore
	votes     VoteStore
	history   HistoryStore
	users     UserStore
	tokens    TokenStore
	media     MediaStore
	detector  Detector
	notifier  Notifier
	feed      Broadcaster
	detection time.Duration
	validate  *validator.Validate
}

// NewReportService creates a new report service. detectionTimeout bounds the
// best-effort inference call inside Create.
func NewReportService(
	reports ReportStore,
	votes VoteStore,
	history HistoryStore,
	users UserStore,
	tokens TokenStore,
	media MediaStore,
	detector Detector,
	notifier Notifier,
	feed Broadcaster,
	detectionTimeout time.Duration,
) *ReportService {
	return &ReportService{
		reports:   reports,
		votes:     votes,
		history:   history,
		users:     users,
		tokens:    tokens,
		media:     media,
		detector:  detector,
		notifier:  notifier,
		feed:      feed,
		detection: detectionTimeout,
		validate:  validator.New(),
	}
}

// MediaFile is one uploaded attachment.
type MediaFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreateReportInput carries the fields of a new report.
type CreateReportInput struct {
	Title       string  `validate:"required,max=200"`
	Description string  `validate:"max=2000"`
	Latitude    float64 `validate:"min=-90,max=90"`
	Longitude   float64 `validate:"min=-180,max=180"`
	Address     string  `validate:"max=500"`
	HazardType  string  `validate:"omitempty,oneof=pothole road_cracks open_manhole debris flooding traffic_light_issue signage_damage cattle_on_road other"`
	Priority    string  `validate:"omitempty,oneof=low medium high critical"`
}

// CreateResult is the created report plus the detection outcome.
type CreateResult struct {
	Report    *models.Report    `json:"report"`
	Detection *DetectionOutcome `json:"detection"`
}

// Create uploads the attachments, runs best-effort detection on the first
// image, persists the report as pending and notifies authorities. Media
// upload is all-or-nothing: any failure deletes what was already stored.
func (s *ReportService) Create(ctx context.Context, actor policy.Actor, input CreateReportInput, files []MediaFile) (*CreateResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}
	if len(files) == 0 {
		return nil, apperr.Validation("at least one media attachment is required", map[string]string{"media": "required"})
	}
	if !geo.ValidCoordinates(input.Latitude, input.Longitude) {
		return nil, apperr.Validation("coordinates out of range", nil)
	}

	urls, types, err := s.uploadAll(ctx, actor.ID, files)
	if err != nil {
		return nil, err
	}

	detection := s.detect(ctx, input.HazardType, files)

	hazard := detection.HazardType
	if input.HazardType != "" {
		hazard = models.HazardType(input.HazardType)
	}
	priority := models.Priority(input.Priority)
	if priority == "" {
		priority = models.PriorityMedium
	}

	now := time.Now()
	report := &models.Report{
		ID:              uuid.New().String(),
		AuthorID:        actor.ID,
		Title:           strings.TrimSpace(input.Title),
		Description:     strings.TrimSpace(input.Description),
		HazardType:      hazard,
		ConfidenceScore: detection.Confidence,
		Latitude:        input.Latitude,
		Longitude:       input.Longitude,
		Address:         strings.TrimSpace(input.Address),
		MediaURLs:       urls,
		MediaTypes:      types,
		Status:          models.StatusPending,
		Priority:        priority,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.reports.Create(ctx, report); err != nil {
		s.deleteMedia(ctx, urls)
		return nil, fmt.Errorf("failed to persist report: %w", err)
	}

	s.notifyAuthorities(ctx, report)
	s.feed.BroadcastReportCreated(report)

	log.Info().
		Str("report_id", report.ID).
		Str("user_id", actor.ID).
		Str("hazard_type", string(report.HazardType)).
		Float64("confidence", report.ConfidenceScore).
		Msg("Report created")

	return &CreateResult{Report: report, Detection: detection}, nil
}

// uploadAll stores every attachment, rolling back on the first failure so no
// partial report leaves dangling media behind.
func (s *ReportService) uploadAll(ctx context.Context, authorID string, files []MediaFile) (urls, types []string, err error) {
	prefix := fmt.Sprintf("reports/%s/%d", authorID, time.Now().UnixNano())
	for i, f := range files {
		key := fmt.Sprintf("%s_%02d%s", prefix, i, path.Ext(f.Filename))
		url, uploadErr := s.media.Upload(ctx, key, f.Data, f.ContentType)
		if uploadErr != nil {
			log.Error().Err(uploadErr).Str("user_id", authorID).Msg("Media upload failed, rolling back")
			s.deleteMedia(ctx, urls)
			return nil, nil, apperr.Upstream("media upload failed")
		}
		urls = append(urls, url)
		types = append(types, f.ContentType)
	}
	return urls, types, nil
}

// deleteMedia removes stored objects best-effort, continuing past failures.
func (s *ReportService) deleteMedia(ctx context.Context, urls []string) {
	for _, url := range urls {
		key := s.media.KeyForURL(url)
		if err := s.media.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to delete media")
		}
	}
}

// detect runs the classifier on the first image attachment. Videos are
// skipped; an operator-entered category skips detection entirely. Failures
// and timeouts degrade to "other"/0 instead of failing the report.
func (s *ReportService) detect(ctx context.Context, operatorHazard string, files []MediaFile) *DetectionOutcome {
	skipped := &DetectionOutcome{HazardType: models.HazardOther}
	if operatorHazard != "" {
		return skipped
	}

	for _, f := range files {
		if !strings.HasPrefix(f.ContentType, "image/") {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, s.detection)
		outcome, err := s.detector.Detect(dctx, f.Filename, f.Data)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("filename", f.Filename).Msg("Detection unavailable, proceeding without it")
			return skipped
		}
		return outcome
	}
	return skipped
}

// Get returns a report. Citizens see only their own; a foreign report reads
// as not-found rather than forbidden so ids cannot be enumerated.
func (s *ReportService) Get(ctx context.Context, actor policy.Actor, reportID string) (*models.Report, error) {
	report, err := s.load(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if policy.Can(actor, policy.ActionRead, report) != policy.Allow {
		return nil, apperr.NotFound("report not found")
	}
	return report, nil
}

// History returns a report's status audit trail under the read visibility
// rule.
func (s *ReportService) History(ctx context.Context, actor policy.Actor, reportID string) ([]*models.StatusHistory, error) {
	if _, err := s.Get(ctx, actor, reportID); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return entries, nil
}

// ListQuery narrows and pages a report listing.
type ListQuery struct {
	Status       string
	HazardType   string
	AssigneeID   string
	From         *time.Time
	To           *time.Time
	Latitude     *float64
	Longitude    *float64
	RadiusMeters *float64
	SortBy       string
	SortDesc     bool
	Page         int
	PageSize     int
}

// Page is one page of a report listing.
type Page struct {
	Reports  []*models.Report `json:"reports"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// List returns reports matching the query. Citizens are always scoped to
// their own reports. A radius query filters geodesically and orders by
// distance; zero spatial matches short-circuit to an empty page.
func (s *ReportService) List(ctx context.Context, actor policy.Actor, q ListQuery) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}

	switch q.SortBy {
	case "", "created", "updated", "status", "priority":
	default:
		return nil, apperr.Validation("unknown sort key", map[string]string{"sort_by": "must be one of created, updated, status, priority"})
	}

	filters, err := buildFilters(actor, q)
	if err != nil {
		return nil, err
	}

	if q.RadiusMeters != nil {
		return s.listByRadius(ctx, filters, q)
	}

	reports, total, err := s.reports.List(ctx, filters, q.SortBy, q.SortDesc, q.Page, q.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return &Page{Reports: reports, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func buildFilters(actor policy.Actor, q ListQuery) (repository.ReportFilters, error) {
	var f repository.ReportFilters

	if q.Status != "" {
		status := models.Status(q.Status)
		if !status.Valid() {
			return f, apperr.Validation("unknown status", map[string]string{"status": "invalid"})
		}
		f.Status = status
	}
	if q.HazardType != "" {
		hazard := models.HazardType(q.HazardType)
		if !hazard.Valid() {
			return f, apperr.Validation("unknown hazard type", map[string]string{"hazard_type": "invalid"})
		}
		f.HazardType = hazard
	}
	f.AssigneeID = q.AssigneeID
	f.From = q.From
	f.To = q.To

	// Citizens only ever see their own reports, whatever else they filter by.
	if !actor.IsAuthority() {
		f.AuthorID = actor.ID
	}
	return f, nil
}

func (s *ReportService) listByRadius(ctx context.Context, filters repository.ReportFilters, q ListQuery) (*Page, error) {
	if q.Latitude == nil || q.Longitude == nil {
		return nil, apperr.Validation("radius queries require lat and lon", map[string]string{"radius": "missing center"})
	}
	if *q.RadiusMeters < 0 {
		return nil, apperr.Validation("radius must not be negative", map[string]string{"radius": "negative"})
	}
	center := geo.Point{Lat: *q.Latitude, Lon: *q.Longitude}
	if !geo.ValidCoordinates(center.Lat, center.Lon) {
		return nil, apperr.Validation("coordinates out of range", nil)
	}

	minLat, maxLat, minLon, maxLon := geo.BoundingBox(center, *q.RadiusMeters)
	candidates, err := s.reports.ListInBox(ctx, filters, minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports in radius: %w", err)
	}

	points := make([]geo.Point, len(candidates))
	for i, r := range candidates {
		points[i] = geo.Point{Lat: r.Latitude, Lon: r.Longitude}
	}
	matches := geo.FilterByRadius(center, *q.RadiusMeters, points)
	if len(matches) == 0 {
		return &Page{Reports: []*models.Report{}, Total: 0, Page: q.Page, PageSize: q.PageSize}, nil
	}

	// Spatial results are ordered by distance; pagination slices that order.
	ordered := make([]*models.Report, len(matches))
	for i, m := range matches {
		report := candidates[m.Index]
		d := m.DistanceMeters
		report.DistanceMeters = &d
		ordered[i] = report
	}

	start := (q.Page - 1) * q.PageSize
	if start >= len(ordered) {
		return &Page{Reports: []*models.Report{}, Total: len(ordered), Page: q.Page, PageSize: q.PageSize}, nil
	}
	end := start + q.PageSize
	if end > len(ordered) {
		end = len(ordered)
	}
	return &Page{Reports: ordered[start:end], Total: len(ordered), Page: q.Page, PageSize: q.PageSize}, nil
}

// UpdateReportInput carries the editable fields; nil means "leave unchanged".
type UpdateReportInput struct {
	Title       *string `validate:"omitempty,max=200"`
	Description *string `validate:"omitempty,max=2000"`
	Address     *string `validate:"omitempty,max=500"`
	HazardType  *string `validate:"omitempty,oneof=pothole road_cracks open_manhole debris flooding traffic_light_issue signage_damage cattle_on_road other"`
	Priority    *string `validate:"omitempty,oneof=low medium high critical"`
	DuplicateOf *string
}

// Update edits a report. Citizens may edit only their own, pending reports;
// authorities edit anything.
func (s *ReportService) Update(ctx context.Context, actor policy.Actor, reportID string, input UpdateReportInput) (*models.Report, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}

	report, err := s.load(ctx, reportID)
	if err != nil {
		return nil, err
	}

	switch policy.Can(actor, policy.ActionUpdate, report) {
	case policy.Hide:
		return nil, apperr.NotFound("report not found")
	case policy.Deny:
		return nil, apperr.Forbidden("report can no longer be edited")
	}

	if input.Title != nil {
		report.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		report.Description = strings.TrimSpace(*input.Description)
	}
	if input.Address != nil {
		report.Address = strings.TrimSpace(*input.Address)
	}
	if input.HazardType != nil {
		report.HazardType = models.HazardType(*input.HazardType)
	}
	if input.Priority != nil {
		report.Priority = models.Priority(*input.Priority)
	}
	if input.DuplicateOf != nil {
		if *input.DuplicateOf == report.ID {
			return nil, apperr.Validation("a report cannot duplicate itself", map[string]string{"duplicate_of": "self"})
		}
		if _, err := s.load(ctx, *input.DuplicateOf); err != nil {
			return nil, apperr.Validation("duplicate_of target does not exist", map[string]string{"duplicate_of": "unknown report"})
		}
		report.DuplicateOf = input.DuplicateOf
	}

	if err := s.reports.Update(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to update report: %w", err)
	}
	return report, nil
}

// TransitionInput carries a status change request.
type TransitionInput struct {
	Status     string `validate:"required"`
	AssigneeID *string
	Notes      *string
}

// TransitionStatus moves a report through its lifecycle. Authority-only.
// A real status change writes exactly one audit row and sends a best-effort
// push to the author.
func (s *ReportService) TransitionStatus(ctx context.Context, actor policy.Actor, reportID string, input TransitionInput) (*models.Report, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}

	report, err := s.load(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if policy.Can(actor, policy.ActionTransition, report) != policy.Allow {
		return nil, apperr.Forbidden("status changes require authority access")
	}

	newStatus := models.Status(input.Status)
	if !newStatus.Valid() {
		return nil, apperr.Validation("unknown status", map[string]string{"status": "invalid"})
	}
	if !report.Status.CanTransitionTo(newStatus) {
		return nil, apperr.Validation(
			fmt.Sprintf("cannot transition from %s to %s", report.Status, newStatus),
			map[string]string{"status": "invalid transition"},
		)
	}

	assigneeID := actor.ID
	if input.AssigneeID != nil && *input.AssigneeID != "" {
		assignee, err := s.users.GetByID(ctx, *input.AssigneeID)
		if err != nil {
			return nil, apperr.Validation("assignee does not exist", map[string]string{"assignee_id": "unknown user"})
		}
		if !assignee.Role.IsAuthority() {
			return nil, apperr.Validation("assignee must have authority access", map[string]string{"assignee_id": "not an authority"})
		}
		assigneeID = assignee.ID
	}

	oldStatus := report.Status
	entry := &models.StatusHistory{
		ID:        uuid.New().String(),
		ReportID:  report.ID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		ActorID:   actor.ID,
		CreatedAt: time.Now(),
	}

	updated, err := s.reports.ApplyTransition(ctx, entry, &assigneeID, input.Notes)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("report not found")
		}
		return nil, fmt.Errorf("failed to apply transition: %w", err)
	}

	s.notifyAuthor(ctx, updated, newStatus)
	s.feed.BroadcastStatusChanged(updated, oldStatus)

	log.Info().
		Str("report_id", report.ID).
		Str("user_id", actor.ID).
		Str("old_status", string(oldStatus)).
		Str("new_status", string(newStatus)).
		Msg("Report status changed")

	return updated, nil
}

// Delete removes a citizen's own pending report along with its media.
// Media cleanup is best-effort and runs before the row vanishes.
func (s *ReportService) Delete(ctx context.Context, actor policy.Actor, reportID string) error {
	report, err := s.load(ctx, reportID)
	if err != nil {
		return err
	}

	switch policy.Can(actor, policy.ActionDelete, report) {
	case policy.Hide:
		return apperr.NotFound("report not found")
	case policy.Deny:
		if actor.IsAuthority() {
			return apperr.Forbidden("report deletion is citizen-only; reject it instead")
		}
		return apperr.Conflict("only pending reports can be deleted")
	}

	s.deleteMedia(ctx, report.MediaURLs)

	if err := s.reports.Delete(ctx, reportID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("report not found")
		}
		return fmt.Errorf("failed to delete report: %w", err)
	}

	log.Info().Str("report_id", reportID).Str("user_id", actor.ID).Msg("Report deleted")
	return nil
}

// VoteResult is the counter state after a vote.
type VoteResult struct {
	ReportID  string `json:"report_id"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
}

// Vote records or changes the caller's vote on a report. One vote per
// (report, user); changing the type swings both counters atomically.
func (s *ReportService) Vote(ctx context.Context, actor policy.Actor, reportID string, voteType string) (*VoteResult, error) {
	vt := models.VoteType(voteType)
	if !vt.Valid() {
		return nil, apperr.Validation("vote_type must be upvote or downvote", map[string]string{"vote_type": "invalid"})
	}

	if _, err := s.load(ctx, reportID); err != nil {
		return nil, err
	}

	up, down, err := s.votes.Upsert(ctx, &models.Vote{
		ID:        uuid.New().String(),
		ReportID:  reportID,
		UserID:    actor.ID,
		VoteType:  vt,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}
	return &VoteResult{ReportID: reportID, Upvotes: up, Downvotes: down}, nil
}

// load fetches a report, mapping a missing row to the public not-found error.
func (s *ReportService) load(ctx context.Context, reportID string) (*models.Report, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("report not found")
		}
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	return report, nil
}

// notifyAuthorities fans out a push about a new report. Failure never fails
// report creation.
func (s *ReportService) notifyAuthorities(ctx context.Context, report *models.Report) {
	tokens, err := s.tokens.ListByAuthorities(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load authority tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}
	s.notifier.Send(ctx, tokens, "New hazard report",
		fmt.Sprintf("%s reported near %s", report.HazardType, coordinateLabel(report)),
		map[string]string{"report_id": report.ID, "type": "report_created"},
	)
}

// notifyAuthor tells the report's author about a status change. Unrecognized
// target statuses send nothing; failure is swallowed.
func (s *ReportService) notifyAuthor(ctx context.Context, report *models.Report, status models.Status) {
	msg, ok := statusMessages[status]
	if !ok {
		return
	}
	tokens, err := s.tokens.ListByUser(ctx, report.AuthorID)
	if err != nil {
		log.Error().Err(err).Str("user_id", report.AuthorID).Msg("Failed to load author tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}
	s.notifier.Send(ctx, tokens, msg.title, msg.body,
		map[string]string{"report_id": report.ID, "type": "status_changed", "status": string(status)},
	)
}

func coordinateLabel(report *models.Report) string {
	if report.Address != "" {
		return report.Address
	}
	return fmt.Sprintf("%.4f, %.4f", report.Latitude, report.Longitude)
}

// validationError converts validator output into the 400 taxonomy with
// field-level detail.
func validationError(err error) *apperr.Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err.Error(), nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return apperr.Validation("invalid request", fields)
}
