package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"civic-hazard-backend/internal/apperr"
	"civic-hazard-backend/internal/middleware"
	"civic-hazard-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// maxUploadBytes caps the multipart form kept in memory on create.
const maxUploadBytes = 32 << 20

// ReportHandler handles report-related HTTP requests
type ReportHandler struct {
	reportService *services.ReportService
}

// NewReportHandler creates a new report handler
func NewReportHandler(reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// Create handles POST /api/v1/reports (multipart)
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondErr(w, apperr.Validation("expected multipart form data", nil))
		return
	}

	input := services.CreateReportInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Address:     r.FormValue("address"),
		HazardType:  r.FormValue("hazard_type"),
		Priority:    r.FormValue("priority"),
	}

	var err error
	if input.Latitude, err = strconv.ParseFloat(r.FormValue("latitude"), 64); err != nil {
		respondErr(w, apperr.Validation("invalid latitude", map[string]string{"latitude": "must be a number"}))
		return
	}
	if input.Longitude, err = strconv.ParseFloat(r.FormValue("longitude"), 64); err != nil {
		respondErr(w, apperr.Validation("invalid longitude", map[string]string{"longitude": "must be a number"}))
		return
	}

	var files []services.MediaFile
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["media"] {
			f, err := header.Open()
			if err != nil {
				respondErr(w, apperr.Validation("unreadable media attachment", nil))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				respondErr(w, apperr.Validation("unreadable media attachment", nil))
				return
			}
			files = append(files, services.MediaFile{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	result, err := h.reportService.Create(ctx, actor, input, files)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusCreated, result)
}

// Get handles GET /api/v1/reports/{id}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.reportService.Get(ctx, middleware.GetActor(ctx), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, report)
}

// History handles GET /api/v1/reports/{id}/history
func (h *ReportHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.reportService.History(ctx, middleware.GetActor(ctx), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, entries)
}

// List handles GET /api/v1/reports
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	q := services.ListQuery{
		Status:     query.Get("status"),
		HazardType: query.Get("hazard_type"),
		AssigneeID: query.Get("assignee_id"),
		SortBy:     query.Get("sort_by"),
		SortDesc:   query.Get("sort_dir") == "desc",
	}
	q.Page, _ = strconv.Atoi(query.Get("page"))
	q.PageSize, _ = strconv.Atoi(query.Get("page_size"))

	if v := query.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondErr(w, apperr.Validation("invalid from date", map[string]string{"from": "must be RFC3339"}))
			return
		}
		q.From = &t
	}
	if v := query.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondErr(w, apperr.Validation("invalid to date", map[string]string{"to": "must be RFC3339"}))
			return
		}
		q.To = &t
	}

	for param, dst := range map[string]**float64{
		"lat":    &q.Latitude,
		"lon":    &q.Longitude,
		"radius": &q.RadiusMeters,
	} {
		if v := query.Get(param); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				respondErr(w, apperr.Validation("invalid "+param, map[string]string{param: "must be a number"}))
				return
			}
			*dst = &f
		}
	}

	page, err := h.reportService.List(ctx, middleware.GetActor(ctx), q)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, page)
}

// Update handles PATCH /api/v1/reports/{id}
func (h *ReportHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Address     *string `json:"address"`
		HazardType  *string `json:"hazard_type"`
		Priority    *string `json:"priority"`
		DuplicateOf *string `json:"duplicate_of"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	report, err := h.reportService.Update(ctx, middleware.GetActor(ctx), chi.URLParam(r, "id"), services.UpdateReportInput{
		Title:       input.Title,
		Description: input.Description,
		Address:     input.Address,
		HazardType:  input.HazardType,
		Priority:    input.Priority,
		DuplicateOf: input.DuplicateOf,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, report)
}

// TransitionStatus handles PATCH /api/v1/reports/{id}/status
func (h *ReportHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	var input struct {
		Status     string  `json:"status"`
		AssigneeID *string `json:"assignee_id"`
		Notes      *string `json:"notes"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	report, err := h.reportService.TransitionStatus(ctx, actor, chi.URLParam(r, "id"), services.TransitionInput{
		Status:     input.Status,
		AssigneeID: input.AssigneeID,
		Notes:      input.Notes,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	log.Info().
		Str("report_id", report.ID).
		Str("user_id", actor.ID).
		Str("status", string(report.Status)).
		Msg("Status transition applied")

	respondData(w, http.StatusOK, report)
}

// Delete handles DELETE /api/v1/reports/{id}
func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.reportService.Delete(ctx, middleware.GetActor(ctx), chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id")})
}

// Vote handles POST /api/v1/reports/{id}/vote
func (h *ReportHandler) Vote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input struct {
		VoteType string `json:"vote_type"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	result, err := h.reportService.Vote(ctx, middleware.GetActor(ctx), chi.URLParam(r, "id"), input.VoteType)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, result)
}
