package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"civic-hazard-backend/internal/middleware"
	"civic-hazard-backend/internal/models"
	"civic-hazard-backend/internal/repository"
	"civic-hazard-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// The token IS the user id here; role comes after a colon.
type staticValidator struct{}

func (staticValidator) ValidateJWT(token string) (string, models.Role, error) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return "", "", errors.New("bad token")
	}
	return parts[0], models.Role(parts[1]), nil
}

type memStore struct {
	reports map[string]*models.Report
	history []*models.StatusHistory
}

func (s *memStore) Create(_ context.Context, r *models.Report) error {
	s.reports[r.ID] = r
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.Report, error) {
	r, ok := s.reports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *memStore) Update(_ context.Context, r *models.Report) error {
	r.UpdatedAt = time.Now()
	clone := *r
	s.reports[r.ID] = &clone
	return nil
}

func (s *memStore) ApplyTransition(_ context.Context, entry *models.StatusHistory, assigneeID, notes *string) (*models.Report, error) {
	r, ok := s.reports[entry.ReportID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r.Status = entry.NewStatus
	r.AssigneeID = assigneeID
	s.history = append(s.history, entry)
	clone := *r
	return &clone, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	delete(s.reports, id)
	return nil
}

func (s *memStore) List(_ context.Context, f repository.ReportFilters, _ string, _ bool, page, pageSize int) ([]*models.Report, int, error) {
	var out []*models.Report
	for _, r := range s.reports {
		if f.AuthorID != "" && r.AuthorID != f.AuthorID {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	return out, len(out), nil
}

func (s *memStore) ListInBox(_ context.Context, _ repository.ReportFilters, _, _, _, _ float64) ([]*models.Report, error) {
	return nil, nil
}

func (s *memStore) ListByReport(_ context.Context, reportID string) ([]*models.StatusHistory, error) {
	var out []*models.StatusHistory
	for _, h := range s.history {
		if h.ReportID == reportID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, _ *models.Vote) (int, int, error) { return 1, 0, nil }

type noopCollab struct{}

func (noopCollab) GetByID(_ context.Context, id string) (*models.User, error) {
	return &models.User{ID: id, Role: models.RoleAuthority}, nil
}
func (noopCollab) ListByUser(context.Context, string) ([]*models.PushToken, error) { return nil, nil }
func (noopCollab) ListByAuthorities(context.Context) ([]*models.PushToken, error)  { return nil, nil }
func (noopCollab) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "https://media.test/" + key, nil
}
func (noopCollab) Delete(context.Context, string) error { return nil }
func (noopCollab) KeyForURL(url string) string          { return url }
func (noopCollab) Detect(context.Context, string, []byte) (*services.DetectionOutcome, error) {
	return &services.DetectionOutcome{Applied: true, HazardType: models.HazardPothole, Confidence: 0.9}, nil
}
func (noopCollab) Send(context.Context, []*models.PushToken, string, string, map[string]string) {}
func (noopCollab) BroadcastReportCreated(*models.Report)                                        {}
func (noopCollab) BroadcastStatusChanged(*models.Report, models.Status)                         {}

func newTestRouter(t *testing.T) (*chi.Mux, *memStore) {
	t.Helper()
	store := &memStore{reports: make(map[string]*models.Report)}
	var collab noopCollab
	svc := services.NewReportService(store, store, store, collab, collab, collab, collab, collab, collab, time.Second)
	h := NewReportHandler(svc)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(staticValidator{}))
		r.Post("/reports", h.Create)
		r.Get("/reports", h.List)
		r.Get("/reports/{id}", h.Get)
		r.Get("/reports/{id}/history", h.History)
		r.Patch("/reports/{id}", h.Update)
		r.Delete("/reports/{id}", h.Delete)
		r.Post("/reports/{id}/vote", h.Vote)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthority)
			r.Patch("/reports/{id}/status", h.TransitionStatus)
		})
	})
	return r, store
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code       string            `json:"code"`
		Message    string            `json:"message"`
		StatusCode int               `json:"statusCode"`
		Fields     map[string]string `json:"fields"`
	} `json:"error"`
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v\n%s", err, rec.Body.String())
	}
	return rec, env
}

func multipartReport(t *testing.T, fields map[string]string, withMedia bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if withMedia {
		hdr := make(map[string][]string)
		hdr["Content-Disposition"] = []string{`form-data; name="media"; filename="hazard.jpg"`}
		hdr["Content-Type"] = []string{"image/jpeg"}
		part, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write([]byte("jpeg"))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func createReport(t *testing.T, router http.Handler) string {
	t.Helper()
	body, contentType := multipartReport(t, map[string]string{
		"title": "Pothole", "latitude": "40.7", "longitude": "-74.0",
	}, true)
	req := httptest.NewRequest(http.MethodPost, "/reports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer citizen-1:citizen")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data struct {
			Report models.Report `json:"report"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return env.Data.Report.ID
}

func TestCreateReturnsEnvelopeWithDetection(t *testing.T) {
	router, store := newTestRouter(t)

	body, contentType := multipartReport(t, map[string]string{
		"title": "Pothole on Main St", "latitude": "40.7128", "longitude": "-74.0060",
	}, true)
	req := httptest.NewRequest(http.MethodPost, "/reports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer citizen-1:citizen")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Success bool `json:"success"`
		Data    struct {
			Report    models.Report              `json:"report"`
			Detection *services.DetectionOutcome `json:"detection"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success {
		t.Error("expected success envelope")
	}
	if env.Data.Report.HazardType != models.HazardPothole {
		t.Errorf("expected detected pothole, got %s", env.Data.Report.HazardType)
	}
	if env.Data.Detection == nil || !env.Data.Detection.Applied {
		t.Error("expected detection outcome in response")
	}
	if len(store.reports) != 1 {
		t.Errorf("expected 1 stored report, got %d", len(store.reports))
	}
}

func TestCreateWithoutMediaIs400(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartReport(t, map[string]string{
		"title": "Pothole", "latitude": "40.7", "longitude": "-74.0",
	}, false)
	req := httptest.NewRequest(http.MethodPost, "/reports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer citizen-1:citizen")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var env testEnvelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Success || env.Error == nil {
		t.Fatal("expected error envelope")
	}
	if env.Error.Fields["media"] != "required" {
		t.Errorf("expected media field error, got %v", env.Error.Fields)
	}
}

func TestCreateNonNumericLatitudeIs400(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartReport(t, map[string]string{
		"title": "Pothole", "latitude": "north-ish", "longitude": "-74.0",
	}, true)
	req := httptest.NewRequest(http.MethodPost, "/reports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer citizen-1:citizen")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMissingTokenIs401(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, env := doJSON(t, router, http.MethodGet, "/reports", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env.Success {
		t.Error("expected error envelope")
	}
}

func TestGarbageTokenIs401(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, _ := doJSON(t, router, http.MethodGet, "/reports", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStatusRouteRequiresAuthority(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createReport(t, router)

	rec, _ := doJSON(t, router, http.MethodPatch, "/reports/"+id+"/status", "citizen-1:citizen",
		map[string]string{"status": "resolved"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for citizen, got %d", rec.Code)
	}

	rec, env := doJSON(t, router, http.MethodPatch, "/reports/"+id+"/status", "authority-1:authority",
		map[string]string{"status": "resolved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for authority, got %d: %s", rec.Code, string(env.Data))
	}
}

func TestInvalidTransitionIs400WithDetail(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createReport(t, router)

	// Resolve, then try to reopen.
	rec, _ := doJSON(t, router, http.MethodPatch, "/reports/"+id+"/status", "authority-1:authority",
		map[string]string{"status": "resolved"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve failed: %d", rec.Code)
	}

	rec, env := doJSON(t, router, http.MethodPatch, "/reports/"+id+"/status", "authority-1:authority",
		map[string]string{"status": "in_progress"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.Error == nil || !strings.Contains(env.Error.Message, "cannot transition from resolved") {
		t.Errorf("expected transition detail, got %+v", env.Error)
	}
}

func TestForeignReportReadsAsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createReport(t, router)

	rec, _ := doJSON(t, router, http.MethodGet, "/reports/"+id, "citizen-2:citizen", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign citizen should get 404, got %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/reports/"+id, "citizen-1:citizen", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner should get 200, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createReport(t, router)

	doJSON(t, router, http.MethodPatch, "/reports/"+id+"/status", "authority-1:authority",
		map[string]string{"status": "in_progress"})

	rec, env := doJSON(t, router, http.MethodGet, "/reports/"+id+"/history", "citizen-1:citizen", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	var entries []models.StatusHistory
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].NewStatus != models.StatusInProgress {
		t.Errorf("expected one in_progress entry, got %+v", entries)
	}
}

func TestVoteEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createReport(t, router)

	rec, env := doJSON(t, router, http.MethodPost, "/reports/"+id+"/vote", "citizen-2:citizen",
		map[string]string{"vote_type": "upvote"})
	if rec.Code != http.StatusOK {
		t.Fatalf("vote: %d", rec.Code)
	}
	var result services.VoteResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode vote result: %v", err)
	}
	if result.Upvotes != 1 {
		t.Errorf("expected upvotes=1, got %d", result.Upvotes)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/reports/"+id+"/vote", "citizen-2:citizen",
		map[string]string{"vote_type": "sideways"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown vote type should be 400, got %d", rec.Code)
	}
}

func TestUpdateBadJSONIs400(t *testing.T) {
	router, _ := newTestRouter(t)
	id := createReport(t, router)

	req := httptest.NewRequest(http.MethodPatch, "/reports/"+id, strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer citizen-1:citizen")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	id := createReport(t, router)

	rec, _ := doJSON(t, router, http.MethodDelete, "/reports/"+id, "citizen-1:citizen", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if len(store.reports) != 0 {
		t.Errorf("report not removed from store")
	}

	rec, _ = doJSON(t, router, http.MethodDelete, "/reports/"+id, "citizen-1:citizen", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete should 404, got %d", rec.Code)
	}
}

func TestListEnvelopePaging(t *testing.T) {
	router, _ := newTestRouter(t)
	for i := 0; i < 3; i++ {
		createReport(t, router)
	}

	rec, env := doJSON(t, router, http.MethodGet, "/reports?page=1&page_size=2", "authority-1:authority", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var page struct {
		Total    int `json:"total"`
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 3 || page.Page != 1 || page.PageSize != 2 {
		t.Errorf("unexpected paging: %+v", page)
	}
}

func TestListRejectsBadFromDate(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, _ := doJSON(t, router, http.MethodGet, "/reports?from=yesterday", "authority-1:authority", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
