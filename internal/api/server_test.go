package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/orrn/printrelease/internal/api/handlers"
	"github.com/orrn/printrelease/internal/api/middleware"
	"github.com/orrn/printrelease/internal/archive"
	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/config"
	"github.com/orrn/printrelease/internal/core"
	"github.com/orrn/printrelease/internal/db"
	"github.com/orrn/printrelease/internal/ratelimit"
)

var pdfContent = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer\n%%EOF")

type testServer struct {
	router *gin.Engine
	clock  *clock.Fake
	store  *db.Store
}

func newTestServer(t *testing.T, limiter middleware.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	conn, err := db.Open(db.Config{Path: filepath.Join(dir, "printrelease.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	cfg := config.Default()
	cfg.Server.PublicBaseURL = "https://print.example.com"
	cfg.Server.MaxDocumentBytes = 1 << 20

	store := db.NewStore(conn)
	fc := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	svc := core.NewService(store.Jobs, core.ServiceConfig{
		PublicBaseURL:    cfg.Server.PublicBaseURL,
		DefaultTTL:       15 * time.Minute,
		MaxTTL:           24 * time.Hour,
		MaxDocumentBytes: cfg.Server.MaxDocumentBytes,
	}, core.WithClock(fc))

	auth, err := middleware.NewAuthMiddleware(store.Settings, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	archiver, err := archive.NewArchiver(store, archive.ArchiveConfig{ArchivePath: filepath.Join(dir, "archives")}, fc, nil)
	if err != nil {
		t.Fatalf("archiver: %v", err)
	}

	deps := Deps{
		Config:    cfg,
		Service:   svc,
		Store:     store,
		Auth:      auth,
		Sweeper:   core.NewSweeper(store.Jobs, fc, nil, nil, core.SweeperConfig{}),
		Completer: core.NewDispatcher(svc, core.DispatcherConfig{CompletionDelay: time.Minute}, nil),
		Webhooks:  noopTester{},
		Archiver:  archiver,
		Limiter:   limiter,
	}
	return &testServer{router: NewRouter(deps), clock: fc, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) submit(t *testing.T, userID string) handlers.CreateJobResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/jobs", handlers.CreateJobRequest{
		UserID:       userID,
		DocumentName: "Quarterly report",
		Pages:        10,
		Copies:       2,
		Duplex:       true,
		Document: handlers.DocumentUpload{
			Filename: "report.pdf",
			MimeType: "application/pdf",
			Content:  pdfContent,
		},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID          string  `json:"id"`
		Status      string  `json:"status"`
		Cost        float64 `json:"cost"`
		SecureToken string  `json:"secureToken"`
		ReleaseLink string  `json:"releaseLink"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	return handlers.CreateJobResponse{
		Job:         &core.Job{ID: resp.ID, Status: core.JobStatus(resp.Status), Cost: resp.Cost},
		SecureToken: resp.SecureToken,
		ReleaseLink: resp.ReleaseLink,
	}
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/admin/setup", map[string]string{"password": "correct horse"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("setup: status %d body %s", w.Code, w.Body.String())
	}
	var resp middleware.LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("setup returned no token: %v %s", err, w.Body.String())
	}
	return resp.Token
}

type noopTester struct{}

func (noopTester) SendTest(context.Context, int64) error { return nil }

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return resp.Kind
}

func TestSubmitReturnsTokenOnce(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.submit(t, "alice")

	if len(job.SecureToken) != 2*core.TokenBytes {
		t.Fatalf("unexpected token %q", job.SecureToken)
	}
	want := "https://print.example.com/release/" + job.ID + "?token=" + job.SecureToken
	if job.ReleaseLink != want {
		t.Fatalf("release link = %q, want %q", job.ReleaseLink, want)
	}
	if job.Status != core.JobStatusPending || job.Cost != 1.60 {
		t.Fatalf("unexpected job %+v", job.Job)
	}

	w := s.do(t, http.MethodGet, "/jobs/"+job.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	if strings.Contains(w.Body.String(), job.SecureToken) {
		t.Fatal("job metadata leaked the token")
	}

	w = s.do(t, http.MethodGet, "/jobs", nil, map[string]string{handlers.ActorHeader: "alice"})
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), job.SecureToken) {
		t.Fatalf("list: status %d body %s", w.Code, w.Body.String())
	}
}

func TestListJobsIsScopedToCaller(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.submit(t, "alice")
	bob := s.submit(t, "bob")

	listed := func(w *httptest.ResponseRecorder) []string {
		t.Helper()
		var resp handlers.ListJobsResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode list: %v", err)
		}
		var ids []string
		for _, j := range resp.Jobs {
			ids = append(ids, j.ID)
		}
		return ids
	}

	w := s.do(t, http.MethodGet, "/jobs", nil, map[string]string{handlers.ActorHeader: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("own list: got %d %s", w.Code, w.Body.String())
	}
	if ids := listed(w); len(ids) != 1 || ids[0] != alice.ID {
		t.Fatalf("alice should see only her job, got %v", ids)
	}

	w = s.do(t, http.MethodGet, "/jobs?userId=bob", nil, map[string]string{handlers.ActorHeader: "alice"})
	if w.Code != http.StatusForbidden || errorKind(t, w) != core.KindForbidden {
		t.Fatalf("foreign list: got %d %s", w.Code, w.Body.String())
	}

	for _, path := range []string{"/jobs", "/jobs?userId=bob"} {
		w = s.do(t, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("GET %s without actor: got %d", path, w.Code)
		}
	}

	if w = s.do(t, http.MethodGet, "/admin/jobs", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("operator list without session: got %d", w.Code)
	}
	token := s.login(t)
	w = s.do(t, http.MethodGet, "/admin/jobs?userId=bob", nil, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("operator list: got %d %s", w.Code, w.Body.String())
	}
	if ids := listed(w); len(ids) != 1 || ids[0] != bob.ID {
		t.Fatalf("operator filter by owner, got %v", ids)
	}
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/jobs", handlers.CreateJobRequest{
		UserID:       "alice",
		DocumentName: "empty",
		Pages:        0,
		Document:     handlers.DocumentUpload{Filename: "a.pdf", Content: pdfContent},
	}, nil)
	if w.Code != http.StatusBadRequest || errorKind(t, w) != core.KindValidation {
		t.Fatalf("expected 400 validation_error, got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/jobs", handlers.CreateJobRequest{
		DocumentName: "no user",
		Pages:        1,
		Document:     handlers.DocumentUpload{Filename: "a.pdf", Content: pdfContent},
	}, map[string]string{handlers.ActorHeader: "bob"})
	if w.Code != http.StatusCreated {
		t.Fatalf("actor header should supply userId, got %d %s", w.Code, w.Body.String())
	}
}

func TestSubmitRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t, nil)

	huge := append(append([]byte{}, pdfContent...), bytes.Repeat([]byte("x"), 3<<20)...)
	w := s.do(t, http.MethodPost, "/jobs", handlers.CreateJobRequest{
		UserID:       "alice",
		DocumentName: "huge",
		Pages:        1,
		Document:     handlers.DocumentUpload{Filename: "huge.pdf", MimeType: "application/pdf", Content: huge},
	}, nil)
	if w.Code != http.StatusBadRequest || errorKind(t, w) != core.KindValidation {
		t.Fatalf("expected 400 validation_error, got %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "request body exceeds") {
		t.Fatalf("expected a body size message, got %s", w.Body.String())
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("userId", "alice")
	_ = mw.WriteField("pages", "1")
	part, _ := mw.CreateFormFile("document", "huge.pdf")
	_, _ = part.Write(huge)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || errorKind(t, rec) != core.KindValidation {
		t.Fatalf("multipart: expected 400 validation_error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitMultipart(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("userId", "carol")
	_ = mw.WriteField("pages", "3")
	_ = mw.WriteField("color", "true")
	part, err := mw.CreateFormFile("document", "flyer.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(pdfContent)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		DocumentName string  `json:"documentName"`
		Cost         float64 `json:"cost"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DocumentName != "flyer.pdf" || resp.Cost != 0.60 {
		t.Fatalf("unexpected job %+v", resp)
	}
}

func TestViewIsOneTime(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.submit(t, "alice")
	path := "/jobs/" + job.ID + "/view"

	w := s.do(t, http.MethodPost, path, handlers.ViewJobRequest{Token: strings.Repeat("0", 32)}, nil)
	if w.Code != http.StatusUnauthorized || errorKind(t, w) != core.KindInvalidToken {
		t.Fatalf("wrong token: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, path, handlers.ViewJobRequest{Token: job.SecureToken, UserID: "shop-1"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("view: status %d body %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(w.Body.Bytes(), pdfContent) {
		t.Fatal("view returned different bytes")
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type %q", ct)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("document response must not be cached")
	}

	w = s.do(t, http.MethodPost, path, handlers.ViewJobRequest{Token: job.SecureToken}, nil)
	if w.Code != http.StatusConflict || errorKind(t, w) != core.KindAlreadyViewed {
		t.Fatalf("second view: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, path, map[string]string{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing token: got %d", w.Code)
	}
}

func TestExpiredLinkIsGone(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.submit(t, "alice")

	s.clock.Advance(15 * time.Minute)

	w := s.do(t, http.MethodPost, "/jobs/"+job.ID+"/view", handlers.ViewJobRequest{Token: "bogus"}, nil)
	if w.Code != http.StatusGone || errorKind(t, w) != core.KindExpired {
		t.Fatalf("view after deadline: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/release", handlers.ReleaseJobRequest{Token: job.SecureToken}, nil)
	if w.Code != http.StatusGone {
		t.Fatalf("release after deadline: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", nil, map[string]string{handlers.ActorHeader: "alice"})
	if w.Code != http.StatusGone || errorKind(t, w) != core.KindExpired {
		t.Fatalf("cancel after deadline: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/jobs/missing/view", handlers.ViewJobRequest{Token: "x"}, nil)
	if w.Code != http.StatusGone {
		t.Fatalf("view of unknown job: got %d", w.Code)
	}
	w = s.do(t, http.MethodGet, "/jobs/missing", nil, nil)
	if w.Code != http.StatusNotFound || errorKind(t, w) != core.KindNotFound {
		t.Fatalf("get unknown job: got %d %s", w.Code, w.Body.String())
	}
}

func TestReleaseAndComplete(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.submit(t, "alice")
	base := "/jobs/" + job.ID

	w := s.do(t, http.MethodPost, base+"/release", handlers.ReleaseJobRequest{Token: "nope", PrinterID: "p1"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, base+"/release", handlers.ReleaseJobRequest{Token: job.SecureToken, PrinterID: "p1", ReleasedBy: "op"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("release: status %d body %s", w.Code, w.Body.String())
	}
	var released core.Job
	if err := json.Unmarshal(w.Body.Bytes(), &released); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if released.Status != core.JobStatusReleased || released.PrinterID != "p1" || released.ReleasedAt == nil {
		t.Fatalf("unexpected released job %+v", released)
	}

	w = s.do(t, http.MethodPost, base+"/release", handlers.ReleaseJobRequest{Token: job.SecureToken, PrinterID: "p2"}, nil)
	if w.Code != http.StatusConflict || errorKind(t, w) != core.KindConflict {
		t.Fatalf("second release: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, base+"/complete", handlers.CompleteJobRequest{Token: job.SecureToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/stats", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status %d", w.Code)
	}
	var stats core.Statistics
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus[core.JobStatusCompleted] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCancelAndDeleteRequireOwner(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.submit(t, "alice")
	base := "/jobs/" + job.ID

	w := s.do(t, http.MethodPost, base+"/cancel", nil, map[string]string{handlers.ActorHeader: "mallory"})
	if w.Code != http.StatusForbidden || errorKind(t, w) != core.KindForbidden {
		t.Fatalf("foreign cancel: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodDelete, base+"?userId=alice", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("delete of pending job: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, base+"/cancel", handlers.ActorRequest{UserID: "alice"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodDelete, base, nil, map[string]string{handlers.ActorHeader: "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodDelete, base, nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("delete without actor: got %d", w.Code)
	}
}

func TestOperatorRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.submit(t, "alice")

	for _, path := range []string{"/admin/webhooks", "/admin/config", "/admin/archives", "/jobs/" + job.ID + "/views"} {
		w := s.do(t, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without session: got %d", path, w.Code)
		}
	}

	token := s.login(t)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	s.do(t, http.MethodPost, "/jobs/"+job.ID+"/view", handlers.ViewJobRequest{Token: "wrong"}, nil)
	w := s.do(t, http.MethodGet, "/jobs/"+job.ID+"/views", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("views: got %d %s", w.Code, w.Body.String())
	}
	var views struct {
		Views []core.JobView `json:"views"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode views: %v", err)
	}
	if views.Count != 1 || views.Views[0].Outcome != core.ViewInvalidToken {
		t.Fatalf("unexpected audit trail %+v", views)
	}

	w = s.do(t, http.MethodGet, "/admin/config", nil, bearer)
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "passphrase\":\"") {
		t.Fatalf("config: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/admin/setup", map[string]string{"password": "another one"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second setup: got %d", w.Code)
	}
}

func TestAdminSweep(t *testing.T) {
	s := newTestServer(t, nil)
	job := s.submit(t, "alice")
	bearer := map[string]string{"Authorization": "Bearer " + s.login(t)}

	s.clock.Advance(time.Hour)

	w := s.do(t, http.MethodPost, "/admin/sweep", nil, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep: got %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Swept int `json:"swept"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Swept != 1 {
		t.Fatalf("expected one swept job, got %s", w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/jobs/"+job.ID, nil, nil)
	var got core.Job
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != core.JobStatusDeleted {
		t.Fatalf("status = %s, want deleted", got.Status)
	}

	w = s.do(t, http.MethodPost, "/admin/archives/run", nil, bearer)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("archive run without passphrase: got %d", w.Code)
	}
}

func TestWebhookAdmin(t *testing.T) {
	s := newTestServer(t, nil)
	bearer := map[string]string{"Authorization": "Bearer " + s.login(t)}

	w := s.do(t, http.MethodPost, "/admin/webhooks", handlers.CreateWebhookRequest{
		Name: "bad", URL: "https://hooks.example.com/x", Events: []string{"job_exploded"},
	}, bearer)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid event: got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/admin/webhooks", handlers.CreateWebhookRequest{
		Name: "ops", URL: "https://hooks.example.com/x", Secret: "s3cret", Events: []string{"job_released"},
	}, bearer)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "s3cret") {
		t.Fatal("webhook secret echoed back")
	}
	var created handlers.WebhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !created.HasSecret || !created.Enabled {
		t.Fatalf("unexpected webhook %+v", created)
	}

	w = s.do(t, http.MethodPost, "/admin/webhooks/999/test", nil, bearer)
	if w.Code != http.StatusNotFound {
		t.Fatalf("test unknown webhook: got %d", w.Code)
	}

	w = s.do(t, http.MethodDelete, "/admin/webhooks/999", nil, bearer)
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete unknown webhook: got %d", w.Code)
	}
}

func TestAttemptsAreRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bucket := ratelimit.NewTokenBucket(client, 2, 0.001, time.Minute, nil)
	s := newTestServer(t, bucket)
	job := s.submit(t, "alice")

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/jobs/"+job.ID+"/view", handlers.ViewJobRequest{Token: "guess"}, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: got %d", i+1, w.Code)
		}
	}

	w := s.do(t, http.MethodPost, "/jobs/"+job.ID+"/view", handlers.ViewJobRequest{Token: job.SecureToken}, nil)
	if w.Code != http.StatusTooManyRequests || errorKind(t, w) != "rate_limited" {
		t.Fatalf("third attempt: got %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/jobs/"+job.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metadata reads are not limited, got %d", w.Code)
	}
}
