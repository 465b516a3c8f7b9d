package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/database"
	"github.com/stemsi/exstem-guard/internal/handler"
	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/repository"
	"github.com/stemsi/exstem-guard/internal/service"
	"github.com/stemsi/exstem-guard/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

func newRouter(t *testing.T, submitLimit int) (http.Handler, *service.AuthService, *repository.SQLiteStore) {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store := repository.NewSQLiteStore(db)

	log := zerolog.Nop()
	cfg := &config.Config{GinMode: "test", JWTSecret: "router-secret", JWTExpiry: time.Hour}
	auth := service.NewAuthService(cfg, nil)
	exams := service.NewExamService(store, nil, time.Minute, log)
	subs := service.NewSubmissionService(exams, store, service.SubmissionOptions{Sessions: store}, log)

	handlers := &Handlers{
		Submission: handler.NewSubmissionHandler(subs, log),
		Exam:       handler.NewExamHandler(exams, subs, service.NewRegradeService(nil, subs), log),
		Monitor:    handler.NewMonitorHandler(exams, nil, log),
		Results:    handler.NewResultsHandler(exams, subs, service.NewLeaderboardService(store, nil, 0, log), log),
		WS:         handler.NewWSHandler(handler.WSDeps{Exams: exams, Submissions: subs}, cfg.Proctoring, log, nil),
	}
	limiter := middleware.NewRateLimiter(nil, submitLimit, log)
	return SetupRouter(auth, handlers, limiter, cfg, log), auth, store
}

func serve(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

func TestHealth(t *testing.T) {
	r, _, _ := newRouter(t, 0)
	w := serve(r, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestRouteGuards(t *testing.T) {
	r, auth, _ := newRouter(t, 0)
	student, err := auth.GenerateStudentToken(context.Background(), 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	reader, err := auth.GenerateAdminToken(1, 1, []string{string(model.PermissionExamsRead)})
	if err != nil {
		t.Fatal(err)
	}
	examPath := "/api/v1/admin/exams/00000000-0000-0000-0000-000000000001"

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		code   string
	}{
		{"submit without token", http.MethodPost, "/api/v1/student/exams/submit", "", http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"submit as admin", http.MethodPost, "/api/v1/student/exams/submit", reader, http.StatusForbidden, "STUDENT_ACCESS_ONLY"},
		{"admin list as student", http.MethodGet, examPath + "/submissions", student, http.StatusForbidden, "ADMIN_ACCESS_ONLY"},
		{"regrade without permission", http.MethodPost, examPath + "/regrade", reader, http.StatusForbidden, "PERMISSION_DENIED"},
		{"refresh without permission", http.MethodPost, examPath + "/refresh-key", reader, http.StatusForbidden, "PERMISSION_DENIED"},
		{"admin list allowed", http.MethodGet, examPath + "/submissions", reader, http.StatusOK, ""},
		{"export as student", http.MethodGet, examPath + "/export", student, http.StatusForbidden, "ADMIN_ACCESS_ONLY"},
		{"export of unknown exam", http.MethodGet, examPath + "/export?format=json", reader, http.StatusNotFound, "NOT_FOUND"},
		{"leaderboard without token", http.MethodGet, "/api/v1/student/exams/00000000-0000-0000-0000-000000000001/leaderboard", "", http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"leaderboard as admin", http.MethodGet, "/api/v1/student/exams/00000000-0000-0000-0000-000000000001/leaderboard", reader, http.StatusForbidden, "STUDENT_ACCESS_ONLY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, tt.token, "{}")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q", cc)
			}
		})
	}
}

func TestSubmitRateLimited(t *testing.T) {
	r, auth, _ := newRouter(t, 2)
	token, err := auth.GenerateStudentToken(context.Background(), 8, 1)
	if err != nil {
		t.Fatal(err)
	}

	// Invalid bodies still count against the limit.
	for i := 0; i < 2; i++ {
		if w := serve(r, http.MethodPost, "/api/v1/student/exams/submit", token, "{}"); w.Code != http.StatusBadRequest {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	w := serve(r, http.MethodPost, "/api/v1/student/exams/submit", token, "{}")
	if w.Code != http.StatusTooManyRequests || errorCode(t, w) != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("third request = %d %s", w.Code, w.Body.String())
	}
}
