package handler

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
)

// gradedBody is a submit payload scoring 10 when perfect and 6.88 otherwise
// against the key of testEnv.seedExam.
func gradedBody(examID uuid.UUID, perfect bool, timeSpent int, extra string) string {
	mc, c, sa := `["A", "C"]`, "false", "104,9"
	if perfect {
		mc, c, sa = `["A", "B"]`, "true", "100"
	}
	return fmt.Sprintf(`{
		"exam_id": %q,
		"mc_answers": %s,
		"tf_answers": [{"question": 1, "a": true, "b": false, "c": %s, "d": false}],
		"sa_answers": [{"question": 1, "answer": %q}],
		"time_spent": %d%s
	}`, examID, mc, c, sa, timeSpent, extra)
}

func (e *testEnv) submit(t *testing.T, studentID int, body string) {
	t.Helper()
	status, res := e.do(t, http.MethodPost, "/api/v1/student/exams/submit", e.studentToken(t, studentID), body)
	if status != http.StatusOK {
		t.Fatalf("submit for student %d = %d %+v", studentID, status, res.Error)
	}
}

type leaderboardBody struct {
	Leaderboard []model.LeaderboardEntry `json:"leaderboard"`
	Cached      bool                     `json:"cached"`
	CacheTTL    int                      `json:"cache_ttl"`
}

func (e *testEnv) leaderboard(t *testing.T, examID uuid.UUID) leaderboardBody {
	t.Helper()
	status, res := e.do(t, http.MethodGet, "/api/v1/student/exams/"+examID.String()+"/leaderboard", e.studentToken(t, 99), "")
	if status != http.StatusOK {
		t.Fatalf("leaderboard = %d %+v", status, res.Error)
	}
	var body leaderboardBody
	if err := json.Unmarshal(res.Data, &body); err != nil {
		t.Fatal(err)
	}
	return body
}

func studentOrder(entries []model.LeaderboardEntry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.StudentID
	}
	return out
}

func TestLeaderboardRanksAndCaches(t *testing.T) {
	env := newEnv(t)
	exam := env.seedExam(t, func(e *model.Exam) { e.MaxAttempts = 2 })

	env.submit(t, 1, gradedBody(exam.ID, true, 300, ""))
	env.submit(t, 2, gradedBody(exam.ID, true, 200, ""))
	env.submit(t, 3, gradedBody(exam.ID, false, 100, ""))
	// A retake without a session and a heavy cheater never rank.
	env.submit(t, 3, gradedBody(exam.ID, true, 10, ""))
	env.submit(t, 5, gradedBody(exam.ID, true, 5, `, "cheat_flags": {"tab_switches": 6}`))

	first := env.leaderboard(t, exam.ID)
	if first.Cached || first.CacheTTL != 30 {
		t.Errorf("cached = %v ttl = %d, want fresh with ttl 30", first.Cached, first.CacheTTL)
	}
	if got := fmt.Sprint(studentOrder(first.Leaderboard)); got != "[2 1 3]" {
		t.Fatalf("order = %s, want [2 1 3]", got)
	}
	top := first.Leaderboard[0]
	if top.Rank != 1 || top.Score != 10 || top.TimeSpent != 200 || top.AttemptNumber != 1 {
		t.Errorf("top entry = %+v", top)
	}
	if first.Leaderboard[2].Rank != 3 || first.Leaderboard[2].Score != 6.88 {
		t.Errorf("last entry = %+v", first.Leaderboard[2])
	}

	env.submit(t, 4, gradedBody(exam.ID, true, 50, ""))

	cached := env.leaderboard(t, exam.ID)
	if !cached.Cached || len(cached.Leaderboard) != 3 {
		t.Errorf("within ttl: cached = %v entries = %d, want the cached 3", cached.Cached, len(cached.Leaderboard))
	}

	env.redis.FastForward(31 * time.Second)

	fresh := env.leaderboard(t, exam.ID)
	if fresh.Cached {
		t.Error("leaderboard served from an expired cache")
	}
	if got := fmt.Sprint(studentOrder(fresh.Leaderboard)); got != "[4 2 1 3]" {
		t.Errorf("order after expiry = %s, want [4 2 1 3]", got)
	}
}

func TestLeaderboardUnavailableExam(t *testing.T) {
	env := newEnv(t)
	draft := env.seedExam(t, func(e *model.Exam) { e.Status = model.ExamStatusDraft })
	token := env.studentToken(t, 1)

	tests := []struct {
		name   string
		path   string
		status int
		code   response.ErrCode
	}{
		{"draft", "/api/v1/student/exams/" + draft.ID.String() + "/leaderboard", http.StatusNotFound, response.ErrExamNotAvailable},
		{"unknown", "/api/v1/student/exams/" + uuid.NewString() + "/leaderboard", http.StatusNotFound, response.ErrNotFound},
		{"bad id", "/api/v1/student/exams/nope/leaderboard", http.StatusBadRequest, response.ErrInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := env.do(t, http.MethodGet, tt.path, token, "")
			if status != tt.status || res.Error == nil || res.Error.Code != tt.code {
				t.Errorf("got %d %+v, want %d %s", status, res.Error, tt.status, tt.code)
			}
		})
	}
}

func TestExportJSON(t *testing.T) {
	env := newEnv(t)
	exam := env.seedExam(t, func(e *model.Exam) { e.MaxAttempts = 2 })

	env.submit(t, 1, gradedBody(exam.ID, false, 125, `, "cheat_flags": {"tab_switches": 2, "multi_browser": true}`))
	env.submit(t, 1, gradedBody(exam.ID, true, 90, ""))
	env.submit(t, 2, gradedBody(exam.ID, true, 60, ""))

	status, res := env.do(t, http.MethodGet, "/api/v1/admin/exams/"+exam.ID.String()+"/export?format=json", env.adminToken(t), "")
	if status != http.StatusOK {
		t.Fatalf("export = %d %+v", status, res.Error)
	}
	var report struct {
		Exam struct {
			ID             uuid.UUID `json:"id"`
			Title          string    `json:"title"`
			TotalQuestions int       `json:"total_questions"`
		} `json:"exam"`
		TotalSubmissions int               `json:"total_submissions"`
		Data             []model.ResultRow `json:"data"`
	}
	if err := json.Unmarshal(res.Data, &report); err != nil {
		t.Fatal(err)
	}

	if report.Exam.ID != exam.ID || report.Exam.Title != "Kimia" || report.Exam.TotalQuestions != 4 {
		t.Errorf("exam = %+v", report.Exam)
	}
	if report.TotalSubmissions != 3 || len(report.Data) != 3 {
		t.Fatalf("rows = %d/%d, want 3", report.TotalSubmissions, len(report.Data))
	}

	// Best score first, faster first among equal scores.
	first, second, last := report.Data[0], report.Data[1], report.Data[2]
	if first.StudentID != 2 || first.Rank != 1 || !first.IsRanked {
		t.Errorf("first row = %+v", first)
	}
	if second.StudentID != 1 || second.AttemptNumber != 2 || second.IsRanked {
		t.Errorf("second row = %+v, want student 1's unranked retake", second)
	}
	if last.AttemptNumber != 1 || last.Score != 6.88 || last.TimeSpentFormatted != "2:05" {
		t.Errorf("last row = %+v", last)
	}
	if !last.CheatFlags.MultiBrowser || last.CheatFlags.TabSwitches != 2 {
		t.Errorf("cheat flags = %+v", last.CheatFlags)
	}
}

func TestExportCSV(t *testing.T) {
	env := newEnv(t)
	exam := env.seedExam(t, nil)
	env.submit(t, 1, gradedBody(exam.ID, false, 300, ""))
	env.submit(t, 2, gradedBody(exam.ID, true, 61, ""))

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/admin/exams/"+exam.ID.String()+"/export", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+env.adminToken(t))
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, exam.ID.String()+".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	bom := []byte("\xef\xbb\xbf")
	if !bytes.HasPrefix(raw, bom) {
		t.Fatalf("export does not start with a byte order mark: %q", raw[:min(len(raw), 8)])
	}
	records, err := csv.NewReader(bytes.NewReader(raw[len(bom):])).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 3 {
		t.Fatalf("records = %d, want header and 2 rows", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(resultsCSVHeader, ",") {
		t.Errorf("header = %v", records[0])
	}
	col := func(name string) int {
		for i, h := range resultsCSVHeader {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %q", name)
		return -1
	}
	top := records[1]
	if top[col("rank")] != "1" || top[col("student_id")] != "2" || top[col("score")] != "10.00" {
		t.Errorf("top row = %v", top)
	}
	if top[col("time_spent_formatted")] != "1:01" || top[col("is_ranked")] != "true" || top[col("tf_correct")] != "1" {
		t.Errorf("top row = %v", top)
	}
	if records[2][col("tf_correct")] != "0.75" {
		t.Errorf("tf credit = %q, want 0.75", records[2][col("tf_correct")])
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	env := newEnv(t)
	exam := env.seedExam(t, nil)

	status, res := env.do(t, http.MethodGet, "/api/v1/admin/exams/"+exam.ID.String()+"/export?format=xlsx", env.adminToken(t), "")
	if status != http.StatusBadRequest || res.Error == nil || res.Error.Code != response.ErrValidation {
		t.Fatalf("export = %d %+v", status, res.Error)
	}
	if res.Error.Fields["format"] == "" {
		t.Errorf("fields = %v", res.Error.Fields)
	}

	status, res = env.do(t, http.MethodGet, "/api/v1/admin/exams/"+uuid.NewString()+"/export", env.adminToken(t), "")
	if status != http.StatusNotFound || res.Error == nil || res.Error.Code != response.ErrNotFound {
		t.Errorf("unknown exam = %d %+v", status, res.Error)
	}
}
