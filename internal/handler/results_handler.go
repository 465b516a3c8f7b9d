package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
)

// Export formats accepted by ResultsHandler.Export.
const (
	exportFormatCSV  = "csv"
	exportFormatJSON = "json"
)

// ResultsHandler serves the read side of graded submissions: the ranked
// leaderboard for students and the results export for staff.
type ResultsHandler struct {
	examService        *service.ExamService
	submissionService  *service.SubmissionService
	leaderboardService *service.LeaderboardService
	log                zerolog.Logger
}

// NewResultsHandler creates a new ResultsHandler.
func NewResultsHandler(
	examService *service.ExamService,
	submissionService *service.SubmissionService,
	leaderboardService *service.LeaderboardService,
	log zerolog.Logger,
) *ResultsHandler {
	return &ResultsHandler{
		examService:        examService,
		submissionService:  submissionService,
		leaderboardService: leaderboardService,
		log:                log.With().Str("component", "results_handler").Logger(),
	}
}

// Leaderboard godoc
// GET /api/v1/student/exams/:exam_id/leaderboard
// Returns the top ranked submissions of a published exam.
func (h *ResultsHandler) Leaderboard(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.GetExam(c.Request.Context(), examID)
	if err != nil {
		h.failLoad(c, err)
		return
	}
	if exam.Status != model.ExamStatusPublished {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		return
	}

	entries, cached, err := h.leaderboardService.Leaderboard(c.Request.Context(), examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Leaderboard failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"leaderboard": entries,
		"cached":      cached,
		"cache_ttl":   int(h.leaderboardService.TTL().Seconds()),
	})
}

// exportReport is the JSON form of a results export.
type exportReport struct {
	Exam             exportExam        `json:"exam"`
	TotalSubmissions int               `json:"total_submissions"`
	ExportedAt       string            `json:"exported_at"`
	Data             []model.ResultRow `json:"data"`
}

type exportExam struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Duration       int       `json:"duration"`
	TotalQuestions int       `json:"total_questions"`
}

// Export godoc
// GET /api/v1/admin/exams/:id/export?format=csv|json
// Exports every submission of an exam, best score first. CSV is the default.
func (h *ResultsHandler) Export(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	format := c.DefaultQuery("format", exportFormatCSV)
	if format != exportFormatCSV && format != exportFormatJSON {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"format": "format must be one of [csv json]",
		})
		return
	}

	exam, err := h.examService.GetExam(c.Request.Context(), examID)
	if err != nil {
		h.failLoad(c, err)
		return
	}

	subs, err := h.submissionService.ListForExam(c.Request.Context(), examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Export submissions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	rows := model.NewResultRows(subs)

	if format == exportFormatJSON {
		// Unreadable key entries are reported when the key is cached.
		key, _ := exam.AnswerKey()
		response.Success(c, http.StatusOK, exportReport{
			Exam: exportExam{
				ID:             exam.ID,
				Title:          exam.Title,
				Duration:       exam.DurationMinutes,
				TotalQuestions: key.TotalQuestions(),
			},
			TotalSubmissions: len(rows),
			ExportedAt:       time.Now().UTC().Format(time.RFC3339),
			Data:             rows,
		})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="hasil-%s.csv"`, examID))
	c.Status(http.StatusOK)
	if err := writeResultsCSV(c.Writer, rows); err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Write CSV export failed")
	}
}

func (h *ResultsHandler) failLoad(c *gin.Context, err error) {
	if errors.Is(err, service.ErrExamNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	h.log.Error().Err(err).Msg("Load exam failed")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}

// resultsCSVHeader names the export columns. The keys match the JSON export.
var resultsCSVHeader = []string{
	"rank", "submission_id", "student_id", "attempt_number", "score",
	"correct_count", "total_questions", "mc_correct", "tf_correct", "sa_correct",
	"time_spent_seconds", "time_spent_formatted", "submitted_at", "reason", "is_ranked",
	"cheat_flags_tab_switches", "cheat_flags_multi_browser",
	"tab_switches", "fullscreen_exits", "copy_attempts",
	"look_away_count", "phone_count", "multi_face_count",
}

// writeResultsCSV writes rows with a UTF-8 byte order mark so spreadsheet
// tools detect the encoding.
func writeResultsCSV(w io.Writer, rows []model.ResultRow) error {
	if _, err := io.WriteString(w, "\uFEFF"); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(resultsCSVHeader); err != nil {
		return err
	}

	num := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Rank),
			r.SubmissionID.String(),
			strconv.Itoa(r.StudentID),
			strconv.Itoa(r.AttemptNumber),
			strconv.FormatFloat(r.Score, 'f', 2, 64),
			strconv.Itoa(r.CorrectCount),
			strconv.Itoa(r.TotalQuestions),
			num(r.MCCorrect),
			num(r.TFCorrect),
			num(r.SACorrect),
			strconv.Itoa(r.TimeSpentSeconds),
			r.TimeSpentFormatted,
			r.SubmittedAt,
			string(r.Reason),
			strconv.FormatBool(r.IsRanked),
			strconv.Itoa(r.CheatFlags.TabSwitches),
			strconv.FormatBool(r.CheatFlags.MultiBrowser),
			strconv.Itoa(r.TabSwitches),
			strconv.Itoa(r.FullscreenExits),
			strconv.Itoa(r.CopyAttempts),
			strconv.Itoa(r.LookAwayCount),
			strconv.Itoa(r.PhoneCount),
			strconv.Itoa(r.MultiFaceCount),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
