package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
)

// ExamHandler handles admin endpoints that act on an exam's grading.
type ExamHandler struct {
	examService       *service.ExamService
	submissionService *service.SubmissionService
	regradeService    *service.RegradeService
	log               zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(
	examService *service.ExamService,
	submissionService *service.SubmissionService,
	regradeService *service.RegradeService,
	log zerolog.Logger,
) *ExamHandler {
	return &ExamHandler{
		examService:       examService,
		submissionService: submissionService,
		regradeService:    regradeService,
		log:               log.With().Str("component", "exam_handler").Logger(),
	}
}

// ListSubmissions godoc
// GET /api/v1/admin/exams/:id/submissions
// Lists every submission of an exam with its integrity record, paginated.
func (h *ExamHandler) ListSubmissions(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}

	subs, err := h.submissionService.ListForExam(c.Request.Context(), examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("List submissions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	total := len(subs)
	start, end := pageBounds(total, page, perPage)

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"submissions": subs[start:end]}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(perPage))),
	})
}

// pageBounds returns the slice bounds of a page. Pages past the end are
// empty; page is bounded before multiplying so huge values cannot overflow.
func pageBounds(total, page, perPage int) (start, end int) {
	pages := (total + perPage - 1) / perPage
	start = min(page-1, pages) * perPage
	start = min(start, total)
	return start, min(start+perPage, total)
}

// Regrade godoc
// POST /api/v1/admin/exams/:id/regrade
// Queues a regrade of every submission against the current key.
func (h *ExamHandler) Regrade(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.examService.GetExam(c.Request.Context(), examID); err != nil {
		h.failExam(c, err)
		return
	}

	if err := h.regradeService.Enqueue(c.Request.Context(), examID, claims.UserID); err != nil {
		if errors.Is(err, service.ErrRegradeInProgress) {
			response.Fail(c, http.StatusConflict, response.ErrRegradeAlreadyQueued)
			return
		}
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Queue regrade failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// RefreshKey godoc
// POST /api/v1/admin/exams/:id/refresh-key
// Reloads the answer key from the database into the cache after an edit.
func (h *ExamHandler) RefreshKey(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	key, err := h.examService.RefreshKey(c.Request.Context(), examID)
	if err != nil {
		h.failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"exam_id":         key.ExamID,
		"is_published":    key.IsPublished,
		"total_questions": key.TotalQuestions(),
		"max_attempts":    key.MaxAttempts,
	})
}

func (h *ExamHandler) failExam(c *gin.Context, err error) {
	if errors.Is(err, service.ErrExamNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	h.log.Error().Err(err).Msg("Load exam failed")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}
