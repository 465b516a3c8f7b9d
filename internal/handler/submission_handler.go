package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
	"github.com/stemsi/exstem-guard/internal/validator"
)

// SubmissionHandler handles student submission endpoints.
type SubmissionHandler struct {
	submissionService *service.SubmissionService
	log               zerolog.Logger
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(submissionService *service.SubmissionService, log zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submissionService: submissionService,
		log:               log.With().Str("component", "submission_handler").Logger(),
	}
}

// Submit godoc
// POST /api/v1/student/exams/submit
// Grades the attempt against the server-held key and stores it.
func (h *SubmissionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitRequest
	if fields, malformed := validator.Bind(c, &req); fields != nil {
		if malformed {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
			return
		}
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	in, err := submitInput(&req, claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	sub, err := h.submissionService.Submit(c.Request.Context(), in)
	if err != nil {
		status, code := submitError(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).
				Int("student_id", claims.UserID).
				Str("exam_id", req.ExamID).
				Msg("Submit failed")
		}
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, model.NewSubmitResponse(sub))
}

// submitInput converts a validated request. Only the integrity record can
// still be malformed here; the answer sections are decoded leniently.
func submitInput(req *model.SubmitRequest, studentID int) (model.SubmitInput, error) {
	in := model.SubmitInput{
		ExamID:           uuid.MustParse(req.ExamID),
		StudentID:        studentID,
		Answers:          model.DecodeAnswers(req.MCAnswers, req.TFAnswers, req.SAAnswers),
		TimeSpentSeconds: req.TimeSpent,
		Reason:           req.Reason,
	}
	if req.SessionID != nil {
		id := uuid.MustParse(*req.SessionID)
		in.SessionID = &id
	}
	if req.CheatFlags != nil {
		in.CheatFlags = *req.CheatFlags
	}
	if len(req.Integrity) > 0 && string(req.Integrity) != "null" {
		var snap model.IntegritySnapshot
		if err := json.Unmarshal(req.Integrity, &snap); err != nil {
			return in, err
		}
		in.Integrity = &snap
	}
	return in, nil
}

// ListMine godoc
// GET /api/v1/student/exams/:exam_id/submissions
// Returns the student's own attempts at an exam.
func (h *SubmissionHandler) ListMine(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	subs, err := h.submissionService.ListMine(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("List submissions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submissions": subs})
}
