package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/guard"
	"github.com/stemsi/exstem-guard/internal/middleware"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/proctor"
	"github.com/stemsi/exstem-guard/internal/repository"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
	"github.com/stemsi/exstem-guard/internal/session"
	ws "github.com/stemsi/exstem-guard/internal/websocket"
)

// publishTimeout bounds monitor feed writes made off the event path.
const publishTimeout = 5 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs proctored exam sessions over WebSocket.
type WSHandler struct {
	examService       *service.ExamService
	submissionService *service.SubmissionService
	monitorService    *service.MonitorService
	autosaveService   *service.AutosaveService
	sessions          service.SessionStore
	proctoring        config.ProctoringConfig
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// WSDeps are the collaborators of a WSHandler. Monitor, Autosave and
// Sessions may be nil.
type WSDeps struct {
	Exams       *service.ExamService
	Submissions *service.SubmissionService
	Monitor     *service.MonitorService
	Autosave    *service.AutosaveService
	Sessions    service.SessionStore
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(deps WSDeps, proctoring config.ProctoringConfig, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		examService:       deps.Exams,
		submissionService: deps.Submissions,
		monitorService:    deps.Monitor,
		autosaveService:   deps.Autosave,
		sessions:          deps.Sessions,
		proctoring:        proctoring,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/student/exams/:exam_id/stream?token=...&session_id=...
// Runs one proctored session: the client reports page and camera signals and
// autosaves answers; the server warns, terminates and grades.
func (h *WSHandler) ExamStream(c *gin.Context) {
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

	var sessionID *uuid.UUID
	if raw := c.Query("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		sessionID = &id
	}

	ctx := c.Request.Context()
	studentID := claims.UserID

	// Refuse before upgrading when the exam cannot be taken right now.
	key, err := h.examService.AnswerKey(ctx, examID)
	if err != nil && !errors.Is(err, service.ErrExamNotFound) {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Load answer key failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if key == nil || !key.IsPublished {
		status, code := submitError(guard.ErrExamNotFoundOrUnpublished)
		response.Fail(c, status, code)
		return
	}
	if err := guard.CheckWindow(key.Window, time.Now()); err != nil {
		status, code := submitError(err)
		response.Fail(c, status, code)
		return
	}
	duration, err := h.remaining(ctx, key, sessionID, studentID)
	if err != nil {
		status, code := submitError(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("Load exam session failed")
		}
		response.Fail(c, status, code)
		return
	}

	rawConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(rawConn)

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	settings := resolveProctoring(h.proctoring, key.CheatRules)
	coord := session.New(session.Config{
		ExamID:     examID,
		StudentID:  studentID,
		SessionID:  sessionID,
		Duration:   duration,
		Thresholds: settings.thresholds,
	}, h.submissionService, wsLog)

	if h.autosaveService != nil {
		if answers, err := h.autosaveService.Load(ctx, examID, studentID); err != nil {
			wsLog.Warn().Err(err).Msg("Failed to restore autosaved answers")
		} else if answers != nil {
			coord.SetAnswers(*answers)
		}
	}

	// Only the writer goroutine writes to the socket, so proctoring
	// callbacks never wait on the network.
	out := make(chan any, 32)
	stop := make(chan struct{})
	finished := make(chan struct{})
	writerDone := make(chan struct{})
	send := func(v any) {
		select {
		case out <- v:
		case <-stop:
		}
	}
	go func() {
		defer close(writerDone)
		write := func(v any) {
			if err := conn.WriteTyped(v); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
			}
		}
		for {
			select {
			case v := <-out:
				write(v)
			case <-stop:
				for {
					select {
					case v := <-out:
						write(v)
					default:
						return
					}
				}
			}
		}
	}()
	shutdown := sync.OnceFunc(func() {
		close(stop)
		<-writerDone
		conn.Close()
	})

	h.wireSession(coord, examID, studentID, send, finished, wsLog)

	bus := proctor.NewBus()
	coord.Start(ctx, settings.sources(bus, coord.Tasks())...)

	send(h.readyResponse(coord, duration))
	wsLog.Info().Dur("duration", duration).Bool("camera", settings.camera).Msg("Student connected")

	// Close the socket once the session is graded, however it ended.
	readDone := make(chan struct{})
	go func() {
		select {
		case <-finished:
			shutdown()
		case <-readDone:
		}
	}()

	h.readLoop(ctx, conn, coord, bus, send, examID, studentID, sessionID, wsLog)
	close(readDone)

	// A disconnect before submitting abandons the session; the student may
	// reconnect and continue from the autosaved answers.
	coord.Close()
	shutdown()
}

// wireSession forwards monitor callbacks to the client and the live monitor.
func (h *WSHandler) wireSession(coord *session.Coordinator, examID uuid.UUID, studentID int, send func(any), finished chan struct{}, wsLog zerolog.Logger) {
	coord.Recorder().SetSink(func(ev model.ViolationEvent) {
		h.publish(wsLog, func(ctx context.Context) error {
			return h.monitorService.PublishViolation(ctx, examID, studentID, ev)
		})
	})

	coord.Monitor().OnWarning(func(ev model.ViolationEvent, counts model.IntegritySnapshot) {
		send(ws.ViolationResponse{Event: ws.EventWarning, Kind: ev.Kind, Counts: counts.Counts()})
		h.publish(wsLog, func(ctx context.Context) error {
			return h.monitorService.PublishWarning(ctx, examID, studentID, ev, counts.Counts())
		})
	})

	coord.OnTerminate(func(ev model.ViolationEvent, counts model.IntegritySnapshot) {
		send(ws.ViolationResponse{Event: ws.EventTerminated, Kind: ev.Kind, Counts: counts.Counts()})
		h.publish(wsLog, func(ctx context.Context) error {
			return h.monitorService.PublishTerminated(ctx, examID, studentID, ev, counts.Counts())
		})
	})

	coord.OnFinish(func(out session.Outcome) {
		if out.Err != nil {
			_, code := submitError(out.Err)
			send(ws.ErrorResponse{Event: ws.EventError, Code: string(code), Error: response.GetMessage(code)})
		} else {
			send(ws.GradedResponse{
				Event:  ws.EventGraded,
				Reason: out.Reason,
				Result: model.NewSubmitResponse(out.Submission),
			})
		}
		close(finished)
	})
}

// publish runs a monitor feed write in the background.
func (h *WSHandler) publish(wsLog zerolog.Logger, fn func(ctx context.Context) error) {
	if h.monitorService == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			wsLog.Warn().Err(err).Msg("Monitor feed publish failed")
		}
	}()
}

func (h *WSHandler) readyResponse(coord *session.Coordinator, duration time.Duration) ws.ReadyResponse {
	statuses := coord.Monitor().Statuses()
	sources := make([]ws.SourceState, 0, len(statuses))
	for _, s := range statuses {
		state := ws.SourceState{Name: s.Name, Running: s.Running}
		if s.Err != nil {
			state.Error = s.Err.Error()
		}
		sources = append(sources, state)
	}
	th := coord.Monitor().Thresholds()
	return ws.ReadyResponse{
		Event:               ws.EventReady,
		Sources:             sources,
		MaxFocusViolations:  th.MaxFocusViolations,
		MaxLookAwayWarnings: th.MaxLookAwayWarnings,
		RemainingSeconds:    int(duration / time.Second),
	}
}

func (h *WSHandler) readLoop(
	ctx context.Context,
	conn *ws.Conn,
	coord *session.Coordinator,
	bus *proctor.Bus,
	send func(any),
	examID uuid.UUID,
	studentID int,
	sessionID *uuid.UUID,
	wsLog zerolog.Logger,
) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !coord.Closed() {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "invalid message"})
			continue
		}

		switch env.Action {
		case ws.ActionSignal:
			var req ws.SignalRequest
			if err := json.Unmarshal(data, &req); err != nil {
				send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "invalid signal"})
				continue
			}
			sig, ok := req.Signal()
			if !ok {
				send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "unknown signal type: " + string(req.Type)})
				continue
			}
			bus.Publish(sig)

		case ws.ActionAutosave:
			var req ws.AnswersRequest
			_ = json.Unmarshal(data, &req)
			answers := req.Answers()
			coord.SetAnswers(answers)
			if h.autosaveService != nil {
				payload := model.AutosavePayload{ExamID: examID.String(), StudentID: studentID, Answers: answers}
				if sessionID != nil {
					payload.SessionID = sessionID.String()
				}
				if err := h.autosaveService.Save(ctx, payload); err != nil {
					wsLog.Error().Err(err).Msg("Autosave failed")
					send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInternal), Error: "save failed"})
					continue
				}
			}
			send(ws.SavedResponse{Event: ws.EventSaved, Answered: answers.Answered()})

		case ws.ActionSubmit:
			var req ws.AnswersRequest
			_ = json.Unmarshal(data, &req)
			// The outcome reaches the client through OnFinish.
			coord.Submit(ctx, req.Answers())
			return

		case ws.ActionPing:
			send(ws.PongResponse{Event: ws.EventPong})

		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			send(ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "unknown action: " + string(env.Action)})
		}
	}
}

// remaining is how long the session may still run: the exam duration minus
// time already spent in the session, capped by the end of the window.
// Zero means no timeout.
func (h *WSHandler) remaining(ctx context.Context, key *model.AnswerKey, sessionID *uuid.UUID, studentID int) (time.Duration, error) {
	d := time.Duration(key.DurationMinutes) * time.Minute

	if sessionID != nil && h.sessions != nil {
		sess, err := h.sessions.GetSession(ctx, *sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, service.ErrSessionNotFound
		}
		if err != nil {
			return 0, err
		}
		if sess.ExamID != key.ExamID || sess.StudentID != studentID {
			return 0, service.ErrSessionNotFound
		}
		if sess.Status == model.SessionStatusCompleted {
			return 0, service.ErrSessionClosed
		}
		if d > 0 {
			d -= time.Since(sess.StartedAt)
		}
	}

	if key.Window != nil && key.Window.End != nil {
		untilEnd := time.Until(*key.Window.End)
		if d == 0 || untilEnd < d {
			d = untilEnd
		}
	}

	// Time already ran out: submit the autosaved answers right away.
	if d != 0 && d < time.Second {
		d = time.Second
	}
	return d, nil
}
