// Package session coordinates one student's exam-taking session: it owns the
// violation monitor, the scheduled checks and the exam timeout, and makes sure
// the attempt is submitted at most once whichever way the session ends.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/proctor"
)

// ErrClosed is returned by Submit after the session was abandoned.
var ErrClosed = errors.New("session closed without submitting")

// forcedSubmitTimeout bounds submissions started by the monitor or the timeout.
const forcedSubmitTimeout = 30 * time.Second

// Submitter persists a graded submission.
type Submitter interface {
	Submit(ctx context.Context, in model.SubmitInput) (*model.Submission, error)
}

// Config describes the session being coordinated.
type Config struct {
	ExamID     uuid.UUID
	StudentID  int
	SessionID  *uuid.UUID
	Duration   time.Duration
	Thresholds proctor.Thresholds
	Clock      proctor.Clock
}

// Outcome is how the session ended.
type Outcome struct {
	Reason     model.SubmitReason
	Submission *model.Submission
	Err        error
}

// Coordinator drives a single exam-taking session.
type Coordinator struct {
	cfg       Config
	submitter Submitter
	log       zerolog.Logger

	clock     proctor.Clock
	tasks     *proctor.TaskGroup
	recorder  *proctor.Recorder
	monitor   *proctor.Monitor
	startedAt time.Time
	baseCtx   context.Context

	mu          sync.Mutex
	answers     model.Answers
	onFinish    func(Outcome)
	onTerminate proctor.TerminateFunc

	once    sync.Once
	done    chan struct{}
	outcome Outcome
	closed  bool
}

// New creates a coordinator. Nothing runs until Start.
func New(cfg Config, submitter Submitter, log zerolog.Logger) *Coordinator {
	clock := cfg.Clock
	if clock == nil {
		clock = proctor.SystemClock()
	}
	recorder := proctor.NewRecorder(clock)

	return &Coordinator{
		cfg:       cfg,
		submitter: submitter,
		log: log.With().
			Str("component", "session").
			Str("exam_id", cfg.ExamID.String()).
			Int("student_id", cfg.StudentID).
			Logger(),
		clock:    clock,
		tasks:    proctor.NewTaskGroup(clock),
		recorder: recorder,
		monitor:  proctor.NewMonitor(recorder, cfg.Thresholds),
		done:     make(chan struct{}),
		baseCtx:  context.Background(),
	}
}

// Monitor exposes the session's monitor so callers can register a warning
// callback before Start.
func (c *Coordinator) Monitor() *proctor.Monitor { return c.monitor }

// Recorder exposes the session's recorder so callers can attach a sink.
func (c *Coordinator) Recorder() *proctor.Recorder { return c.recorder }

// Tasks is the group every periodic check of this session must be scheduled on.
func (c *Coordinator) Tasks() *proctor.TaskGroup { return c.tasks }

// OnFinish registers fn to be called once the session has ended, with the
// outcome of the submission. It is not called when the session is closed.
func (c *Coordinator) OnFinish(fn func(Outcome)) {
	c.mu.Lock()
	c.onFinish = fn
	c.mu.Unlock()
}

// OnTerminate registers fn to be told when the monitor terminates the
// session, before the forced submission starts. fn runs on the event path.
func (c *Coordinator) OnTerminate(fn proctor.TerminateFunc) {
	c.mu.Lock()
	c.onTerminate = fn
	c.mu.Unlock()
}

// Start begins monitoring and arms the exam timeout. ctx is the parent of the
// forced and timeout submissions.
func (c *Coordinator) Start(ctx context.Context, sources ...proctor.Source) {
	c.baseCtx = ctx
	c.startedAt = c.clock.Now()

	c.monitor.OnTerminate(func(ev model.ViolationEvent, counts model.IntegritySnapshot) {
		c.log.Warn().
			Str("kind", string(ev.Kind)).
			Int("focus_violations", counts.FocusViolations()).
			Int("look_away", counts.LookAwayCount).
			Msg("Violation threshold reached, forcing submission")
		c.mu.Lock()
		notify := c.onTerminate
		c.mu.Unlock()
		if notify != nil {
			notify(ev, counts)
		}
		// The event path must not block on grading and persistence.
		go c.finishDetached(model.SubmitReasonForced)
	})
	c.monitor.Start(sources...)

	if c.cfg.Duration > 0 {
		c.tasks.AfterFunc(c.cfg.Duration, func() {
			c.log.Info().Msg("Exam time is up, submitting")
			c.finishDetached(model.SubmitReasonTimeout)
		})
	}
}

// SetAnswers replaces the answers that a forced or timeout submission will grade.
func (c *Coordinator) SetAnswers(a model.Answers) {
	c.mu.Lock()
	c.answers = a
	c.mu.Unlock()
}

// Submit submits the attempt on the student's request. If the session already
// ended another way, it waits for and returns that result.
func (c *Coordinator) Submit(ctx context.Context, answers model.Answers) (*model.Submission, error) {
	c.SetAnswers(answers)
	c.finish(ctx, model.SubmitReasonManual)
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.outcome.Submission, c.outcome.Err
}

func (c *Coordinator) finishDetached(reason model.SubmitReason) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.baseCtx), forcedSubmitTimeout)
	defer cancel()
	c.finish(ctx, reason)
}

// finish is the only path that submits. Teardown happens before the
// snapshot so no event can land after it is taken.
func (c *Coordinator) finish(ctx context.Context, reason model.SubmitReason) {
	c.once.Do(func() {
		c.teardown()

		snapshot := c.recorder.Snapshot()
		c.mu.Lock()
		answers := c.answers
		c.mu.Unlock()

		in := model.SubmitInput{
			ExamID:           c.cfg.ExamID,
			StudentID:        c.cfg.StudentID,
			SessionID:        c.cfg.SessionID,
			Answers:          answers,
			TimeSpentSeconds: c.elapsedSeconds(),
			CheatFlags:       model.CheatFlags{TabSwitches: snapshot.FocusViolations()},
			Integrity:        &snapshot,
			Reason:           reason,
		}

		sub, err := c.submitter.Submit(ctx, in)
		if err != nil {
			c.log.Error().Err(err).Str("reason", string(reason)).Msg("Session submission failed")
		} else {
			c.log.Info().
				Str("reason", string(reason)).
				Int("attempt", sub.AttemptNumber).
				Float64("score", sub.Score.Score10).
				Msg("Session submitted")
		}

		c.mu.Lock()
		c.outcome = Outcome{Reason: reason, Submission: sub, Err: err}
		onFinish := c.onFinish
		c.mu.Unlock()
		close(c.done)

		if onFinish != nil {
			onFinish(c.outcome)
		}
	})
}

func (c *Coordinator) elapsedSeconds() int {
	if c.startedAt.IsZero() {
		return 0
	}
	elapsed := c.clock.Now().Sub(c.startedAt)
	if c.cfg.Duration > 0 && elapsed > c.cfg.Duration {
		elapsed = c.cfg.Duration
	}
	return int(elapsed / time.Second)
}

func (c *Coordinator) teardown() {
	c.monitor.Stop()
	c.tasks.CancelAll()
}

// Close ends the session without submitting, e.g. when the student disconnects.
func (c *Coordinator) Close() {
	c.once.Do(func() {
		c.teardown()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		c.log.Info().Msg("Session abandoned")
	})
}

// Done is closed once the session has ended.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (c *Coordinator) Result() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Closed reports whether the session was abandoned.
func (c *Coordinator) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
