package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/proctor"
	"github.com/stemsi/exstem-guard/internal/proctor/proctortest"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	calls int32
	last  model.SubmitInput
	delay time.Duration
	err   error
}

func (r *recordingSubmitter) Submit(_ context.Context, in model.SubmitInput) (*model.Submission, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.last = in
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &model.Submission{ID: uuid.New(), SubmissionAttempt: model.SubmissionAttempt{AttemptNumber: 1}, Reason: in.Reason}, nil
}

func (r *recordingSubmitter) lastInput() model.SubmitInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func newTestCoordinator(t *testing.T, duration time.Duration, sub Submitter) (*Coordinator, *proctor.Bus, *proctortest.Clock) {
	t.Helper()
	clock := proctortest.NewClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	c := New(Config{
		ExamID:    uuid.New(),
		StudentID: 12,
		Duration:  duration,
		Clock:     clock,
	}, sub, zerolog.Nop())

	bus := proctor.NewBus()
	c.Start(context.Background(),
		proctor.NewFocusSource(bus),
		proctor.NewFullscreenSource(bus),
		proctor.NewGazeSource(bus, c.Tasks(), 15*time.Second),
	)
	t.Cleanup(c.Close)
	return c, bus, clock
}

func waitDone(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestCoordinatorManualSubmit(t *testing.T) {
	sub := &recordingSubmitter{}
	c, bus, clock := newTestCoordinator(t, time.Hour, sub)

	bus.Publish(proctor.Visibility{Hidden: true})
	clock.Advance(90 * time.Second)

	answers := model.Answers{MC: []model.Letter{"A"}}
	got, err := c.Submit(context.Background(), answers)
	if err != nil {
		t.Fatal(err)
	}
	if got.Reason != model.SubmitReasonManual {
		t.Errorf("reason = %s", got.Reason)
	}

	in := sub.lastInput()
	if in.TimeSpentSeconds != 90 || in.CheatFlags.TabSwitches != 1 || in.Integrity.TabSwitches != 1 {
		t.Errorf("input = %+v", in)
	}
	if len(in.Answers.MC) != 1 {
		t.Errorf("answers not passed through: %+v", in.Answers)
	}
	if clock.Active() != 0 {
		t.Errorf("%d timers still active after submit", clock.Active())
	}
}

func TestCoordinatorForcedSubmit(t *testing.T) {
	sub := &recordingSubmitter{}
	c, bus, clock := newTestCoordinator(t, time.Hour, sub)

	c.SetAnswers(model.Answers{MC: []model.Letter{"B", "C"}})
	bus.Publish(proctor.Visibility{Hidden: true})
	bus.Publish(proctor.Fullscreen{Active: true})
	bus.Publish(proctor.Fullscreen{Active: false})
	bus.Publish(proctor.Visibility{Hidden: true})
	waitDone(t, c)

	out := c.Result()
	if out.Err != nil || out.Reason != model.SubmitReasonForced {
		t.Fatalf("outcome = %+v", out)
	}
	if in := sub.lastInput(); len(in.Answers.MC) != 2 || in.Integrity.FocusViolations() != 3 {
		t.Errorf("forced input = %+v", in)
	}

	// Nothing reaches the session after it ended.
	bus.Publish(proctor.Visibility{Hidden: true})
	if bus.Subscribers() != 0 || clock.Active() != 0 {
		t.Errorf("subscribers = %d, timers = %d", bus.Subscribers(), clock.Active())
	}
	if n := len(c.Recorder().Snapshot().Events); n != 3 {
		t.Errorf("events = %d, want 3", n)
	}
}

func TestCoordinatorTimeout(t *testing.T) {
	sub := &recordingSubmitter{}
	c, _, clock := newTestCoordinator(t, 10*time.Minute, sub)

	clock.Advance(10 * time.Minute)
	waitDone(t, c)

	out := c.Result()
	if out.Reason != model.SubmitReasonTimeout {
		t.Errorf("reason = %s", out.Reason)
	}
	if in := sub.lastInput(); in.TimeSpentSeconds != 600 {
		t.Errorf("time spent = %d, want 600", in.TimeSpentSeconds)
	}
}

func TestCoordinatorSubmitsOnce(t *testing.T) {
	sub := &recordingSubmitter{delay: 20 * time.Millisecond}
	c, bus, _ := newTestCoordinator(t, time.Hour, sub)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Submit(context.Background(), model.Answers{})
		}()
	}
	for i := 0; i < 3; i++ {
		bus.Publish(proctor.Visibility{Hidden: true})
	}
	wg.Wait()
	waitDone(t, c)

	if n := atomic.LoadInt32(&sub.calls); n != 1 {
		t.Errorf("submitter called %d times, want 1", n)
	}
}

func TestCoordinatorClose(t *testing.T) {
	sub := &recordingSubmitter{}
	c, bus, clock := newTestCoordinator(t, time.Minute, sub)

	c.Close()
	clock.Advance(2 * time.Minute)
	bus.Publish(proctor.Visibility{Hidden: true})

	if _, err := c.Submit(context.Background(), model.Answers{}); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if atomic.LoadInt32(&sub.calls) != 0 {
		t.Error("closed session must not submit")
	}
	if !c.Closed() {
		t.Error("Closed() = false")
	}
}

func TestCoordinatorSubmitError(t *testing.T) {
	boom := errors.New("db down")
	c, _, _ := newTestCoordinator(t, time.Hour, &recordingSubmitter{err: boom})

	var finished Outcome
	c.OnFinish(func(o Outcome) { finished = o })

	if _, err := c.Submit(context.Background(), model.Answers{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(finished.Err, boom) {
		t.Errorf("OnFinish outcome = %+v", finished)
	}
}

func TestCoordinatorTerminateNotification(t *testing.T) {
	sub := &recordingSubmitter{}
	c, bus, _ := newTestCoordinator(t, time.Hour, sub)

	var (
		notified int32
		kind     model.ViolationKind
	)
	c.OnTerminate(func(ev model.ViolationEvent, counts model.IntegritySnapshot) {
		atomic.AddInt32(&notified, 1)
		kind = ev.Kind
	})

	for range 4 {
		bus.Publish(proctor.Visibility{Hidden: true})
	}
	waitDone(t, c)

	if n := atomic.LoadInt32(&notified); n != 1 {
		t.Fatalf("notified %d times, want 1", n)
	}
	if kind != model.ViolationTabSwitch {
		t.Errorf("kind = %q", kind)
	}
}
