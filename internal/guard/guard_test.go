package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-guard/internal/model"
)

type fakeCounter struct {
	count int
	err   error
}

func (f *fakeCounter) CountAttempts(context.Context, uuid.UUID, int) (int, error) {
	return f.count, f.err
}

func TestAuthorize(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name    string
		key     *model.AnswerKey
		prior   int
		want    int
		wantErr error
	}{
		{"missing key", nil, 0, 0, ErrExamNotFoundOrUnpublished},
		{"unpublished", &model.AnswerKey{}, 0, 0, ErrExamNotFoundOrUnpublished},
		{"first attempt", &model.AnswerKey{IsPublished: true, MaxAttempts: 1}, 0, 1, nil},
		{"ceiling reached", &model.AnswerKey{IsPublished: true, MaxAttempts: 2}, 2, 0, ErrAttemptLimitExceeded},
		{"below ceiling", &model.AnswerKey{IsPublished: true, MaxAttempts: 2}, 1, 2, nil},
		{"unlimited", &model.AnswerKey{IsPublished: true}, 41, 42, nil},
		{"not started", &model.AnswerKey{IsPublished: true, Window: &model.SchedulingWindow{Start: &after}}, 0, 0, ErrNotStarted},
		{"ended", &model.AnswerKey{IsPublished: true, Window: &model.SchedulingWindow{End: &before}}, 0, 0, ErrEnded},
		{"inside window", &model.AnswerKey{IsPublished: true, Window: &model.SchedulingWindow{Start: &before, End: &after}}, 0, 1, nil},
		{"start is inclusive", &model.AnswerKey{IsPublished: true, Window: &model.SchedulingWindow{Start: &now}}, 0, 1, nil},
		{"end is inclusive", &model.AnswerKey{IsPublished: true, Window: &model.SchedulingWindow{End: &now}}, 0, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&fakeCounter{count: tt.prior}).WithClock(func() time.Time { return now })
			got, err := g.Authorize(context.Background(), tt.key, uuid.New(), 7)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("attempt = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWindowErrorsShareSentinel(t *testing.T) {
	if !errors.Is(ErrNotStarted, ErrSchedulingWindow) || !errors.Is(ErrEnded, ErrSchedulingWindow) {
		t.Fatal("window errors must wrap ErrSchedulingWindow")
	}
	if errors.Is(ErrNotStarted, ErrEnded) {
		t.Fatal("ErrNotStarted must not match ErrEnded")
	}
}

func TestAuthorizeCounterFailure(t *testing.T) {
	boom := errors.New("db down")
	g := New(&fakeCounter{err: boom})
	_, err := g.Authorize(context.Background(), &model.AnswerKey{IsPublished: true}, uuid.New(), 1)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestAuthorizeSkipsCountWhenWindowFails(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	g := New(&fakeCounter{err: errors.New("must not be called")})
	_, err := g.Authorize(context.Background(), &model.AnswerKey{
		IsPublished: true,
		Window:      &model.SchedulingWindow{End: &past},
	}, uuid.New(), 1)
	if !errors.Is(err, ErrEnded) {
		t.Fatalf("err = %v, want ErrEnded", err)
	}
}
