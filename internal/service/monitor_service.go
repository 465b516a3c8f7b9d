package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-guard/internal/config"
	"github.com/stemsi/exstem-guard/internal/model"
)

// MonitorService feeds the live exam monitor: it queues violations for the
// audit log, keeps per-student counts in Redis and publishes monitor events.
type MonitorService struct {
	rdb        *redis.Client
	sessions   SessionStore
	violations ViolationStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client, sessions SessionStore, violations ViolationStore) *MonitorService {
	return &MonitorService{rdb: rdb, sessions: sessions, violations: violations}
}

func countsField(studentID int, kind model.ViolationKind) string {
	return fmt.Sprintf("%d:%s", studentID, kind)
}

// PublishViolation queues a recorded violation for persistence, bumps the
// live counters and notifies monitors, in one round trip.
func (s *MonitorService) PublishViolation(ctx context.Context, examID uuid.UUID, studentID int, ev model.ViolationEvent) error {
	record, err := json.Marshal(model.ViolationRecord{
		ExamID:    examID.String(),
		StudentID: studentID,
		Kind:      ev.Kind,
		Detail:    ev.Detail,
		Timestamp: ev.OccurredAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	event, err := json.Marshal(model.MonitorEvent{
		Type:      model.MonitorEventViolation,
		StudentID: studentID,
		Kind:      ev.Kind,
		Detail:    ev.Detail,
		Timestamp: ev.OccurredAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, record)
	pipe.HIncrBy(ctx, config.CacheKey.ExamViolationCountsKey(examID.String()), countsField(studentID, ev.Kind), 1)
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish violation: %w", err)
	}
	return nil
}

// PublishWarning tells monitors a student was warned.
func (s *MonitorService) PublishWarning(ctx context.Context, examID uuid.UUID, studentID int, ev model.ViolationEvent, counts model.ViolationCounts) error {
	return s.publish(ctx, examID, model.MonitorEvent{
		Type:      model.MonitorEventWarning,
		StudentID: studentID,
		Kind:      ev.Kind,
		Counts:    &counts,
		Timestamp: ev.OccurredAt.UnixMilli(),
	})
}

// PublishTerminated tells monitors a student's session was terminated.
func (s *MonitorService) PublishTerminated(ctx context.Context, examID uuid.UUID, studentID int, ev model.ViolationEvent, counts model.ViolationCounts) error {
	return s.publish(ctx, examID, model.MonitorEvent{
		Type:      model.MonitorEventTerminated,
		StudentID: studentID,
		Kind:      ev.Kind,
		Counts:    &counts,
		Timestamp: ev.OccurredAt.UnixMilli(),
	})
}

// PublishSubmitted tells monitors a submission was graded.
func (s *MonitorService) PublishSubmitted(ctx context.Context, sub *model.Submission) error {
	score := sub.Score.Score10
	counts := sub.Integrity.Counts()
	return s.publish(ctx, sub.ExamID, model.MonitorEvent{
		Type:      model.MonitorEventSubmitted,
		StudentID: sub.StudentID,
		Counts:    &counts,
		Score:     &score,
		Reason:    sub.Reason,
		Timestamp: sub.SubmittedAt.UnixMilli(),
	})
}

func (s *MonitorService) publish(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	return s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), data).Err()
}

// Subscribe opens the monitor channel of an exam. The caller closes it.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}

// StudentProgressSnapshot holds in-progress students and violation counts per student.
type StudentProgressSnapshot struct {
	InProgress      []int                               `json:"in_progress"`
	Violations      map[int]map[model.ViolationKind]int `json:"violations"` // student_id → kind → count
	TotalViolations int                                 `json:"total_violations"`
}

// GetStudentProgress returns in-progress students and violation counts
// concurrently. Live Redis counters are preferred over the audit log, which
// lags behind by the violation worker's batch interval.
func (s *MonitorService) GetStudentProgress(ctx context.Context, examID uuid.UUID) (*StudentProgressSnapshot, error) {
	var (
		inProgress   []int
		liveCounts   map[int]map[model.ViolationKind]int
		storedCounts map[int]map[model.ViolationKind]int
		progressErr  error
		liveErr      error
		storedErr    error
		wg           sync.WaitGroup
	)

	// 1. Students still taking the exam
	wg.Add(1)
	go func() {
		defer wg.Done()
		inProgress, progressErr = s.sessions.ListInProgressStudentIDs(ctx, examID)
	}()

	// 2. Live counters
	wg.Add(1)
	go func() {
		defer wg.Done()
		liveCounts, liveErr = s.liveCounts(ctx, examID)
	}()

	// 3. Audit log counts
	wg.Add(1)
	go func() {
		defer wg.Done()
		storedCounts, storedErr = s.violations.CountViolationsByExam(ctx, examID)
	}()

	wg.Wait()

	// The student list is critical; counts are best-effort
	if progressErr != nil {
		return nil, progressErr
	}

	snapshot := &StudentProgressSnapshot{
		InProgress: inProgress,
		Violations: make(map[int]map[model.ViolationKind]int),
	}
	switch {
	case liveErr == nil && len(liveCounts) > 0:
		snapshot.Violations = liveCounts
	case storedErr == nil && storedCounts != nil:
		snapshot.Violations = storedCounts
	}
	for _, kinds := range snapshot.Violations {
		for _, n := range kinds {
			snapshot.TotalViolations += n
		}
	}
	return snapshot, nil
}

func (s *MonitorService) liveCounts(ctx context.Context, examID uuid.UUID) (map[int]map[model.ViolationKind]int, error) {
	fields, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamViolationCountsKey(examID.String())).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int]map[model.ViolationKind]int)
	for field, value := range fields {
		sid, kind, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		studentID, err := strconv.Atoi(sid)
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		if out[studentID] == nil {
			out[studentID] = make(map[model.ViolationKind]int)
		}
		out[studentID][model.ViolationKind(kind)] = n
	}
	return out, nil
}
