package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key holding the JTI of a student's active login
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// StudentAnswersKey returns the cache key for a student's autosaved answers
func (r *CacheKeyStruct) StudentAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// ExamAnswerKey returns the cache key for an exam's grading key
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamLeaderboardKey returns the cache key for an exam's ranked leaderboard
func (r *CacheKeyStruct) ExamLeaderboardKey(examID string) string {
	return fmt.Sprintf("exam:%s:leaderboard", examID)
}

// ExamViolationCountsKey returns the hash holding per-student violation counts of an exam
func (r *CacheKeyStruct) ExamViolationCountsKey(examID string) string {
	return fmt.Sprintf("exam:%s:violations", examID)
}

// ExamRegradeLockKey returns the key guarding against concurrent regrades of one exam
func (r *CacheKeyStruct) ExamRegradeLockKey(examID string) string {
	return fmt.Sprintf("exam:%s:regrade_lock", examID)
}

// SubmitRateKey returns the rate-limit counter of a user for the current minute
func (r *CacheKeyStruct) SubmitRateKey(subject string, minute int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", subject, minute)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
