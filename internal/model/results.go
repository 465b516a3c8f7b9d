package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// LeaderboardEntry is one ranked submission on an exam's leaderboard.
type LeaderboardEntry struct {
	Rank          int     `json:"rank"`
	StudentID     int     `json:"student_id"`
	AttemptNumber int     `json:"attempt_number"`
	Score         float64 `json:"score"`
	TimeSpent     int     `json:"time_spent"`
	SubmittedAt   string  `json:"submitted_at"`
}

// NewLeaderboard numbers submissions that are already in leaderboard order.
func NewLeaderboard(subs []Submission) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(subs))
	for i := range subs {
		out = append(out, LeaderboardEntry{
			Rank:          i + 1,
			StudentID:     subs[i].StudentID,
			AttemptNumber: subs[i].AttemptNumber,
			Score:         subs[i].Score.Score10,
			TimeSpent:     subs[i].TimeSpentSeconds,
			SubmittedAt:   subs[i].SubmittedAt.Format(time.RFC3339),
		})
	}
	return out
}

// ResultRow is one line of an exam's results export.
type ResultRow struct {
	Rank               int          `json:"rank"`
	SubmissionID       uuid.UUID    `json:"submission_id"`
	StudentID          int          `json:"student_id"`
	AttemptNumber      int          `json:"attempt_number"`
	Score              float64      `json:"score"`
	CorrectCount       int          `json:"correct_count"`
	TotalQuestions     int          `json:"total_questions"`
	MCCorrect          float64      `json:"mc_correct"`
	TFCorrect          float64      `json:"tf_correct"`
	SACorrect          float64      `json:"sa_correct"`
	TimeSpentSeconds   int          `json:"time_spent_seconds"`
	TimeSpentFormatted string       `json:"time_spent_formatted"`
	SubmittedAt        string       `json:"submitted_at"`
	Reason             SubmitReason `json:"reason"`
	IsRanked           bool         `json:"is_ranked"`
	CheatFlags         CheatFlags   `json:"cheat_flags"`
	TabSwitches        int          `json:"tab_switches"`
	FullscreenExits    int          `json:"fullscreen_exits"`
	CopyAttempts       int          `json:"copy_attempts"`
	LookAwayCount      int          `json:"look_away_count"`
	PhoneCount         int          `json:"phone_count"`
	MultiFaceCount     int          `json:"multi_face_count"`
}

// NewResultRows orders staff summaries best score first, faster attempts
// first on ties, and numbers them. The input is not modified.
func NewResultRows(subs []SubmissionSummary) []ResultRow {
	sorted := make([]SubmissionSummary, len(subs))
	copy(sorted, subs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].TimeSpent < sorted[j].TimeSpent
	})

	rows := make([]ResultRow, 0, len(sorted))
	for i, s := range sorted {
		row := ResultRow{
			Rank:               i + 1,
			SubmissionID:       s.ID,
			StudentID:          s.StudentID,
			AttemptNumber:      s.AttemptNumber,
			Score:              s.Score,
			CorrectCount:       s.CorrectCount,
			TotalQuestions:     s.TotalQuestions,
			MCCorrect:          s.Breakdown.MC.Correct,
			TFCorrect:          s.Breakdown.TF.Correct,
			SACorrect:          s.Breakdown.SA.Correct,
			TimeSpentSeconds:   s.TimeSpent,
			TimeSpentFormatted: FormatDuration(s.TimeSpent),
			SubmittedAt:        s.SubmittedAt,
			Reason:             s.Reason,
			IsRanked:           s.IsRanked,
		}
		if s.CheatFlags != nil {
			row.CheatFlags = *s.CheatFlags
		}
		if in := s.Integrity; in != nil {
			row.TabSwitches = in.TabSwitches
			row.FullscreenExits = in.FullscreenExits
			row.CopyAttempts = in.CopyAttempts
			row.LookAwayCount = in.LookAwayCount
			row.PhoneCount = in.PhoneCount
			row.MultiFaceCount = in.MultiFaceCount
		}
		rows = append(rows, row)
	}
	return rows
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
