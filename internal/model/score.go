package model

import "math"

// ScoreResult is the authoritative outcome of grading one attempt.
type ScoreResult struct {
	MCCorrect      float64 `json:"mc_correct"`
	MCTotal        int     `json:"mc_total"`
	TFCreditSum    float64 `json:"tf_credit"`
	TFTotal        int     `json:"tf_total"`
	SACorrect      float64 `json:"sa_correct"`
	SATotal        int     `json:"sa_total"`
	TotalCorrect   float64 `json:"total_correct"`
	TotalQuestions int     `json:"total_questions"`
	Score10        float64 `json:"score"`
}

// CorrectCount is TotalCorrect rounded for display. It plays no part in Score10.
func (r ScoreResult) CorrectCount() int {
	return int(math.Round(r.TotalCorrect))
}

// SectionResult is the per-section part of a Breakdown.
type SectionResult struct {
	Correct float64 `json:"correct"`
	Total   int     `json:"total"`
}

// Breakdown is the per-section view returned to the student.
type Breakdown struct {
	MC SectionResult `json:"mc"`
	TF SectionResult `json:"tf"`
	SA SectionResult `json:"sa"`
}

// Breakdown reports per-section credit; true/false credit is shown to two decimals.
func (r ScoreResult) Breakdown() Breakdown {
	return Breakdown{
		MC: SectionResult{Correct: r.MCCorrect, Total: r.MCTotal},
		TF: SectionResult{Correct: math.Round(r.TFCreditSum*100) / 100, Total: r.TFTotal},
		SA: SectionResult{Correct: r.SACorrect, Total: r.SATotal},
	}
}
