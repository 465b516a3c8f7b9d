// Package grading computes the authoritative score of a submission from the
// server-held answer key. It does no I/O and keeps no state.
package grading

import (
	"math"

	"github.com/stemsi/exstem-guard/internal/model"
)

// shortAnswerTolerance is the relative tolerance for numeric short answers.
const shortAnswerTolerance = 0.05

// Grade scores an attempt against a key. It never fails: malformed or
// absent answers earn no credit, and answers to question numbers the key
// does not contain are ignored.
func Grade(key *model.AnswerKey, attempt *model.SubmissionAttempt) model.ScoreResult {
	res := model.ScoreResult{
		MCTotal:        len(key.MultipleChoice),
		TFTotal:        len(key.TrueFalse),
		SATotal:        len(key.ShortAnswer),
		TotalQuestions: key.TotalQuestions(),
	}

	res.MCCorrect = gradeMultipleChoice(key.MultipleChoice, attempt.Answers.MC)
	res.TFCreditSum = gradeTrueFalse(key.TrueFalse, attempt.Answers.TF)
	res.SACorrect = gradeShortAnswer(key.ShortAnswer, attempt.Answers.SA)
	res.TotalCorrect = res.MCCorrect + res.TFCreditSum + res.SACorrect

	if res.TotalQuestions > 0 {
		res.Score10 = round2(res.TotalCorrect / float64(res.TotalQuestions) * 10)
	}
	return res
}

// gradeMultipleChoice compares answers position by position.
func gradeMultipleChoice(keys []model.MCKey, answers []model.Letter) float64 {
	var correct float64
	for i, k := range keys {
		if i >= len(answers) {
			break
		}
		if answers[i] != "" && answers[i] == k.ExpectedLetter {
			correct++
		}
	}
	return correct
}

// gradeTrueFalse gives a quarter point for each statement that matches the key.
func gradeTrueFalse(keys []model.TFKey, answers []model.TFAnswer) float64 {
	var credit float64
	for _, k := range keys {
		a := findTF(answers, k.Question)
		if a == nil {
			continue
		}
		parts := 0
		for _, p := range [4]struct {
			got  *bool
			want bool
		}{{a.A, k.A}, {a.B, k.B}, {a.C, k.C}, {a.D, k.D}} {
			if p.got != nil && *p.got == p.want {
				parts++
			}
		}
		credit += float64(parts) / 4
	}
	return credit
}

// gradeShortAnswer accepts answers within 5% of the expected value. An
// expected value of zero therefore requires an exact match.
func gradeShortAnswer(keys []model.SAKey, answers []model.SAAnswer) float64 {
	var correct float64
	for _, k := range keys {
		a := findSA(answers, k.Question)
		if a == nil {
			continue
		}
		v, ok := ParseDecimal(a.Answer)
		if !ok {
			continue
		}
		if math.Abs(k.ExpectedValue-v) <= math.Abs(k.ExpectedValue)*shortAnswerTolerance {
			correct++
		}
	}
	return correct
}

func findTF(answers []model.TFAnswer, question int) *model.TFAnswer {
	for i := range answers {
		if answers[i].Question == question {
			return &answers[i]
		}
	}
	return nil
}

func findSA(answers []model.SAAnswer, question int) *model.SAAnswer {
	for i := range answers {
		if answers[i].Question == question {
			return &answers[i]
		}
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
