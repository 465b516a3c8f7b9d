package grading

import (
	"math"
	"testing"

	"github.com/stemsi/exstem-guard/internal/model"
)

func boolp(b bool) *bool { return &b }

func attemptWith(a model.Answers) *model.SubmissionAttempt {
	return &model.SubmissionAttempt{AttemptNumber: 1, Answers: a}
}

func TestGradeEndToEndScenario(t *testing.T) {
	key := &model.AnswerKey{
		MultipleChoice: []model.MCKey{{ExpectedLetter: "A"}, {ExpectedLetter: "C"}},
		TrueFalse:      []model.TFKey{{Question: 1, A: true, B: false, C: true, D: false}},
		ShortAnswer:    []model.SAKey{{Question: 1, ExpectedValue: 50}},
	}
	attempt := attemptWith(model.Answers{
		MC: []model.Letter{"A", "B"},
		TF: []model.TFAnswer{{Question: 1, A: boolp(true), B: boolp(false), C: boolp(true), D: boolp(false)}},
		SA: []model.SAAnswer{{Question: 1, Answer: "52"}},
	})

	res := Grade(key, attempt)

	if res.MCCorrect != 1 || res.TFCreditSum != 1 || res.SACorrect != 1 {
		t.Errorf("section credit = %v/%v/%v, want 1/1/1", res.MCCorrect, res.TFCreditSum, res.SACorrect)
	}
	if res.TotalCorrect != 3 {
		t.Errorf("TotalCorrect = %v, want 3", res.TotalCorrect)
	}
	if res.TotalQuestions != 4 {
		t.Errorf("TotalQuestions = %d, want 4", res.TotalQuestions)
	}
	if res.Score10 != 7.5 {
		t.Errorf("Score10 = %v, want 7.5", res.Score10)
	}
	if res.CorrectCount() != 3 {
		t.Errorf("CorrectCount = %d, want 3", res.CorrectCount())
	}
}

func TestGradeMultipleChoiceIsPositional(t *testing.T) {
	key := &model.AnswerKey{MultipleChoice: []model.MCKey{
		{ExpectedLetter: "A"}, {ExpectedLetter: "B"}, {ExpectedLetter: "C"},
	}}

	tests := []struct {
		name string
		mc   []model.Letter
		want float64
	}{
		{"all correct", []model.Letter{"A", "B", "C"}, 3},
		{"shifted answers earn nothing", []model.Letter{"B", "C"}, 0},
		{"absent answers", []model.Letter{"", "B", ""}, 1},
		{"short answer list", []model.Letter{"A"}, 1},
		{"extra answers ignored", []model.Letter{"A", "B", "C", "D", "A"}, 3},
		{"no answers", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Grade(key, attemptWith(model.Answers{MC: tt.mc}))
			if res.MCCorrect != tt.want {
				t.Errorf("MCCorrect = %v, want %v", res.MCCorrect, tt.want)
			}
		})
	}
}

func TestGradeTrueFalseQuarterCredit(t *testing.T) {
	key := &model.AnswerKey{TrueFalse: []model.TFKey{{Question: 7, A: true, B: true, C: false, D: false}}}

	tests := []struct {
		name string
		tf   []model.TFAnswer
		want float64
	}{
		{"none matching", []model.TFAnswer{{Question: 7, A: boolp(false), B: boolp(false), C: boolp(true), D: boolp(true)}}, 0},
		{"one part", []model.TFAnswer{{Question: 7, A: boolp(true)}}, 0.25},
		{"two parts", []model.TFAnswer{{Question: 7, A: boolp(true), B: boolp(true)}}, 0.5},
		{"three parts", []model.TFAnswer{{Question: 7, A: boolp(true), B: boolp(true), C: boolp(false), D: boolp(true)}}, 0.75},
		{"all parts", []model.TFAnswer{{Question: 7, A: boolp(true), B: boolp(true), C: boolp(false), D: boolp(false)}}, 1},
		{"absent parts never match false", []model.TFAnswer{{Question: 7}}, 0},
		{"other question number", []model.TFAnswer{{Question: 8, A: boolp(true), B: boolp(true)}}, 0},
		{"first matching entry wins", []model.TFAnswer{
			{Question: 7, A: boolp(true)},
			{Question: 7, A: boolp(true), B: boolp(true), C: boolp(false), D: boolp(false)},
		}, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Grade(key, attemptWith(model.Answers{TF: tt.tf}))
			if res.TFCreditSum != tt.want {
				t.Errorf("TFCreditSum = %v, want %v", res.TFCreditSum, tt.want)
			}
		})
	}
}

func TestGradeShortAnswerTolerance(t *testing.T) {
	tests := []struct {
		name     string
		expected float64
		answer   string
		want     float64
	}{
		{"upper boundary inclusive", 100, "105", 1},
		{"just outside", 100, "105.01", 0},
		{"lower boundary inclusive", 100, "95", 1},
		{"comma decimal", 10.5, "10,5", 1},
		{"negative expected", -20, "-19", 1},
		{"zero needs exact match", 0, "0", 1},
		{"zero with comma", 0, "0,0", 1},
		{"zero rejects tiny error", 0, "0.0001", 0},
		{"leading number with unit", 3.5, "3,5 m/s", 1},
		{"not a number", 12, "dua belas", 0},
		{"empty", 12, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := &model.AnswerKey{ShortAnswer: []model.SAKey{{Question: 1, ExpectedValue: tt.expected}}}
			res := Grade(key, attemptWith(model.Answers{SA: []model.SAAnswer{{Question: 1, Answer: tt.answer}}}))
			if res.SACorrect != tt.want {
				t.Errorf("SACorrect = %v, want %v", res.SACorrect, tt.want)
			}
		})
	}
}

func TestGradeUnreadableKeyEntryEarnsNothing(t *testing.T) {
	key := &model.AnswerKey{
		MultipleChoice: []model.MCKey{{ExpectedLetter: "A"}, {ExpectedLetter: "B"}},
		ShortAnswer: []model.SAKey{
			{Question: 1, ExpectedValue: 100},
			{Question: 2, ExpectedValue: math.NaN()},
			{Question: 3, ExpectedValue: 50},
		},
	}
	res := Grade(key, attemptWith(model.Answers{
		MC: []model.Letter{"A", "B"},
		SA: []model.SAAnswer{{Question: 1, Answer: "100"}, {Question: 2, Answer: "0"}, {Question: 3, Answer: "50"}},
	}))

	if res.SACorrect != 2 || res.SATotal != 3 {
		t.Errorf("short answer = %v/%d, want 2/3", res.SACorrect, res.SATotal)
	}
	if res.TotalQuestions != 5 || res.Score10 != 8 {
		t.Errorf("total = %d score = %v, want 5 and 8", res.TotalQuestions, res.Score10)
	}
}

func TestGradeIgnoresUnknownQuestions(t *testing.T) {
	key := &model.AnswerKey{ShortAnswer: []model.SAKey{{Question: 1, ExpectedValue: 4}}}
	res := Grade(key, attemptWith(model.Answers{
		SA: []model.SAAnswer{{Question: 99, Answer: "4"}},
		TF: []model.TFAnswer{{Question: 3, A: boolp(true)}},
	}))
	if res.TotalCorrect != 0 || res.TotalQuestions != 1 {
		t.Errorf("got %+v, want no credit over 1 question", res)
	}
}

func TestGradeNoQuestions(t *testing.T) {
	res := Grade(&model.AnswerKey{}, attemptWith(model.Answers{MC: []model.Letter{"A"}}))
	if res.Score10 != 0 || res.TotalQuestions != 0 {
		t.Errorf("empty key should score 0, got %+v", res)
	}
}

func TestGradeIsDeterministic(t *testing.T) {
	key := &model.AnswerKey{
		MultipleChoice: []model.MCKey{{ExpectedLetter: "D"}, {ExpectedLetter: "B"}, {ExpectedLetter: "A"}},
		TrueFalse:      []model.TFKey{{Question: 1, A: true}, {Question: 2, D: true}},
		ShortAnswer:    []model.SAKey{{Question: 1, ExpectedValue: 1.5}},
	}
	attempt := attemptWith(model.Answers{
		MC: []model.Letter{"D", "C", "A"},
		TF: []model.TFAnswer{{Question: 2, A: boolp(false), D: boolp(true)}, {Question: 1, B: boolp(true)}},
		SA: []model.SAAnswer{{Question: 1, Answer: "1,52"}},
	})

	first := Grade(key, attempt)
	second := Grade(key, attempt)
	if first != second {
		t.Errorf("grading is not deterministic: %+v vs %+v", first, second)
	}
	// 2 MC + 0.5 TF + 1 SA over 6 questions.
	if first.Score10 != 5.83 {
		t.Errorf("Score10 = %v, want 5.83", first.Score10)
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{" 3,14 ", 3.14, true},
		{"1,5,2", 1.5, true},
		{".5", 0.5, true},
		{"-2.5e2", -250, true},
		{"12abc", 12, true},
		{"abc", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"1e999", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseDecimal(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseDecimal(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
