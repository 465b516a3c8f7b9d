package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestDecodeMCAnswers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Letter
	}{
		{"letters", `["A","B","C","D"]`, []Letter{"A", "B", "C", "D"}},
		{"letters are case and space sensitive", `["a"," B ","C"]`, []Letter{"", "", "C"}},
		{"null entries stay positional", `["A",null,"C"]`, []Letter{"A", "", "C"}},
		{"unknown letter is absent", `["E",1,"A"]`, []Letter{"", "", "A"}},
		{"not an array", `{"0":"A"}`, nil},
		{"missing", ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeMCAnswers(json.RawMessage(tt.raw))
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d (%v)", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeTFAnswers(t *testing.T) {
	got := DecodeTFAnswers(json.RawMessage(`[
		{"question": 1, "a": true, "b": false, "c": null},
		{"a": true},
		{"question": "2", "d": "yes"},
		null
	]`))

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	first := got[0]
	if first.Question != 1 || first.A == nil || !*first.A || first.B == nil || *first.B {
		t.Errorf("first entry decoded wrong: %+v", first)
	}
	if first.C != nil || first.D != nil {
		t.Errorf("null and missing parts should be absent: %+v", first)
	}
	if got[1].Question != 2 || got[1].D != nil {
		t.Errorf("second entry decoded wrong: %+v", got[1])
	}
}

func TestDecodeSAAnswers(t *testing.T) {
	got := DecodeSAAnswers(json.RawMessage(`[
		{"question": 1, "answer": "3,14"},
		{"question": 2, "answer": 2.5},
		{"question": 3, "answer": null},
		{"answer": "7"}
	]`))

	want := []SAAnswer{{1, "3,14"}, {2, "2.5"}, {3, ""}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExamAnswerKey(t *testing.T) {
	exam := Exam{
		Title:       "Fisika",
		Status:      ExamStatusPublished,
		MaxAttempts: 2,
		MCKey:       json.RawMessage(`[{"answer":"A"},{"answer":"C"}]`),
		TFKey:       json.RawMessage(`[{"question":1,"a":true,"b":false,"c":true,"d":false}]`),
		SAKey:       json.RawMessage(`[{"question":1,"answer":"9,8"},{"question":2,"answer":0}]`),
		CheatRules:  json.RawMessage(`{"max_focus_violations":5,"proctoring":true}`),
	}

	key, err := exam.AnswerKey()
	if err != nil {
		t.Fatalf("AnswerKey: %v", err)
	}
	if !key.IsPublished || key.MaxAttempts != 2 || key.Window != nil {
		t.Errorf("policy fields wrong: %+v", key)
	}
	if key.TotalQuestions() != 5 {
		t.Errorf("TotalQuestions = %d, want 5", key.TotalQuestions())
	}
	if key.ShortAnswer[0].ExpectedValue != 9.8 {
		t.Errorf("comma decimal key = %v, want 9.8", key.ShortAnswer[0].ExpectedValue)
	}
	if key.CheatRules == nil || key.CheatRules.MaxFocusViolations != 5 || !key.CheatRules.Proctoring {
		t.Errorf("cheat rules = %+v", key.CheatRules)
	}
}

func TestExamAnswerKeyKeepsUnreadableShortAnswer(t *testing.T) {
	exam := Exam{
		Status: ExamStatusPublished,
		MCKey:  json.RawMessage(`[{"answer":"A"},{"answer":"B"}]`),
		SAKey:  json.RawMessage(`[{"question":1,"answer":100},{"question":2,"answer":"n/a"},{"question":3,"answer":50}]`),
	}

	key, err := exam.AnswerKey()
	if err == nil || !strings.Contains(err.Error(), "short answer 2") {
		t.Errorf("err = %v, want a report for short answer 2", err)
	}
	if len(key.ShortAnswer) != 3 {
		t.Fatalf("short answers = %+v, want 3 entries", key.ShortAnswer)
	}
	if key.TotalQuestions() != 5 {
		t.Errorf("TotalQuestions = %d, want 5", key.TotalQuestions())
	}
	if key.ShortAnswer[1].Question != 2 || key.ShortAnswer[1].Gradable() {
		t.Errorf("entry 2 = %+v, want ungradeable question 2", key.ShortAnswer[1])
	}
	if key.ShortAnswer[2].Question != 3 || key.ShortAnswer[2].ExpectedValue != 50 {
		t.Errorf("entry 3 = %+v", key.ShortAnswer[2])
	}
}

func TestExamAnswerKeyReportsBadLetter(t *testing.T) {
	exam := Exam{MCKey: json.RawMessage(`[{"answer":"a"},{"answer":"C"}]`)}

	key, err := exam.AnswerKey()
	if err == nil || !strings.Contains(err.Error(), "multiple choice 1") {
		t.Errorf("err = %v, want a report for multiple choice 1", err)
	}
	if len(key.MultipleChoice) != 2 {
		t.Errorf("multiple choice = %+v, want 2 entries", key.MultipleChoice)
	}
}

func TestSAKeyCacheRoundTrip(t *testing.T) {
	in := AnswerKey{ShortAnswer: []SAKey{
		{Question: 1, ExpectedValue: 9.8},
		{Question: 2, ExpectedValue: math.NaN()},
		{Question: 3, ExpectedValue: 0},
	}}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out AnswerKey
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(out.ShortAnswer) != 3 {
		t.Fatalf("short answers = %+v", out.ShortAnswer)
	}
	if out.ShortAnswer[0].ExpectedValue != 9.8 {
		t.Errorf("entry 1 = %+v", out.ShortAnswer[0])
	}
	if out.ShortAnswer[1].Question != 2 || out.ShortAnswer[1].Gradable() {
		t.Errorf("entry 2 = %+v, want ungradeable", out.ShortAnswer[1])
	}
	if !out.ShortAnswer[2].Gradable() || out.ShortAnswer[2].ExpectedValue != 0 {
		t.Errorf("entry 3 = %+v, want exact zero", out.ShortAnswer[2])
	}
}

func TestAnswersAnswered(t *testing.T) {
	yes := true
	a := Answers{
		MC: []Letter{"A", "", "B"},
		TF: []TFAnswer{{Question: 1, C: &yes}, {Question: 2}},
		SA: []SAAnswer{{Question: 1, Answer: "4"}, {Question: 2}},
	}
	if n := a.Answered(); n != 4 {
		t.Errorf("Answered = %d, want 4", n)
	}
}
