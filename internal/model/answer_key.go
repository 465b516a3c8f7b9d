package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Letter is a multiple-choice option. The empty letter means "no answer".
type Letter string

const (
	LetterA Letter = "A"
	LetterB Letter = "B"
	LetterC Letter = "C"
	LetterD Letter = "D"
)

// Valid reports whether l is one of A, B, C or D.
func (l Letter) Valid() bool {
	switch l {
	case LetterA, LetterB, LetterC, LetterD:
		return true
	}
	return false
}

// MCKey is the expected option for one multiple-choice position.
type MCKey struct {
	ExpectedLetter Letter `json:"answer"`
}

// TFKey is the expected truth value of the four statements of a question.
type TFKey struct {
	Question int  `json:"question"`
	A        bool `json:"a"`
	B        bool `json:"b"`
	C        bool `json:"c"`
	D        bool `json:"d"`
}

// SAKey is the expected numeric value of a short-answer question. An
// ExpectedValue of NaN marks a question whose key could not be read: it
// still counts toward the total but never earns credit.
type SAKey struct {
	Question      int     `json:"question"`
	ExpectedValue float64 `json:"answer"`
}

// Gradable reports whether the key holds a usable expected value.
func (k SAKey) Gradable() bool {
	return !math.IsNaN(k.ExpectedValue) && !math.IsInf(k.ExpectedValue, 0)
}

// UnmarshalJSON accepts the expected value either as a JSON number or as a
// string using a dot or comma decimal separator. Anything else leaves the
// entry ungradeable instead of failing, so one bad entry cannot drop the
// rest of the section.
func (k *SAKey) UnmarshalJSON(data []byte) error {
	*k = SAKey{ExpectedValue: math.NaN()}

	var raw struct {
		Question int             `json:"question"`
		Answer   json.RawMessage `json:"answer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	k.Question = raw.Question
	if v, ok := parseKeyValue(raw.Answer); ok {
		k.ExpectedValue = v
	}
	return nil
}

// MarshalJSON writes an ungradeable expected value as null.
func (k SAKey) MarshalJSON() ([]byte, error) {
	out := struct {
		Question int      `json:"question"`
		Answer   *float64 `json:"answer"`
	}{Question: k.Question}
	if k.Gradable() {
		v := k.ExpectedValue
		out.Answer = &v
	}
	return json.Marshal(out)
}

func parseKeyValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		v, err = strconv.ParseFloat(strings.Replace(strings.TrimSpace(text), ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SchedulingWindow bounds when submissions are accepted. Either end may be open.
type SchedulingWindow struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// AnswerKey is the server-held grading key of an exam together with the
// submission policy that applies to it. It is immutable during an exam window.
type AnswerKey struct {
	ExamID          uuid.UUID         `json:"exam_id"`
	Title           string            `json:"title"`
	MultipleChoice  []MCKey           `json:"mc"`
	TrueFalse       []TFKey           `json:"tf"`
	ShortAnswer     []SAKey           `json:"sa"`
	MaxAttempts     int               `json:"max_attempts"`
	Window          *SchedulingWindow `json:"window,omitempty"`
	IsPublished     bool              `json:"is_published"`
	DurationMinutes int               `json:"duration_minutes"`
	CheatRules      *CheatRules       `json:"cheat_rules,omitempty"`
}

// TotalQuestions is the number of gradable questions across all sections.
func (k *AnswerKey) TotalQuestions() int {
	return len(k.MultipleChoice) + len(k.TrueFalse) + len(k.ShortAnswer)
}
