package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DecodeAnswers turns the raw answer sections of a submission into Answers.
// It never fails: a section that is absent or of the wrong shape decodes to
// "no answers", and individual malformed entries are treated as unanswered.
func DecodeAnswers(mc, tf, sa json.RawMessage) Answers {
	return Answers{
		MC: DecodeMCAnswers(mc),
		TF: DecodeTFAnswers(tf),
		SA: DecodeSAAnswers(sa),
	}
}

// DecodeMCAnswers expects an array of letters; null or non-letter items are
// absent. Letters are taken as sent, so "a" is not the option "A".
func DecodeMCAnswers(raw json.RawMessage) []Letter {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]Letter, len(items))
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if l := Letter(s); l.Valid() {
			out[i] = l
		}
	}
	return out
}

// DecodeTFAnswers expects an array of {question, a, b, c, d} objects.
// Entries without a question number are dropped; non-boolean parts are absent.
func DecodeTFAnswers(raw json.RawMessage) []TFAnswer {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]TFAnswer, 0, len(items))
	for _, item := range items {
		q, ok := questionNumber(item["question"])
		if !ok {
			continue
		}
		out = append(out, TFAnswer{
			Question: q,
			A:        optionalBool(item["a"]),
			B:        optionalBool(item["b"]),
			C:        optionalBool(item["c"]),
			D:        optionalBool(item["d"]),
		})
	}
	return out
}

// DecodeSAAnswers expects an array of {question, answer}. Numeric answers are
// kept as their literal text so grading sees what the student typed.
func DecodeSAAnswers(raw json.RawMessage) []SAAnswer {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]SAAnswer, 0, len(items))
	for _, item := range items {
		q, ok := questionNumber(item["question"])
		if !ok {
			continue
		}
		out = append(out, SAAnswer{Question: q, Answer: answerText(item["answer"])})
	}
	return out
}

func questionNumber(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, false
	}
	return v, true
}

func optionalBool(raw json.RawMessage) *bool {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

func answerText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
