package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stemsi/exstem-guard/internal/proctor"
)

func TestSignalRequestSignal(t *testing.T) {
	tests := []struct {
		raw  string
		want proctor.Signal
	}{
		{`{"action":"signal","type":"visibility","hidden":true}`, proctor.Visibility{Hidden: true}},
		{`{"action":"signal","type":"fullscreen","active":false}`, proctor.Fullscreen{Active: false}},
		{`{"action":"signal","type":"clipboard","clipboard_action":"copy"}`, proctor.Clipboard{Action: proctor.ClipboardCopy}},
		{`{"action":"signal","type":"face","faces":2}`, proctor.FaceFrame{Faces: 2}},
		{`{"action":"signal","type":"object","label":"cell phone","confidence":0.9}`, proctor.ObjectFrame{Label: "cell phone", Confidence: 0.9}},
	}

	for _, tt := range tests {
		var req SignalRequest
		if err := json.Unmarshal([]byte(tt.raw), &req); err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		got, ok := req.Signal()
		if !ok || got != tt.want {
			t.Errorf("%s: got %#v, %v", tt.raw, got, ok)
		}
	}

	if _, ok := (SignalRequest{Type: "keyboard"}).Signal(); ok {
		t.Error("unknown signal type accepted")
	}
}

func TestAnswersRequestIsLenient(t *testing.T) {
	var req AnswersRequest
	raw := `{"action":"submit","mc_answers":["a",null,"E"],"tf_answers":"oops","sa_answers":[{"question":1,"answer":3.5}]}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatal(err)
	}

	a := req.Answers()
	if len(a.MC) != 3 || a.MC[0] != "" || a.MC[1] != "" || a.MC[2] != "" {
		t.Errorf("mc = %v", a.MC)
	}
	if len(a.TF) != 0 {
		t.Errorf("tf = %v", a.TF)
	}
	if len(a.SA) != 1 || a.SA[0].Answer != "3.5" {
		t.Errorf("sa = %v", a.SA)
	}
}
