package channel

import (
	"errors"
	"testing"
)

func TestTriageReplyDecode(t *testing.T) {
	cases := []struct {
		name    string
		reply   TriageReply
		want    string // "incomplete", "complete", or "malformed"
		message string
	}{
		{
			name: "incomplete with missing fields",
			reply: TriageReply{
				Status:                  StatusIncomplete,
				ParsedSymptom:           map[string]any{"primary_symptom": "fever"},
				MissingFields:           []string{"duration", "age"},
				RequiredFields:          []string{"primary_symptom", "duration", "age"},
				FollowupQuestions:       map[string]string{"duration": "How long?", "age": "How old?"},
				PrimarySymptomAvailable: true,
			},
			want: "incomplete",
		},
		{
			name: "vague first message",
			reply: TriageReply{
				Status:            StatusIncomplete,
				FollowupQuestions: map[string]string{"primary_symptom": "Your question is vague, please provide more details starting with some symptoms"},
			},
			want: "incomplete",
		},
		{
			name:  "complete with guidance",
			reply: TriageReply{Status: StatusComplete, Guidance: "Keep the child hydrated.", ParsedSymptom: map[string]any{"primary_symptom": "fever"}},
			want:  "complete",
		},
		{
			name:  "unknown terminal status still terminal",
			reply: TriageReply{Status: "done", Guidance: "All set."},
			want:  "complete",
		},
		{
			name:  "missing status",
			reply: TriageReply{Guidance: "text"},
			want:  "malformed",
		},
		{
			name:  "terminal without guidance",
			reply: TriageReply{Status: StatusComplete},
			want:  "malformed",
		},
		{
			name: "missing field outside required set",
			reply: TriageReply{
				Status:         StatusIncomplete,
				MissingFields:  []string{"severity"},
				RequiredFields: []string{"duration"},
			},
			want: "malformed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			turn, err := tc.reply.Decode()
			switch tc.want {
			case "malformed":
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("Decode error = %v, want ErrMalformedResponse", err)
				}
			case "incomplete":
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if _, ok := turn.(Incomplete); !ok {
					t.Fatalf("Decode = %T, want Incomplete", turn)
				}
			case "complete":
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				c, ok := turn.(Complete)
				if !ok {
					t.Fatalf("Decode = %T, want Complete", turn)
				}
				if c.Guidance == "" {
					t.Error("Complete turn should carry guidance")
				}
			}
		})
	}
}

func TestIntentResponseTopLabel(t *testing.T) {
	var empty IntentResponse
	if got := empty.TopLabel(); got != "" {
		t.Errorf("TopLabel on empty response = %q, want empty", got)
	}

	resp := IntentResponse{}
	resp.Response = append(resp.Response, struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}{Label: "Pediatrician", Score: 0.98})
	if got := resp.TopLabel(); got != "Pediatrician" {
		t.Errorf("TopLabel = %q, want Pediatrician", got)
	}
}
