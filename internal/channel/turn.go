package channel

import "fmt"

// Turn statuses on the wire. "incomplete" is the only non-terminal status;
// anything else on a well-formed reply ends the flow.
const (
	StatusIncomplete = "incomplete"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// Transcript speaker roles used by the streaming persona.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptMessage is one confirmed entry of a streaming conversation.
type TranscriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IntentRequest asks the classifier to label a free-text message.
type IntentRequest struct {
	Message string `json:"message"`
}

// IntentResponse carries ranked labels; only the first is consulted.
type IntentResponse struct {
	Response []struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	} `json:"response"`
}

// TopLabel returns the best classification, or "" when the classifier
// returned nothing usable.
func (r *IntentResponse) TopLabel() string {
	if len(r.Response) == 0 {
		return ""
	}
	return r.Response[0].Label
}

// TriageRequest starts the field-collection flow.
type TriageRequest struct {
	Message string `json:"message"`
}

// TriageUpdateRequest continues the field-collection flow, echoing back the
// structure the server handed out on the previous turn.
type TriageUpdateRequest struct {
	PrimarySymptomAvailable bool              `json:"primary_symptom_available"`
	NewMessage              string            `json:"new_message"`
	ExistingSymptom         map[string]any    `json:"existing_symptom"`
	RequiredFields          []string          `json:"required_fields"`
	Followups               map[string]string `json:"followups"`
}

// TriageReply is the raw wire shape shared by the initial and update
// endpoints. Decode it into a tagged Turn before acting on it.
type TriageReply struct {
	Status                  string            `json:"status"`
	ParsedSymptom           map[string]any    `json:"parsed_symptom"`
	MissingFields           []string          `json:"missing_fields"`
	RequiredFields          []string          `json:"required_fields"`
	FollowupQuestions       map[string]string `json:"followup_questions"`
	PrimarySymptomAvailable bool              `json:"primary_symptom_available"`
	Guidance                string            `json:"guidance"`
}

// Turn is a validated persona reply: either the flow needs more input or it
// produced final guidance. Nothing else exists.
type Turn interface {
	isTurn()
}

// Incomplete continues the flow: the listed fields are still missing and each
// has a prompt to show the user.
type Incomplete struct {
	ParsedSymptom           map[string]any
	MissingFields           []string
	RequiredFields          []string
	FollowupQuestions       map[string]string
	PrimarySymptomAvailable bool
}

func (Incomplete) isTurn() {}

// Complete ends the flow with final guidance.
type Complete struct {
	ParsedSymptom map[string]any
	Guidance      string
}

func (Complete) isTurn() {}

// Decode validates a raw triage reply into a tagged Turn. A reply matching
// neither variant is a malformed response, never coerced.
func (r *TriageReply) Decode() (Turn, error) {
	switch {
	case r.Status == "":
		return nil, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	case r.Status == StatusIncomplete:
		for _, f := range r.MissingFields {
			if !contains(r.RequiredFields, f) {
				return nil, fmt.Errorf("%w: missing field %q is not a required field", ErrMalformedResponse, f)
			}
		}
		return Incomplete{
			ParsedSymptom:           r.ParsedSymptom,
			MissingFields:           r.MissingFields,
			RequiredFields:          r.RequiredFields,
			FollowupQuestions:       r.FollowupQuestions,
			PrimarySymptomAvailable: r.PrimarySymptomAvailable,
		}, nil
	case r.Guidance == "":
		return nil, fmt.Errorf("%w: terminal status %q carries no guidance", ErrMalformedResponse, r.Status)
	default:
		return Complete{ParsedSymptom: r.ParsedSymptom, Guidance: r.Guidance}, nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
