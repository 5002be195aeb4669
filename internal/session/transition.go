package session

import (
	"sort"
	"strings"

	"github.com/smartparent/companion/internal/channel"
	"github.com/smartparent/companion/internal/history"
	"github.com/smartparent/companion/internal/persona"
)

// Transition applies one event to the session state and returns the new state
// plus the effects the driver must perform. It is pure: no I/O, no clocks, no
// mutation of the input state's maps or slices.
func Transition(s State, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case Submit:
		return onSubmit(s, e)
	case IntentClassified:
		return onIntent(s, e)
	case TriageResult:
		return onTriageResult(s, e)
	case StreamFrame:
		return onStreamFrame(s, e)
	case ResetRequested:
		return clearFollowUp(s, false), []Effect{Persist{}}
	default:
		return s, nil
	}
}

func onSubmit(s State, e Submit) (State, []Effect) {
	if s.FollowUpMode {
		// Answers in flight bypass the classifier entirely.
		req := &channel.TriageUpdateRequest{
			PrimarySymptomAvailable: s.PrimaryTopicEstablished,
			NewMessage:              e.Text,
			ExistingSymptom:         s.CollectedAnswers,
			RequiredFields:          s.RequiredFields,
			Followups:               s.FollowUpPrompts,
		}
		if req.ExistingSymptom == nil {
			req.ExistingSymptom = map[string]any{}
		}
		return s, []Effect{CallTriage{Text: e.Text, Update: req}}
	}
	if s.ActivePersona == persona.Pediatrician {
		// The request/response persona stays locked between turns, so a
		// fresh message skips classification too.
		return s, []Effect{CallTriage{Text: e.Text}}
	}
	return s, []Effect{Classify{Text: e.Text}}
}

func onIntent(s State, e IntentClassified) (State, []Effect) {
	p := persona.FromIntent(e.Label)
	if p != s.ActivePersona {
		// Persona switch wipes any half-finished flow. The transcript only
		// survives when the same streaming persona is re-entered, which the
		// inequality above already rules out here.
		s = clearFollowUp(s, false)
	}
	s.ActivePersona = p

	switch {
	case p == persona.Pediatrician:
		return s, []Effect{Persist{}, CallTriage{Text: e.Text}}
	case p.Streaming():
		s.StreamTurnOpen = true
		return s, []Effect{Persist{}, SendStream{Text: e.Text}}
	default:
		// Out-of-scope and unsupported intents get a canned reply, recorded
		// in history like any other exchange.
		reply := p.FallbackReply()
		entry := history.Entry{
			Question:  e.Text,
			Response:  reply,
			Timestamp: e.Timestamp,
		}
		rec := RecordHistory{Entry: entry, Intent: e.Label, ParsedSymptom: map[string]any{}}
		return s, []Effect{Persist{}, rec, Notify{Kind: NoteFallback, Text: reply}}
	}
}

func onTriageResult(s State, e TriageResult) (State, []Effect) {
	switch t := e.Turn.(type) {
	case channel.Incomplete:
		s.FollowUpMode = true
		s.CollectedAnswers = t.ParsedSymptom
		if s.CollectedAnswers == nil {
			s.CollectedAnswers = map[string]any{}
		}
		s.RequiredFields = t.RequiredFields
		s.MissingFields = t.MissingFields
		s.FollowUpPrompts = t.FollowupQuestions
		s.PrimaryTopicEstablished = t.PrimarySymptomAvailable
		if e.IsFollowUp {
			s.TurnBuffer = append(append([]string(nil), s.TurnBuffer...), e.Text)
		} else {
			s.TurnBuffer = []string{e.Text}
		}
		return s, []Effect{Persist{}, Notify{Kind: NotePrompt, Text: joinPrompts(t.MissingFields, t.FollowupQuestions)}}

	case channel.Complete:
		question := e.Text
		if e.IsFollowUp {
			question = strings.Join(append(append([]string(nil), s.TurnBuffer...), e.Text), "\n")
		}
		parsed := t.ParsedSymptom
		if parsed == nil {
			parsed = s.CollectedAnswers
		}
		if parsed == nil {
			parsed = map[string]any{}
		}
		entry := history.Entry{
			Question:  question,
			Response:  t.Guidance,
			Timestamp: e.Timestamp,
		}
		s = clearFollowUp(s, false)
		s.ActivePersona = persona.Inactive
		rec := RecordHistory{Entry: entry, Intent: string(persona.Pediatrician), ParsedSymptom: parsed}
		return s, []Effect{Persist{}, rec, Notify{Kind: NoteGuidance, Text: t.Guidance}}

	default:
		return s, nil
	}
}

func onStreamFrame(s State, e StreamFrame) (State, []Effect) {
	if !s.ActivePersona.Streaming() {
		// Frame raced a persona switch; drop it.
		return s, nil
	}

	terminal := e.Frame.Status != "" &&
		e.Frame.Status != channel.StatusIncomplete &&
		e.Frame.Status != channel.StatusError

	// A terminal frame with no turn live is a duplicate of one already
	// processed: drop it before it can resurrect the cleared transcript.
	turnLive := s.StreamTurnOpen || len(s.Transcript) > 0
	if terminal && !turnLive && !e.Resync {
		return s, nil
	}

	if e.Frame.History != nil {
		s.Transcript = e.Frame.History
	}
	if e.Resync {
		return s, []Effect{Persist{}}
	}

	switch {
	case e.Frame.Status == channel.StatusIncomplete:
		return s, []Effect{Persist{}, Notify{Kind: NotePrompt, Text: e.Frame.FollowupQuestion}}

	case terminal:
		entry := history.Entry{
			Question:  joinUserMessages(s.Transcript),
			Response:  e.Frame.Guidance,
			Timestamp: e.Timestamp,
		}
		keep := s.ActivePersona
		s = clearFollowUp(s, false)
		s.ActivePersona = keep
		rec := RecordHistory{Entry: entry, Intent: string(keep), ParsedSymptom: map[string]any{}}
		return s, []Effect{Persist{}, rec, Notify{Kind: NoteGuidance, Text: e.Frame.Guidance}}

	case e.Frame.Status == channel.StatusError:
		return s, []Effect{Notify{Kind: NoteError, Text: e.Frame.Message}}

	default:
		return s, nil
	}
}

// joinPrompts orders follow-up questions by the missing-field list, then any
// extras (such as a vague-message reprompt) by key, and joins them one per
// line.
func joinPrompts(missing []string, prompts map[string]string) string {
	if len(prompts) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(prompts))
	var lines []string
	for _, f := range missing {
		if q, ok := prompts[f]; ok && !seen[f] {
			lines = append(lines, q)
			seen[f] = true
		}
	}
	var rest []string
	for f := range prompts {
		if !seen[f] {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	for _, f := range rest {
		lines = append(lines, prompts[f])
	}
	return strings.Join(lines, "\n")
}

// joinUserMessages concatenates the user-role contents of a transcript, which
// reconstructs the full question of a multi-message streaming turn.
func joinUserMessages(ts []channel.TranscriptMessage) string {
	var parts []string
	for _, m := range ts {
		if m.Role == channel.RoleUser {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}
