package session

import (
	"github.com/smartparent/companion/internal/channel"
	"github.com/smartparent/companion/internal/persona"
)

// Phase is the coarse position of the conversational state machine.
type Phase int

const (
	// Idle: no persona locked; the next message goes to the classifier.
	Idle Phase = iota
	// PersonaLocked: a persona is active and its channel is in use.
	PersonaLocked
	// FollowUpPending: sub-state of PersonaLocked for the field-collection
	// flow on the request/response persona.
	FollowUpPending
)

func (p Phase) String() string {
	switch p {
	case FollowUpPending:
		return "follow-up pending"
	case PersonaLocked:
		return "persona locked"
	default:
		return "idle"
	}
}

// State is the full conversational session of one signed-in client. It is a
// value: Transition returns a new State and never mutates its input maps or
// slices in place.
type State struct {
	ActivePersona persona.Persona

	// Field-collection flow (request/response persona).
	FollowUpMode            bool
	CollectedAnswers        map[string]any
	RequiredFields          []string
	MissingFields           []string
	FollowUpPrompts         map[string]string
	PrimaryTopicEstablished bool
	TurnBuffer              []string

	// Streaming persona. Transcript mirrors server-confirmed state; the
	// turn-open flag guards duplicate terminal frames and is not persisted.
	Transcript     []channel.TranscriptMessage
	StreamTurnOpen bool
}

// NewState returns the idle session.
func NewState() State {
	return State{ActivePersona: persona.Inactive}
}

// Phase derives the machine position from the state fields.
func (s State) Phase() Phase {
	switch {
	case s.FollowUpMode:
		return FollowUpPending
	case s.ActivePersona != persona.Inactive && s.ActivePersona != "":
		return PersonaLocked
	default:
		return Idle
	}
}

// clearFollowUp drops every field-collection field. The transcript survives
// only when keepTranscript is set (same streaming persona reconnecting).
func clearFollowUp(s State, keepTranscript bool) State {
	s.FollowUpMode = false
	s.CollectedAnswers = nil
	s.RequiredFields = nil
	s.MissingFields = nil
	s.FollowUpPrompts = nil
	s.PrimaryTopicEstablished = false
	s.TurnBuffer = nil
	if !keepTranscript {
		s.Transcript = nil
		s.StreamTurnOpen = false
	}
	return s
}

// CollectedCount returns how many required fields are already satisfied, for
// the "collected k/n" progress line.
func (s State) CollectedCount() (collected, required int) {
	return len(s.RequiredFields) - len(s.MissingFields), len(s.RequiredFields)
}
