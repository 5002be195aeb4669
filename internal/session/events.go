package session

import (
	"github.com/smartparent/companion/internal/channel"
	"github.com/smartparent/companion/internal/history"
)

// Event is an input to Transition. Events carry everything the pure machine
// needs, including timestamps, so the transition function stays deterministic.
type Event interface{ isEvent() }

// Submit is a message typed by the user.
type Submit struct {
	Text      string
	Timestamp string
}

// IntentClassified carries the top label returned by the classifier for a
// submitted message.
type IntentClassified struct {
	Text      string
	Label     string
	Timestamp string
}

// TriageResult is the decoded reply of a request/response turn. IsFollowUp
// distinguishes the update call from the initial one: the update call's text
// joins the turn buffer, the initial call's text seeds it.
type TriageResult struct {
	Text       string
	IsFollowUp bool
	Turn       channel.Turn
	Timestamp  string
}

// StreamFrame is an inbound frame on the streaming channel. Resync marks the
// first frame after a reconnect with a restored transcript: it refreshes
// local state and is never treated as a reply to a new message.
type StreamFrame struct {
	Frame     channel.Frame
	Resync    bool
	Timestamp string
}

// ResetRequested abandons the in-progress follow-up flow.
type ResetRequested struct{}

func (Submit) isEvent()           {}
func (IntentClassified) isEvent() {}
func (TriageResult) isEvent()     {}
func (StreamFrame) isEvent()      {}
func (ResetRequested) isEvent()   {}

// Effect is an output of Transition: an action for the driver to perform.
// The pure machine never performs I/O itself.
type Effect interface{ isEffect() }

// Classify asks the classifier for the intent of Text.
type Classify struct{ Text string }

// CallTriage performs a request/response turn. Update is nil for the initial
// call of a flow and set for follow-up answers.
type CallTriage struct {
	Text   string
	Update *channel.TriageUpdateRequest
}

// SendStream delivers Text on the streaming channel, opening it first if no
// live channel exists.
type SendStream struct{ Text string }

// RecordHistory appends a completed exchange to the history log.
type RecordHistory struct {
	Entry         history.Entry
	Intent        string
	ParsedSymptom map[string]any
}

// Persist writes the session scratch state through the repository.
type Persist struct{}

// Notify surfaces text to the user interface.
type Notify struct {
	Kind NoteKind
	Text string
}

func (Classify) isEffect()      {}
func (CallTriage) isEffect()    {}
func (SendStream) isEffect()    {}
func (RecordHistory) isEffect() {}
func (Persist) isEffect()       {}
func (Notify) isEffect()        {}

// NoteKind classifies a Notify effect for rendering.
type NoteKind int

const (
	// NotePrompt is a follow-up question; the flow stays open.
	NotePrompt NoteKind = iota
	// NoteGuidance is terminal guidance; the turn is complete.
	NoteGuidance
	// NoteFallback is a canned out-of-scope or unsupported reply.
	NoteFallback
	// NoteError is a stream-reported error message.
	NoteError
)
