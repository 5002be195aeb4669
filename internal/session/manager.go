package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartparent/companion/internal/channel"
	"github.com/smartparent/companion/internal/history"
	"github.com/smartparent/companion/internal/persona"
)

// ErrTurnInFlight is returned when a message is submitted while the previous
// request/response turn has not resolved yet.
var ErrTurnInFlight = errors.New("a message is already being processed")

// TokenSource supplies the bearer token for persona calls.
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// Endpoints are the per-concern service bases the manager talks to.
type Endpoints struct {
	API          string // intent classifier
	Triage       string // request/response persona
	Psychologist string // streaming persona
}

// Note surfaces conversational output to the user interface. Notes are
// delivered from the submitting goroutine or, for streaming replies, from the
// channel's read goroutine.
type Note struct {
	Kind NoteKind
	Text string
}

// Manager drives the session state machine: it owns the State, executes the
// effects Transition emits, and serializes everything behind one mutex. The
// streaming channel's inbound frames are the only concurrent input.
type Manager struct {
	mu       sync.Mutex
	state    State
	busy     bool
	stream   *channel.Stream
	resync   bool
	frameGen uint64

	repo      *Repository
	caller    *channel.Caller
	tokens    TokenSource
	historian *history.Log
	urls      Endpoints

	onNote func(Note)
	log    *logrus.Entry
	now    func() time.Time
}

// NewManager assembles a session manager. The initial state is restored from
// the repository; invalid scratch data degrades to a clean session.
func NewManager(repo *Repository, caller *channel.Caller, tokens TokenSource, historian *history.Log, urls Endpoints) (*Manager, error) {
	st, err := repo.Load()
	if err != nil {
		return nil, err
	}
	return &Manager{
		state:     st,
		repo:      repo,
		caller:    caller,
		tokens:    tokens,
		historian: historian,
		urls:      urls,
		log:       logrus.WithField("component", "session"),
		now:       time.Now,
	}, nil
}

// SetNoteHandler registers the sink for conversational output. Must be set
// before the first Submit.
func (m *Manager) SetNoteHandler(fn func(Note)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNote = fn
}

// Snapshot returns a copy of the current session state for rendering.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

// Submit runs one user message through the machine. For request/response
// personas it returns after the turn resolves; for the streaming persona it
// returns once the message is on the wire and the reply arrives through the
// note handler. A failed turn leaves the session state exactly as it was.
func (m *Manager) Submit(ctx context.Context, text string) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrTurnInFlight
	}
	m.busy = true
	snapshot := cloneState(m.state)
	gen := m.frameGen
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	ev := Submit{Text: text, Timestamp: m.timestamp()}
	if err := m.dispatch(ctx, ev); err != nil {
		m.rollback(snapshot, gen)
		return err
	}
	return nil
}

// rollback restores the pre-turn snapshot after a failed turn, in memory and
// in the scratch store: a mid-turn Persist may already have overwritten the
// store with state the failure invalidated. When a stream frame was applied
// while the turn was in flight the frame's result supersedes the snapshot and
// the rollback is skipped.
func (m *Manager) rollback(snapshot State, gen uint64) {
	m.mu.Lock()
	if m.frameGen != gen {
		m.mu.Unlock()
		m.log.Debug("Failed turn not rolled back; a stream frame superseded it")
		return
	}
	m.state = snapshot
	m.mu.Unlock()

	if err := m.repo.Save(snapshot); err != nil {
		m.log.WithError(err).Warn("Session scratch state not restored after a failed turn")
	}
}

// Reset abandons the in-progress follow-up flow and closes any live streaming
// channel. History is untouched.
func (m *Manager) Reset() error {
	m.mu.Lock()
	st, effects := Transition(m.state, ResetRequested{})
	m.state = st
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	return m.runEffects(context.Background(), effects)
}

// Clear resets the session and wipes the scratch store, as on sign-out.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.state = NewState()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	return m.repo.Clear()
}

// Close shuts the streaming channel down without touching persisted state, as
// on process exit. The session survives for the next run.
func (m *Manager) Close() {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

// dispatch feeds one event through Transition and executes the effects. Some
// effects produce follow-on events (a classification, a triage reply), which
// re-enter here.
func (m *Manager) dispatch(ctx context.Context, ev Event) error {
	m.mu.Lock()
	st, effects := Transition(m.state, ev)
	m.state = st
	m.mu.Unlock()

	return m.runEffects(ctx, effects)
}

func (m *Manager) runEffects(ctx context.Context, effects []Effect) error {
	for _, eff := range effects {
		switch e := eff.(type) {
		case Classify:
			if err := m.classify(ctx, e.Text); err != nil {
				return err
			}
		case CallTriage:
			if err := m.callTriage(ctx, e); err != nil {
				return err
			}
		case SendStream:
			if err := m.sendStream(ctx, e.Text); err != nil {
				return err
			}
		case RecordHistory:
			// The local entry is kept even when the remote mirror fails;
			// history is best-effort and must never undo a finished turn.
			if err := m.historian.Append(ctx, e.Entry, e.Intent, e.ParsedSymptom); err != nil {
				m.log.WithError(err).Warn("History entry not mirrored to the store")
			}
		case Persist:
			m.mu.Lock()
			st := cloneState(m.state)
			m.mu.Unlock()
			if err := m.repo.Save(st); err != nil {
				m.log.WithError(err).Warn("Session scratch state not persisted")
			}
		case Notify:
			m.deliver(Note{Kind: e.Kind, Text: e.Text})
		}
	}
	return nil
}

func (m *Manager) classify(ctx context.Context, text string) error {
	token, err := m.tokens.Token(ctx, false)
	if err != nil {
		return err
	}
	var resp channel.IntentResponse
	req := channel.IntentRequest{Message: text}
	if err := m.caller.PostJSON(ctx, m.urls.API+"/intent", token, req, &resp); err != nil {
		return fmt.Errorf("intent classification failed: %w", err)
	}
	label := resp.TopLabel()
	m.log.WithFields(logrus.Fields{"label": label}).Debug("Message classified")
	return m.dispatch(ctx, IntentClassified{Text: text, Label: label, Timestamp: m.timestamp()})
}

func (m *Manager) callTriage(ctx context.Context, e CallTriage) error {
	token, err := m.tokens.Token(ctx, false)
	if err != nil {
		return err
	}

	url := m.urls.Triage + "/pediatrician"
	var payload any = channel.TriageRequest{Message: e.Text}
	if e.Update != nil {
		url += "/update"
		payload = e.Update
	}

	var reply channel.TriageReply
	if err := m.caller.PostJSON(ctx, url, token, payload, &reply); err != nil {
		return fmt.Errorf("triage call failed: %w", err)
	}
	turn, err := reply.Decode()
	if err != nil {
		return err
	}
	return m.dispatch(ctx, TriageResult{
		Text:       e.Text,
		IsFollowUp: e.Update != nil,
		Turn:       turn,
		Timestamp:  m.timestamp(),
	})
}

// sendStream delivers a message on the streaming channel, dialing first when
// no live channel exists. When a restored transcript is present at dial time
// the first inbound frame is consumed as a transcript resync, not as the
// reply to this message.
func (m *Manager) sendStream(ctx context.Context, text string) error {
	m.mu.Lock()
	stream := m.stream
	needResync := stream == nil && len(m.state.Transcript) > 0
	m.mu.Unlock()

	if stream == nil {
		token, err := m.tokens.Token(ctx, false)
		if err != nil {
			return err
		}
		// The resync flag must be raised before the dial: the replayed
		// transcript can arrive on the read goroutine before DialStream
		// returns.
		m.mu.Lock()
		m.resync = needResync
		m.mu.Unlock()

		url := channel.WSURL(m.urls.Psychologist, "/ws/child-psychologist")
		stream, err = channel.DialStream(ctx, url, token, m.handleFrame, m.handleStreamClose)
		if err != nil {
			m.mu.Lock()
			m.resync = false
			m.mu.Unlock()
			return err
		}
		m.mu.Lock()
		m.stream = stream
		m.mu.Unlock()
	}

	if err := stream.Send(text); err != nil {
		return err
	}
	return nil
}

// handleFrame runs on the stream's read goroutine.
func (m *Manager) handleFrame(f channel.Frame) {
	m.mu.Lock()
	resync := m.resync
	m.resync = false
	st, effects := Transition(m.state, StreamFrame{Frame: f, Resync: resync, Timestamp: m.timestamp()})
	m.state = st
	if len(effects) > 0 {
		// A dropped frame (wrong persona, duplicate terminal) emits no
		// effects and leaves the state untouched, so it does not count.
		m.frameGen++
	}
	m.mu.Unlock()

	if err := m.runEffects(context.Background(), effects); err != nil {
		m.log.WithError(err).Warn("Streaming frame not fully applied")
	}
}

// handleStreamClose runs when the channel drops. The transcript is kept so a
// later message resynchronizes over a fresh channel instead of losing the
// conversation.
func (m *Manager) handleStreamClose(err error) {
	m.mu.Lock()
	m.stream = nil
	m.mu.Unlock()

	if err != nil {
		m.log.WithError(err).Warn("Streaming channel closed unexpectedly")
		m.deliver(Note{Kind: NoteError, Text: "Connection to the psychologist was lost. Your next message will reconnect."})
	}
}

func (m *Manager) deliver(n Note) {
	m.mu.Lock()
	fn := m.onNote
	m.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (m *Manager) timestamp() string {
	return m.now().UTC().Format(time.RFC3339)
}

// cloneState deep-copies the mutable parts of a State so snapshots and
// rollback copies never alias live maps.
func cloneState(s State) State {
	c := s
	if s.CollectedAnswers != nil {
		c.CollectedAnswers = make(map[string]any, len(s.CollectedAnswers))
		for k, v := range s.CollectedAnswers {
			c.CollectedAnswers[k] = v
		}
	}
	if s.FollowUpPrompts != nil {
		c.FollowUpPrompts = make(map[string]string, len(s.FollowUpPrompts))
		for k, v := range s.FollowUpPrompts {
			c.FollowUpPrompts[k] = v
		}
	}
	c.RequiredFields = append([]string(nil), s.RequiredFields...)
	c.MissingFields = append([]string(nil), s.MissingFields...)
	c.TurnBuffer = append([]string(nil), s.TurnBuffer...)
	c.Transcript = append([]channel.TranscriptMessage(nil), s.Transcript...)
	return c
}

// ActivePersona reports the persona currently locked, for status output.
func (m *Manager) ActivePersona() persona.Persona {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ActivePersona
}
