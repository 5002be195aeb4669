package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartparent/companion/internal/channel"
	"github.com/smartparent/companion/internal/history"
	"github.com/smartparent/companion/internal/persona"
	"github.com/smartparent/companion/internal/store"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(context.Context, bool) (string, error) { return s.token, nil }

// personaServices is the set of fake backends one manager test talks to.
type personaServices struct {
	intentLabel string
	triage      func(isUpdate bool, req map[string]any) (int, any)

	mu          sync.Mutex
	triageCalls int
	saved       []map[string]any
}

func (ps *personaServices) start(t *testing.T) (api, triage, sql *httptest.Server) {
	t.Helper()

	api = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"response": []map[string]any{{"label": ps.intentLabel, "score": 0.97}},
		})
	}))
	t.Cleanup(api.Close)

	triage = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.triageCalls++
		ps.mu.Unlock()
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		status, body := ps.triage(r.URL.Path == "/pediatrician/update", req)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(triage.Close)

	sql = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/history":
			json.NewEncoder(w).Encode(map[string]any{"history": []any{}})
		case "/save-chat":
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			ps.mu.Lock()
			ps.saved = append(ps.saved, req)
			ps.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(sql.Close)
	return api, triage, sql
}

func (ps *personaServices) calls() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.triageCalls
}

func (ps *personaServices) savedEntries() []map[string]any {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]map[string]any(nil), ps.saved...)
}

func newTestManager(t *testing.T, kv store.Store, urls Endpoints, sqlURL string) (*Manager, chan Note) {
	t.Helper()
	caller := channel.NewCaller()
	tokens := staticTokens{token: "tok-test"}
	m, err := NewManager(NewRepository(kv), caller, tokens, history.NewLog(sqlURL, caller, tokens), urls)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)

	notes := make(chan Note, 8)
	m.SetNoteHandler(func(n Note) { notes <- n })
	return m, notes
}

func nextNote(t *testing.T, notes chan Note) Note {
	t.Helper()
	select {
	case n := <-notes:
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a note")
		return Note{}
	}
}

func TestManagerTriageFlow(t *testing.T) {
	ps := &personaServices{
		intentLabel: "Pediatrician",
		triage: func(isUpdate bool, req map[string]any) (int, any) {
			if !isUpdate {
				return 200, map[string]any{
					"status":                    "incomplete",
					"parsed_symptom":            map[string]any{"symptom": "fever"},
					"missing_fields":            []string{"duration"},
					"required_fields":           []string{"symptom", "duration"},
					"followup_questions":        map[string]string{"duration": "How long has it lasted?"},
					"primary_symptom_available": true,
				}
			}
			if req["new_message"] != "two days" {
				return 400, map[string]any{"detail": "unexpected update"}
			}
			return 200, map[string]any{
				"status":         "complete",
				"parsed_symptom": map[string]any{"symptom": "fever", "duration": "two days"},
				"guidance":       "Keep her hydrated and see your pediatrician if the fever persists.",
			}
		},
	}
	api, triage, sql := ps.start(t)
	m, notes := newTestManager(t, store.NewMem(), Endpoints{API: api.URL, Triage: triage.URL}, sql.URL)

	if err := m.Submit(context.Background(), "she has a fever"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	n := nextNote(t, notes)
	if n.Kind != NotePrompt || n.Text != "How long has it lasted?" {
		t.Fatalf("note = %#v", n)
	}
	if st := m.Snapshot(); st.Phase() != FollowUpPending {
		t.Fatalf("phase = %v", st.Phase())
	}

	if err := m.Submit(context.Background(), "two days"); err != nil {
		t.Fatalf("Submit follow-up: %v", err)
	}
	n = nextNote(t, notes)
	if n.Kind != NoteGuidance {
		t.Fatalf("note = %#v", n)
	}
	if st := m.Snapshot(); st.Phase() != Idle {
		t.Fatalf("phase after completion = %v", st.Phase())
	}

	saved := ps.savedEntries()
	if len(saved) != 1 {
		t.Fatalf("saved = %v", saved)
	}
	if saved[0]["question"] != "she has a fever\ntwo days" {
		t.Errorf("saved question = %q", saved[0]["question"])
	}
	if saved[0]["intent"] != "Pediatrician" {
		t.Errorf("saved intent = %q", saved[0]["intent"])
	}
}

func TestManagerFailedTurnLeavesStateUnchanged(t *testing.T) {
	ps := &personaServices{
		intentLabel: "Pediatrician",
		triage: func(isUpdate bool, req map[string]any) (int, any) {
			if !isUpdate {
				return 200, map[string]any{
					"status":             "incomplete",
					"missing_fields":     []string{"duration"},
					"required_fields":    []string{"duration"},
					"followup_questions": map[string]string{"duration": "How long?"},
				}
			}
			return 500, map[string]any{"detail": "upstream model error"}
		},
	}
	api, triage, sql := ps.start(t)
	m, notes := newTestManager(t, store.NewMem(), Endpoints{API: api.URL, Triage: triage.URL}, sql.URL)

	if err := m.Submit(context.Background(), "she has a cough"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	nextNote(t, notes)
	before := m.Snapshot()

	err := m.Submit(context.Background(), "three days")
	if err == nil {
		t.Fatal("expected the failed turn to return an error")
	}
	if !channel.Transient(err) {
		t.Errorf("error %v should be retryable", err)
	}
	after := m.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("failed turn mutated state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestManagerFailedTurnRestoresScratchStore(t *testing.T) {
	restored := []channel.TranscriptMessage{
		{Role: channel.RoleUser, Content: "my son will not sleep"},
		{Role: channel.RoleAssistant, Content: "How long has this been going on?"},
	}
	kv := store.NewMem()
	seed := NewState()
	seed.ActivePersona = persona.ChildPsychologist
	seed.Transcript = restored
	if err := NewRepository(kv).Save(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The persona switch wipes the transcript and persists mid-turn, then the
	// triage call fails: both the session and the store must roll back.
	ps := &personaServices{
		intentLabel: "Pediatrician",
		triage:      func(bool, map[string]any) (int, any) { return 500, map[string]any{"detail": "down"} },
	}
	api, triage, sql := ps.start(t)
	m, _ := newTestManager(t, kv, Endpoints{API: api.URL, Triage: triage.URL}, sql.URL)

	if err := m.Submit(context.Background(), "she has a fever"); err == nil {
		t.Fatal("expected the failed turn to return an error")
	}

	st := m.Snapshot()
	if st.ActivePersona != persona.ChildPsychologist || !reflect.DeepEqual(st.Transcript, restored) {
		t.Fatalf("session state rolled back wrong: %+v", st)
	}
	reloaded, err := NewRepository(kv).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.ActivePersona != persona.ChildPsychologist {
		t.Errorf("persisted persona = %q", reloaded.ActivePersona)
	}
	if !reflect.DeepEqual(reloaded.Transcript, restored) {
		t.Errorf("persisted transcript = %v", reloaded.Transcript)
	}
}

func TestManagerStreamFrameSurvivesFailedTurn(t *testing.T) {
	restored := []channel.TranscriptMessage{
		{Role: channel.RoleUser, Content: "my son will not sleep"},
		{Role: channel.RoleAssistant, Content: "How long has this been going on?"},
	}
	kv := store.NewMem()
	seed := NewState()
	seed.ActivePersona = persona.ChildPsychologist
	seed.Transcript = restored
	if err := NewRepository(kv).Save(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A late terminal frame lands while the classifier round trip is still in
	// flight; the turn then fails at the dial. The frame's result must not be
	// rolled back with the failed turn.
	var deliver func()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if deliver != nil {
			deliver()
		}
		json.NewEncoder(w).Encode(map[string]any{
			"response": []map[string]any{{"label": "Child Psychologist", "score": 0.97}},
		})
	}))
	t.Cleanup(api.Close)

	ps := &personaServices{triage: func(bool, map[string]any) (int, any) { return 500, nil }}
	_, triage, sql := ps.start(t)

	m, notes := newTestManager(t, kv,
		Endpoints{API: api.URL, Triage: triage.URL, Psychologist: "http://127.0.0.1:1"}, sql.URL)
	deliver = func() {
		m.handleFrame(channel.Frame{
			Status:   channel.StatusComplete,
			Guidance: "Try a consistent bedtime routine.",
			History: append(restored,
				channel.TranscriptMessage{Role: channel.RoleAssistant, Content: "Try a consistent bedtime routine."}),
		})
	}

	if err := m.Submit(context.Background(), "he wakes at 3am"); err == nil {
		t.Fatal("expected the dial failure to surface")
	}

	n := nextNote(t, notes)
	if n.Kind != NoteGuidance || n.Text != "Try a consistent bedtime routine." {
		t.Fatalf("note = %#v", n)
	}
	st := m.Snapshot()
	if st.ActivePersona != persona.ChildPsychologist || len(st.Transcript) != 0 {
		t.Fatalf("terminal frame discarded by the failed turn: %+v", st)
	}
	if saved := ps.savedEntries(); len(saved) != 1 {
		t.Fatalf("saved = %v", saved)
	}
}

func TestManagerFallbackSkipsPersonaEndpoints(t *testing.T) {
	ps := &personaServices{
		intentLabel: persona.LabelOutOfScope,
		triage:      func(bool, map[string]any) (int, any) { return 500, nil },
	}
	api, triage, sql := ps.start(t)
	m, notes := newTestManager(t, store.NewMem(), Endpoints{API: api.URL, Triage: triage.URL}, sql.URL)

	if err := m.Submit(context.Background(), "fix my car"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	n := nextNote(t, notes)
	if n.Kind != NoteFallback || n.Text != persona.OutOfScopeReply {
		t.Fatalf("note = %#v", n)
	}
	if ps.calls() != 0 {
		t.Fatalf("persona endpoint called %d times for an out-of-scope message", ps.calls())
	}
	saved := ps.savedEntries()
	if len(saved) != 1 || saved[0]["response"] != persona.OutOfScopeReply {
		t.Fatalf("fallback not recorded: %v", saved)
	}
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// psychServer answers the first message with an incomplete frame and the
// second with a terminal one, mirroring the streaming persona contract.
func psychServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var transcript []channel.TranscriptMessage
		for {
			var in map[string]string
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			transcript = append(transcript, channel.TranscriptMessage{Role: channel.RoleUser, Content: in["message"]})
			if len(transcript) == 1 {
				transcript = append(transcript, channel.TranscriptMessage{Role: channel.RoleAssistant, Content: "How long has this been going on?"})
				conn.WriteJSON(channel.Frame{
					Status:           channel.StatusIncomplete,
					FollowupQuestion: "How long has this been going on?",
					History:          transcript,
				})
				continue
			}
			transcript = append(transcript, channel.TranscriptMessage{Role: channel.RoleAssistant, Content: "Try a consistent bedtime routine."})
			conn.WriteJSON(channel.Frame{
				Status:   channel.StatusComplete,
				Guidance: "Try a consistent bedtime routine.",
				History:  transcript,
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManagerStreamingFlow(t *testing.T) {
	ps := &personaServices{
		intentLabel: "Child Psychologist",
		triage:      func(bool, map[string]any) (int, any) { return 500, nil },
	}
	api, triage, sql := ps.start(t)
	psych := psychServer(t)
	m, notes := newTestManager(t, store.NewMem(),
		Endpoints{API: api.URL, Triage: triage.URL, Psychologist: psych.URL}, sql.URL)

	if err := m.Submit(context.Background(), "my son will not sleep"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	n := nextNote(t, notes)
	if n.Kind != NotePrompt || n.Text != "How long has this been going on?" {
		t.Fatalf("note = %#v", n)
	}

	if err := m.Submit(context.Background(), "since we moved house"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	n = nextNote(t, notes)
	if n.Kind != NoteGuidance || n.Text != "Try a consistent bedtime routine." {
		t.Fatalf("note = %#v", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st := m.Snapshot()
		if st.Transcript == nil && st.ActivePersona == persona.ChildPsychologist {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn residue after terminal frame: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	saved := ps.savedEntries()
	if len(saved) != 1 {
		t.Fatalf("saved = %v", saved)
	}
	if saved[0]["question"] != "my son will not sleep\nsince we moved house" {
		t.Errorf("saved question = %q", saved[0]["question"])
	}
	if saved[0]["intent"] != "Child Psychologist" {
		t.Errorf("saved intent = %q", saved[0]["intent"])
	}
}

func TestManagerStreamResyncAfterRestart(t *testing.T) {
	restored := []channel.TranscriptMessage{
		{Role: channel.RoleUser, Content: "my son will not sleep"},
		{Role: channel.RoleAssistant, Content: "How long has this been going on?"},
	}

	// The server replays the conversation as its first frame, then answers
	// messages normally.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		transcript := append([]channel.TranscriptMessage(nil), restored...)
		conn.WriteJSON(channel.Frame{Status: channel.StatusIncomplete, History: transcript})
		for {
			var in map[string]string
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			transcript = append(transcript,
				channel.TranscriptMessage{Role: channel.RoleUser, Content: in["message"]},
				channel.TranscriptMessage{Role: channel.RoleAssistant, Content: "go on"},
			)
			conn.WriteJSON(channel.Frame{Status: channel.StatusIncomplete, FollowupQuestion: "go on", History: transcript})
		}
	}))
	t.Cleanup(srv.Close)

	ps := &personaServices{
		intentLabel: "Child Psychologist",
		triage:      func(bool, map[string]any) (int, any) { return 500, nil },
	}
	api, triage, sql := ps.start(t)

	kv := store.NewMem()
	seed := NewState()
	seed.ActivePersona = persona.ChildPsychologist
	seed.Transcript = restored
	if err := NewRepository(kv).Save(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m, notes := newTestManager(t, kv, Endpoints{API: api.URL, Triage: triage.URL, Psychologist: srv.URL}, sql.URL)

	if err := m.Submit(context.Background(), "he wakes at 3am"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The replay frame is consumed silently as a resync; the only note is
	// the reply to the new message.
	n := nextNote(t, notes)
	if n.Kind != NotePrompt || n.Text != "go on" {
		t.Fatalf("note = %#v", n)
	}
	st := m.Snapshot()
	if len(st.Transcript) != 4 {
		t.Fatalf("transcript = %v", st.Transcript)
	}
}
