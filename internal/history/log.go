package history

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smartparent/companion/internal/channel"
)

// Entry is one completed exchange. Immutable once created; timestamps stay in
// the ISO 8601 form the store uses on the wire.
type Entry struct {
	Question  string `json:"question"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

// saveRequest mirrors a completed exchange to the remote store.
type saveRequest struct {
	Question      string         `json:"question"`
	Intent        string         `json:"intent"`
	ParsedSymptom map[string]any `json:"parsed_symptom"`
	Response      string         `json:"response"`
	Timestamp     string         `json:"timestamp"`
}

type historyResponse struct {
	History []Entry `json:"history"`
}

// TokenSource supplies the bearer token for store calls.
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// Log is the append-only, most-recent-first list of completed exchanges. The
// durable copy lives in the remote store; the in-memory copy is fetched once
// per sign-in and only ever grows from the front.
type Log struct {
	baseURL string
	caller  *channel.Caller
	tokens  TokenSource
	log     *logrus.Entry

	mu      sync.Mutex
	entries []Entry
	loaded  bool
}

// NewLog creates a history log backed by the store at baseURL.
func NewLog(baseURL string, caller *channel.Caller, tokens TokenSource) *Log {
	return &Log{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		caller:  caller,
		tokens:  tokens,
		log:     logrus.WithField("component", "history"),
	}
}

// LoadOnce fetches the stored entries for the authenticated identity. The
// first successful call wins; later calls are no-ops until Reset.
func (l *Log) LoadOnce(ctx context.Context) error {
	l.mu.Lock()
	if l.loaded {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	token, err := l.tokens.Token(ctx, true)
	if err != nil {
		return fmt.Errorf("history load: %w", err)
	}

	var resp historyResponse
	if err := l.caller.GetJSON(ctx, l.baseURL+"/history", token, &resp); err != nil {
		return fmt.Errorf("history load: %w", err)
	}

	l.mu.Lock()
	l.entries = resp.History
	l.loaded = true
	l.mu.Unlock()

	l.log.WithField("entries", len(resp.History)).Debug("history loaded")
	return nil
}

// Append records a completed exchange at the front and mirrors it to the
// store. The local entry stays even when the mirror fails; the error is
// returned so the caller can log it.
func (l *Log) Append(ctx context.Context, entry Entry, intent string, parsedSymptom map[string]any) error {
	l.mu.Lock()
	l.entries = append([]Entry{entry}, l.entries...)
	l.mu.Unlock()

	token, err := l.tokens.Token(ctx, false)
	if err != nil {
		return fmt.Errorf("history save: %w", err)
	}

	if parsedSymptom == nil {
		parsedSymptom = map[string]any{}
	}
	req := saveRequest{
		Question:      entry.Question,
		Intent:        intent,
		ParsedSymptom: parsedSymptom,
		Response:      entry.Response,
		Timestamp:     entry.Timestamp,
	}
	if err := l.caller.PostJSON(ctx, l.baseURL+"/save-chat", token, req, nil); err != nil {
		return fmt.Errorf("history save: %w", err)
	}
	return nil
}

// Entries returns a copy of the in-memory log, newest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Loaded reports whether the initial fetch has completed.
func (l *Log) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Reset drops the in-memory copy so the next LoadOnce fetches again. Called
// on sign-out; the remote copy is untouched.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.loaded = false
}
