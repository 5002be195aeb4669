package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartparent/companion/internal/channel"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context, force bool) (string, error) {
	return string(s), nil
}

func storeServer(t *testing.T, fetches, saves *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/history":
			atomic.AddInt32(fetches, 1)
			json.NewEncoder(w).Encode(map[string]any{
				"history": []Entry{
					{Question: "old question", Response: "old answer", Timestamp: "2024-01-01T00:00:00Z"},
				},
			})
		case "/save-chat":
			atomic.AddInt32(saves, 1)
			var req map[string]any
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode save-chat: %v", err)
			}
			for _, key := range []string{"question", "intent", "parsed_symptom", "response", "timestamp"} {
				if _, ok := req[key]; !ok {
					t.Errorf("save-chat payload missing %q", key)
				}
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "success"})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestLoadOnceFetchesExactlyOnce(t *testing.T) {
	var fetches, saves int32
	srv := storeServer(t, &fetches, &saves)
	defer srv.Close()

	l := NewLog(srv.URL, channel.NewCaller(), staticTokens("tok"))
	for i := 0; i < 3; i++ {
		if err := l.LoadOnce(context.Background()); err != nil {
			t.Fatalf("LoadOnce #%d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("history fetched %d times, want 1", n)
	}
	if got := l.Entries(); len(got) != 1 || got[0].Question != "old question" {
		t.Errorf("Entries = %+v", got)
	}
}

func TestAppendPrependsAndMirrors(t *testing.T) {
	var fetches, saves int32
	srv := storeServer(t, &fetches, &saves)
	defer srv.Close()

	l := NewLog(srv.URL, channel.NewCaller(), staticTokens("tok"))
	if err := l.LoadOnce(context.Background()); err != nil {
		t.Fatalf("LoadOnce: %v", err)
	}

	entry := Entry{
		Question:  "fever\nsince yesterday",
		Response:  "Keep the child hydrated.",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := l.Append(context.Background(), entry, "Pediatrician", map[string]any{"primary_symptom": "fever"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got := l.Entries()
	if len(got) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(got))
	}
	if got[0].Question != entry.Question {
		t.Error("new entry should be at the front (most recent first)")
	}
	if n := atomic.LoadInt32(&saves); n != 1 {
		t.Errorf("save-chat called %d times, want 1", n)
	}
}

func TestAppendKeepsLocalEntryWhenMirrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := NewLog(srv.URL, channel.NewCaller(), staticTokens("tok"))
	err := l.Append(context.Background(), Entry{Question: "q", Response: "a", Timestamp: "2024-01-01T00:00:00Z"}, "Pediatrician", nil)
	if err == nil {
		t.Fatal("expected mirror error")
	}
	if got := l.Entries(); len(got) != 1 {
		t.Errorf("local entry should remain after mirror failure, got %d entries", len(got))
	}
}

func TestResetAllowsRefetch(t *testing.T) {
	var fetches, saves int32
	srv := storeServer(t, &fetches, &saves)
	defer srv.Close()

	l := NewLog(srv.URL, channel.NewCaller(), staticTokens("tok"))
	if err := l.LoadOnce(context.Background()); err != nil {
		t.Fatalf("LoadOnce: %v", err)
	}
	l.Reset()
	if l.Loaded() {
		t.Error("Reset should clear the loaded flag")
	}
	if err := l.LoadOnce(context.Background()); err != nil {
		t.Fatalf("LoadOnce after reset: %v", err)
	}
	if n := atomic.LoadInt32(&fetches); n != 2 {
		t.Errorf("history fetched %d times, want 2", n)
	}
}
