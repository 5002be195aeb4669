package session

import (
	"encoding/json"
	"fmt"

	"github.com/smartparent/companion/internal/persona"
	"github.com/smartparent/companion/internal/store"
)

// Scratch-store keys. Each session field gets its own key so a partial write
// failure never corrupts unrelated fields, and so absent keys read back as
// zero values.
const (
	keyActivePersona    = "activePersona"
	keyFollowUpMode     = "followUpMode"
	keyFollowUpSymptom  = "followUpSymptom"
	keyFollowUpBuffer   = "followUpBuffer"
	keyRequiredFields   = "requiredFields"
	keyMissingFields    = "missingFields"
	keyFollowups        = "followups"
	keyPrimaryAvailable = "primarySymptomAvailable"
	keyTranscript       = "psychologistMessages"
)

// Repository maps session State to and from the key/value scratch store. It is
// the only code that touches the store on behalf of the session.
type Repository struct {
	kv store.Store
}

// NewRepository wraps a scratch store.
func NewRepository(kv store.Store) *Repository {
	return &Repository{kv: kv}
}

// Save writes every session field. Zero-valued fields remove their keys, so a
// cleared flow leaves no residue behind.
func (r *Repository) Save(s State) error {
	sets := []struct {
		key string
		val string
	}{
		{keyActivePersona, personaValue(s.ActivePersona)},
		{keyFollowUpMode, boolValue(s.FollowUpMode)},
		{keyFollowUpSymptom, jsonValue(s.CollectedAnswers, len(s.CollectedAnswers) > 0)},
		{keyFollowUpBuffer, jsonValue(s.TurnBuffer, len(s.TurnBuffer) > 0)},
		{keyRequiredFields, jsonValue(s.RequiredFields, len(s.RequiredFields) > 0)},
		{keyMissingFields, jsonValue(s.MissingFields, len(s.MissingFields) > 0)},
		{keyFollowups, jsonValue(s.FollowUpPrompts, len(s.FollowUpPrompts) > 0)},
		{keyPrimaryAvailable, boolValue(s.PrimaryTopicEstablished)},
		{keyTranscript, jsonValue(s.Transcript, len(s.Transcript) > 0)},
	}
	for _, kv := range sets {
		if err := r.kv.Set(kv.key, kv.val); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
	}
	return nil
}

// Load restores the session from the scratch store. Restored state that
// violates the follow-up invariants (follow-up mode without a buffer, or
// without the request/response persona) is dropped back to a clean state
// rather than trusted.
func (r *Repository) Load() (State, error) {
	s := NewState()

	if v, ok := r.kv.Get(keyActivePersona); ok {
		s.ActivePersona = persona.Persona(v)
	}
	s.FollowUpMode = r.getBool(keyFollowUpMode)
	s.PrimaryTopicEstablished = r.getBool(keyPrimaryAvailable)

	if err := r.getJSON(keyFollowUpSymptom, &s.CollectedAnswers); err != nil {
		return s, err
	}
	if err := r.getJSON(keyFollowUpBuffer, &s.TurnBuffer); err != nil {
		return s, err
	}
	if err := r.getJSON(keyRequiredFields, &s.RequiredFields); err != nil {
		return s, err
	}
	if err := r.getJSON(keyMissingFields, &s.MissingFields); err != nil {
		return s, err
	}
	if err := r.getJSON(keyFollowups, &s.FollowUpPrompts); err != nil {
		return s, err
	}
	if err := r.getJSON(keyTranscript, &s.Transcript); err != nil {
		return s, err
	}

	if s.FollowUpMode && (len(s.TurnBuffer) == 0 || s.ActivePersona != persona.Pediatrician) {
		s = clearFollowUp(s, false)
	}
	return s, nil
}

// Clear wipes the scratch store, as on sign-out.
func (r *Repository) Clear() error {
	return r.kv.Clear()
}

func (r *Repository) getBool(key string) bool {
	v, _ := r.kv.Get(key)
	return v == "true"
}

func (r *Repository) getJSON(key string, out any) error {
	v, ok := r.kv.Get(key)
	if !ok || v == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return fmt.Errorf("failed to restore session key %s: %w", key, err)
	}
	return nil
}

func personaValue(p persona.Persona) string {
	if p == persona.Inactive {
		return ""
	}
	return string(p)
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return ""
}

func jsonValue(v any, nonEmpty bool) string {
	if !nonEmpty {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
