package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is the key/value durability layer the session manager writes through.
// Values that must survive a client restart mid-session live here; the store is
// wiped on sign-out. Writing an empty value removes the key so restoration
// logic can tell "absent" from "empty".
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
	Clear() error
}

// FileStore persists keys as a single JSON object, written atomically on every
// mutation the way the config file is saved.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]string
}

// OpenFile loads (or initializes) the store file at path.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: map[string]string{}}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session store: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		// A corrupt scratch file is not worth failing startup over; start
		// from an empty session instead.
		s.data = map[string]string{}
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.data, key)
	} else {
		s.data[key] = value
	}
	return s.flush()
}

func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.flush()
}

// Clear removes every key and the backing file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string]string{}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear session store: %w", err)
	}
	return nil
}

// flush writes the store to disk. Callers must hold s.mu.
func (s *FileStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session store: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and for running without a scratch
// file.
type MemStore struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMem() *MemStore {
	return &MemStore{data: map[string]string{}}
}

func (s *MemStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *MemStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.data, key)
		return nil
	}
	s.data[key] = value
	return nil
}

func (s *MemStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string]string{}
	return nil
}
