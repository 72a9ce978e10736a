// Package client is the Go counterpart of the browser-side auth coordinator.
//
// WHAT LIVES HERE:
// Everything a client application needs to stay authenticated against the
// gitforme server:
//   - TokenStore    → persists the fallback token (the browser kept it in
//     localStorage; we keep it in a file)
//   - Marker        → the cross-process "auth state changed" signal (the
//     browser used a storage event; we watch a shared file)
//   - Transport     → attaches the bearer credential and runs the
//     retry-on-401 policy
//   - Coordinator   → the loading/authenticated/unauthenticated state
//     machine that drives verification
package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenStore persists the fallback token between runs. Load returns the
// empty string (and no error) when no token is stored.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// FileTokenStore keeps the token in a single file, created with 0600 since
// the token is a bearer credential.
type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Clear removes the stored token. Clearing an already-empty store is fine.
func (s *FileTokenStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// MemTokenStore is an in-memory TokenStore for tests.
type MemTokenStore struct {
	mu    sync.Mutex
	token string
}

func NewMemTokenStore(token string) *MemTokenStore {
	return &MemTokenStore{token: token}
}

func (s *MemTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
