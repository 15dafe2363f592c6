// Package session persists the authenticated-user/token/expiry triple.
// The three fields are written and cleared together; a file with any of
// them missing counts as not authenticated.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"dmterm/internal/models"
)

// ErrNotAuthenticated is returned when an operation needs a session and
// none is persisted.
var ErrNotAuthenticated = errors.New("not authenticated")

const sessionFileName = "session.yml"

type sessionFile struct {
	AuthUser  *models.User `yaml:"auth_user,omitempty"`
	Token     string       `yaml:"token,omitempty"`
	ExpiresAt time.Time    `yaml:"expires_at,omitempty"`
}

func (f sessionFile) complete() bool {
	return f.AuthUser != nil && f.Token != "" && !f.ExpiresAt.IsZero()
}

// Store holds the current session in memory and mirrors it to a YAML
// file in the dmterm directory. All writers replace the full triple, so
// readers never observe a partial session.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  sessionFile
}

// DefaultDir returns the dmterm data directory (~/.dmterm).
func DefaultDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".dmterm")
}

// Open loads the session file from dir, creating the directory if
// needed. A missing or unreadable file yields an unauthenticated store.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create session directory: %w", err)
	}

	s := &Store{path: filepath.Join(dir, sessionFileName)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return s, nil
	}

	var f sessionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return s, nil
	}
	if f.complete() {
		s.cur = f
	}
	return s, nil
}

// IsAuthenticated reports whether a token is present. Pure read, no
// network, no expiry check: the server's 401 is the expiry signal.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.complete()
}

// Token returns the persisted token, or the empty string when not
// authenticated.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cur.complete() {
		return ""
	}
	return s.cur.Token
}

// CurrentUser returns the persisted user snapshot.
func (s *Store) CurrentUser() (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cur.complete() {
		return models.User{}, ErrNotAuthenticated
	}
	return *s.cur.AuthUser, nil
}

// Save replaces the whole session atomically. The file is written to a
// temp name and renamed over the old one so a crash cannot leave a
// half-written session behind.
func (s *Store) Save(p models.LoginPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := sessionFile{
		AuthUser:  &p.AuthUser,
		Token:     p.Token,
		ExpiresAt: p.ExpiresAt,
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("could not marshal session: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("could not write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("could not replace session file: %w", err)
	}

	s.cur = f
	return nil
}

// Clear drops the session unconditionally. Removing an already-absent
// file is not an error; Clear always succeeds.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = sessionFile{}
	_ = os.Remove(s.path)
}
