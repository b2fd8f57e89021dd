// Package identity holds the signed-in user's profile. The state is shared
// read-many across the CLI and mirrored to disk so a later invocation
// starts from the last known identity until the session is re-validated.
package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lexdraft/complaint-cli/filestore"
)

// StorageKey is the fixed key the persisted identity lives under.
const StorageKey = "user-storage"

// ErrMalformedProfile is returned when a profile lacks its required fields.
var ErrMalformedProfile = errors.New("malformed user profile")

// User is the normalized identity state. Optional fields are empty strings,
// never absent.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phone_number"`
}

// Profile is the user profile as returned by the backend.
type Profile struct {
	ID          json.RawMessage `json:"id"`
	Email       string          `json:"email"`
	Name        *string         `json:"name"`
	Address     *string         `json:"address"`
	PhoneNumber *string         `json:"phone_number"`
}

// User normalizes p. The id may be a JSON string or number.
func (p Profile) User() (User, error) {
	id, err := decodeID(p.ID)
	if err != nil {
		return User{}, err
	}
	if p.Email == "" {
		return User{}, fmt.Errorf("%w: missing email", ErrMalformedProfile)
	}

	return User{
		ID:          id,
		Email:       p.Email,
		Name:        deref(p.Name),
		Address:     deref(p.Address),
		PhoneNumber: deref(p.PhoneNumber),
	}, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing id", ErrMalformedProfile)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", fmt.Errorf("%w: invalid id", ErrMalformedProfile)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: invalid id %s", ErrMalformedProfile, raw)
	}
	return n.String(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Mirror persists the identity between runs.
type Mirror interface {
	Load() (*User, error)
	Save(u *User) error
}

// persisted is the on-disk envelope.
type persisted struct {
	State struct {
		User *User `json:"user"`
	} `json:"state"`
	Version int `json:"version"`
}

// FileMirror stores the identity in a filestore file under StorageKey.
type FileMirror struct {
	file *filestore.File
}

// NewFileMirror returns a FileMirror writing to path.
func NewFileMirror(path string) *FileMirror {
	return &FileMirror{file: filestore.New(path)}
}

// Load implements Mirror.
func (m *FileMirror) Load() (*User, error) {
	var p persisted
	ok, err := m.file.Load(StorageKey, &p)
	if err != nil || !ok {
		return nil, err
	}
	return p.State.User, nil
}

// Save implements Mirror. A nil user is persisted as an explicit null.
func (m *FileMirror) Save(u *User) error {
	var p persisted
	p.State.User = u
	return m.file.Store(StorageKey, p)
}

// Store is the global identity state. The zero value is not usable; call NewStore.
type Store struct {
	mu        sync.RWMutex
	user      *User
	mirror    Mirror
	listeners []func(*User)
	logger    *slog.Logger
}

// NewStore returns a Store hydrated from mirror. mirror may be nil for a
// memory-only store.
func NewStore(mirror Mirror, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{mirror: mirror, logger: logger}
	if mirror != nil {
		u, err := mirror.Load()
		if err != nil {
			logger.Warn("identity mirror unreadable", "error", err)
		}
		s.user = u
	}
	return s
}

// Current returns a copy of the signed-in user.
func (s *Store) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Set publishes u as the signed-in user.
func (s *Store) Set(u User) {
	s.publish(&u)
}

// Clear drops the identity.
func (s *Store) Clear() {
	s.publish(nil)
}

// Subscribe registers fn to be called after every change. fn receives nil
// when the identity is cleared.
func (s *Store) Subscribe(fn func(*User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) publish(u *User) {
	s.mu.Lock()
	s.user = u
	listeners := append([]func(*User){}, s.listeners...)
	if s.mirror != nil {
		if err := s.mirror.Save(u); err != nil {
			s.logger.Warn("failed to persist identity", "error", err)
		}
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		if u == nil {
			fn(nil)
			continue
		}
		cp := *u
		fn(&cp)
	}
}
