// Package credstore persists the access and refresh credentials as two
// cookie-like entries, each with its own lifetime, path scope and
// same-site policy.
package credstore

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/lexdraft/complaint-cli/filestore"
)

// Entry names and their policies. Both entries are scoped to the site root
// and are strict same-site.
const (
	AccessTokenName  = "access_token"
	RefreshTokenName = "refresh_token"

	AccessTokenMaxAge  = time.Hour
	RefreshTokenMaxAge = 24 * time.Hour

	CookiePath = "/"
)

// ErrEmptyAccessToken is returned by Save when the token carries no access credential.
var ErrEmptyAccessToken = errors.New("access token is empty")

// Store is the single source of truth for persisted credentials.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value of a non-expired entry.
	Get(name string) (string, bool)
	// Save writes the access token and, when present, the refresh token.
	// A token without a refresh token leaves the stored refresh token untouched.
	Save(tok *oauth2.Token) error
	// Clear removes both entries. It never fails.
	Clear()
}

// Entry is one persisted credential.
type Entry struct {
	Name      string        `json:"name"`
	Value     string        `json:"value"`
	Path      string        `json:"path"`
	SameSite  http.SameSite `json:"same_site"`
	MaxAge    int           `json:"max_age"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the entry has outlived its max-age at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func newEntry(name, value string, maxAge time.Duration, now time.Time) Entry {
	return Entry{
		Name:      name,
		Value:     value,
		Path:      CookiePath,
		SameSite:  http.SameSiteStrictMode,
		MaxAge:    int(maxAge / time.Second),
		ExpiresAt: now.Add(maxAge),
	}
}

// entriesFor builds the entries Save must write for tok.
func entriesFor(tok *oauth2.Token, now time.Time) ([]Entry, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	entries := []Entry{newEntry(AccessTokenName, tok.AccessToken, AccessTokenMaxAge, now)}
	if tok.RefreshToken != "" {
		entries = append(entries, newEntry(RefreshTokenName, tok.RefreshToken, RefreshTokenMaxAge, now))
	}
	return entries, nil
}

// FileStore keeps entries in a shared JSON file, one scope per API origin.
// Every Get reads the file so other processes' writes are observed.
type FileStore struct {
	file   *filestore.File
	scope  string
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStore returns a FileStore writing to path under the given scope
// (normally the API base URL).
func NewFileStore(path, scope string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		file:   filestore.New(path),
		scope:  scope,
		logger: logger,
		now:    time.Now,
	}
}

func (s *FileStore) key(name string) string {
	return s.scope + "|" + name
}

// Lookup returns the raw entry, including its expiry.
func (s *FileStore) Lookup(name string) (Entry, bool) {
	var e Entry
	ok, err := s.file.Load(s.key(name), &e)
	if err != nil {
		s.logger.Warn("credential store unreadable", "path", s.file.Path(), "error", err)
		return Entry{}, false
	}
	if !ok || e.Expired(s.now()) {
		return Entry{}, false
	}
	return e, true
}

// Get implements Store.
func (s *FileStore) Get(name string) (string, bool) {
	e, ok := s.Lookup(name)
	if !ok || e.Value == "" {
		return "", false
	}
	return e.Value, true
}

// Save implements Store.
func (s *FileStore) Save(tok *oauth2.Token) error {
	entries, err := entriesFor(tok, s.now())
	if err != nil {
		return err
	}

	values := make(map[string]any, len(entries))
	for _, e := range entries {
		values[s.key(e.Name)] = e
	}
	return s.file.StoreMany(values)
}

// Clear implements Store.
func (s *FileStore) Clear() {
	keys := []string{s.key(AccessTokenName), s.key(RefreshTokenName)}
	err := s.file.Delete(keys...)
	if err == nil {
		return
	}

	// clearing must not depend on another process releasing the lock
	s.logger.Warn("failed to clear credentials under lock, removing directly", "path", s.file.Path(), "error", err)
	if err := s.file.ForceDelete(keys...); err != nil {
		s.logger.Error("failed to clear credentials", "path", s.file.Path(), "error", err)
	}
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok || e.Value == "" || e.Expired(s.now()) {
		return "", false
	}
	return e.Value, true
}

// Save implements Store.
func (s *MemoryStore) Save(tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := entriesFor(tok, s.now())
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.entries[e.Name] = e
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, AccessTokenName)
	delete(s.entries, RefreshTokenName)
}

// AccessTokenExpiry reads the exp claim of a JWT access token without
// verifying its signature. It is meant for display only; opaque tokens
// report false.
func AccessTokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
