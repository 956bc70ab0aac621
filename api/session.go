package api

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is one operator login. Tokens are uuids; a session expires after
// its idle TTL and survives process restarts via sessions/<token>.json.
type Session struct {
	Token      string    `json:"token"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// SessionStore issues, validates, and expires operator sessions.
type SessionStore struct {
	mu       sync.Mutex
	dir      string
	ttl      time.Duration
	sessions map[string]*Session
	log      zerolog.Logger
}

// NewSessionStore loads surviving sessions from dataDir/sessions and drops
// the already-expired ones.
func NewSessionStore(dataDir string, ttl time.Duration, log zerolog.Logger) (*SessionStore, error) {
	dir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	st := &SessionStore{
		dir:      dir,
		ttl:      ttl,
		sessions: make(map[string]*Session),
		log:      log.With().Str("component", "sessions").Logger(),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil || s.Token == "" {
			_ = os.Remove(path)
			continue
		}
		if now.Sub(s.LastSeenAt) > ttl {
			_ = os.Remove(path)
			continue
		}
		st.sessions[s.Token] = &s
	}

	st.log.Info().Int("restored", len(st.sessions)).Msg("session store ready")
	return st, nil
}

// Issue creates and persists a fresh session.
func (st *SessionStore) Issue() (Session, error) {
	now := time.Now()
	s := &Session{
		Token:      uuid.NewString(),
		CreatedAt:  now,
		LastSeenAt: now,
	}

	st.mu.Lock()
	st.sessions[s.Token] = s
	st.mu.Unlock()

	if err := st.persist(s); err != nil {
		return Session{}, err
	}
	st.log.Info().Msg("session issued")
	return *s, nil
}

// Validate checks token and, when valid, advances its last-seen time.
func (st *SessionStore) Validate(token string) bool {
	if token == "" {
		return false
	}

	st.mu.Lock()
	s, ok := st.sessions[token]
	if !ok {
		st.mu.Unlock()
		return false
	}
	now := time.Now()
	if now.Sub(s.LastSeenAt) > st.ttl {
		delete(st.sessions, token)
		st.mu.Unlock()
		_ = os.Remove(st.path(token))
		return false
	}
	s.LastSeenAt = now
	snapshot := *s
	st.mu.Unlock()

	_ = st.persist(&snapshot)
	return true
}

// Revoke drops a session. Unknown tokens are a no-op.
func (st *SessionStore) Revoke(token string) {
	st.mu.Lock()
	_, ok := st.sessions[token]
	delete(st.sessions, token)
	st.mu.Unlock()

	if ok {
		_ = os.Remove(st.path(token))
		st.log.Info().Msg("session revoked")
	}
}

// Sweep removes idle-expired sessions and their files. Run from cron.
func (st *SessionStore) Sweep() int {
	now := time.Now()

	st.mu.Lock()
	var expired []string
	for token, s := range st.sessions {
		if now.Sub(s.LastSeenAt) > st.ttl {
			expired = append(expired, token)
			delete(st.sessions, token)
		}
	}
	st.mu.Unlock()

	for _, token := range expired {
		_ = os.Remove(st.path(token))
	}
	if len(expired) > 0 {
		st.log.Info().Int("expired", len(expired)).Msg("sessions swept")
	}
	return len(expired)
}

// Count returns the number of live sessions.
func (st *SessionStore) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *SessionStore) persist(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	path := st.path(s.Token)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session persist: %w", err)
	}
	return nil
}

func (st *SessionStore) path(token string) string {
	// Tokens are uuids we issued; still scrub anything path-hostile.
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, token)
	return filepath.Join(st.dir, name+".json")
}
