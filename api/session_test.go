package api

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSessions(t *testing.T, dir string, ttl time.Duration) *SessionStore {
	t.Helper()
	st, err := NewSessionStore(dir, ttl, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	return st
}

func sessionFile(dir, token string) string {
	return filepath.Join(dir, "sessions", token+".json")
}

func TestSessionIssueAndValidate(t *testing.T) {
	dir := t.TempDir()
	st := newTestSessions(t, dir, time.Hour)

	s, err := st.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if s.Token == "" || s.CreatedAt.IsZero() || s.LastSeenAt.IsZero() {
		t.Fatalf("Issue returned incomplete session: %+v", s)
	}

	if !st.Validate(s.Token) {
		t.Error("Validate(issued token) = false, want true")
	}
	if st.Validate("") {
		t.Error("Validate(\"\") = true, want false")
	}
	if st.Validate("no-such-token") {
		t.Error("Validate(unknown token) = true, want false")
	}
	if got := st.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	if _, err := os.Stat(sessionFile(dir, s.Token)); err != nil {
		t.Errorf("session file missing: %v", err)
	}
}

func TestSessionValidateAdvancesLastSeen(t *testing.T) {
	dir := t.TempDir()
	st := newTestSessions(t, dir, time.Hour)

	s, err := st.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if !st.Validate(s.Token) {
		t.Fatal("Validate = false, want true")
	}

	data, err := os.ReadFile(sessionFile(dir, s.Token))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	var onDisk Session
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("unmarshal session file: %v", err)
	}
	if !onDisk.LastSeenAt.After(s.LastSeenAt) {
		t.Errorf("persisted LastSeenAt = %v, want after %v", onDisk.LastSeenAt, s.LastSeenAt)
	}
}

func TestSessionIdleExpiry(t *testing.T) {
	dir := t.TempDir()
	st := newTestSessions(t, dir, 30*time.Millisecond)

	s, err := st.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if st.Validate(s.Token) {
		t.Error("Validate(expired token) = true, want false")
	}
	if got := st.Count(); got != 0 {
		t.Errorf("Count() after expiry = %d, want 0", got)
	}
	if _, err := os.Stat(sessionFile(dir, s.Token)); !os.IsNotExist(err) {
		t.Errorf("expired session file should be removed, stat err = %v", err)
	}
}

func TestSessionRevoke(t *testing.T) {
	dir := t.TempDir()
	st := newTestSessions(t, dir, time.Hour)

	s, err := st.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	st.Revoke(s.Token)
	if st.Validate(s.Token) {
		t.Error("Validate(revoked token) = true, want false")
	}
	if got := st.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if _, err := os.Stat(sessionFile(dir, s.Token)); !os.IsNotExist(err) {
		t.Errorf("revoked session file should be removed, stat err = %v", err)
	}

	// Unknown tokens are a no-op.
	st.Revoke("no-such-token")
}

func TestSessionPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	st1 := newTestSessions(t, dir, time.Hour)
	a, err := st1.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, err := st1.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	st2 := newTestSessions(t, dir, time.Hour)
	if got := st2.Count(); got != 2 {
		t.Fatalf("restored Count() = %d, want 2", got)
	}
	if !st2.Validate(a.Token) || !st2.Validate(b.Token) {
		t.Error("restored store should validate surviving tokens")
	}
}

func TestSessionRestoreDropsExpired(t *testing.T) {
	dir := t.TempDir()

	st1 := newTestSessions(t, dir, time.Hour)
	s, err := st1.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Reopen with a TTL so small the session is already idle-expired.
	time.Sleep(10 * time.Millisecond)
	st2 := newTestSessions(t, dir, time.Nanosecond)
	if got := st2.Count(); got != 0 {
		t.Errorf("restored Count() = %d, want 0", got)
	}
	if _, err := os.Stat(sessionFile(dir, s.Token)); !os.IsNotExist(err) {
		t.Errorf("expired session file should be removed at load, stat err = %v", err)
	}
}

func TestSessionRestoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	sessDir := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessDir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sessDir, "garbage.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sessDir, "notes.txt"), []byte("ignore me"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	st := newTestSessions(t, dir, time.Hour)
	if got := st.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if _, err := os.Stat(filepath.Join(sessDir, "garbage.json")); !os.IsNotExist(err) {
		t.Errorf("corrupt session file should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(sessDir, "notes.txt")); err != nil {
		t.Errorf("non-session files should be left alone: %v", err)
	}
}

func TestSessionSweep(t *testing.T) {
	dir := t.TempDir()
	st := newTestSessions(t, dir, 50*time.Millisecond)

	stale, err := st.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	time.Sleep(90 * time.Millisecond)
	fresh, err := st.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if got := st.Sweep(); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if st.Validate(stale.Token) {
		t.Error("stale token should be gone after sweep")
	}
	if !st.Validate(fresh.Token) {
		t.Error("fresh token should survive sweep")
	}
	if got := st.Sweep(); got != 0 {
		t.Errorf("second Sweep() = %d, want 0", got)
	}
}
