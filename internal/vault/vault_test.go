package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradekar/tradekar/pkg/models"
)

func testCredential() models.Credential {
	expiry := time.Date(2026, 2, 18, 15, 30, 0, 0, time.UTC)
	return models.Credential{
		Broker:      "zerodha",
		APIKey:      "kite-api-key-12345",
		APISecret:   "kite-api-secret-abcdef",
		AccessToken: "daily-access-token-xyz",
		ExpiresAt:   &expiry,
		Extra:       map[string]string{"user_id": "AB1234"},
	}
}

func newTestVault(t *testing.T, dir, masterKey string) *Vault {
	t.Helper()
	v, err := New(dir, masterKey, zerolog.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	v := newTestVault(t, dir, "correct horse battery staple")
	if !v.Enabled() {
		t.Fatal("vault with a master key should be enabled")
	}

	want := testCredential()
	if err := v.Save("zerodha", want); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := v.Load("zerodha")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.APIKey != want.APIKey || got.APISecret != want.APISecret || got.AccessToken != want.AccessToken {
		t.Errorf("Load = %+v, want the saved bundle", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
	if got.Extra["user_id"] != "AB1234" {
		t.Errorf("Extra = %v", got.Extra)
	}
}

func TestVaultPlaintextNeverOnDisk(t *testing.T) {
	dir := t.TempDir()
	v := newTestVault(t, dir, "correct horse battery staple")

	cred := testCredential()
	if err := v.Save("zerodha", cred); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "credentials", "zerodha.enc"))
	if err != nil {
		t.Fatalf("read credential file: %v", err)
	}
	for _, secret := range []string{cred.APIKey, cred.APISecret, cred.AccessToken} {
		if bytes.Contains(raw, []byte(secret)) {
			t.Errorf("credential file contains plaintext %q", secret)
		}
	}
}

func TestVaultWrongMasterKey(t *testing.T) {
	dir := t.TempDir()
	v1 := newTestVault(t, dir, "the right key")
	if err := v1.Save("zerodha", testCredential()); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// Same salt file, different master key: decryption must fail, not
	// return garbage.
	v2 := newTestVault(t, dir, "the wrong key")
	if _, err := v2.Load("zerodha"); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Load with wrong key = %v, want ErrDecryptFailed", err)
	}
}

func TestVaultSameKeyAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	v1 := newTestVault(t, dir, "stable key")
	if err := v1.Save("zerodha", testCredential()); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// A second vault over the same data dir reuses the salt and derives
	// the same key.
	v2 := newTestVault(t, dir, "stable key")
	got, err := v2.Load("zerodha")
	if err != nil {
		t.Fatalf("Load via second instance: %v", err)
	}
	if got.APIKey != testCredential().APIKey {
		t.Errorf("APIKey = %q", got.APIKey)
	}
}

func TestVaultDisabledWithoutMasterKey(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "")
	if v.Enabled() {
		t.Fatal("vault without a master key should be disabled")
	}
	if err := v.Save("zerodha", testCredential()); !errors.Is(err, ErrNoMasterKey) {
		t.Errorf("Save = %v, want ErrNoMasterKey", err)
	}
	if _, err := v.Load("zerodha"); !errors.Is(err, ErrNoMasterKey) {
		t.Errorf("Load = %v, want ErrNoMasterKey", err)
	}
	if v.Has("zerodha") {
		t.Error("Has should be false on an empty vault")
	}
}

func TestVaultLoadMissing(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "some key")
	if _, err := v.Load("zerodha"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) = %v, want ErrNotFound", err)
	}
}

func TestVaultDelete(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "some key")
	if err := v.Save("zerodha", testCredential()); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if !v.Has("zerodha") {
		t.Fatal("Has = false after Save")
	}

	if err := v.Delete("zerodha"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if v.Has("zerodha") {
		t.Error("Has = true after Delete")
	}
	if _, err := v.Load("zerodha"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Delete = %v, want ErrNotFound", err)
	}
	if err := v.Delete("zerodha"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestVaultList(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "some key")
	if got := v.List(); len(got) != 0 {
		t.Fatalf("List on empty vault = %v", got)
	}

	if err := v.Save("zerodha", testCredential()); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	paper := models.Credential{Broker: "paper", Extra: map[string]string{"starting_balance": "500000"}}
	if err := v.Save("paper", paper); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got := v.List()
	if len(got) != 2 || got[0] != "paper" || got[1] != "zerodha" {
		t.Errorf("List = %v, want [paper zerodha]", got)
	}
}

func TestVaultOverwrite(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "some key")

	first := testCredential()
	if err := v.Save("zerodha", first); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	second := first
	second.AccessToken = "rotated-token"
	if err := v.Save("zerodha", second); err != nil {
		t.Fatalf("overwrite Save error: %v", err)
	}

	got, err := v.Load("zerodha")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.AccessToken != "rotated-token" {
		t.Errorf("AccessToken = %q, want the rotated token", got.AccessToken)
	}
}

func TestVaultBrokerNameValidation(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "some key")

	for _, name := range []string{"", "Bad Name", "UPPER", "../escape", "a/b"} {
		if err := v.Save(name, testCredential()); err == nil {
			t.Errorf("Save(%q) accepted an invalid broker name", name)
		}
		if v.Has(name) {
			t.Errorf("Has(%q) = true for an invalid broker name", name)
		}
	}
}
