// Package vault stores per-broker credentials encrypted at rest.
//
// Each credential bundle is JSON-serialized and sealed with AES-256-GCM
// under a key derived from the operator-supplied master key (scrypt, with a
// per-install random salt). One file per broker lives under
// <dataDir>/credentials/<broker>.enc as nonce||ciphertext. Plaintext never
// touches disk, and nothing outside this package reads or writes credential
// files.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/scrypt"

	"github.com/tradekar/tradekar/pkg/models"
)

var (
	// ErrNotFound means no credential file exists for the broker.
	ErrNotFound = errors.New("credential not found")
	// ErrDecryptFailed means the ciphertext is corrupt or the master key is wrong.
	ErrDecryptFailed = errors.New("credential decrypt failed")
	// ErrNoMasterKey means the vault was constructed without APP_MASTER_KEY.
	ErrNoMasterKey = errors.New("master key not configured")
)

var brokerNameRe = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

const saltFile = "vault.salt"

// Vault encrypts and persists credential bundles.
type Vault struct {
	mu  sync.Mutex
	dir string // <dataDir>/credentials
	key []byte // nil when no master key was provided
	log zerolog.Logger
}

// New creates the vault. masterKey may be empty, in which case every
// operation fails with ErrNoMasterKey; paper trading works without one.
func New(dataDir, masterKey string, log zerolog.Logger) (*Vault, error) {
	dir := filepath.Join(dataDir, "credentials")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}

	v := &Vault{
		dir: dir,
		log: log.With().Str("component", "vault").Logger(),
	}

	if masterKey == "" {
		v.log.Debug().Msg("No master key configured; vault disabled")
		return v, nil
	}

	salt, err := loadOrCreateSalt(filepath.Join(dataDir, saltFile))
	if err != nil {
		return nil, err
	}

	key, err := scrypt.Key([]byte(masterKey), salt, 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	v.key = key
	return v, nil
}

// Enabled reports whether a master key is configured.
func (v *Vault) Enabled() bool {
	return v.key != nil
}

// Save encrypts and atomically persists the credential bundle for a broker.
func (v *Vault) Save(broker string, cred models.Credential) error {
	if v.key == nil {
		return ErrNoMasterKey
	}
	if !brokerNameRe.MatchString(broker) {
		return fmt.Errorf("broker name %q: only [a-z0-9_-], max 32 chars", broker)
	}

	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	sealed, err := v.seal(plaintext)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	path := v.path(broker)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename credential file: %w", err)
	}

	v.log.Info().
		Str("broker", broker).
		Bool("has_api_key", cred.APIKey != "").
		Bool("has_access_token", cred.AccessToken != "").
		Msg("Credentials saved")
	return nil
}

// Load decrypts the credential bundle for a broker.
func (v *Vault) Load(broker string) (models.Credential, error) {
	if v.key == nil {
		return models.Credential{}, ErrNoMasterKey
	}
	if !brokerNameRe.MatchString(broker) {
		return models.Credential{}, fmt.Errorf("broker name %q: only [a-z0-9_-], max 32 chars", broker)
	}

	v.mu.Lock()
	sealed, err := os.ReadFile(v.path(broker))
	v.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return models.Credential{}, ErrNotFound
		}
		return models.Credential{}, fmt.Errorf("read credential file: %w", err)
	}

	plaintext, err := v.open(sealed)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %s", ErrDecryptFailed, broker)
	}

	var cred models.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return models.Credential{}, fmt.Errorf("%w: %s", ErrDecryptFailed, broker)
	}
	return cred, nil
}

// Delete removes the credential file for a broker.
func (v *Vault) Delete(broker string) error {
	if !brokerNameRe.MatchString(broker) {
		return fmt.Errorf("broker name %q: only [a-z0-9_-], max 32 chars", broker)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.Remove(v.path(broker)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete credential file: %w", err)
	}
	v.log.Info().Str("broker", broker).Msg("Credentials deleted")
	return nil
}

// List returns the brokers that have stored credentials, sorted.
func (v *Vault) List() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil
	}

	var brokers []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".enc") {
			continue
		}
		brokers = append(brokers, strings.TrimSuffix(e.Name(), ".enc"))
	}
	sort.Strings(brokers)
	return brokers
}

// Has reports whether credentials exist for a broker without decrypting.
func (v *Vault) Has(broker string) bool {
	if !brokerNameRe.MatchString(broker) {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := os.Stat(v.path(broker))
	return err == nil
}

func (v *Vault) path(broker string) string {
	return filepath.Join(v.dir, broker+".enc")
}

// seal encrypts plaintext as nonce||ciphertext.
func (v *Vault) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts nonce||ciphertext.
func (v *Vault) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// loadOrCreateSalt reads the per-install salt, creating it on first use.
func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == 16 {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read vault salt: %w", err)
	}

	salt = make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate vault salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write vault salt: %w", err)
	}
	return salt, nil
}
