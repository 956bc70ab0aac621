package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ErrConfigNotFound is returned when a requested named config does not exist.
var ErrConfigNotFound = errors.New("config not found")

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// Store persists bot configurations under <dataDir>/config: the active
// config as current.json plus saved variants under named/.
type Store struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger
}

// NewStore creates the config store, ensuring its directories exist.
func NewStore(dataDir string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, "config")
	if err := os.MkdirAll(filepath.Join(dir, "named"), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &Store{
		dir: dir,
		log: log.With().Str("component", "config-store").Logger(),
	}, nil
}

// Current returns the active BotConfig, falling back to the default when
// none has been saved yet.
func (s *Store) Current() (BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.readFile(filepath.Join(s.dir, "current.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultBotConfig(), nil
		}
		return BotConfig{}, err
	}
	return cfg, nil
}

// SaveCurrent persists cfg as the active configuration.
func (s *Store) SaveCurrent(cfg BotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(filepath.Join(s.dir, "current.json"), cfg)
}

// SaveNamed persists cfg as a saved variant.
func (s *Store) SaveNamed(name string, cfg BotConfig) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("config name %q: only [a-zA-Z0-9._-], max 64 chars", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(s.namedPath(name), cfg)
}

// LoadNamed returns a saved variant.
func (s *Store) LoadNamed(name string) (BotConfig, error) {
	if !nameRe.MatchString(name) {
		return BotConfig{}, fmt.Errorf("config name %q: only [a-zA-Z0-9._-], max 64 chars", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.readFile(s.namedPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return BotConfig{}, ErrConfigNotFound
		}
		return BotConfig{}, err
	}
	return cfg, nil
}

// DeleteNamed removes a saved variant.
func (s *Store) DeleteNamed(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("config name %q: only [a-zA-Z0-9._-], max 64 chars", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.namedPath(name)); err != nil {
		if os.IsNotExist(err) {
			return ErrConfigNotFound
		}
		return fmt.Errorf("delete config %s: %w", name, err)
	}
	return nil
}

// ListNamed returns the saved variant names, sorted.
func (s *Store) ListNamed() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "named"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list configs: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) namedPath(name string) string {
	return filepath.Join(s.dir, "named", name+".json")
}

func (s *Store) readFile(path string) (BotConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return BotConfig{}, err
	}

	if unknown := UnknownKeys(raw); len(unknown) > 0 {
		s.log.Warn().Strs("keys", unknown).Str("file", filepath.Base(path)).
			Msg("Ignoring unrecognized config keys")
	}

	var cfg BotConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return BotConfig{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// writeFile marshals and writes atomically: tmp file, then rename.
func (s *Store) writeFile(path string, cfg BotConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}
