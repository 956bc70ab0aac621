package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearAppEnv() {
	for _, e := range []string{"APP_HOST", "APP_PORT", "APP_DATA_DIR", "APP_MASTER_KEY", "APP_LOG_LEVEL"} {
		os.Unsetenv(e)
	}
}

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	clearAppEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host: got %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port: got %d, want 8080", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("Server.CORSOrigins: got %v", cfg.Server.CORSOrigins)
	}
	if !strings.HasSuffix(cfg.DataDir, ".tradekar") {
		t.Errorf("DataDir: got %q, want a ~/.tradekar path", cfg.DataDir)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level: got %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Pretty {
		t.Error("Log.Pretty should default to false")
	}
	if cfg.Broker.RequestTimeoutSec != 10 {
		t.Errorf("Broker.RequestTimeoutSec: got %d, want 10", cfg.Broker.RequestTimeoutSec)
	}
	if cfg.Broker.HistoryTimeoutSec != 30 {
		t.Errorf("Broker.HistoryTimeoutSec: got %d, want 30", cfg.Broker.HistoryTimeoutSec)
	}
	if cfg.Broker.RetryBudget != 3 {
		t.Errorf("Broker.RetryBudget: got %d, want 3", cfg.Broker.RetryBudget)
	}
	if cfg.RateLimit.ReadsPerMin != 60 {
		t.Errorf("RateLimit.ReadsPerMin: got %d, want 60", cfg.RateLimit.ReadsPerMin)
	}
	if cfg.RateLimit.MutationsPerMin != 10 {
		t.Errorf("RateLimit.MutationsPerMin: got %d, want 10", cfg.RateLimit.MutationsPerMin)
	}
	if cfg.Session.TTLHours != 24 {
		t.Errorf("Session.TTLHours: got %d, want 24", cfg.Session.TTLHours)
	}
	if cfg.Activity.Capacity != 500 {
		t.Errorf("Activity.Capacity: got %d, want 500", cfg.Activity.Capacity)
	}
	if cfg.Catalog.RefreshHours != 1 {
		t.Errorf("Catalog.RefreshHours: got %d, want 1", cfg.Catalog.RefreshHours)
	}
	if cfg.MasterKey != "" {
		t.Error("MasterKey should be empty without APP_MASTER_KEY")
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	clearAppEnv()

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test_config.yaml")
	content := []byte(`
server:
  host: "0.0.0.0"
  port: 9090
  cors_origins:
    - "https://trade.example.com"
data_dir: "/var/lib/tradekar"
log:
  level: "debug"
  pretty: true
broker:
  request_timeout_sec: 5
  retry_budget: 1
ratelimit:
  reads_per_min: 120
session:
  ttl_hours: 8
activity:
  capacity: 1000
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host: got %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port: got %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://trade.example.com" {
		t.Errorf("Server.CORSOrigins: got %v", cfg.Server.CORSOrigins)
	}
	if cfg.DataDir != "/var/lib/tradekar" {
		t.Errorf("DataDir: got %q", cfg.DataDir)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Errorf("Log: got %+v", cfg.Log)
	}
	if cfg.Broker.RequestTimeoutSec != 5 {
		t.Errorf("Broker.RequestTimeoutSec: got %d, want 5", cfg.Broker.RequestTimeoutSec)
	}
	if cfg.Broker.RetryBudget != 1 {
		t.Errorf("Broker.RetryBudget: got %d, want 1", cfg.Broker.RetryBudget)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Broker.HistoryTimeoutSec != 30 {
		t.Errorf("Broker.HistoryTimeoutSec: got %d, want default 30", cfg.Broker.HistoryTimeoutSec)
	}
	if cfg.RateLimit.ReadsPerMin != 120 {
		t.Errorf("RateLimit.ReadsPerMin: got %d, want 120", cfg.RateLimit.ReadsPerMin)
	}
	if cfg.RateLimit.MutationsPerMin != 10 {
		t.Errorf("RateLimit.MutationsPerMin: got %d, want default 10", cfg.RateLimit.MutationsPerMin)
	}
	if cfg.Session.TTLHours != 8 {
		t.Errorf("Session.TTLHours: got %d, want 8", cfg.Session.TTLHours)
	}
	if cfg.Activity.Capacity != 1000 {
		t.Errorf("Activity.Capacity: got %d, want 1000", cfg.Activity.Capacity)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/config.yaml"); err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("APP_HOST", "10.0.0.5")
	t.Setenv("APP_PORT", "9191")
	t.Setenv("APP_DATA_DIR", "/tmp/tradekar-test")
	t.Setenv("APP_MASTER_KEY", "hunter2hunter2")
	t.Setenv("APP_LOG_LEVEL", "warn")

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.Server.Host != "10.0.0.5" {
		t.Errorf("Server.Host: got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port: got %d", cfg.Server.Port)
	}
	if cfg.DataDir != "/tmp/tradekar-test" {
		t.Errorf("DataDir: got %q", cfg.DataDir)
	}
	if cfg.MasterKey != "hunter2hunter2" {
		t.Errorf("MasterKey: got %q", cfg.MasterKey)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	clearAppEnv()

	cfg := &Config{DataDir: "/from/config"}
	overrideFromEnv(cfg)

	if cfg.DataDir != "/from/config" {
		t.Errorf("DataDir should stay %q when env is unset, got %q", "/from/config", cfg.DataDir)
	}
}

func TestOverrideFromEnvBadPort(t *testing.T) {
	t.Setenv("APP_PORT", "not-a-port")

	cfg := &Config{Server: ServerConfig{Port: 8080}}
	overrideFromEnv(cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("unparseable APP_PORT should be ignored, got %d", cfg.Server.Port)
	}
}

// ── Validate ──

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8080},
		DataDir:  "/tmp/tradekar",
		Log:      LogConfig{Level: "info"},
		Broker:   BrokerConfig{RequestTimeoutSec: 10, HistoryTimeoutSec: 30, RetryBudget: 3},
		Activity: ActivityConfig{Capacity: 500},
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"activity capacity too small", func(c *Config) { c.Activity.Capacity = 100 }},
		{"negative retry budget", func(c *Config) { c.Broker.RetryBudget = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "0.0.0.0", Port: 9090}}
	if got := cfg.Addr(); got != "0.0.0.0:9090" {
		t.Errorf("Addr() = %q, want %q", got, "0.0.0.0:9090")
	}
}

// ── maskSecret ──

func TestMaskSecretShort(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"a", "***"},
		{"abcd", "***"},
		{"12345678", "***"},
	}
	for _, tc := range tests {
		if got := maskSecret(tc.input); got != tc.want {
			t.Errorf("maskSecret(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestMaskSecretLong(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"123456789", "123...789"},
		{"sk-abcdef1234567890xyz", "sk-...xyz"},
		{"ABCDEFGHIJKLMNOP", "ABC...NOP"},
	}
	for _, tc := range tests {
		if got := maskSecret(tc.input); got != tc.want {
			t.Errorf("maskSecret(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

// ── CheckSecrets / checkSecret ──

func TestCheckSecretsEmpty(t *testing.T) {
	clearAppEnv()

	statuses := CheckSecrets(&Config{})
	if len(statuses) != 1 {
		t.Fatalf("CheckSecrets: got %d statuses, want 1", len(statuses))
	}
	s := statuses[0]
	if s.IsSet {
		t.Errorf("%q should not be set", s.Name)
	}
	if s.Source != SourceNone {
		t.Errorf("Source: got %q, want %q", s.Source, SourceNone)
	}
	if s.Masked != "" {
		t.Errorf("Masked should be empty, got %q", s.Masked)
	}
}

func TestCheckSecretsFromConfig(t *testing.T) {
	clearAppEnv()

	statuses := CheckSecrets(&Config{MasterKey: "config-master-key-value"})
	s := statuses[0]
	if !s.IsSet {
		t.Error("master key should be set")
	}
	if s.Source != SourceConfig {
		t.Errorf("Source: got %q, want %q", s.Source, SourceConfig)
	}
	if s.Masked != "con...lue" {
		t.Errorf("Masked: got %q, want %q", s.Masked, "con...lue")
	}
}

func TestCheckSecretsFromEnv(t *testing.T) {
	t.Setenv("APP_MASTER_KEY", "env-master-key-value")

	statuses := CheckSecrets(&Config{MasterKey: "env-master-key-value"})
	if statuses[0].Source != SourceEnv {
		t.Errorf("Source: got %q, want %q", statuses[0].Source, SourceEnv)
	}
}

func TestCheckSecretSourceDetection(t *testing.T) {
	os.Unsetenv("TEST_SECRET_VAR")
	s := checkSecret("Test", "", "TEST_SECRET_VAR")
	if s.Source != SourceNone || s.IsSet {
		t.Errorf("empty value: got %+v", s)
	}

	s = checkSecret("Test", "config-value-long-enough", "TEST_SECRET_VAR")
	if s.Source != SourceConfig || !s.IsSet {
		t.Errorf("config value: got %+v", s)
	}

	t.Setenv("TEST_SECRET_VAR", "env-value-long-enough")
	s = checkSecret("Test", "env-value-long-enough", "TEST_SECRET_VAR")
	if s.Source != SourceEnv {
		t.Errorf("env value: got source %q, want %q", s.Source, SourceEnv)
	}
}

// ── homeDir ──

func TestHomeDirReturnsNonEmpty(t *testing.T) {
	if homeDir() == "" {
		t.Error("homeDir() should not return empty string")
	}
}
