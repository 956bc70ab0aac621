package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradekar/tradekar/internal/bot"
	"github.com/tradekar/tradekar/internal/broker"
	"github.com/tradekar/tradekar/internal/catalog"
	"github.com/tradekar/tradekar/internal/config"
	"github.com/tradekar/tradekar/internal/vault"
	"github.com/tradekar/tradekar/pkg/models"
)

// testServer wires the full control plane against the paper adapter and
// the builtin instrument universe, exposing the components tests arrange
// state through directly.
type testServer struct {
	*Server
	manager *broker.Manager
	vault   *vault.Vault
	store   *config.Store
}

func newTestServer(t *testing.T, mutationsPerMin int) *testServer {
	t.Helper()
	dataDir := t.TempDir()
	log := zerolog.Nop()

	cfg := &config.Config{
		Server:    config.ServerConfig{Host: "127.0.0.1", Port: 8080, CORSOrigins: []string{"http://localhost:3000"}},
		DataDir:   dataDir,
		MasterKey: "server-test-master-key",
		RateLimit: config.RateLimitConfig{ReadsPerMin: 100000, MutationsPerMin: mutationsPerMin},
		Session:   config.SessionConfig{TTLHours: 1},
		Activity:  config.ActivityConfig{Capacity: 500},
	}

	ring := bot.NewActivityLog(cfg.Activity.Capacity)
	manager := broker.NewManager(broker.EventSinkFunc(func(a models.Activity) { ring.Add(a) }), log)

	vlt, err := vault.New(dataDir, cfg.MasterKey, log)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	cat := catalog.New(dataDir, log)
	if err := cat.Refresh(context.Background(), catalog.Universe{}); err != nil {
		t.Fatalf("catalog refresh: %v", err)
	}

	store, err := config.NewStore(dataDir, log)
	if err != nil {
		t.Fatalf("config store: %v", err)
	}

	sup := bot.NewSupervisor(manager, cat, ring, bot.Options{}, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sup.Run(ctx)

	sessions, err := NewSessionStore(dataDir, time.Hour, log)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}

	hub := NewHub(log)
	go hub.Run()

	srv := NewServer(cfg, Deps{
		Manager:    manager,
		Vault:      vlt,
		Catalog:    cat,
		Store:      store,
		Supervisor: sup,
		Sessions:   sessions,
		Hub:        hub,
		Version:    "test",
	}, log)

	return &testServer{Server: srv, manager: manager, vault: vlt, store: store}
}

// do runs one request through the router and decodes the envelope.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}

	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: bad envelope: %v\nbody: %s", method, path, err, rec.Body.String())
		}
	}
	return rec, resp
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	rec, resp := ts.do(t, http.MethodPost, "/api/session", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/session = %d, want 201", rec.Code)
	}
	token, _ := dataMap(t, resp)["token"].(string)
	if token == "" {
		t.Fatalf("session response has no token: %+v", resp.Data)
	}
	return token
}

func (ts *testServer) connectPaper(t *testing.T, token string) {
	t.Helper()
	rec, _ := ts.do(t, http.MethodPost, "/api/broker/connect", token, map[string]any{"broker": "paper"})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect paper = %d", rec.Code)
	}
}

func dataMap(t *testing.T, resp APIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", resp.Data)
	}
	return m
}

func dataList(t *testing.T, resp APIResponse) []any {
	t.Helper()
	l, ok := resp.Data.([]any)
	if !ok {
		t.Fatalf("data = %T, want array", resp.Data)
	}
	return l
}

// closedWindowConfig keeps the trading window shut so lifecycle tests do
// not depend on what the synthetic market does.
func closedWindowConfig() config.BotConfig {
	cfg := config.DefaultBotConfig()
	cfg.PollIntervalSeconds = 5
	cfg.TradingHours = config.TradingHours{Start: "00:00", End: "00:00"}
	return cfg
}

func (ts *testServer) waitForBotState(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		_, resp := ts.do(t, http.MethodGet, "/api/bot/status", "", nil)
		last, _ = dataMap(t, resp)["state"].(string)
		if last == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for bot state %q; last %q", want, last)
}

// ════════════════════════════════════════════════════════════════════
// Tests
// ════════════════════════════════════════════════════════════════════

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, 100000)

	rec, resp := ts.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	if !resp.Success {
		t.Error("health envelope not successful")
	}
	data := dataMap(t, resp)
	if data["status"] != "ok" {
		t.Errorf("status = %v, want ok", data["status"])
	}
	if data["version"] != "test" {
		t.Errorf("version = %v, want test", data["version"])
	}
}

func TestSessionAuthFlow(t *testing.T) {
	ts := newTestServer(t, 100000)

	// Mutations without a token are rejected with the auth envelope.
	rec, resp := ts.do(t, http.MethodPost, "/api/bot/stop", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tokenless mutation = %d, want 401", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "auth" {
		t.Fatalf("error = %+v, want code auth", resp.Error)
	}

	token := ts.login(t)

	// X-Session-Token header.
	rec, _ = ts.do(t, http.MethodPost, "/api/bot/stop", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("mutation with session header = %d, want 200", rec.Code)
	}

	// Bearer form of the same token.
	req := httptest.NewRequest(http.MethodPost, "/api/bot/stop", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	brec := httptest.NewRecorder()
	ts.Router().ServeHTTP(brec, req)
	if brec.Code != http.StatusOK {
		t.Errorf("mutation with bearer token = %d, want 200", brec.Code)
	}

	// Logout revokes the token.
	rec, resp = ts.do(t, http.MethodDelete, "/api/session", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE /api/session = %d, want 200", rec.Code)
	}
	if revoked, _ := dataMap(t, resp)["revoked"].(bool); !revoked {
		t.Error("logout should report revoked")
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/bot/stop", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("mutation with revoked token = %d, want 401", rec.Code)
	}

	// Reads never need a session.
	rec, _ = ts.do(t, http.MethodGet, "/api/broker/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("read without token = %d, want 200", rec.Code)
	}
}

func TestMutationRateLimit(t *testing.T) {
	ts := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rec, _ := ts.do(t, http.MethodPost, "/api/session", "", nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("session #%d = %d, want 201", i+1, rec.Code)
		}
	}

	rec, resp := ts.do(t, http.MethodPost, "/api/session", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-budget mutation = %d, want 429", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "rate-limited" {
		t.Errorf("error = %+v, want code rate-limited", resp.Error)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}

	// The read budget is separate.
	rec, _ = ts.do(t, http.MethodGet, "/api/broker/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("read after mutation 429 = %d, want 200", rec.Code)
	}
}

func TestBrokerEndpoints(t *testing.T) {
	ts := newTestServer(t, 100000)
	token := ts.login(t)

	rec, resp := ts.do(t, http.MethodGet, "/api/broker/list", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("broker list = %d", rec.Code)
	}
	brokers := dataList(t, resp)
	if len(brokers) != 2 {
		t.Fatalf("broker list has %d entries, want 2", len(brokers))
	}
	zerodha := brokers[1].(map[string]any)
	if zerodha["name"] != "zerodha" || zerodha["oauth"] != true {
		t.Errorf("zerodha entry = %v", zerodha)
	}
	if zerodha["saved_credential"] != false {
		t.Errorf("saved_credential = %v, want false", zerodha["saved_credential"])
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/broker/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("broker status = %d", rec.Code)
	}
	if connected, _ := dataMap(t, resp)["connected"].(bool); connected {
		t.Error("fresh server should not report a connected broker")
	}

	// The broker field is mandatory.
	rec, resp = ts.do(t, http.MethodPost, "/api/broker/connect", token, map[string]any{})
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "broker" {
		t.Errorf("connect without broker = %d %+v", rec.Code, resp.Error)
	}

	// Unsupported venues are a validation error.
	rec, resp = ts.do(t, http.MethodPost, "/api/broker/connect", token, map[string]any{"broker": "upstox"})
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != "validation" {
		t.Errorf("connect unknown broker = %d %+v", rec.Code, resp.Error)
	}

	// Live venues need credentials from the request or the vault.
	rec, resp = ts.do(t, http.MethodPost, "/api/broker/connect", token, map[string]any{"broker": "zerodha"})
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "credentials.api_key" {
		t.Errorf("connect zerodha without creds = %d %+v", rec.Code, resp.Error)
	}

	// Paper needs none.
	rec, resp = ts.do(t, http.MethodPost, "/api/broker/connect", token, map[string]any{"broker": "paper"})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect paper = %d", rec.Code)
	}
	status := dataMap(t, resp)
	if status["broker"] != "paper" || status["connected"] != true {
		t.Errorf("connect response = %v", status)
	}

	rec, resp = ts.do(t, http.MethodPost, "/api/broker/disconnect", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect = %d", rec.Code)
	}
	if connected, _ := dataMap(t, resp)["connected"].(bool); connected {
		t.Error("disconnect should leave no broker connected")
	}
}

func TestBrokerDisconnectBlockedWhileRunning(t *testing.T) {
	ts := newTestServer(t, 100000)
	token := ts.login(t)
	ts.connectPaper(t, token)

	if err := ts.store.SaveCurrent(closedWindowConfig()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	rec, _ := ts.do(t, http.MethodPost, "/api/bot/start", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bot start = %d", rec.Code)
	}
	ts.waitForBotState(t, "running")

	rec, resp := ts.do(t, http.MethodPost, "/api/broker/disconnect", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("disconnect while running = %d, want 409", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "state-conflict" {
		t.Errorf("error = %+v", resp.Error)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/bot/stop", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bot stop = %d", rec.Code)
	}
	ts.waitForBotState(t, "stopped")

	rec, _ = ts.do(t, http.MethodPost, "/api/broker/disconnect", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("disconnect after stop = %d, want 200", rec.Code)
	}
}

func TestOAuthInitiateValidation(t *testing.T) {
	ts := newTestServer(t, 100000)
	token := ts.login(t)

	rec, resp := ts.do(t, http.MethodPost, "/api/broker/oauth/initiate", token,
		map[string]any{"broker": "paper"})
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "broker" {
		t.Errorf("initiate for paper = %d %+v", rec.Code, resp.Error)
	}

	rec, resp = ts.do(t, http.MethodPost, "/api/broker/oauth/initiate", token,
		map[string]any{"broker": "zerodha"})
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "api_key" {
		t.Errorf("initiate without keys = %d %+v", rec.Code, resp.Error)
	}

	rec, resp = ts.do(t, http.MethodPost, "/api/broker/oauth/initiate", token,
		map[string]any{"broker": "zerodha", "api_key": "kite-key"})
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "api_secret" {
		t.Errorf("initiate without secret = %d %+v", rec.Code, resp.Error)
	}

	rec, resp = ts.do(t, http.MethodPost, "/api/broker/oauth/initiate", token,
		map[string]any{"broker": "zerodha", "api_key": "kite-key", "api_secret": "kite-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate = %d, want 200", rec.Code)
	}
	data := dataMap(t, resp)
	authURL, _ := data["authorization_url"].(string)
	state, _ := data["state"].(string)
	if state == "" {
		t.Fatal("initiate returned no state")
	}
	if !strings.Contains(authURL, "api_key=kite-key") {
		t.Errorf("authorization_url = %q, want api_key param", authURL)
	}
	if !strings.Contains(authURL, "redirect_params=state%3D"+state) {
		t.Errorf("authorization_url = %q, want embedded state", authURL)
	}
}

func TestOAuthCallbackRejectsForgedState(t *testing.T) {
	ts := newTestServer(t, 100000)

	rec, resp := ts.do(t, http.MethodGet, "/api/broker/oauth/callback?state=abc", "", nil)
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "request_token" {
		t.Errorf("callback without request_token = %d %+v", rec.Code, resp.Error)
	}

	rec, resp = ts.do(t, http.MethodGet,
		"/api/broker/oauth/callback?request_token=tok&state=forged", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("callback with forged state = %d, want 400", rec.Code)
	}
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "unknown or expired oauth state") {
		t.Errorf("error = %+v", resp.Error)
	}

	// Nothing may be saved or connected on a forged callback.
	if ts.vault.Has("zerodha") {
		t.Error("forged callback must not persist credentials")
	}
	if ts.manager.CurrentName() != "" {
		t.Error("forged callback must not connect a broker")
	}
}

func TestInstrumentEndpoints(t *testing.T) {
	ts := newTestServer(t, 100000)
	token := ts.login(t)

	rec, resp := ts.do(t, http.MethodGet, "/api/instruments?search=TATA", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("instrument search = %d", rec.Code)
	}
	data := dataMap(t, resp)
	if total, _ := data["total"].(float64); total != 4 {
		t.Errorf("total = %v, want 4", data["total"])
	}
	instruments, _ := data["instruments"].([]any)
	if len(instruments) != 4 {
		t.Fatalf("instruments page has %d rows, want 4", len(instruments))
	}
	first := instruments[0].(map[string]any)
	if first["trading_symbol"] != "TATACONSUM" {
		t.Errorf("first match = %v, want TATACONSUM (prefix matches rank first)", first["trading_symbol"])
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/instruments/2953217", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("instrument by token = %d", rec.Code)
	}
	if got := dataMap(t, resp)["trading_symbol"]; got != "TCS" {
		t.Errorf("token 2953217 = %v, want TCS", got)
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/instruments/notanumber", "", nil)
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Field != "token" {
		t.Errorf("non-numeric token = %d %+v", rec.Code, resp.Error)
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/instruments/999", "", nil)
	if rec.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "not-found" {
		t.Errorf("unknown token = %d %+v", rec.Code, resp.Error)
	}

	// Quotes need an instrument and a connected broker, in that order.
	rec, resp = ts.do(t, http.MethodGet, "/api/instruments/quote/GHOST", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("quote for unknown instrument = %d, want 404", rec.Code)
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/instruments/quote/RELIANCE", "", nil)
	if rec.Code != http.StatusConflict || resp.Error == nil || resp.Error.Code != "state-conflict" {
		t.Errorf("quote without broker = %d %+v", rec.Code, resp.Error)
	}

	ts.connectPaper(t, token)
	rec, resp = ts.do(t, http.MethodGet, "/api/instruments/quote/RELIANCE", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("quote = %d, want 200", rec.Code)
	}
	quote := dataMap(t, resp)
	if quote["trading_symbol"] != "RELIANCE" {
		t.Errorf("quote symbol = %v", quote["trading_symbol"])
	}
	if last, _ := quote["last"].(float64); last <= 0 {
		t.Errorf("quote last = %v, want > 0", quote["last"])
	}
}

func TestConfigEndpoints(t *testing.T) {
	ts := newTestServer(t, 100000)
	token := ts.login(t)

	rec, resp := ts.do(t, http.MethodGet, "/api/config", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/config = %d", rec.Code)
	}
	current := dataMap(t, resp)["config"].(map[string]any)
	if current["strategy"] != "trend_follow" {
		t.Errorf("default strategy = %v", current["strategy"])
	}

	// Invalid configs are rejected with the field errors in the envelope.
	bad := closedWindowConfig()
	bad.RiskPerTradePercent = 0
	rec, resp = ts.do(t, http.MethodPost, "/api/config", token, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("POST invalid config = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != "validation" {
		t.Fatalf("error = %+v", resp.Error)
	}
	if errs, _ := dataMap(t, resp)["errors"].([]any); len(errs) == 0 {
		t.Error("validation response should carry the field errors")
	}

	// A valid save survives a round trip.
	good := closedWindowConfig()
	good.Strategy = "momentum"
	rec, _ = ts.do(t, http.MethodPost, "/api/config", token, good)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST valid config = %d", rec.Code)
	}
	_, resp = ts.do(t, http.MethodGet, "/api/config", "", nil)
	current = dataMap(t, resp)["config"].(map[string]any)
	if current["strategy"] != "momentum" {
		t.Errorf("strategy after save = %v, want momentum", current["strategy"])
	}

	// Validation endpoint always answers 200 with the verdict.
	rec, resp = ts.do(t, http.MethodPost, "/api/config/validate", token, bad)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/config/validate = %d, want 200", rec.Code)
	}
	verdict := dataMap(t, resp)
	if valid, _ := verdict["valid"].(bool); valid {
		t.Error("invalid config should not validate")
	}
	if errs, _ := verdict["errors"].([]any); len(errs) == 0 {
		t.Error("verdict should list field errors")
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/config/presets", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("presets = %d", rec.Code)
	}
	presets := dataMap(t, resp)
	for _, name := range []string{"conservative", "balanced", "aggressive"} {
		if _, ok := presets[name]; !ok {
			t.Errorf("presets missing %q", name)
		}
	}

	// Named configs: save, list, fetch, delete, then 404.
	rec, _ = ts.do(t, http.MethodPost, "/api/config/swing", token, good)
	if rec.Code != http.StatusOK {
		t.Fatalf("save named = %d", rec.Code)
	}
	_, resp = ts.do(t, http.MethodGet, "/api/config/list", "", nil)
	names, _ := dataMap(t, resp)["names"].([]any)
	if len(names) != 1 || names[0] != "swing" {
		t.Errorf("names = %v, want [swing]", names)
	}
	rec, resp = ts.do(t, http.MethodGet, "/api/config/swing", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get named = %d", rec.Code)
	}
	rec, resp = ts.do(t, http.MethodGet, "/api/config/ghost", "", nil)
	if rec.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "not-found" {
		t.Errorf("get unknown named = %d %+v", rec.Code, resp.Error)
	}
	rec, _ = ts.do(t, http.MethodDelete, "/api/config/swing", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete named = %d", rec.Code)
	}
	rec, _ = ts.do(t, http.MethodDelete, "/api/config/swing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}
}

func TestConfigSaveWarnsUnknownKeys(t *testing.T) {
	ts := newTestServer(t, 100000)
	token := ts.login(t)

	body := map[string]any{}
	raw, _ := json.Marshal(closedWindowConfig())
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	body["turbo_mode"] = true

	rec, resp := ts.do(t, http.MethodPost, "/api/config", token, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST config = %d", rec.Code)
	}
	warnings, _ := dataMap(t, resp)["warnings"].([]any)
	if len(warnings) != 1 || !strings.Contains(warnings[0].(string), "turbo_mode") {
		t.Errorf("warnings = %v, want one naming turbo_mode", warnings)
	}
}

func TestBotEndpoints(t *testing.T) {
	ts := newTestServer(t, 100000)
	token := ts.login(t)

	// Starting without a connected broker is a state conflict.
	if err := ts.store.SaveCurrent(closedWindowConfig()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	rec, resp := ts.do(t, http.MethodPost, "/api/bot/start", token, nil)
	if rec.Code != http.StatusConflict || resp.Error == nil || resp.Error.Code != "state-conflict" {
		t.Fatalf("start without broker = %d %+v", rec.Code, resp.Error)
	}

	ts.connectPaper(t, token)

	rec, resp = ts.do(t, http.MethodPost, "/api/bot/start", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bot start = %d: %+v", rec.Code, resp.Error)
	}
	ts.waitForBotState(t, "running")

	_, resp = ts.do(t, http.MethodGet, "/api/bot/status", "", nil)
	status := dataMap(t, resp)
	if status["broker"] != "paper" || status["strategy"] != "trend_follow" {
		t.Errorf("status = %v", status)
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/bot/account", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("account = %d", rec.Code)
	}
	account := dataMap(t, resp)
	if account["currency"] != "INR" {
		t.Errorf("currency = %v, want INR", account["currency"])
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/bot/positions", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("positions = %d", rec.Code)
	}
	if _, ok := dataMap(t, resp)["positions"]; !ok {
		t.Error("positions payload missing positions key")
	}

	rec, _ = ts.do(t, http.MethodGet, "/api/bot/trades", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trades = %d", rec.Code)
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/bot/analytics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analytics = %d", rec.Code)
	}
	if trades, _ := dataMap(t, resp)["total_trades"].(float64); trades != 0 {
		t.Errorf("total_trades = %v, want 0", trades)
	}

	rec, _ = ts.do(t, http.MethodGet, "/api/bot/activities?limit=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activities = %d", rec.Code)
	}

	// Closing a position that does not exist is a 404 while running.
	rec, resp = ts.do(t, http.MethodDelete, "/api/bot/positions/RELIANCE", token, nil)
	if rec.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "not-found" {
		t.Errorf("close unknown position = %d %+v", rec.Code, resp.Error)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/bot/activities/clear", token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("activities clear = %d", rec.Code)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/bot/stop", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bot stop = %d", rec.Code)
	}
	ts.waitForBotState(t, "stopped")

	// Closing a position with the bot stopped is a state conflict.
	rec, resp = ts.do(t, http.MethodDelete, "/api/bot/positions/RELIANCE", token, nil)
	if rec.Code != http.StatusConflict || resp.Error == nil || resp.Error.Code != "state-conflict" {
		t.Errorf("close while stopped = %d %+v", rec.Code, resp.Error)
	}
}

func TestBotRestart(t *testing.T) {
	ts := newTestServer(t, 100000)
	token := ts.login(t)
	ts.connectPaper(t, token)

	if err := ts.store.SaveCurrent(closedWindowConfig()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	rec, _ := ts.do(t, http.MethodPost, "/api/bot/start", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d", rec.Code)
	}
	ts.waitForBotState(t, "running")

	rec, resp := ts.do(t, http.MethodPost, "/api/bot/restart", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restart = %d: %+v", rec.Code, resp.Error)
	}
	ts.waitForBotState(t, "running")

	rec, _ = ts.do(t, http.MethodPost, "/api/bot/stop", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop = %d", rec.Code)
	}
	ts.waitForBotState(t, "stopped")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, 100000)

	req := httptest.NewRequest(http.MethodOptions, "/api/config", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)

	if rec.Code >= http.StatusBadRequest {
		t.Fatalf("preflight = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
