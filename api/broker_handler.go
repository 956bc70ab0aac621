package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradekar/tradekar/internal/bot"
	"github.com/tradekar/tradekar/internal/vault"
	"github.com/tradekar/tradekar/pkg/models"
)

// oauthStateTTL bounds how long an initiated OAuth handshake may dangle.
const oauthStateTTL = 10 * time.Minute

// ════════════════════════════════════════════════════════════════════
// OAuth state nonces
// ════════════════════════════════════════════════════════════════════

// oauthStates holds single-use nonces binding an OAuth callback to the
// initiate call that produced it. Credentials wait here in memory only;
// nothing touches the vault until the exchange succeeds.
type oauthStates struct {
	mu     sync.Mutex
	states map[string]oauthState
}

type oauthState struct {
	apiKey    string
	apiSecret string
	expiresAt time.Time
}

func newOAuthStates() *oauthStates {
	return &oauthStates{states: make(map[string]oauthState)}
}

// create mints a nonce carrying the keys for the pending exchange.
func (o *oauthStates) create(apiKey, apiSecret string) string {
	state := uuid.NewString()
	now := time.Now()

	o.mu.Lock()
	for k, st := range o.states {
		if now.After(st.expiresAt) {
			delete(o.states, k)
		}
	}
	o.states[state] = oauthState{apiKey: apiKey, apiSecret: apiSecret, expiresAt: now.Add(oauthStateTTL)}
	o.mu.Unlock()

	return state
}

// consume removes and returns the nonce. Unknown, reused, or expired
// states all fail the same way.
func (o *oauthStates) consume(state string) (oauthState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[state]
	if !ok {
		return oauthState{}, false
	}
	delete(o.states, state)
	if time.Now().After(st.expiresAt) {
		return oauthState{}, false
	}
	return st, true
}

// ════════════════════════════════════════════════════════════════════
// Broker handlers
// ════════════════════════════════════════════════════════════════════

// brokerInfo describes one supported adapter for the connect form.
type brokerInfo struct {
	Name            string   `json:"name"`
	DisplayName     string   `json:"display_name"`
	CredentialKeys  []string `json:"credential_keys"`
	OAuth           bool     `json:"oauth"`
	SavedCredential bool     `json:"saved_credential"`
}

func (s *Server) handleBrokerList(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, []brokerInfo{
		{
			Name:        "paper",
			DisplayName: "Paper Trading",
		},
		{
			Name:            "zerodha",
			DisplayName:     "Zerodha Kite",
			CredentialKeys:  []string{"api_key", "api_secret", "access_token"},
			OAuth:           true,
			SavedCredential: s.vault.Has("zerodha"),
		},
	})
}

type connectRequest struct {
	Broker      string             `json:"broker"`
	Credentials *models.Credential `json:"credentials,omitempty"`
}

func (s *Server) handleBrokerConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Broker == "" {
		writeAPIError(w, http.StatusBadRequest, "validation", "broker is required", "broker")
		return
	}

	cred := models.Credential{Broker: req.Broker}
	if req.Broker != "paper" {
		saved, err := s.vault.Load(req.Broker)
		if err != nil && !errors.Is(err, vault.ErrNotFound) && !errors.Is(err, vault.ErrNoMasterKey) {
			writeErr(w, err)
			return
		}
		cred = mergeCredential(saved, req.Credentials)
		cred.Broker = req.Broker
		if cred.APIKey == "" {
			writeAPIError(w, http.StatusBadRequest, "validation",
				"api_key is required (none posted, none saved)", "credentials.api_key")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := s.manager.Connect(ctx, cred); err != nil {
		writeErr(w, err)
		return
	}

	// Persist only after the broker accepted the credentials.
	if req.Broker != "paper" && s.vault.Enabled() {
		if err := s.vault.Save(req.Broker, cred); err != nil {
			s.log.Error().Err(err).Str("broker", req.Broker).Msg("credential save failed after connect")
		}
	}

	if req.Broker != "paper" {
		s.refreshCatalogAsync(req.Broker)
	}

	writeData(w, http.StatusOK, s.manager.Status())
}

// mergeCredential overlays posted fields onto the saved bundle. Posted
// fields win; absent posted fields keep their saved values.
func mergeCredential(saved models.Credential, posted *models.Credential) models.Credential {
	out := saved
	if posted == nil {
		return out
	}
	if posted.APIKey != "" {
		out.APIKey = posted.APIKey
	}
	if posted.APISecret != "" {
		out.APISecret = posted.APISecret
	}
	if posted.AccessToken != "" {
		out.AccessToken = posted.AccessToken
		out.ExpiresAt = posted.ExpiresAt
	}
	if len(posted.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = map[string]string{}
		}
		for k, v := range posted.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (s *Server) handleBrokerDisconnect(w http.ResponseWriter, r *http.Request) {
	status, err := s.supervisor.Status(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if status.State != bot.StateStopped {
		writeAPIError(w, http.StatusConflict, "state-conflict",
			"stop the bot before disconnecting the broker", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.manager.Disconnect(ctx); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleBrokerStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.manager.Status())
}

// ════════════════════════════════════════════════════════════════════
// OAuth flow
// ════════════════════════════════════════════════════════════════════

type oauthInitiateRequest struct {
	Broker    string `json:"broker"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

func (s *Server) handleOAuthInitiate(w http.ResponseWriter, r *http.Request) {
	var req oauthInitiateRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Broker != "zerodha" {
		writeAPIError(w, http.StatusBadRequest, "validation",
			"oauth is supported for broker \"zerodha\" only", "broker")
		return
	}

	apiKey, apiSecret := req.APIKey, req.APISecret
	if apiKey == "" || apiSecret == "" {
		if saved, err := s.vault.Load("zerodha"); err == nil {
			if apiKey == "" {
				apiKey = saved.APIKey
			}
			if apiSecret == "" {
				apiSecret = saved.APISecret
			}
		}
	}
	if apiKey == "" {
		writeAPIError(w, http.StatusBadRequest, "validation", "api_key is required", "api_key")
		return
	}
	if apiSecret == "" {
		writeAPIError(w, http.StatusBadRequest, "validation", "api_secret is required", "api_secret")
		return
	}

	kite := s.manager.Kite()
	state := s.oauth.create(apiKey, apiSecret)
	authURL := kite.LoginURL(apiKey) + "&redirect_params=" + url.QueryEscape("state="+state)

	s.log.Info().Msg("oauth handshake initiated")
	writeData(w, http.StatusOK, map[string]string{
		"authorization_url": authURL,
		"state":             state,
	})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	requestToken := r.URL.Query().Get("request_token")
	state := r.URL.Query().Get("state")
	if requestToken == "" {
		writeAPIError(w, http.StatusBadRequest, "validation", "request_token is required", "request_token")
		return
	}

	st, ok := s.oauth.consume(state)
	if !ok {
		// Stale, reused, or forged state: nothing saved, nothing connected.
		writeAPIError(w, http.StatusBadRequest, "validation",
			"unknown or expired oauth state", "state")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	kite := s.manager.Kite()
	cred, err := kite.ExchangeToken(ctx, st.apiKey, st.apiSecret, requestToken)
	if err != nil {
		writeErr(w, err)
		return
	}

	if s.vault.Enabled() {
		if err := s.vault.Save("zerodha", cred); err != nil {
			s.log.Error().Err(err).Msg("credential save failed after token exchange")
		}
	}

	if err := s.manager.Connect(ctx, cred); err != nil {
		writeErr(w, err)
		return
	}
	s.refreshCatalogAsync("zerodha")

	resp := map[string]any{"broker": "zerodha", "connected": true}
	if cred.ExpiresAt != nil {
		resp["token_expires_at"] = cred.ExpiresAt
	}
	writeData(w, http.StatusOK, resp)
}

// refreshCatalogAsync pulls the instrument master in the background so the
// connect call returns promptly. Only the Kite adapter serves a master.
func (s *Server) refreshCatalogAsync(name string) {
	if name != "zerodha" {
		return
	}
	kite := s.manager.Kite()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := s.catalog.Refresh(ctx, kite); err != nil {
			s.log.Error().Err(err).Str("broker", name).Msg("catalog refresh failed")
			return
		}
		s.log.Info().Int("instruments", s.catalog.Count()).Msg("catalog refreshed")
	}()
}
