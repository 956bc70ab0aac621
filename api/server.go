// Package api is the HTTP control plane: broker connection and OAuth,
// instrument search, bot configuration, supervisor control, and the
// WebSocket activity stream. Handlers route to the components and never
// hold trading state themselves.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tradekar/tradekar/internal/bot"
	"github.com/tradekar/tradekar/internal/broker"
	"github.com/tradekar/tradekar/internal/catalog"
	"github.com/tradekar/tradekar/internal/config"
	"github.com/tradekar/tradekar/internal/vault"
	"github.com/tradekar/tradekar/pkg/utils"
)

// Server is the HTTP control plane.
type Server struct {
	router     chi.Router
	cfg        *config.Config
	manager    *broker.Manager
	vault      *vault.Vault
	catalog    *catalog.Catalog
	store      *config.Store
	supervisor *bot.Supervisor
	sessions   *SessionStore
	oauth      *oauthStates
	readLimit  *rateLimiter
	mutLimit   *rateLimiter
	wsHub      *Hub
	log        zerolog.Logger
	version    string
}

// Deps carries the wired components the server routes to.
type Deps struct {
	Manager    *broker.Manager
	Vault      *vault.Vault
	Catalog    *catalog.Catalog
	Store      *config.Store
	Supervisor *bot.Supervisor
	Sessions   *SessionStore
	Hub        *Hub
	Version    string
}

// NewServer wires routes and middleware around deps.
func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		manager:    deps.Manager,
		vault:      deps.Vault,
		catalog:    deps.Catalog,
		store:      deps.Store,
		supervisor: deps.Supervisor,
		sessions:   deps.Sessions,
		oauth:      newOAuthStates(),
		readLimit:  newRateLimiter(cfg.RateLimit.ReadsPerMin),
		mutLimit:   newRateLimiter(cfg.RateLimit.MutationsPerMin),
		wsHub:      deps.Hub,
		log:        log.With().Str("component", "api").Logger(),
		version:    deps.Version,
	}
	s.router = s.buildRouter()
	return s
}

// Router exposes the chi router for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe runs the server until SIGINT/SIGTERM, then drains.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("control plane listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}

	s.log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// buildRouter configures middleware and the full route table. Reads are
// rate-limited; mutations additionally require a session token.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.Server.CORSOrigins) > 0 {
		origins = s.cfg.Server.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Session-Token"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		// Reads: rate-limited, token-free.
		r.Group(func(r chi.Router) {
			r.Use(s.readLimit.middleware)

			r.Get("/broker/list", s.handleBrokerList)
			r.Get("/broker/status", s.handleBrokerStatus)
			r.Get("/broker/oauth/callback", s.handleOAuthCallback)

			r.Get("/instruments", s.handleInstrumentSearch)
			r.Get("/instruments/{token}", s.handleInstrumentByToken)
			r.Get("/instruments/quote/{symbol}", s.handleInstrumentQuote)

			r.Get("/config", s.handleConfigGet)
			r.Get("/config/list", s.handleConfigList)
			r.Get("/config/presets", s.handleConfigPresets)
			r.Get("/config/{name}", s.handleConfigGetNamed)

			r.Get("/bot/status", s.handleBotStatus)
			r.Get("/bot/account", s.handleBotAccount)
			r.Get("/bot/positions", s.handleBotPositions)
			r.Get("/bot/trades", s.handleBotTrades)
			r.Get("/bot/activities", s.handleBotActivities)
			r.Get("/bot/analytics", s.handleBotAnalytics)
		})

		// Session issue: mutation-limited but necessarily token-free.
		r.Group(func(r chi.Router) {
			r.Use(s.mutLimit.middleware)
			r.Post("/session", s.handleSessionCreate)
		})

		// Mutations: rate-limited and session-gated.
		r.Group(func(r chi.Router) {
			r.Use(s.mutLimit.middleware)
			r.Use(s.requireSession)

			r.Delete("/session", s.handleSessionDelete)

			r.Post("/broker/connect", s.handleBrokerConnect)
			r.Post("/broker/disconnect", s.handleBrokerDisconnect)
			r.Post("/broker/oauth/initiate", s.handleOAuthInitiate)

			r.Post("/config", s.handleConfigSave)
			r.Post("/config/validate", s.handleConfigValidate)
			r.Post("/config/{name}", s.handleConfigSaveNamed)
			r.Delete("/config/{name}", s.handleConfigDeleteNamed)

			r.Post("/bot/start", s.handleBotStart)
			r.Post("/bot/stop", s.handleBotStop)
			r.Post("/bot/restart", s.handleBotRestart)
			r.Post("/bot/activities/clear", s.handleBotActivitiesClear)
			r.Delete("/bot/positions/{symbol}", s.handleBotClosePosition)
		})
	})

	return r
}

// ════════════════════════════════════════════════════════════════════
// Middleware
// ════════════════════════════════════════════════════════════════════

// requestLogger emits one structured line per request and feeds the HTTP
// metrics counter.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		bot.CountHTTP(r.Method, strconv.Itoa(status))

		evt := s.log.Info()
		if status >= 500 {
			evt = s.log.Error()
		} else if status >= 400 {
			evt = s.log.Warn()
		}
		evt.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("elapsed", time.Since(began)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}

// requireSession gates mutations behind a live session token, accepted as
// X-Session-Token or a bearer Authorization header.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Session-Token")
		if token == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if !s.sessions.Validate(token) {
			writeAPIError(w, http.StatusUnauthorized, "auth",
				"missing or expired session token", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ════════════════════════════════════════════════════════════════════
// Envelope
// ════════════════════════════════════════════════════════════════════

// APIResponse is the JSON envelope. Success carries data; failure carries
// the structured error.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError is the stable error shape.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{Success: true, Data: data})
}

func writeAPIError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Field: field},
	})
}

// writeErr maps a component error onto the HTTP envelope using its kind.
func writeErr(w http.ResponseWriter, err error) {
	kind := broker.KindOf(err)

	var field string
	var berr *broker.Error
	if errors.As(err, &berr) {
		field = berr.Field
	}

	msg := err.Error()
	var status int
	switch kind {
	case broker.KindValidation, broker.KindRiskRejection:
		status = http.StatusBadRequest
	case broker.KindAuth:
		status = http.StatusUnauthorized
	case broker.KindNotFound:
		status = http.StatusNotFound
	case broker.KindStateConflict:
		status = http.StatusConflict
	case broker.KindRateLimited:
		status = http.StatusTooManyRequests
	case broker.KindNetwork, broker.KindVendorUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	writeAPIError(w, status, kind.String(), msg, field)
}

// decodeBody parses a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return broker.E(broker.KindValidation, "api.decode", "invalid JSON body")
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Health & Sessions
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"market_status": utils.MarketStatus(),
		"time_ist":      utils.NowIST().Format(time.RFC3339),
	})
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Issue()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, session)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	s.sessions.Revoke(token)
	writeData(w, http.StatusOK, map[string]bool{"revoked": true})
}
