// Package api — bot configuration endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradekar/tradekar/internal/config"
)

// configPayload pairs a config with the warnings its persistence produced.
type configPayload struct {
	Config   config.BotConfig `json:"config"`
	Warnings []string         `json:"warnings,omitempty"`
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Current()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, configPayload{Config: cfg})
}

// parseBotConfig decodes a posted config, collecting unknown-key warnings
// and validation failures.
func parseBotConfig(r *http.Request) (config.BotConfig, []string, []config.FieldError, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return config.BotConfig{}, nil, nil, err
	}

	var cfg config.BotConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return config.BotConfig{}, nil, []config.FieldError{
			{Field: "", Message: "invalid JSON body"},
		}, nil
	}

	var warnings []string
	for _, key := range config.UnknownKeys(raw) {
		warnings = append(warnings, "unknown key ignored: "+key)
	}
	return cfg, warnings, cfg.Validate(), nil
}

func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	cfg, warnings, fieldErrs, err := parseBotConfig(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "validation", "unreadable request body", "")
		return
	}
	if len(fieldErrs) > 0 {
		writeFieldErrors(w, fieldErrs)
		return
	}

	if err := s.store.SaveCurrent(cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, configPayload{Config: cfg, Warnings: warnings})
}

func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	cfg, warnings, fieldErrs, err := parseBotConfig(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "validation", "unreadable request body", "")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"valid":    len(fieldErrs) == 0,
		"errors":   fieldErrs,
		"warnings": warnings,
		"config":   cfg,
	})
}

func (s *Server) handleConfigList(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListNamed()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"names": names})
}

func (s *Server) handleConfigPresets(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, config.Presets())
}

func (s *Server) handleConfigGetNamed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg, err := s.store.LoadNamed(name)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			writeAPIError(w, http.StatusNotFound, "not-found", "no saved config named "+name, "")
			return
		}
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, configPayload{Config: cfg})
}

func (s *Server) handleConfigSaveNamed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	cfg, warnings, fieldErrs, err := parseBotConfig(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "validation", "unreadable request body", "")
		return
	}
	if len(fieldErrs) > 0 {
		writeFieldErrors(w, fieldErrs)
		return
	}

	if err := s.store.SaveNamed(name, cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, configPayload{Config: cfg, Warnings: warnings})
}

func (s *Server) handleConfigDeleteNamed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.store.DeleteNamed(name); err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			writeAPIError(w, http.StatusNotFound, "not-found", "no saved config named "+name, "")
			return
		}
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"deleted": name})
}

// writeFieldErrors reports validation failures: the first failure fills the
// error shape, the full list rides in data for form binding.
func writeFieldErrors(w http.ResponseWriter, errs []config.FieldError) {
	first := errs[0]
	writeJSON(w, http.StatusBadRequest, APIResponse{
		Success: false,
		Data:    map[string]any{"errors": errs},
		Error: &APIError{
			Code:    "validation",
			Message: first.Message,
			Field:   first.Field,
		},
	})
}
