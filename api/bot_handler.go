package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradekar/tradekar/internal/bot"
	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

func (s *Server) handleBotStart(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Current()
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.supervisor.Start(r.Context(), cfg); err != nil {
		writeErr(w, err)
		return
	}
	status, err := s.supervisor.Status(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func (s *Server) handleBotStop(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Stop(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	status, err := s.supervisor.Status(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func (s *Server) handleBotRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Stop(r.Context()); err != nil {
		writeErr(w, err)
		return
	}

	// The stop acknowledgement precedes the loop's exit; give the
	// transition the same budget as the supervisor handshake.
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := s.supervisor.Status(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		if status.State == bot.StateStopped {
			break
		}
		if time.Now().After(deadline) {
			writeAPIError(w, http.StatusConflict, "state-conflict",
				"stop did not complete in time; retry start shortly", "")
			return
		}
		select {
		case <-r.Context().Done():
			writeErr(w, r.Context().Err())
			return
		case <-time.After(100 * time.Millisecond):
		}
	}

	cfg, err := s.store.Current()
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.supervisor.Start(r.Context(), cfg); err != nil {
		writeErr(w, err)
		return
	}
	status, err := s.supervisor.Status(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.supervisor.Status(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, status)
}

// handleBotAccount serves the freshest funds picture: straight from the
// connected adapter when one is live, else the supervisor's last snapshot.
func (s *Server) handleBotAccount(w http.ResponseWriter, r *http.Request) {
	if b, ok := s.manager.Current(); ok && b.IsConnected() {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		account, err := b.AccountSnapshot(ctx)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeData(w, http.StatusOK, account)
		return
	}

	snap, err := s.supervisor.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, snap.Account)
}

func (s *Server) handleBotPositions(w http.ResponseWriter, r *http.Request) {
	snap, err := s.supervisor.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"positions": snap.Positions,
		"closed":    snap.Closed,
	})
}

func (s *Server) handleBotTrades(w http.ResponseWriter, r *http.Request) {
	snap, err := s.supervisor.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"trades": snap.Trades,
		"orders": snap.Orders,
	})
}

func (s *Server) handleBotActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	kind := models.ActivityKind(strings.ToLower(q.Get("kind")))

	writeData(w, http.StatusOK, s.supervisor.Activities(limit, kind))
}

func (s *Server) handleBotActivitiesClear(w http.ResponseWriter, r *http.Request) {
	s.supervisor.ClearActivities()
	writeData(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleBotAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.supervisor.Analytics(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, analytics)
}

func (s *Server) handleBotClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(chi.URLParam(r, "symbol"))
	exchange := strings.ToUpper(r.URL.Query().Get("exchange"))

	if err := s.supervisor.ClosePosition(r.Context(), exchange, symbol); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"closing": symbol})
}
