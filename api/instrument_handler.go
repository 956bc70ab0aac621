package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradekar/tradekar/internal/catalog"
	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

func (s *Server) handleInstrumentSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	results, total := s.catalog.Search(catalog.Query{
		Text:     q.Get("search"),
		Exchange: q.Get("exchange"),
		Segment:  models.Segment(strings.ToLower(q.Get("segment"))),
		Limit:    limit,
		Offset:   offset,
	})

	writeData(w, http.StatusOK, map[string]any{
		"instruments":  results,
		"total":        total,
		"offset":       offset,
		"refreshed_at": s.catalog.RefreshedAt(),
	})
}

func (s *Server) handleInstrumentByToken(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "token")
	token, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "validation",
			"instrument token must be numeric", "token")
		return
	}

	inst, ok := s.catalog.LookupToken(token)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "not-found",
			"no instrument with token "+raw, "")
		return
	}
	writeData(w, http.StatusOK, inst)
}

func (s *Server) handleInstrumentQuote(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(chi.URLParam(r, "symbol"))
	exchange := strings.ToUpper(r.URL.Query().Get("exchange"))
	if exchange == "" {
		exchange = models.ExchangeNSE
	}

	inst, ok := s.catalog.Lookup(exchange, symbol)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "not-found",
			"instrument "+exchange+":"+symbol+" not in catalog", "")
		return
	}

	b, connected := s.manager.Current()
	if !connected {
		writeAPIError(w, http.StatusConflict, "state-conflict",
			"no broker connected", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	quote, err := b.Quote(ctx, inst)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, quote)
}
