// Package catalog maintains a searchable snapshot of tradable instruments.
// The snapshot is immutable between refreshes and published through an
// atomic pointer, so readers never lock. The last good snapshot persists
// to disk and is reloaded on startup, which keeps lookups working before
// the first refresh of the day completes.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradekar/tradekar/pkg/models"
)

// MaxPageSize caps how many instruments one search may return.
const MaxPageSize = 500

// Source supplies the instrument master, typically a broker adapter.
type Source interface {
	Name() string
	Instruments(ctx context.Context) ([]models.Instrument, error)
}

// Snapshot is one immutable view of the instrument master.
type Snapshot struct {
	Broker      string              `json:"broker"`
	RefreshedAt time.Time           `json:"refreshed_at"`
	Instruments []models.Instrument `json:"instruments"`

	byToken map[int64]int  // instrument_token -> index
	byKey   map[string]int // "EXCH:SYMBOL" -> index
}

// index builds the lookup maps. Called once per snapshot, before publish.
func (s *Snapshot) index() {
	s.byToken = make(map[int64]int, len(s.Instruments))
	s.byKey = make(map[string]int, len(s.Instruments))
	for i, inst := range s.Instruments {
		s.byToken[inst.InstrumentToken] = i
		s.byKey[inst.Key()] = i
	}
}

// Catalog publishes instrument snapshots and answers lookups.
type Catalog struct {
	snap atomic.Pointer[Snapshot]
	dir  string
	log  zerolog.Logger
}

// New creates a catalog persisting under dataDir/catalog.
func New(dataDir string, log zerolog.Logger) *Catalog {
	c := &Catalog{
		dir: filepath.Join(dataDir, "catalog"),
		log: log.With().Str("component", "catalog").Logger(),
	}
	c.snap.Store(&Snapshot{byToken: map[int64]int{}, byKey: map[string]int{}})
	return c
}

// Refresh pulls the instrument master from source and publishes a new
// snapshot. The previous snapshot stays live until the swap.
func (c *Catalog) Refresh(ctx context.Context, source Source) error {
	instruments, err := source.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("catalog refresh: %w", err)
	}

	snap := &Snapshot{
		Broker:      source.Name(),
		RefreshedAt: time.Now(),
		Instruments: instruments,
	}
	snap.index()
	c.snap.Store(snap)

	c.log.Info().
		Str("broker", source.Name()).
		Int("instruments", len(instruments)).
		Msg("catalog refreshed")

	if err := c.persist(snap); err != nil {
		// A failed write does not invalidate the in-memory snapshot.
		c.log.Warn().Err(err).Msg("catalog persist failed")
	}
	return nil
}

// LoadCached restores the last persisted snapshot for broker, if any.
func (c *Catalog) LoadCached(broker string) error {
	data, err := os.ReadFile(c.path(broker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catalog load: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("catalog load: %w", err)
	}
	snap.index()
	c.snap.Store(&snap)

	c.log.Info().
		Str("broker", broker).
		Int("instruments", len(snap.Instruments)).
		Time("refreshed_at", snap.RefreshedAt).
		Msg("catalog restored from disk")
	return nil
}

// persist writes the snapshot atomically (tmp file + rename).
func (c *Catalog) persist(snap *Snapshot) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	path := c.path(snap.Broker)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Catalog) path(broker string) string {
	return filepath.Join(c.dir, broker+".json")
}

// ════════════════════════════════════════════════════════════════════
// Lookups
// ════════════════════════════════════════════════════════════════════

// Lookup finds an instrument by exchange and trading symbol.
func (c *Catalog) Lookup(exchange, symbol string) (models.Instrument, bool) {
	snap := c.snap.Load()
	key := strings.ToUpper(exchange) + ":" + strings.ToUpper(symbol)
	if i, ok := snap.byKey[key]; ok {
		return snap.Instruments[i], true
	}
	return models.Instrument{}, false
}

// LookupToken finds an instrument by its token.
func (c *Catalog) LookupToken(token int64) (models.Instrument, bool) {
	snap := c.snap.Load()
	if i, ok := snap.byToken[token]; ok {
		return snap.Instruments[i], true
	}
	return models.Instrument{}, false
}

// Count returns the instrument count of the live snapshot.
func (c *Catalog) Count() int {
	return len(c.snap.Load().Instruments)
}

// RefreshedAt returns when the live snapshot was built. Zero before the
// first refresh.
func (c *Catalog) RefreshedAt() time.Time {
	return c.snap.Load().RefreshedAt
}

// ════════════════════════════════════════════════════════════════════
// Search
// ════════════════════════════════════════════════════════════════════

// Query filters a search. Zero values mean "no constraint".
type Query struct {
	Text     string // symbol prefix/substring, or a numeric token
	Exchange string
	Segment  models.Segment
	Limit    int // capped at MaxPageSize; default 50
	Offset   int
}

// Search scans the live snapshot. Prefix matches on trading symbol rank
// before substring matches; a numeric query also tries an exact token
// lookup. Returns one page plus the total match count.
func (c *Catalog) Search(q Query) ([]models.Instrument, int) {
	snap := c.snap.Load()

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	text := strings.ToUpper(strings.TrimSpace(q.Text))
	exchange := strings.ToUpper(q.Exchange)

	// Numeric queries resolve by token first.
	if text != "" {
		if token, err := strconv.ParseInt(text, 10, 64); err == nil {
			if i, ok := snap.byToken[token]; ok {
				inst := snap.Instruments[i]
				if matchesFilters(inst, exchange, q.Segment) {
					return []models.Instrument{inst}, 1
				}
			}
			return nil, 0
		}
	}

	var prefix, substring []models.Instrument
	for _, inst := range snap.Instruments {
		if !matchesFilters(inst, exchange, q.Segment) {
			continue
		}
		sym := strings.ToUpper(inst.TradingSymbol)
		switch {
		case text == "":
			prefix = append(prefix, inst)
		case strings.HasPrefix(sym, text):
			prefix = append(prefix, inst)
		case strings.Contains(sym, text) || strings.Contains(strings.ToUpper(inst.Name), text):
			substring = append(substring, inst)
		}
	}

	sort.Slice(prefix, func(i, j int) bool { return prefix[i].TradingSymbol < prefix[j].TradingSymbol })
	sort.Slice(substring, func(i, j int) bool { return substring[i].TradingSymbol < substring[j].TradingSymbol })
	matches := append(prefix, substring...)

	total := len(matches)
	if q.Offset >= total {
		return nil, total
	}
	end := q.Offset + limit
	if end > total {
		end = total
	}
	return matches[q.Offset:end], total
}

func matchesFilters(inst models.Instrument, exchange string, segment models.Segment) bool {
	if exchange != "" && inst.Exchange != exchange {
		return false
	}
	if segment != "" && inst.Segment != segment {
		return false
	}
	return true
}
