package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tradekar/tradekar/pkg/models"
)

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Instruments(context.Context) ([]models.Instrument, error) {
	return nil, errors.New("instrument dump unavailable")
}

func refreshedCatalog(t *testing.T, dir string) *Catalog {
	t.Helper()
	c := New(dir, zerolog.Nop())
	if err := c.Refresh(context.Background(), Universe{}); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	return c
}

func TestUniverse(t *testing.T) {
	instruments, err := Universe{}.Instruments(context.Background())
	if err != nil {
		t.Fatalf("Instruments error: %v", err)
	}
	if len(instruments) != 52 {
		t.Fatalf("len = %d, want 52", len(instruments))
	}

	var equities, indices int
	for _, inst := range instruments {
		if inst.Exchange != models.ExchangeNSE {
			t.Errorf("%s: exchange = %q, want NSE", inst.TradingSymbol, inst.Exchange)
		}
		if inst.LotSize != 1 || inst.TickSize != 0.05 {
			t.Errorf("%s: lot/tick = %d/%v", inst.TradingSymbol, inst.LotSize, inst.TickSize)
		}
		switch inst.Segment {
		case models.SegmentEquity:
			equities++
		case models.SegmentIndex:
			indices++
		default:
			t.Errorf("%s: unexpected segment %q", inst.TradingSymbol, inst.Segment)
		}
	}
	if equities != 50 || indices != 2 {
		t.Errorf("equities/indices = %d/%d, want 50/2", equities, indices)
	}
}

func TestCatalogEmptyBeforeRefresh(t *testing.T) {
	c := New(t.TempDir(), zerolog.Nop())
	if c.Count() != 0 {
		t.Errorf("Count = %d, want 0", c.Count())
	}
	if !c.RefreshedAt().IsZero() {
		t.Errorf("RefreshedAt = %v, want zero", c.RefreshedAt())
	}
	if _, ok := c.Lookup("NSE", "TCS"); ok {
		t.Error("Lookup on empty catalog reported a hit")
	}
	if got, total := c.Search(Query{Text: "TCS"}); len(got) != 0 || total != 0 {
		t.Errorf("Search on empty catalog = %d rows, total %d", len(got), total)
	}
}

func TestCatalogRefreshAndLookup(t *testing.T) {
	c := refreshedCatalog(t, t.TempDir())

	if c.Count() != 52 {
		t.Errorf("Count = %d, want 52", c.Count())
	}
	if c.RefreshedAt().IsZero() {
		t.Error("RefreshedAt should be set after refresh")
	}

	inst, ok := c.Lookup("nse", "tcs") // lookups are case-insensitive
	if !ok {
		t.Fatal("Lookup(nse, tcs) missed")
	}
	if inst.InstrumentToken != 2953217 || inst.Name != "Tata Consultancy Services" {
		t.Errorf("Lookup = %+v", inst)
	}

	if _, ok := c.Lookup("NSE", "NOSUCH"); ok {
		t.Error("Lookup reported a hit for an unknown symbol")
	}

	rel, ok := c.LookupToken(738561)
	if !ok || rel.TradingSymbol != "RELIANCE" {
		t.Errorf("LookupToken(738561) = %+v, %v", rel, ok)
	}
	if _, ok := c.LookupToken(999); ok {
		t.Error("LookupToken reported a hit for an unknown token")
	}
}

func TestCatalogRefreshFailureKeepsSnapshot(t *testing.T) {
	c := refreshedCatalog(t, t.TempDir())
	before := c.RefreshedAt()

	if err := c.Refresh(context.Background(), failingSource{}); err == nil {
		t.Fatal("Refresh with a failing source should error")
	}
	if c.Count() != 52 {
		t.Errorf("Count after failed refresh = %d, want 52", c.Count())
	}
	if !c.RefreshedAt().Equal(before) {
		t.Error("failed refresh replaced the live snapshot")
	}
}

func TestCatalogSearchRanksPrefixFirst(t *testing.T) {
	c := refreshedCatalog(t, t.TempDir())

	got, total := c.Search(Query{Text: "tata"})
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	want := []string{"TATACONSUM", "TATAMOTORS", "TATASTEEL", "TCS"}
	for i, sym := range want {
		if got[i].TradingSymbol != sym {
			t.Errorf("result[%d] = %s, want %s", i, got[i].TradingSymbol, sym)
		}
	}
}

func TestCatalogSearchNumericToken(t *testing.T) {
	c := refreshedCatalog(t, t.TempDir())

	got, total := c.Search(Query{Text: "2953217"})
	if total != 1 || len(got) != 1 || got[0].TradingSymbol != "TCS" {
		t.Fatalf("token search = %v rows, total %d", got, total)
	}

	// A token hit still honours the exchange filter.
	if got, total := c.Search(Query{Text: "2953217", Exchange: "BSE"}); len(got) != 0 || total != 0 {
		t.Errorf("filtered token search = %d rows, total %d", len(got), total)
	}
	if got, total := c.Search(Query{Text: "42"}); len(got) != 0 || total != 0 {
		t.Errorf("unknown token search = %d rows, total %d", len(got), total)
	}
}

func TestCatalogSearchFilters(t *testing.T) {
	c := refreshedCatalog(t, t.TempDir())

	got, total := c.Search(Query{Segment: models.SegmentIndex})
	if total != 2 || len(got) != 2 {
		t.Fatalf("index search = %d rows, total %d", len(got), total)
	}
	if got[0].TradingSymbol != "NIFTY 50" || got[1].TradingSymbol != "NIFTY BANK" {
		t.Errorf("index symbols = %s, %s", got[0].TradingSymbol, got[1].TradingSymbol)
	}

	if _, total := c.Search(Query{Exchange: "nse"}); total != 52 {
		t.Errorf("NSE total = %d, want 52", total)
	}
	if _, total := c.Search(Query{Exchange: "BSE"}); total != 0 {
		t.Errorf("BSE total = %d, want 0", total)
	}
}

func TestCatalogSearchPagination(t *testing.T) {
	c := refreshedCatalog(t, t.TempDir())

	// Default page size is 50, so a blank query leaves two rows behind.
	got, total := c.Search(Query{})
	if total != 52 || len(got) != 50 {
		t.Fatalf("default page = %d rows, total %d", len(got), total)
	}

	page, total := c.Search(Query{Limit: 10, Offset: 0})
	if total != 52 || len(page) != 10 {
		t.Fatalf("first page = %d rows, total %d", len(page), total)
	}
	next, _ := c.Search(Query{Limit: 10, Offset: 10})
	if len(next) != 10 || next[0].TradingSymbol == page[0].TradingSymbol {
		t.Error("second page should continue past the first")
	}

	tail, total := c.Search(Query{Limit: 10, Offset: 50})
	if total != 52 || len(tail) != 2 {
		t.Errorf("tail page = %d rows, total %d", len(tail), total)
	}
	past, total := c.Search(Query{Limit: 10, Offset: 500})
	if total != 52 || past != nil {
		t.Errorf("past-the-end page = %v, total %d", past, total)
	}
}

func TestCatalogPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c1 := refreshedCatalog(t, dir)

	if _, err := os.Stat(filepath.Join(dir, "catalog", "builtin.json")); err != nil {
		t.Fatalf("persisted snapshot missing: %v", err)
	}

	c2 := New(dir, zerolog.Nop())
	if err := c2.LoadCached("builtin"); err != nil {
		t.Fatalf("LoadCached error: %v", err)
	}
	if c2.Count() != 52 {
		t.Errorf("restored Count = %d, want 52", c2.Count())
	}
	if !c2.RefreshedAt().Equal(c1.RefreshedAt()) {
		t.Errorf("restored RefreshedAt = %v, want %v", c2.RefreshedAt(), c1.RefreshedAt())
	}
	// Indexes are rebuilt on load, not persisted.
	if inst, ok := c2.Lookup("NSE", "INFY"); !ok || inst.InstrumentToken != 408065 {
		t.Errorf("restored Lookup = %+v, %v", inst, ok)
	}
}

func TestCatalogLoadCachedMissing(t *testing.T) {
	c := New(t.TempDir(), zerolog.Nop())
	if err := c.LoadCached("builtin"); err != nil {
		t.Fatalf("LoadCached with no file should be a no-op, got %v", err)
	}
	if c.Count() != 0 {
		t.Errorf("Count = %d, want 0", c.Count())
	}
}
