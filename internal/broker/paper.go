package broker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Paper Trading Simulator
// ════════════════════════════════════════════════════════════════════

// DefaultPaperBalance is the starting cash when config leaves it unset.
const DefaultPaperBalance = 100_000

// Paper is a deterministic in-memory simulator implementing the Broker
// port. Prices come from a reproducible synthetic walk (or, when a live
// reference adapter is attached and reachable, from its cached quotes).
// Orders rest until the walk touches them; matching never blocks on
// external I/O. This is the default broker mode.
type Paper struct {
	mu sync.Mutex

	startingCash float64
	cash         float64
	blocked      map[string]float64 // position key -> margin held
	realized     float64            // net realized P&L for the current IST day
	dayKey       string

	connected bool
	seq       int
	orders    map[string]*models.Order
	ordering  []string // order ids in placement order, oldest first
	intents   map[string]models.OrderIntent
	triggered map[string]bool
	positions map[string]*models.Position
	posInst   map[string]models.Instrument
	trades    []models.Trade

	feed    *Feed
	ref     Broker // optional live adapter used as a quote reference
	refLast map[int64]models.Quote

	sink EventSink
	log  zerolog.Logger
	now  func() time.Time
}

// Compile-time conformance check.
var _ Broker = (*Paper)(nil)

// PaperConfig holds simulator settings.
type PaperConfig struct {
	StartingBalance float64          // default ₹1,00,000
	Reference       Broker           // optional live adapter for quotes
	Clock           func() time.Time // test hook, defaults to time.Now
}

// NewPaper creates a paper simulator.
func NewPaper(cfg *PaperConfig, sink EventSink, log zerolog.Logger) *Paper {
	if cfg == nil {
		cfg = &PaperConfig{}
	}
	balance := cfg.StartingBalance
	if balance <= 0 {
		balance = DefaultPaperBalance
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if sink == nil {
		sink = NopSink
	}

	return &Paper{
		startingCash: balance,
		cash:         balance,
		blocked:      make(map[string]float64),
		dayKey:       utils.DayKey(clock()),
		orders:       make(map[string]*models.Order),
		intents:      make(map[string]models.OrderIntent),
		triggered:    make(map[string]bool),
		positions:    make(map[string]*models.Position),
		posInst:      make(map[string]models.Instrument),
		feed:         NewFeed(),
		ref:          cfg.Reference,
		refLast:      make(map[int64]models.Quote),
		sink:         sink,
		log:          log.With().Str("component", "paper").Logger(),
		now:          clock,
	}
}

// Name returns "paper".
func (p *Paper) Name() string { return "paper" }

// ════════════════════════════════════════════════════════════════════
// Session
// ════════════════════════════════════════════════════════════════════

// Connect marks the simulator connected. A starting_balance field in the
// credential adjusts the balance while the book is still pristine.
func (p *Paper) Connect(_ context.Context, cred models.Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if raw, ok := cred.Extra["starting_balance"]; ok && raw != "" {
		balance, err := strconv.ParseFloat(raw, 64)
		if err != nil || balance <= 0 {
			return E(KindValidation, "paper.Connect", fmt.Sprintf("invalid starting_balance %q", raw))
		}
		if len(p.orders) == 0 {
			p.startingCash = balance
			p.cash = balance
		}
	}
	p.connected = true
	return nil
}

// Disconnect marks the simulator disconnected. Book state survives so a
// reconnect resumes the same session.
func (p *Paper) Disconnect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// IsConnected is cheap and non-blocking.
func (p *Paper) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Reset returns the simulator to its initial state.
func (p *Paper) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cash = p.startingCash
	p.blocked = make(map[string]float64)
	p.realized = 0
	p.dayKey = utils.DayKey(p.now())
	p.seq = 0
	p.orders = make(map[string]*models.Order)
	p.ordering = nil
	p.intents = make(map[string]models.OrderIntent)
	p.triggered = make(map[string]bool)
	p.positions = make(map[string]*models.Position)
	p.posInst = make(map[string]models.Instrument)
	p.trades = nil
	p.refLast = make(map[int64]models.Quote)
}

// ════════════════════════════════════════════════════════════════════
// Account & Market Data
// ════════════════════════════════════════════════════════════════════

// AccountSnapshot reports equity as cash plus held margin plus open P&L.
func (p *Paper) AccountSnapshot(_ context.Context) (models.AccountSnapshot, error) {
	if !p.IsConnected() {
		return models.AccountSnapshot{}, fmt.Errorf("paper.AccountSnapshot: %w", ErrNotConnected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.advance(now)

	var margin, unrealized float64
	for key, pos := range p.positions {
		margin += p.blocked[key]
		unrealized += pos.UnrealizedPnL
	}
	return models.AccountSnapshot{
		Equity:           p.cash + margin + unrealized,
		CashAvailable:    p.cash,
		MarginUsed:       margin,
		MarginAvailable:  p.cash,
		RealizedPnLToday: p.realized,
		UnrealizedPnL:    unrealized,
		Currency:         "INR",
		Timestamp:        now,
	}, nil
}

// Quote returns the current simulated quote. With a reachable reference
// adapter the real quote is cached and preferred.
func (p *Paper) Quote(ctx context.Context, inst models.Instrument) (models.Quote, error) {
	if !p.IsConnected() {
		return models.Quote{}, fmt.Errorf("paper.Quote: %w", ErrNotConnected)
	}

	// Reference fetch happens before taking the book lock.
	var refQuote *models.Quote
	if p.ref != nil && p.ref.IsConnected() {
		if rq, err := p.ref.Quote(ctx, inst); err == nil {
			refQuote = &rq
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if refQuote != nil {
		p.refLast[inst.InstrumentToken] = *refQuote
	}
	now := p.now()
	p.advance(now)
	return p.quoteForMatch(inst, now), nil
}

// HistoricalBars synthesizes candles from the walk, or proxies to the
// reference adapter when one is reachable.
func (p *Paper) HistoricalBars(ctx context.Context, inst models.Instrument, tf models.Timeframe, from, to time.Time) ([]models.Bar, error) {
	if !p.IsConnected() {
		return nil, fmt.Errorf("paper.HistoricalBars: %w", ErrNotConnected)
	}
	if !tf.Valid() {
		return nil, E(KindValidation, "paper.HistoricalBars", fmt.Sprintf("unsupported timeframe %q", tf))
	}
	if !from.Before(to) {
		return nil, E(KindValidation, "paper.HistoricalBars", "from must precede to")
	}

	if p.ref != nil && p.ref.IsConnected() {
		if bars, err := p.ref.HistoricalBars(ctx, inst, tf, from, to); err == nil {
			return bars, nil
		}
		// Reference failures degrade to the walk rather than erroring.
	}
	return p.feed.BarsAt(inst, tf, from, to), nil
}

// quoteForMatch returns the freshest price source for matching: a cached
// reference quote no older than five seconds, else the walk. Must hold mu.
func (p *Paper) quoteForMatch(inst models.Instrument, now time.Time) models.Quote {
	if rq, ok := p.refLast[inst.InstrumentToken]; ok && now.Sub(rq.Timestamp) <= 5*time.Second {
		return rq
	}
	return p.feed.QuoteAt(inst, now)
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

// PlaceOrder accepts an intent, attempts an immediate match, and leaves
// unmatched orders resting on the book.
func (p *Paper) PlaceOrder(_ context.Context, intent models.OrderIntent) (string, error) {
	const op = "paper.PlaceOrder"
	if !p.IsConnected() {
		return "", fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	if err := ValidateIntent(intent); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.advance(now)

	// Delivery cannot go net short.
	if intent.Product == models.ProductCNC && intent.Side == models.Sell {
		key := positionKey(intent.Instrument.Exchange, intent.Instrument.TradingSymbol, intent.Product)
		held := 0
		if pos, ok := p.positions[key]; ok {
			held = pos.NetQuantity
		}
		if held < intent.Quantity {
			return "", invalid(op, "quantity", "cannot sell %d, only %d held for delivery", intent.Quantity, held)
		}
	}

	p.seq++
	orderID := fmt.Sprintf("PAPER-%06d", p.seq)
	order := &models.Order{
		OrderID:       orderID,
		TradingSymbol: intent.Instrument.TradingSymbol,
		Exchange:      intent.Instrument.Exchange,
		Side:          intent.Side,
		OrderType:     intent.OrderType,
		Product:       intent.Product,
		Validity:      intent.Validity,
		Quantity:      intent.Quantity,
		PendingQty:    intent.Quantity,
		Price:         intent.Price,
		TriggerPrice:  intent.TriggerPrice,
		Status:        models.OrderPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Tag:           intent.Tag,
	}
	if order.Validity == "" {
		order.Validity = models.ValidityDay
	}
	p.orders[orderID] = order
	p.ordering = append(p.ordering, orderID)
	p.intents[orderID] = intent

	p.tryMatch(order, now)

	switch {
	case order.Status == models.OrderRejected:
		return "", fmt.Errorf("%s: %w: %s", op, ErrInsufficientMargin, order.StatusMessage)
	case order.Status.IsTerminal():
		return orderID, nil
	case order.Validity == models.ValidityIOC:
		order.Status = models.OrderCancelled
		order.StatusMessage = "immediate-or-cancel: no fill available"
		order.UpdatedAt = now
		return orderID, nil
	default:
		order.Status = models.OrderOpen
		order.UpdatedAt = now
		return orderID, nil
	}
}

// ModifyOrder updates a resting order and re-attempts a match.
func (p *Paper) ModifyOrder(_ context.Context, orderID string, changes models.OrderChanges) error {
	const op = "paper.ModifyOrder"
	if !p.IsConnected() {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.advance(now)

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrOrderNotFound)
	}
	if err := ValidateChanges(order, changes); err != nil {
		return err
	}

	if changes.Quantity > 0 {
		order.Quantity = changes.Quantity
		order.PendingQty = changes.Quantity - order.FilledQty
	}
	if changes.Price > 0 {
		order.Price = changes.Price
	}
	if changes.TriggerPrice > 0 {
		order.TriggerPrice = changes.TriggerPrice
	}
	if changes.OrderType != "" {
		order.OrderType = models.OrderType(changes.OrderType)
	}
	order.UpdatedAt = now

	p.tryMatch(order, now)
	return nil
}

// CancelOrder cancels a resting order. Terminal orders return
// ErrAlreadyTerminal.
func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	const op = "paper.CancelOrder"
	if !p.IsConnected() {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.advance(now)

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrOrderNotFound)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("%s: %w", op, ErrAlreadyTerminal)
	}

	order.Status = models.OrderCancelled
	order.StatusMessage = "cancelled by user"
	order.UpdatedAt = now
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Snapshots
// ════════════════════════════════════════════════════════════════════

// Positions returns open positions marked to the latest walk prices.
func (p *Paper) Positions(_ context.Context) ([]models.Position, error) {
	if !p.IsConnected() {
		return nil, fmt.Errorf("paper.Positions: %w", ErrNotConnected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(p.now())

	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// Orders returns every order this session, oldest first.
func (p *Paper) Orders(_ context.Context) ([]models.Order, error) {
	if !p.IsConnected() {
		return nil, fmt.Errorf("paper.Orders: %w", ErrNotConnected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(p.now())

	out := make([]models.Order, 0, len(p.ordering))
	for _, id := range p.ordering {
		out = append(out, *p.orders[id])
	}
	return out, nil
}

// Trades returns fills at or after since, oldest first.
func (p *Paper) Trades(_ context.Context, since time.Time) ([]models.Trade, error) {
	if !p.IsConnected() {
		return nil, fmt.Errorf("paper.Trades: %w", ErrNotConnected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(p.now())

	out := make([]models.Trade, 0, len(p.trades))
	for _, t := range p.trades {
		if !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// TotalPnL returns realized plus unrealized P&L for the day.
func (p *Paper) TotalPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(p.now())

	total := p.realized
	for _, pos := range p.positions {
		total += pos.UnrealizedPnL
	}
	return total
}

// ════════════════════════════════════════════════════════════════════
// Matching Engine
// ════════════════════════════════════════════════════════════════════

// advance moves the simulator clock to now: rolls the trading day,
// matches resting orders in placement order (price-time priority), and
// re-marks open positions. Must hold mu.
func (p *Paper) advance(now time.Time) {
	if day := utils.DayKey(now); day != p.dayKey {
		p.dayKey = day
		p.realized = 0
		p.expireDayOrders(now)
	}

	for _, id := range p.ordering {
		order := p.orders[id]
		if !order.Status.IsTerminal() {
			p.tryMatch(order, now)
		}
	}

	for key, pos := range p.positions {
		inst := p.posInst[key]
		q := p.quoteForMatch(inst, now)
		pos.LastPrice = q.Last
		pos.UnrealizedPnL = pnlFor(pos.AvgEntryPrice, q.Last, pos.NetQuantity)
		pos.Value = q.Last * float64(absInt(pos.NetQuantity))
	}
}

// expireDayOrders cancels resting DAY orders when the session rolls over.
func (p *Paper) expireDayOrders(now time.Time) {
	for _, id := range p.ordering {
		order := p.orders[id]
		if order.Status.IsTerminal() || order.Validity != models.ValidityDay {
			continue
		}
		order.Status = models.OrderCancelled
		order.StatusMessage = "day order expired"
		order.UpdatedAt = now
	}
}

// tryMatch applies the matching rules for one order against the current
// quote. Must hold mu.
func (p *Paper) tryMatch(order *models.Order, now time.Time) {
	if order.Status.IsTerminal() {
		return
	}
	intent := p.intents[order.OrderID]
	q := p.quoteForMatch(intent.Instrument, now)

	// Stop orders activate when the last price crosses the trigger, then
	// behave as limit (SL) or market (SL-M).
	if order.OrderType == models.SL || order.OrderType == models.SLM {
		if !p.triggered[order.OrderID] {
			crossed := (order.Side == models.Buy && q.Last >= order.TriggerPrice) ||
				(order.Side == models.Sell && q.Last <= order.TriggerPrice)
			if !crossed {
				return
			}
			p.triggered[order.OrderID] = true
			p.sink.Emit(models.Activity{
				Kind:    models.ActivityOrder,
				Level:   models.LevelInfo,
				Symbol:  order.TradingSymbol,
				Message: fmt.Sprintf("%s %s trigger %.2f crossed", order.TradingSymbol, order.OrderType, order.TriggerPrice),
				Payload: map[string]any{"order_id": order.OrderID},
			})
		}
	}

	var fillPrice float64
	switch {
	case order.OrderType == models.Market || (order.OrderType == models.SLM && p.triggered[order.OrderID]):
		if order.Side == models.Buy {
			fillPrice = q.Ask
		} else {
			fillPrice = q.Bid
		}
	case order.OrderType == models.Limit || (order.OrderType == models.SL && p.triggered[order.OrderID]):
		if order.Side == models.Buy && q.Ask <= order.Price {
			fillPrice = order.Price
		} else if order.Side == models.Sell && q.Bid >= order.Price {
			fillPrice = order.Price
		} else {
			return
		}
	default:
		return
	}

	p.fill(order, intent, fillPrice, now)
}

// fill executes the order at price, charging fees and applying the
// position delta. Must hold mu.
func (p *Paper) fill(order *models.Order, intent models.OrderIntent, price float64, now time.Time) {
	need := p.requiredMargin(order, price)
	charges := FillCharges(order.Side, price, order.Quantity, order.Product)
	if need+charges.Total > p.cash {
		order.Status = models.OrderRejected
		order.StatusMessage = fmt.Sprintf("insufficient margin: need %s, available %s",
			utils.FormatINR(need+charges.Total), utils.FormatINR(p.cash))
		order.UpdatedAt = now
		p.sink.Emit(models.Activity{
			Kind:    models.ActivityError,
			Level:   models.LevelError,
			Symbol:  order.TradingSymbol,
			Message: order.StatusMessage,
			Payload: map[string]any{"order_id": order.OrderID},
		})
		return
	}

	order.Status = models.OrderComplete
	order.FilledQty = order.Quantity
	order.PendingQty = 0
	order.AvgFillPrice = price
	order.UpdatedAt = now

	p.cash -= charges.Total
	p.applyFill(order, intent, price, now)

	p.trades = append(p.trades, models.Trade{
		TradeID:       fmt.Sprintf("PT-%06d", len(p.trades)+1),
		OrderID:       order.OrderID,
		TradingSymbol: order.TradingSymbol,
		Exchange:      order.Exchange,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         price,
		Fees:          charges.Total,
		Timestamp:     now,
	})

	p.sink.Emit(models.Activity{
		Kind:    models.ActivityOrder,
		Level:   models.LevelSuccess,
		Symbol:  order.TradingSymbol,
		Message: fmt.Sprintf("%s %d %s filled at %s", order.Side, order.Quantity, order.TradingSymbol, utils.FormatINR(price)),
		Payload: map[string]any{"order_id": order.OrderID, "fees": charges.Total},
	})
}

// MarginFactor is the fraction of notional blocked per product: full
// value for delivery, a leverage slice for intraday and F&O.
func MarginFactor(product models.OrderProduct) float64 {
	switch product {
	case models.ProductMIS:
		return 0.20
	case models.ProductNRML:
		return 0.15
	default:
		return 1.0
	}
}

// requiredMargin computes the extra margin a fill would block, which is
// zero while the fill only reduces an existing position. Must hold mu.
func (p *Paper) requiredMargin(order *models.Order, price float64) float64 {
	key := positionKey(order.Exchange, order.TradingSymbol, order.Product)
	existing := 0
	if pos, ok := p.positions[key]; ok {
		existing = pos.NetQuantity
	}
	signed := order.Quantity
	if order.Side == models.Sell {
		signed = -signed
	}
	increase := absInt(existing+signed) - absInt(existing)
	if increase <= 0 {
		return 0
	}
	return MarginFactor(order.Product) * price * float64(increase)
}

// applyFill nets the fill into the book: weighted-average entry when
// adding, realized P&L and margin release when reducing, and a fresh
// position for any flipped remainder. Must hold mu.
func (p *Paper) applyFill(order *models.Order, intent models.OrderIntent, price float64, now time.Time) {
	key := positionKey(order.Exchange, order.TradingSymbol, order.Product)
	signed := order.Quantity
	if order.Side == models.Sell {
		signed = -signed
	}

	pos, exists := p.positions[key]
	if !exists || pos.NetQuantity == 0 {
		p.openPosition(key, order, intent, signed, price)
		return
	}

	sameDirection := (pos.NetQuantity > 0) == (signed > 0)
	if sameDirection {
		oldAbs := absInt(pos.NetQuantity)
		newAbs := oldAbs + absInt(signed)
		pos.AvgEntryPrice = (pos.AvgEntryPrice*float64(oldAbs) + price*float64(absInt(signed))) / float64(newAbs)
		pos.NetQuantity += signed
		need := MarginFactor(order.Product) * price * float64(absInt(signed))
		p.blocked[key] += need
		p.cash -= need
		return
	}

	// Reducing, closing, or flipping.
	oldAbs := absInt(pos.NetQuantity)
	closeQty := absInt(signed)
	if closeQty > oldAbs {
		closeQty = oldAbs
	}

	pnl := pnlFor(pos.AvgEntryPrice, price, sign(pos.NetQuantity)*closeQty)
	release := p.blocked[key] * float64(closeQty) / float64(oldAbs)
	p.blocked[key] -= release
	p.cash += release + pnl
	p.realized += pnl
	pos.RealizedPnL += pnl
	pos.NetQuantity += sign(-pos.NetQuantity) * closeQty

	if pos.NetQuantity == 0 {
		delete(p.positions, key)
		delete(p.posInst, key)
		delete(p.blocked, key)
		level := models.LevelSuccess
		if pnl < 0 {
			level = models.LevelWarning
		}
		p.sink.Emit(models.Activity{
			Kind:    models.ActivityPosition,
			Level:   level,
			Symbol:  order.TradingSymbol,
			Message: fmt.Sprintf("%s closed, P&L %s", order.TradingSymbol, utils.FormatSignedINR(pnl)),
			Payload: map[string]any{"realized_pnl": pnl},
		})
	}

	// Flip: whatever exceeds the old position opens fresh the other way.
	if remainder := absInt(signed) - closeQty; remainder > 0 {
		p.openPosition(key, order, intent, sign(signed)*remainder, price)
	}
}

// openPosition creates a new position and blocks its margin. Must hold mu.
func (p *Paper) openPosition(key string, order *models.Order, intent models.OrderIntent, signed int, price float64) {
	lot := intent.Instrument.LotSize
	if lot <= 0 {
		lot = 1
	}
	p.positions[key] = &models.Position{
		TradingSymbol: order.TradingSymbol,
		Exchange:      order.Exchange,
		Product:       order.Product,
		NetQuantity:   signed,
		AvgEntryPrice: price,
		LastPrice:     price,
		Value:         price * float64(absInt(signed)),
		LotSize:       lot,
	}
	p.posInst[key] = intent.Instrument
	need := MarginFactor(order.Product) * price * float64(absInt(signed))
	p.blocked[key] += need
	p.cash -= need

	p.sink.Emit(models.Activity{
		Kind:    models.ActivityPosition,
		Level:   models.LevelInfo,
		Symbol:  order.TradingSymbol,
		Message: fmt.Sprintf("%s position opened: %+d @ %s", order.TradingSymbol, signed, utils.FormatINR(price)),
		Payload: map[string]any{"quantity": signed, "entry": price},
	})
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

// positionKey builds the netting key.
func positionKey(exchange, symbol string, product models.OrderProduct) string {
	return fmt.Sprintf("%s:%s:%s", exchange, symbol, product)
}

// pnlFor is sign-aware: positive qty is long, negative is short.
func pnlFor(entry, price float64, qty int) float64 {
	if qty >= 0 {
		return (price - entry) * float64(qty)
	}
	return (entry - price) * float64(-qty)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
