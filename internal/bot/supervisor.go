// Package bot runs the trading loop: bars in, indicators, strategy,
// risk-sized orders out, positions reconciled, activities emitted. One
// Supervisor owns all trading state; the control plane reaches it only
// through a bounded command channel.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tradekar/tradekar/internal/broker"
	"github.com/tradekar/tradekar/internal/catalog"
	"github.com/tradekar/tradekar/internal/config"
	"github.com/tradekar/tradekar/internal/indicators"
	"github.com/tradekar/tradekar/internal/risk"
	"github.com/tradekar/tradekar/internal/strategy"
	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// States
// ════════════════════════════════════════════════════════════════════

// State is the supervisor lifecycle state.
// stopped → starting → running → (paused | stopping) → stopped.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

const (
	// handshakeTimeout bounds how long a caller waits for the supervisor
	// to accept a command and to reply.
	handshakeTimeout = 5 * time.Second

	// stopHardTimeout is the grace the loop gets to exit after a stop
	// before the supervisor forces the state and disconnects best-effort.
	stopHardTimeout = 30 * time.Second
)

// ErrBusy is returned when the supervisor cannot take a command within
// the handshake window.
var ErrBusy = &broker.Error{Kind: broker.KindVendorUnavailable, Message: "supervisor busy"}

// ════════════════════════════════════════════════════════════════════
// Views
// ════════════════════════════════════════════════════════════════════

// Status is the operator-facing state summary.
type Status struct {
	State         State            `json:"state"`
	Running       bool             `json:"running"`
	Broker        string           `json:"broker,omitempty"`
	Strategy      string           `json:"strategy,omitempty"`
	Timeframe     models.Timeframe `json:"timeframe,omitempty"`
	Instruments   []string         `json:"instruments,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	LastTickAt    *time.Time       `json:"last_tick_at,omitempty"`
	TickCount     int64            `json:"tick_count"`
	PausedReason  string           `json:"paused_reason,omitempty"`
	DayPnL        float64          `json:"day_pnl"`
	EquityAtOpen  float64          `json:"equity_at_open"`
	OpenPositions int              `json:"open_positions"`
	MarketOpen    bool             `json:"market_open"`
	LastError     string           `json:"last_error,omitempty"`
}

// Snapshot is the full trading-state copy served by the control plane.
type Snapshot struct {
	Account   models.AccountSnapshot `json:"account"`
	Positions []models.Position      `json:"positions"`
	Orders    []models.Order         `json:"orders"`
	Trades    []models.Trade         `json:"trades"`
	Closed    []ClosedTrade          `json:"closed_trades"`
}

// ════════════════════════════════════════════════════════════════════
// Commands
// ════════════════════════════════════════════════════════════════════

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdStatus
	cmdSnapshot
	cmdClose
)

type command struct {
	kind     cmdKind
	cfg      config.BotConfig // cmdStart
	exchange string           // cmdClose
	symbol   string           // cmdClose
	reply    chan reply
}

type reply struct {
	status Status
	snap   Snapshot
	err    error
}

// ════════════════════════════════════════════════════════════════════
// Supervisor
// ════════════════════════════════════════════════════════════════════

// Options tunes adapter-call deadlines.
type Options struct {
	RequestTimeout time.Duration // per adapter call, default 10s
	HistoryTimeout time.Duration // per history fetch, default 30s
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.HistoryTimeout <= 0 {
		o.HistoryTimeout = 30 * time.Second
	}
	return o
}

// Supervisor owns the trading loop and every piece of trading state. HTTP
// handlers and tests reach it through Start/Stop/Status/Snapshot/
// ClosePosition, all of which funnel into one command channel; the
// trading loop itself runs as a child goroutine while a run is active.
type Supervisor struct {
	manager  *broker.Manager
	catalog  *catalog.Catalog
	activity *ActivityLog
	opts     Options
	log      zerolog.Logger

	cmds chan command

	// onStatus subscribers are registered at wire-up time and notified
	// (off-lock) on every state transition.
	onStatus []func(Status)

	mu           sync.Mutex
	state        State
	run          *run
	startedAt    time.Time
	tickCount    int64
	lastTickAt   time.Time
	pausedReason string
	lastError    string

	dayKey       string
	equityAtOpen float64

	account   models.AccountSnapshot
	quotes    map[string]models.Quote    // instrument key -> freshest quote
	positions map[string]models.Position // position key -> last observed
	orders    map[string]models.Order    // order id -> last observed
	trades    []models.Trade
	seenTrade map[string]bool
	closed    []ClosedTrade
	brackets  map[string]*bracket // position key -> enforced exits
	tracks    map[string]*posTrack
	lastSync  time.Time
}

// run carries the immutable parameters of one start-to-stop cycle.
type run struct {
	cfg          config.BotConfig
	broker       broker.Broker
	mode         string // "paper" | "live"
	strat        strategy.Strategy
	params       indicators.Params
	window       utils.ClockWindow
	instruments  []models.Instrument
	pollInterval time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// bracket is the supervisor-enforced stop/target pair for one position,
// used when the broker holds no resting exit orders.
type bracket struct {
	side        models.OrderSide // side of the entry
	stopLoss    float64
	takeProfit  float64
	exitPending bool
}

// posTrack accumulates one position's lifecycle for closed-trade booking.
type posTrack struct {
	openedAt       time.Time
	entryPrice     float64
	side           models.OrderSide
	peakQty        int
	bookedRealized float64
	fees           float64
	lastTradePx    float64
	exitReason     string
}

// NewSupervisor wires a stopped supervisor. Call Run to start the command
// pump; nothing trades until Start.
func NewSupervisor(manager *broker.Manager, cat *catalog.Catalog, activity *ActivityLog, opts Options, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		manager:   manager,
		catalog:   cat,
		activity:  activity,
		opts:      opts.withDefaults(),
		log:       log.With().Str("component", "supervisor").Logger(),
		cmds:      make(chan command, 8),
		state:     StateStopped,
		quotes:    make(map[string]models.Quote),
		positions: make(map[string]models.Position),
		orders:    make(map[string]models.Order),
		seenTrade: make(map[string]bool),
		brackets:  make(map[string]*bracket),
		tracks:    make(map[string]*posTrack),
	}
}

// OnStatus registers a state-transition subscriber (WebSocket push).
// Not safe to call after Run.
func (s *Supervisor) OnStatus(fn func(Status)) {
	s.onStatus = append(s.onStatus, fn)
}

// ════════════════════════════════════════════════════════════════════
// Public API (command senders)
// ════════════════════════════════════════════════════════════════════

// Start validates cfg and launches the trading loop. Starting an already
// running bot is a no-op; starting a paused bot resumes it.
func (s *Supervisor) Start(ctx context.Context, cfg config.BotConfig) error {
	rep, err := s.do(ctx, command{kind: cmdStart, cfg: cfg})
	if err != nil {
		return err
	}
	return rep.err
}

// Stop winds the loop down. Stopping a stopped bot is a no-op; the reply
// comes back as soon as the stop is initiated.
func (s *Supervisor) Stop(ctx context.Context) error {
	rep, err := s.do(ctx, command{kind: cmdStop})
	if err != nil {
		return err
	}
	return rep.err
}

// Status returns the operator-facing state summary.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	rep, err := s.do(ctx, command{kind: cmdStatus})
	if err != nil {
		return Status{}, err
	}
	return rep.status, rep.err
}

// Snapshot returns a copy of account, positions, orders, trades, and
// closed trades.
func (s *Supervisor) Snapshot(ctx context.Context) (Snapshot, error) {
	rep, err := s.do(ctx, command{kind: cmdSnapshot})
	if err != nil {
		return Snapshot{}, err
	}
	return rep.snap, rep.err
}

// ClosePosition flattens one open position with a market order.
func (s *Supervisor) ClosePosition(ctx context.Context, exchange, symbol string) error {
	rep, err := s.do(ctx, command{kind: cmdClose, exchange: exchange, symbol: symbol})
	if err != nil {
		return err
	}
	return rep.err
}

// do performs the bounded handshake: enqueue within the window, then wait
// for the typed reply within the window.
func (s *Supervisor) do(ctx context.Context, cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)

	enqueue := time.NewTimer(handshakeTimeout)
	defer enqueue.Stop()
	select {
	case s.cmds <- cmd:
	case <-enqueue.C:
		return reply{}, fmt.Errorf("bot.do: %w", ErrBusy)
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	wait := time.NewTimer(handshakeTimeout)
	defer wait.Stop()
	select {
	case rep := <-cmd.reply:
		return rep, nil
	case <-wait.C:
		return reply{}, fmt.Errorf("bot.do: %w", ErrBusy)
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// ════════════════════════════════════════════════════════════════════
// Command Pump
// ════════════════════════════════════════════════════════════════════

// Run pumps commands until ctx is cancelled, then stops any active loop.
// Call it in its own goroutine, once.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Info().Msg("supervisor ready")
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			r := s.run
			s.mu.Unlock()
			if r != nil {
				s.beginStop(r)
				select {
				case <-r.done:
				case <-time.After(stopHardTimeout):
				}
			}
			s.log.Info().Msg("supervisor exiting")
			return
		case cmd := <-s.cmds:
			s.dispatch(cmd)
		}
	}
}

func (s *Supervisor) dispatch(cmd command) {
	switch cmd.kind {
	case cmdStart:
		cmd.reply <- reply{err: s.handleStart(cmd.cfg)}
	case cmdStop:
		cmd.reply <- reply{err: s.handleStop()}
	case cmdStatus:
		cmd.reply <- reply{status: s.buildStatus()}
	case cmdSnapshot:
		cmd.reply <- reply{snap: s.buildSnapshot()}
	case cmdClose:
		cmd.reply <- reply{err: s.handleClose(cmd.exchange, cmd.symbol)}
	}
}

// ════════════════════════════════════════════════════════════════════
// Start / Stop
// ════════════════════════════════════════════════════════════════════

func (s *Supervisor) handleStart(cfg config.BotConfig) error {
	const op = "bot.Start"

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateStarting, StateRunning:
		return nil // tolerant no-op
	case StatePaused:
		s.resume("operator restart", true)
		return nil
	case StateStopping:
		return broker.E(broker.KindStateConflict, op, "stop in progress")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return &broker.Error{
			Kind:    broker.KindValidation,
			Op:      op,
			Message: strings.Join(msgs, "; "),
			Field:   errs[0].Field,
		}
	}

	name := cfg.EffectiveBroker()
	b, err := s.manager.Get(name)
	if err != nil {
		return err
	}
	if !b.IsConnected() {
		return broker.E(broker.KindStateConflict, op, fmt.Sprintf("broker %q is not connected", name))
	}

	strat, ok := strategy.Get(cfg.Strategy)
	if !ok {
		return broker.E(broker.KindValidation, op, fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}

	instruments := make([]models.Instrument, 0, len(cfg.Instruments))
	for _, ref := range cfg.Instruments {
		inst, found := s.catalog.Lookup(ref.Exchange, ref.TradingSymbol)
		if !found {
			return &broker.Error{
				Kind:    broker.KindValidation,
				Op:      op,
				Message: fmt.Sprintf("instrument %s:%s not in catalog", ref.Exchange, ref.TradingSymbol),
				Field:   "instruments",
			}
		}
		instruments = append(instruments, inst)
	}

	mode := "live"
	if name == "paper" {
		mode = "paper"
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		cfg:          cfg,
		broker:       b,
		mode:         mode,
		strat:        strat,
		params:       toIndicatorParams(cfg.IndicatorParams),
		window:       cfg.Window(),
		instruments:  instruments,
		pollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	s.mu.Lock()
	s.run = r
	s.startedAt = time.Now()
	s.tickCount = 0
	s.lastError = ""
	s.pausedReason = ""
	s.dayKey = ""
	s.equityAtOpen = 0
	s.mu.Unlock()
	s.setState(StateStarting)

	go s.runLoop(ctx, r)

	s.log.Info().
		Str("broker", name).
		Str("strategy", cfg.Strategy).
		Str("timeframe", string(cfg.Timeframe)).
		Int("instruments", len(instruments)).
		Msg("bot starting")
	return nil
}

func (s *Supervisor) handleStop() error {
	s.mu.Lock()
	state, r := s.state, s.run
	s.mu.Unlock()

	if state == StateStopped || state == StateStopping || r == nil {
		return nil // tolerant no-op
	}
	s.beginStop(r)
	return nil
}

// beginStop flips to stopping, cancels the loop, and arms the hard-stop
// watchdog. The loop's own exit path completes the transition.
func (s *Supervisor) beginStop(r *run) {
	s.setState(StateStopping)
	r.cancel()

	go func() {
		select {
		case <-r.done:
		case <-time.After(stopHardTimeout):
			s.log.Error().Msg("loop did not exit within grace; forcing stop")
			dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = r.broker.Disconnect(dctx)
			dcancel()
			s.finishStop(r, "loop unresponsive, broker disconnected")
		}
	}()
}

// finishStop completes stopping → stopped exactly once per run.
func (s *Supervisor) finishStop(r *run, note string) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.run = nil
	s.mu.Unlock()

	s.setState(StateStopped)
	msg := "bot stopped"
	if note != "" {
		msg += ": " + note
	}
	s.emit(models.ActivityWarning, models.LevelInfo, "", msg, nil)
	s.log.Info().Msg(msg)
}

// resume clears a pause. With rebaseline the day key resets too, so the
// gate measures from the restart rather than from the losing morning.
func (s *Supervisor) resume(why string, rebaseline bool) {
	s.mu.Lock()
	s.pausedReason = ""
	if rebaseline {
		s.dayKey = ""
	}
	s.mu.Unlock()
	s.setState(StateRunning)
	s.emit(models.ActivityWarning, models.LevelInfo, "", "bot resumed: "+why, nil)
}

// ════════════════════════════════════════════════════════════════════
// Views
// ════════════════════════════════════════════════════════════════════

func (s *Supervisor) buildStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:        s.state,
		Running:      s.state == StateRunning,
		TickCount:    s.tickCount,
		PausedReason: s.pausedReason,
		LastError:    s.lastError,
		EquityAtOpen: s.equityAtOpen,
		DayPnL:       s.account.RealizedPnLToday + s.account.UnrealizedPnL,
		MarketOpen:   utils.IsMarketOpenAt(utils.NowIST()),
	}
	if s.run != nil {
		st.Broker = s.run.broker.Name()
		st.Strategy = s.run.cfg.Strategy
		st.Timeframe = s.run.cfg.Timeframe
		for _, inst := range s.run.instruments {
			st.Instruments = append(st.Instruments, inst.Key())
		}
	}
	if !s.startedAt.IsZero() && s.run != nil {
		t := s.startedAt
		st.StartedAt = &t
	}
	if !s.lastTickAt.IsZero() {
		t := s.lastTickAt
		st.LastTickAt = &t
	}
	for _, p := range s.positions {
		if p.IsOpen() {
			st.OpenPositions++
		}
	}
	return st
}

func (s *Supervisor) buildSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Account:   s.account,
		Positions: make([]models.Position, 0, len(s.positions)),
		Orders:    make([]models.Order, 0, len(s.orders)),
		Trades:    append([]models.Trade(nil), s.trades...),
		Closed:    append([]ClosedTrade(nil), s.closed...),
	}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, p)
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o)
	}
	return snap
}

// Analytics summarizes the run's closed trades.
func (s *Supervisor) Analytics(ctx context.Context) (Analytics, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Analytics{}, err
	}
	return Summarize(snap.Closed), nil
}

// Activities returns recent entries from the shared ring. Reads bypass
// the command channel; the ring synchronizes itself.
func (s *Supervisor) Activities(limit int, kind models.ActivityKind) []models.Activity {
	return s.activity.Recent(limit, kind)
}

// ClearActivities empties the ring.
func (s *Supervisor) ClearActivities() {
	s.activity.Clear()
}

// ════════════════════════════════════════════════════════════════════
// Manual Close
// ════════════════════════════════════════════════════════════════════

func (s *Supervisor) handleClose(exchange, symbol string) error {
	const op = "bot.ClosePosition"

	s.mu.Lock()
	r := s.run
	var target *models.Position
	for k := range s.positions {
		p := s.positions[k]
		if p.IsOpen() && p.TradingSymbol == symbol && (exchange == "" || p.Exchange == exchange) {
			target = &p
			break
		}
	}
	s.mu.Unlock()

	if r == nil {
		return broker.E(broker.KindStateConflict, op, "bot is not running")
	}
	if target == nil {
		return broker.E(broker.KindNotFound, op, fmt.Sprintf("no open position for %s", symbol))
	}

	inst, found := s.catalog.Lookup(target.Exchange, target.TradingSymbol)
	if !found {
		inst = models.Instrument{
			Exchange:      target.Exchange,
			TradingSymbol: target.TradingSymbol,
			LotSize:       target.LotSize,
		}
	}

	side := models.Sell
	qty := target.NetQuantity
	if qty < 0 {
		side = models.Buy
		qty = -qty
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()
	orderID, err := r.broker.PlaceOrder(ctx, models.OrderIntent{
		Instrument: inst,
		Side:       side,
		Quantity:   qty,
		OrderType:  models.Market,
		Product:    target.Product,
		Validity:   models.ValidityDay,
		Reason:     "manual close",
		Tag:        "manual",
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	key := target.Key()
	s.mu.Lock()
	if tr, ok := s.tracks[key]; ok {
		tr.exitReason = "manual"
	}
	if br, ok := s.brackets[key]; ok {
		br.exitPending = true
	}
	s.mu.Unlock()

	CountOrder(r.mode, string(side))
	s.emit(models.ActivityOrder, models.LevelWarning, symbol,
		fmt.Sprintf("manual close: %s %d %s", side, qty, symbol),
		map[string]any{"order_id": orderID})
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Trading Loop
// ════════════════════════════════════════════════════════════════════

func (s *Supervisor) runLoop(ctx context.Context, r *run) {
	defer close(r.done)

	if err := s.seed(ctx, r); err != nil {
		if ctx.Err() != nil {
			s.finishStop(r, "")
			return
		}
		s.emit(models.ActivityError, models.LevelError, "",
			"start aborted: "+err.Error(), nil)
		s.log.Error().Err(err).Msg("warmup seeding failed")
		s.finishStop(r, "warmup seeding failed")
		return
	}

	s.setState(StateRunning)
	s.emit(models.ActivityWarning, models.LevelSuccess, "",
		fmt.Sprintf("bot started: %s on %s (%s, %s)",
			r.cfg.Strategy, r.broker.Name(), r.cfg.Timeframe, describeInstruments(r.instruments)), nil)

	for {
		began := time.Now()
		if err := s.tick(ctx, r); err != nil {
			// Internal errors mean a broken invariant; the loop dies loudly.
			s.emit(models.ActivityError, models.LevelError, "",
				"trading loop fault: "+err.Error(), nil)
			s.log.Error().Err(err).Msg("trading loop fault")
			s.finishStop(r, "internal fault")
			return
		}
		CountTick(time.Since(began).Seconds())

		select {
		case <-ctx.Done():
			s.finishStop(r, "")
			return
		case <-time.After(r.pollInterval):
		}
	}
}

// seed verifies history is reachable and deep enough for the indicator
// warmup on every instrument.
func (s *Supervisor) seed(ctx context.Context, r *run) error {
	warmup := r.params.WarmupBars()
	to := utils.NowIST()
	from := to.Add(-r.cfg.Timeframe.Duration() * time.Duration(2*(warmup+5)))

	for _, inst := range r.instruments {
		hctx, cancel := context.WithTimeout(ctx, s.opts.HistoryTimeout)
		bars, err := r.broker.HistoricalBars(hctx, inst, r.cfg.Timeframe, from, to)
		cancel()
		if err != nil {
			return fmt.Errorf("seed %s: %w", inst.Key(), err)
		}
		if len(closedBars(bars)) < warmup {
			s.log.Warn().
				Str("instrument", inst.Key()).
				Int("bars", len(bars)).
				Int("warmup", warmup).
				Msg("history shallower than warmup; strategies hold until filled")
		}
	}
	return nil
}

// tick runs one full cycle. Only Internal-kind errors propagate; adapter
// trouble on an instrument downgrades to a skipped instrument.
func (s *Supervisor) tick(ctx context.Context, r *run) error {
	now := utils.NowIST()

	actx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	account, err := r.broker.AccountSnapshot(actx)
	cancel()
	if err != nil {
		if broker.KindOf(err) == broker.KindInternal {
			return err
		}
		if ctx.Err() == nil {
			s.noteTick(now, account, false)
			s.emit(models.ActivityError, models.LevelError, "",
				"account snapshot failed: "+err.Error(), nil)
		}
		return nil
	}

	s.rollDay(now, account)
	s.noteTick(now, account, true)
	SetEquity(account.Equity)

	s.mu.Lock()
	paused := s.state == StatePaused
	s.mu.Unlock()
	canTrade := !paused && r.window.Contains(now)

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range r.instruments {
		inst := inst
		g.Go(func() error {
			return s.tickInstrument(gctx, r, inst, canTrade)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.reconcile(ctx, r); err != nil {
		if broker.KindOf(err) == broker.KindInternal {
			return err
		}
		if ctx.Err() == nil {
			s.emit(models.ActivityError, models.LevelError, "",
				"reconcile failed: "+err.Error(), nil)
		}
		return nil
	}

	s.enforceBrackets(ctx, r, canTrade)
	s.applyDailyGate(r)
	return nil
}

// noteTick records tick bookkeeping under the model lock.
func (s *Supervisor) noteTick(now time.Time, account models.AccountSnapshot, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickCount++
	s.lastTickAt = now
	if ok {
		s.account = account
		s.lastError = ""
	}
}

// rollDay captures the day baseline on the first tick of each IST day and
// lifts a daily-loss pause when the day changes.
func (s *Supervisor) rollDay(now time.Time, account models.AccountSnapshot) {
	key := utils.DayKey(now)

	s.mu.Lock()
	rolled := s.dayKey != key
	wasPaused := s.state == StatePaused
	if rolled {
		s.dayKey = key
		s.equityAtOpen = account.Equity
	}
	s.mu.Unlock()

	if rolled && wasPaused {
		s.resume("new trading day "+key, false)
	}
}

// tickInstrument runs bars → indicators → strategy → risk → order for one
// instrument. Adapter errors skip the instrument; only Internal escapes.
func (s *Supervisor) tickInstrument(ctx context.Context, r *run, inst models.Instrument, canTrade bool) error {
	symbol := inst.TradingSymbol

	qctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	quote, err := r.broker.Quote(qctx, inst)
	cancel()
	if err != nil {
		return s.skipInstrument(ctx, symbol, "quote", err)
	}
	if quote.IsStale(r.pollInterval, utils.NowIST()) {
		s.emit(models.ActivityWarning, models.LevelWarning, symbol, "quote is stale; instrument skipped", nil)
		return nil
	}

	s.mu.Lock()
	s.quotes[inst.Key()] = quote
	s.mu.Unlock()

	warmup := r.params.WarmupBars()
	to := utils.NowIST()
	from := to.Add(-r.cfg.Timeframe.Duration() * time.Duration(2*(warmup+5)))
	hctx, cancel := context.WithTimeout(ctx, s.opts.HistoryTimeout)
	bars, err := r.broker.HistoricalBars(hctx, inst, r.cfg.Timeframe, from, to)
	cancel()
	if err != nil {
		return s.skipInstrument(ctx, symbol, "history", err)
	}

	bars = closedBars(bars)
	set := indicators.Compute(bars, r.params)
	decision := r.strat.Evaluate(set, bars)
	CountDecision(string(decision.Signal))

	s.emit(models.ActivityAnalysis, models.LevelInfo, symbol,
		fmt.Sprintf("%s %s: %s — %s", symbol, r.cfg.Timeframe, decision.Signal, decision.Reason),
		map[string]any{"confidence": decision.Confidence, "close": set.Close.V})

	if !decision.Actionable() {
		return nil
	}

	s.emit(models.ActivitySignal, models.LevelSuccess, symbol,
		fmt.Sprintf("%s signal on %s: %s", decision.Signal, symbol, decision.Reason),
		map[string]any{"confidence": decision.Confidence})

	if !canTrade {
		return nil
	}

	s.placeEntry(ctx, r, inst, quote, set, decision)
	return nil
}

// skipInstrument downgrades an adapter error to a skipped instrument.
func (s *Supervisor) skipInstrument(ctx context.Context, symbol, stage string, err error) error {
	if broker.KindOf(err) == broker.KindInternal {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	level := models.LevelError
	if broker.KindOf(err) == broker.KindRateLimited {
		level = models.LevelWarning
	}
	s.emit(models.ActivityError, level, symbol,
		fmt.Sprintf("%s failed for %s: %v", stage, symbol, err), nil)
	return nil
}

// placeEntry applies the position guards and risk gates, then submits.
func (s *Supervisor) placeEntry(ctx context.Context, r *run, inst models.Instrument, quote models.Quote, set indicators.Set, decision models.Decision) {
	symbol := inst.TradingSymbol
	side := decision.OrderSide()

	s.mu.Lock()
	account := s.account
	open := make([]models.Position, 0, len(s.positions))
	var existing *models.Position
	for k := range s.positions {
		p := s.positions[k]
		if !p.IsOpen() {
			continue
		}
		open = append(open, p)
		if p.TradingSymbol == inst.TradingSymbol && p.Exchange == inst.Exchange {
			existing = &p
		}
	}
	s.mu.Unlock()

	// Same-direction exposure: the signal is already expressed.
	if existing != nil {
		long := existing.NetQuantity > 0
		if (side == models.Buy && long) || (side == models.Sell && !long) {
			return
		}
		// Opposite signal exits the position; a fresh entry can follow on a
		// later tick once flat.
		s.exitPosition(ctx, r, *existing, "reverse signal")
		return
	}

	limits := risk.Limits{
		RiskPerTradePercent: r.cfg.RiskPerTradePercent,
		RewardRatio:         r.cfg.RewardRatio,
		ATRMultiplier:       r.cfg.ATRMultiplier,
		MaxPositions:        r.cfg.MaxPositions,
		Product:             models.ProductMIS,
	}
	if set.ATR.OK {
		limits.ATR = set.ATR.V
	}

	intent, err := risk.Size(decision, account, inst, quote, limits, open)
	if err != nil {
		CountOrderFailure(broker.KindOf(err).String())
		s.emit(models.ActivityWarning, models.LevelWarning, symbol,
			fmt.Sprintf("risk rejection for %s: %v", symbol, err), nil)
		return
	}
	intent.Tag = r.cfg.Strategy

	octx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	orderID, err := r.broker.PlaceOrder(octx, intent)
	cancel()
	if err != nil {
		CountOrderFailure(broker.KindOf(err).String())
		s.emit(models.ActivityError, models.LevelError, symbol,
			fmt.Sprintf("order placement failed: %v", err), nil)
		return
	}

	CountOrder(r.mode, string(intent.Side))
	s.emit(models.ActivityOrder, models.LevelSuccess, symbol,
		fmt.Sprintf("%s %d %s @ market (stop %s, target %s)",
			intent.Side, intent.Quantity, symbol,
			utils.FormatINR(intent.StopLoss), utils.FormatINR(intent.TakeProfit)),
		map[string]any{"order_id": orderID, "reason": intent.Reason})

	key := models.Position{TradingSymbol: inst.TradingSymbol, Exchange: inst.Exchange, Product: intent.Product}.Key()
	s.mu.Lock()
	s.brackets[key] = &bracket{side: intent.Side, stopLoss: intent.StopLoss, takeProfit: intent.TakeProfit}
	s.mu.Unlock()
}

// exitPosition flattens one position with a market order.
func (s *Supervisor) exitPosition(ctx context.Context, r *run, pos models.Position, reason string) {
	side := models.Sell
	qty := pos.NetQuantity
	if qty < 0 {
		side = models.Buy
		qty = -qty
	}

	inst, found := s.catalog.Lookup(pos.Exchange, pos.TradingSymbol)
	if !found {
		inst = models.Instrument{Exchange: pos.Exchange, TradingSymbol: pos.TradingSymbol, LotSize: pos.LotSize}
	}

	octx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	orderID, err := r.broker.PlaceOrder(octx, models.OrderIntent{
		Instrument: inst,
		Side:       side,
		Quantity:   qty,
		OrderType:  models.Market,
		Product:    pos.Product,
		Validity:   models.ValidityDay,
		Reason:     reason,
		Tag:        "exit",
	})
	cancel()
	if err != nil {
		CountOrderFailure(broker.KindOf(err).String())
		s.emit(models.ActivityError, models.LevelError, pos.TradingSymbol,
			fmt.Sprintf("exit (%s) failed: %v", reason, err), nil)
		return
	}

	CountOrder(r.mode, string(side))
	s.emit(models.ActivityOrder, models.LevelWarning, pos.TradingSymbol,
		fmt.Sprintf("exit %s: %s %d %s", reason, side, qty, pos.TradingSymbol),
		map[string]any{"order_id": orderID})

	key := pos.Key()
	s.mu.Lock()
	if tr, ok := s.tracks[key]; ok {
		tr.exitReason = reason
	}
	if br, ok := s.brackets[key]; ok {
		br.exitPending = true
	}
	s.mu.Unlock()
}

// ════════════════════════════════════════════════════════════════════
// Reconciliation
// ════════════════════════════════════════════════════════════════════

// reconcile pulls orders, positions, and trades from the broker, updates
// the model, emits transition activities, and books closed trades.
func (s *Supervisor) reconcile(ctx context.Context, r *run) error {
	octx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	orders, err := r.broker.Orders(octx)
	cancel()
	if err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	positions, err := r.broker.Positions(pctx)
	cancel()
	if err != nil {
		return err
	}

	s.mu.Lock()
	since := s.lastSync
	if since.IsZero() {
		since = s.startedAt
	}
	s.mu.Unlock()
	tctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	trades, err := r.broker.Trades(tctx, since.Add(-time.Second))
	cancel()
	if err != nil {
		return err
	}

	now := utils.NowIST()

	s.mu.Lock()
	s.lastSync = now
	orderTransitions := s.applyOrders(orders)
	s.applyTrades(trades)
	posEvents := s.applyPositions(positions, now)
	s.mu.Unlock()

	for _, t := range orderTransitions {
		s.emit(models.ActivityOrder, t.level, t.symbol, t.message, t.payload)
	}
	for _, e := range posEvents {
		s.emit(models.ActivityPosition, e.level, e.symbol, e.message, e.payload)
	}
	return nil
}

// transitionEvent is a deferred activity, built under the model lock and
// emitted after it is released.
type transitionEvent struct {
	level   models.ActivityLevel
	symbol  string
	message string
	payload map[string]any
}

// applyOrders stores the latest orders and returns terminal transitions.
// Must hold mu.
func (s *Supervisor) applyOrders(orders []models.Order) []transitionEvent {
	var events []transitionEvent
	for _, o := range orders {
		prev, had := s.orders[o.OrderID]
		s.orders[o.OrderID] = o
		if !had || prev.Status == o.Status || !o.Status.IsTerminal() {
			continue
		}
		level := models.LevelSuccess
		switch o.Status {
		case models.OrderRejected:
			level = models.LevelError
		case models.OrderCancelled:
			level = models.LevelWarning
		}
		events = append(events, transitionEvent{
			level:  level,
			symbol: o.TradingSymbol,
			message: fmt.Sprintf("order %s %s: %s %d %s",
				o.OrderID, strings.ToLower(string(o.Status)), o.Side, o.Quantity, o.TradingSymbol),
			payload: map[string]any{"order_id": o.OrderID, "status": o.Status, "avg_fill_price": o.AvgFillPrice},
		})
	}
	return events
}

// applyTrades appends unseen trades and attributes fees to the owning
// position track. Must hold mu.
func (s *Supervisor) applyTrades(trades []models.Trade) {
	for _, t := range trades {
		if s.seenTrade[t.TradeID] {
			continue
		}
		s.seenTrade[t.TradeID] = true
		s.trades = append(s.trades, t)

		product := models.ProductMIS
		if o, ok := s.orders[t.OrderID]; ok {
			product = o.Product
		}
		key := models.Position{TradingSymbol: t.TradingSymbol, Exchange: t.Exchange, Product: product}.Key()
		track, ok := s.tracks[key]
		if !ok {
			track = &posTrack{openedAt: t.Timestamp}
			s.tracks[key] = track
		}
		track.fees += t.Fees
		track.lastTradePx = t.Price
	}
}

// applyPositions stores the latest positions, detects open/close/flip
// transitions, and books closed trades. Must hold mu.
func (s *Supervisor) applyPositions(positions []models.Position, now time.Time) []transitionEvent {
	var events []transitionEvent
	seen := make(map[string]bool, len(positions))

	for _, p := range positions {
		key := p.Key()
		seen[key] = true
		prev, had := s.positions[key]
		s.positions[key] = p

		switch {
		case p.IsOpen() && (!had || !prev.IsOpen()):
			track := s.tracks[key]
			if track == nil {
				track = &posTrack{}
				s.tracks[key] = track
			}
			track.openedAt = now
			track.entryPrice = p.AvgEntryPrice
			track.side = sideOfQty(p.NetQuantity)
			track.peakQty = absQty(p.NetQuantity)
			track.bookedRealized = p.RealizedPnL
			events = append(events, transitionEvent{
				level:  models.LevelInfo,
				symbol: p.TradingSymbol,
				message: fmt.Sprintf("position opened: %+d %s @ %s",
					p.NetQuantity, p.TradingSymbol, utils.FormatINR(p.AvgEntryPrice)),
				payload: map[string]any{"net_quantity": p.NetQuantity},
			})

		case p.IsOpen() && had && prev.IsOpen() && sign(p.NetQuantity) != sign(prev.NetQuantity):
			// Flip: close the old exposure, restart the track for the new.
			events = s.bookClose(key, prev, p.RealizedPnL, now, events)
			s.tracks[key] = &posTrack{
				openedAt:       now,
				entryPrice:     p.AvgEntryPrice,
				side:           sideOfQty(p.NetQuantity),
				peakQty:        absQty(p.NetQuantity),
				bookedRealized: p.RealizedPnL,
			}

		case p.IsOpen() && had && prev.IsOpen():
			if track, ok := s.tracks[key]; ok {
				if q := absQty(p.NetQuantity); q > track.peakQty {
					track.peakQty = q
				}
				track.entryPrice = p.AvgEntryPrice
			}

		case !p.IsOpen() && had && prev.IsOpen():
			events = s.bookClose(key, prev, p.RealizedPnL, now, events)
		}
	}

	// Positions the broker no longer reports at all count as closed.
	for key, prev := range s.positions {
		if seen[key] || !prev.IsOpen() {
			continue
		}
		closedPos := prev
		closedPos.NetQuantity = 0
		s.positions[key] = closedPos
		events = s.bookClose(key, prev, prev.RealizedPnL, now, events)
	}

	return events
}

// bookClose records one ClosedTrade and clears the bracket and track.
// Must hold mu. Returns events extended with the close notice.
func (s *Supervisor) bookClose(key string, prev models.Position, realized float64, now time.Time, events []transitionEvent) []transitionEvent {
	track := s.tracks[key]
	if track == nil {
		track = &posTrack{openedAt: now, entryPrice: prev.AvgEntryPrice, side: sideOfQty(prev.NetQuantity), peakQty: absQty(prev.NetQuantity)}
	}

	gross := realized - track.bookedRealized
	reason := track.exitReason
	if reason == "" {
		reason = "signal"
	}
	ct := ClosedTrade{
		TradingSymbol: prev.TradingSymbol,
		Exchange:      prev.Exchange,
		Side:          track.side,
		Quantity:      track.peakQty,
		EntryPrice:    track.entryPrice,
		ExitPrice:     track.lastTradePx,
		GrossPnL:      gross,
		Fees:          track.fees,
		NetPnL:        gross - track.fees,
		OpenedAt:      track.openedAt,
		ClosedAt:      now,
		ExitReason:    reason,
	}
	s.closed = append(s.closed, ct)
	delete(s.tracks, key)
	delete(s.brackets, key)

	return append(events, transitionEvent{
		level:  pnlLevel(ct.NetPnL),
		symbol: prev.TradingSymbol,
		message: fmt.Sprintf("position closed: %s %s (%s)",
			prev.TradingSymbol, utils.FormatSignedINR(ct.NetPnL), reason),
		payload: map[string]any{"gross_pnl": gross, "fees": ct.Fees, "exit_reason": reason},
	})
}

// ════════════════════════════════════════════════════════════════════
// Bracket Enforcement
// ════════════════════════════════════════════════════════════════════

// enforceBrackets exits positions whose tracked stop or target the latest
// quote has crossed. The broker holds no resting exit orders; this is the
// bot-side replacement.
func (s *Supervisor) enforceBrackets(ctx context.Context, r *run, canTrade bool) {
	if !canTrade {
		return
	}

	type exit struct {
		pos    models.Position
		reason string
	}
	var exits []exit

	s.mu.Lock()
	for key, br := range s.brackets {
		if br.exitPending {
			continue
		}
		pos, ok := s.positions[key]
		if !ok || !pos.IsOpen() {
			continue
		}
		quote, ok := s.quotes[pos.Exchange+":"+pos.TradingSymbol]
		if !ok || quote.Last <= 0 {
			continue
		}

		long := pos.NetQuantity > 0
		var reason string
		switch {
		case long && br.stopLoss > 0 && quote.Last <= br.stopLoss:
			reason = "stop_loss"
		case long && br.takeProfit > 0 && quote.Last >= br.takeProfit:
			reason = "take_profit"
		case !long && br.stopLoss > 0 && quote.Last >= br.stopLoss:
			reason = "stop_loss"
		case !long && br.takeProfit > 0 && quote.Last <= br.takeProfit:
			reason = "take_profit"
		}
		if reason == "" {
			continue
		}
		br.exitPending = true
		exits = append(exits, exit{pos: pos, reason: reason})
	}
	s.mu.Unlock()

	for _, e := range exits {
		s.exitPosition(ctx, r, e.pos, e.reason)
	}
}

// ════════════════════════════════════════════════════════════════════
// Daily Loss Gate
// ════════════════════════════════════════════════════════════════════

// applyDailyGate pauses the bot when the day's realized+unrealized P&L
// breaches the configured share of the day-open equity.
func (s *Supervisor) applyDailyGate(r *run) {
	s.mu.Lock()
	if s.state != StateRunning || s.equityAtOpen <= 0 {
		s.mu.Unlock()
		return
	}
	dayPnL := s.account.RealizedPnLToday + s.account.UnrealizedPnL
	limit := r.cfg.MaxDailyLossPercent / 100 * s.equityAtOpen
	breached := dayPnL <= -limit
	if breached {
		s.pausedReason = fmt.Sprintf("daily loss limit: %s ≤ -%s",
			utils.FormatSignedINR(dayPnL), utils.FormatINR(limit))
	}
	reason := s.pausedReason
	s.mu.Unlock()

	if !breached {
		return
	}
	s.setState(StatePaused)
	s.emit(models.ActivityWarning, models.LevelWarning, "",
		"bot paused — "+reason+"; resumes on day roll or operator restart", nil)
	s.log.Warn().Str("reason", reason).Msg("daily loss gate tripped")
}

// ════════════════════════════════════════════════════════════════════
// Internals
// ════════════════════════════════════════════════════════════════════

// setState transitions the lifecycle state and notifies subscribers.
func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	st := s.buildStatus()
	for _, fn := range s.onStatus {
		fn(st)
	}
}

func (s *Supervisor) emit(kind models.ActivityKind, level models.ActivityLevel, symbol, msg string, payload map[string]any) {
	s.activity.Add(models.Activity{Kind: kind, Level: level, Symbol: symbol, Message: msg, Payload: payload})
}

// closedBars drops a trailing partial candle.
func closedBars(bars []models.Bar) []models.Bar {
	if n := len(bars); n > 0 && bars[n-1].Partial {
		return bars[:n-1]
	}
	return bars
}

// toIndicatorParams maps config overrides onto indicator lookbacks.
func toIndicatorParams(ip *config.IndicatorParams) indicators.Params {
	if ip == nil {
		return indicators.DefaultParams()
	}
	return indicators.Params{
		EMAFast:        ip.EMAFast,
		EMASlow:        ip.EMASlow,
		RSIPeriod:      ip.RSIPeriod,
		MACDFast:       ip.MACDFast,
		MACDSlow:       ip.MACDSlow,
		MACDSignal:     ip.MACDSignal,
		ATRPeriod:      ip.ATRPeriod,
		ADXPeriod:      ip.ADXPeriod,
		BollingerN:     ip.BollingerN,
		BollingerK:     ip.BollingerK,
		VolumeMAPeriod: ip.VolumeMAPeriod,
	}
}

func describeInstruments(instruments []models.Instrument) string {
	names := make([]string, len(instruments))
	for i, inst := range instruments {
		names[i] = inst.TradingSymbol
	}
	return strings.Join(names, ", ")
}

func sideOfQty(net int) models.OrderSide {
	if net < 0 {
		return models.Sell
	}
	return models.Buy
}

func absQty(n int) int {
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

func pnlLevel(pnl float64) models.ActivityLevel {
	if pnl >= 0 {
		return models.LevelSuccess
	}
	return models.LevelWarning
}
