package broker

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Zerodha Kite Connect v3 Adapter
// ════════════════════════════════════════════════════════════════════

// Zerodha implements the Broker port against Zerodha's Kite Connect v3
// REST API: OAuth token exchange, quotes, historical candles, order
// placement/modification, positions, orders, and trades.
type Zerodha struct {
	mu sync.RWMutex

	apiKey      string
	apiSecret   string
	accessToken string
	connected   bool
	skewChecked bool

	baseURL    string
	loginURL   string
	httpClient *http.Client

	sink EventSink
	log  zerolog.Logger
}

// ZerodhaConfig holds connection settings for the live adapter.
type ZerodhaConfig struct {
	BaseURL  string        // defaults to "https://api.kite.trade"
	LoginURL string        // defaults to "https://kite.zerodha.com/connect/login"
	Timeout  time.Duration // HTTP client backstop timeout (default: 30s)
}

// NewZerodha creates a live adapter. Credentials arrive at Connect time.
func NewZerodha(cfg *ZerodhaConfig, sink EventSink, log zerolog.Logger) *Zerodha {
	if cfg == nil {
		cfg = &ZerodhaConfig{}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.kite.trade"
	}
	loginURL := cfg.LoginURL
	if loginURL == "" {
		loginURL = "https://kite.zerodha.com/connect/login"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if sink == nil {
		sink = NopSink
	}

	return &Zerodha{
		baseURL:    baseURL,
		loginURL:   loginURL,
		httpClient: &http.Client{Timeout: timeout},
		sink:       sink,
		log:        log.With().Str("component", "zerodha").Logger(),
	}
}

// Name returns "zerodha".
func (z *Zerodha) Name() string { return "zerodha" }

// ════════════════════════════════════════════════════════════════════
// OAuth
// ════════════════════════════════════════════════════════════════════

// LoginURL returns the Kite login page for the given api key. The operator
// completes login there and Kite redirects back with a request_token.
func (z *Zerodha) LoginURL(apiKey string) string {
	return fmt.Sprintf("%s?v=3&api_key=%s", z.loginURL, url.QueryEscape(apiKey))
}

// ExchangeToken swaps a request_token for an access token via
// POST /session/token. The checksum is SHA-256 over api_key +
// request_token + api_secret, hex encoded.
func (z *Zerodha) ExchangeToken(ctx context.Context, apiKey, apiSecret, requestToken string) (models.Credential, error) {
	const op = "zerodha.ExchangeToken"

	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	params := url.Values{}
	params.Set("api_key", apiKey)
	params.Set("request_token", requestToken)
	params.Set("checksum", hex.EncodeToString(sum[:]))

	body, err := z.doRequest(ctx, http.MethodPost, "/session/token", strings.NewReader(params.Encode()))
	if err != nil {
		return models.Credential{}, fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		Data struct {
			AccessToken string `json:"access_token"`
			UserID      string `json:"user_id"`
			UserName    string `json:"user_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Credential{}, Wrap(KindInternal, op, err)
	}
	if resp.Data.AccessToken == "" {
		return models.Credential{}, E(KindAuth, op, "token exchange returned no access token")
	}

	expiry := nextTokenExpiry(time.Now())
	return models.Credential{
		Broker:      "zerodha",
		APIKey:      apiKey,
		APISecret:   apiSecret,
		AccessToken: resp.Data.AccessToken,
		ExpiresAt:   &expiry,
		Extra: map[string]string{
			"user_id":   resp.Data.UserID,
			"user_name": resp.Data.UserName,
		},
	}, nil
}

// nextTokenExpiry returns the next 07:30 IST after now. Kite invalidates
// access tokens at roughly that time each morning.
func nextTokenExpiry(now time.Time) time.Time {
	ist := utils.ToIST(now)
	expiry := time.Date(ist.Year(), ist.Month(), ist.Day(), 7, 30, 0, 0, ist.Location())
	if !expiry.After(ist) {
		expiry = expiry.AddDate(0, 0, 1)
	}
	return expiry
}

// ════════════════════════════════════════════════════════════════════
// Session
// ════════════════════════════════════════════════════════════════════

// Connect stores the credential and verifies the access token with a cheap
// profile call. Connecting an already-connected adapter keeps the session.
func (z *Zerodha) Connect(ctx context.Context, cred models.Credential) error {
	const op = "zerodha.Connect"

	z.mu.Lock()
	if z.connected && z.accessToken == cred.AccessToken {
		z.mu.Unlock()
		return nil
	}
	z.apiKey = cred.APIKey
	z.apiSecret = cred.APISecret
	z.accessToken = cred.AccessToken
	z.connected = false
	z.mu.Unlock()

	if cred.APIKey == "" || cred.AccessToken == "" {
		return E(KindAuth, op, "api key and access token are required")
	}
	if cred.ExpiresAt != nil && !time.Now().Before(*cred.ExpiresAt) {
		return fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	if _, err := z.doRequest(ctx, http.MethodGet, "/user/profile", nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	z.mu.Lock()
	z.connected = true
	z.mu.Unlock()
	z.log.Info().Msg("session established")
	return nil
}

// Disconnect invalidates the session with Kite and clears the token. Safe
// to call after a failed Connect.
func (z *Zerodha) Disconnect(ctx context.Context) error {
	z.mu.Lock()
	key, token := z.apiKey, z.accessToken
	z.accessToken = ""
	z.connected = false
	z.mu.Unlock()

	if key == "" || token == "" {
		return nil
	}
	path := fmt.Sprintf("/session/token?api_key=%s&access_token=%s", url.QueryEscape(key), url.QueryEscape(token))
	if _, err := z.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		// Teardown is best effort. The local session is gone either way.
		z.log.Warn().Err(err).Msg("session invalidation failed")
	}
	return nil
}

// IsConnected is cheap and non-blocking.
func (z *Zerodha) IsConnected() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.connected
}

// markDisconnected flips the session off after a token failure so callers
// see a consistent IsConnected.
func (z *Zerodha) markDisconnected() {
	z.mu.Lock()
	z.connected = false
	z.mu.Unlock()
}

// ════════════════════════════════════════════════════════════════════
// Account
// ════════════════════════════════════════════════════════════════════

// AccountSnapshot returns the equity-segment funds picture from Kite.
func (z *Zerodha) AccountSnapshot(ctx context.Context) (models.AccountSnapshot, error) {
	const op = "zerodha.AccountSnapshot"
	if !z.IsConnected() {
		return models.AccountSnapshot{}, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	body, err := z.doRequest(ctx, http.MethodGet, "/user/margins/equity", nil)
	if err != nil {
		return models.AccountSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		Data struct {
			Net       float64 `json:"net"`
			Available struct {
				Cash        float64 `json:"cash"`
				Collateral  float64 `json:"collateral"`
				LiveBalance float64 `json:"live_balance"`
			} `json:"available"`
			Utilised struct {
				Debits        float64 `json:"debits"`
				M2MRealised   float64 `json:"m2m_realised"`
				M2MUnrealised float64 `json:"m2m_unrealised"`
			} `json:"utilised"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.AccountSnapshot{}, Wrap(KindInternal, op, err)
	}

	d := resp.Data
	return models.AccountSnapshot{
		Equity:           d.Net + d.Utilised.Debits,
		CashAvailable:    d.Available.Cash,
		MarginUsed:       d.Utilised.Debits,
		MarginAvailable:  d.Net,
		RealizedPnLToday: d.Utilised.M2MRealised,
		UnrealizedPnL:    d.Utilised.M2MUnrealised,
		Currency:         "INR",
		Timestamp:        time.Now(),
	}, nil
}

// ════════════════════════════════════════════════════════════════════
// Market Data
// ════════════════════════════════════════════════════════════════════

// Quote fetches the full quote for one instrument.
func (z *Zerodha) Quote(ctx context.Context, inst models.Instrument) (models.Quote, error) {
	const op = "zerodha.Quote"
	if !z.IsConnected() {
		return models.Quote{}, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	key := inst.Key()
	body, err := z.doRequest(ctx, http.MethodGet, "/quote?i="+url.QueryEscape(key), nil)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		Data map[string]struct {
			InstrumentToken int64    `json:"instrument_token"`
			Timestamp       kiteTime `json:"timestamp"`
			LastPrice       float64  `json:"last_price"`
			Volume          int64    `json:"volume"`
			Depth           struct {
				Buy  []kiteDepthEntry `json:"buy"`
				Sell []kiteDepthEntry `json:"sell"`
			} `json:"depth"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Quote{}, Wrap(KindInternal, op, err)
	}

	q, ok := resp.Data[key]
	if !ok {
		return models.Quote{}, E(KindNotFound, op, fmt.Sprintf("no quote for %s", key))
	}

	out := models.Quote{
		InstrumentToken: q.InstrumentToken,
		TradingSymbol:   inst.TradingSymbol,
		Exchange:        inst.Exchange,
		Last:            q.LastPrice,
		Volume:          q.Volume,
		Timestamp:       time.Time(q.Timestamp),
	}
	if len(q.Depth.Buy) > 0 {
		out.Bid = q.Depth.Buy[0].Price
	}
	if len(q.Depth.Sell) > 0 {
		out.Ask = q.Depth.Sell[0].Price
	}
	return out, nil
}

// kiteIntervals maps internal timeframes to Kite candle interval names.
var kiteIntervals = map[models.Timeframe]string{
	models.Timeframe1Min:  "minute",
	models.Timeframe3Min:  "3minute",
	models.Timeframe5Min:  "5minute",
	models.Timeframe15Min: "15minute",
	models.Timeframe30Min: "30minute",
	models.Timeframe1Hour: "60minute",
	models.Timeframe1Day:  "day",
}

// HistoricalBars fetches candles in ascending order. The last bar is
// flagged Partial when its interval has not closed by `to`.
func (z *Zerodha) HistoricalBars(ctx context.Context, inst models.Instrument, tf models.Timeframe, from, to time.Time) ([]models.Bar, error) {
	const op = "zerodha.HistoricalBars"
	if !z.IsConnected() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	interval, ok := kiteIntervals[tf]
	if !ok {
		return nil, E(KindValidation, op, fmt.Sprintf("unsupported timeframe %q", tf))
	}
	if !from.Before(to) {
		return nil, E(KindValidation, op, "from must precede to")
	}

	const layout = "2006-01-02 15:04:05"
	path := fmt.Sprintf("/instruments/historical/%d/%s?from=%s&to=%s",
		inst.InstrumentToken, interval,
		url.QueryEscape(utils.ToIST(from).Format(layout)),
		url.QueryEscape(utils.ToIST(to).Format(layout)))

	body, err := z.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		Data struct {
			Candles [][]json.RawMessage `json:"candles"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Wrap(KindInternal, op, err)
	}

	bars := make([]models.Bar, 0, len(resp.Data.Candles))
	for _, c := range resp.Data.Candles {
		bar, err := parseKiteCandle(c)
		if err != nil {
			return nil, Wrap(KindInternal, op, err)
		}
		bars = append(bars, bar)
	}

	if n := len(bars); n > 0 {
		if bars[n-1].Timestamp.Add(tf.Duration()).After(to) {
			bars[n-1].Partial = true
		}
	}
	return bars, nil
}

// parseKiteCandle decodes one [timestamp, o, h, l, c, volume] tuple.
func parseKiteCandle(c []json.RawMessage) (models.Bar, error) {
	if len(c) < 6 {
		return models.Bar{}, fmt.Errorf("candle has %d fields, want 6", len(c))
	}
	var ts kiteTime
	if err := json.Unmarshal(c[0], &ts); err != nil {
		return models.Bar{}, fmt.Errorf("candle timestamp: %w", err)
	}
	var ohlc [4]float64
	for i := 0; i < 4; i++ {
		if err := json.Unmarshal(c[i+1], &ohlc[i]); err != nil {
			return models.Bar{}, fmt.Errorf("candle value %d: %w", i+1, err)
		}
	}
	var vol int64
	if err := json.Unmarshal(c[5], &vol); err != nil {
		return models.Bar{}, fmt.Errorf("candle volume: %w", err)
	}
	return models.Bar{
		Timestamp: time.Time(ts),
		Open:      ohlc[0],
		High:      ohlc[1],
		Low:       ohlc[2],
		Close:     ohlc[3],
		Volume:    vol,
	}, nil
}

// ════════════════════════════════════════════════════════════════════
// Orders
// ════════════════════════════════════════════════════════════════════

// PlaceOrder submits a regular-variety order and returns the Kite order id.
func (z *Zerodha) PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error) {
	const op = "zerodha.PlaceOrder"
	if !z.IsConnected() {
		return "", fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	if err := ValidateIntent(intent); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("tradingsymbol", intent.Instrument.TradingSymbol)
	params.Set("exchange", intent.Instrument.Exchange)
	params.Set("transaction_type", string(intent.Side))
	params.Set("order_type", string(intent.OrderType))
	params.Set("product", string(intent.Product))
	params.Set("quantity", strconv.Itoa(intent.Quantity))
	validity := intent.Validity
	if validity == "" {
		validity = models.ValidityDay
	}
	params.Set("validity", string(validity))
	if intent.Price > 0 {
		params.Set("price", fmt.Sprintf("%.2f", intent.Price))
	}
	if intent.TriggerPrice > 0 {
		params.Set("trigger_price", fmt.Sprintf("%.2f", intent.TriggerPrice))
	}
	if intent.Tag != "" {
		params.Set("tag", intent.Tag)
	}

	body, err := z.doRequest(ctx, http.MethodPost, "/orders/regular", strings.NewReader(params.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", Wrap(KindInternal, op, err)
	}

	z.sink.Emit(models.Activity{
		Kind:    models.ActivityOrder,
		Level:   models.LevelInfo,
		Symbol:  intent.Instrument.TradingSymbol,
		Message: fmt.Sprintf("%s %d %s @ %s submitted", intent.Side, intent.Quantity, intent.Instrument.TradingSymbol, intent.OrderType),
		Payload: map[string]any{"order_id": resp.Data.OrderID, "tag": intent.Tag},
	})
	return resp.Data.OrderID, nil
}

// ModifyOrder updates a resting regular order.
func (z *Zerodha) ModifyOrder(ctx context.Context, orderID string, changes models.OrderChanges) error {
	const op = "zerodha.ModifyOrder"
	if !z.IsConnected() {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	current, err := z.orderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := ValidateChanges(current, changes); err != nil {
		return err
	}

	params := url.Values{}
	if changes.Quantity > 0 {
		params.Set("quantity", strconv.Itoa(changes.Quantity))
	}
	if changes.Price > 0 {
		params.Set("price", fmt.Sprintf("%.2f", changes.Price))
	}
	if changes.TriggerPrice > 0 {
		params.Set("trigger_price", fmt.Sprintf("%.2f", changes.TriggerPrice))
	}
	if changes.OrderType != "" {
		params.Set("order_type", changes.OrderType)
	}

	if _, err := z.doRequest(ctx, http.MethodPut, "/orders/regular/"+url.PathEscape(orderID), strings.NewReader(params.Encode())); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CancelOrder cancels a resting regular order. Cancelling a terminal order
// returns ErrAlreadyTerminal.
func (z *Zerodha) CancelOrder(ctx context.Context, orderID string) error {
	const op = "zerodha.CancelOrder"
	if !z.IsConnected() {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	current, err := z.orderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("%s: %w", op, ErrAlreadyTerminal)
	}

	if _, err := z.doRequest(ctx, http.MethodDelete, "/orders/regular/"+url.PathEscape(orderID), nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// orderByID fetches the latest state from the order history endpoint.
func (z *Zerodha) orderByID(ctx context.Context, orderID string) (*models.Order, error) {
	body, err := z.doRequest(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []kiteOrder `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Wrap(KindInternal, "zerodha.orderByID", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrOrderNotFound
	}
	// The history endpoint lists states oldest first.
	o := resp.Data[len(resp.Data)-1].toOrder()
	return &o, nil
}

// Orders returns all orders for the current day.
func (z *Zerodha) Orders(ctx context.Context) ([]models.Order, error) {
	const op = "zerodha.Orders"
	if !z.IsConnected() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	body, err := z.doRequest(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		Data []kiteOrder `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Wrap(KindInternal, op, err)
	}

	orders := make([]models.Order, 0, len(resp.Data))
	for _, o := range resp.Data {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

// Positions returns net positions, dropping flat rows.
func (z *Zerodha) Positions(ctx context.Context) ([]models.Position, error) {
	const op = "zerodha.Positions"
	if !z.IsConnected() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	body, err := z.doRequest(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		Data struct {
			Net []struct {
				TradingSymbol string  `json:"tradingsymbol"`
				Exchange      string  `json:"exchange"`
				Product       string  `json:"product"`
				Quantity      int     `json:"quantity"`
				AveragePrice  float64 `json:"average_price"`
				LastPrice     float64 `json:"last_price"`
				PnL           float64 `json:"pnl"`
				Realised      float64 `json:"realised"`
				Unrealised    float64 `json:"unrealised"`
				Value         float64 `json:"value"`
			} `json:"net"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Wrap(KindInternal, op, err)
	}

	positions := make([]models.Position, 0, len(resp.Data.Net))
	for _, p := range resp.Data.Net {
		if p.Quantity == 0 {
			continue
		}
		positions = append(positions, models.Position{
			TradingSymbol: p.TradingSymbol,
			Exchange:      p.Exchange,
			Product:       models.OrderProduct(p.Product),
			NetQuantity:   p.Quantity,
			AvgEntryPrice: p.AveragePrice,
			LastPrice:     p.LastPrice,
			UnrealizedPnL: p.Unrealised,
			RealizedPnL:   p.Realised,
			Value:         p.Value,
		})
	}
	return positions, nil
}

// Trades returns fills at or after since.
func (z *Zerodha) Trades(ctx context.Context, since time.Time) ([]models.Trade, error) {
	const op = "zerodha.Trades"
	if !z.IsConnected() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	body, err := z.doRequest(ctx, http.MethodGet, "/trades", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var resp struct {
		Data []struct {
			TradeID       string   `json:"trade_id"`
			OrderID       string   `json:"order_id"`
			TradingSymbol string   `json:"tradingsymbol"`
			Exchange      string   `json:"exchange"`
			TransType     string   `json:"transaction_type"`
			Quantity      int      `json:"quantity"`
			AveragePrice  float64  `json:"average_price"`
			FillTimestamp kiteTime `json:"fill_timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Wrap(KindInternal, op, err)
	}

	trades := make([]models.Trade, 0, len(resp.Data))
	for _, t := range resp.Data {
		ts := time.Time(t.FillTimestamp)
		if ts.Before(since) {
			continue
		}
		trades = append(trades, models.Trade{
			TradeID:       t.TradeID,
			OrderID:       t.OrderID,
			TradingSymbol: t.TradingSymbol,
			Exchange:      t.Exchange,
			Side:          models.OrderSide(t.TransType),
			Quantity:      t.Quantity,
			Price:         t.AveragePrice,
			Timestamp:     ts,
		})
	}
	return trades, nil
}

// ════════════════════════════════════════════════════════════════════
// Instrument Master
// ════════════════════════════════════════════════════════════════════

// Instruments downloads and parses the full instrument dump
// (GET /instruments, CSV). The catalog refreshes from this.
func (z *Zerodha) Instruments(ctx context.Context) ([]models.Instrument, error) {
	const op = "zerodha.Instruments"

	body, err := z.doRequest(ctx, http.MethodGet, "/instruments", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	insts, err := parseInstrumentsCSV(strings.NewReader(string(body)))
	if err != nil {
		return nil, Wrap(KindInternal, op, err)
	}
	return insts, nil
}

// parseInstrumentsCSV decodes the Kite instrument master. Column order:
// instrument_token, exchange_token, tradingsymbol, name, last_price,
// expiry, strike, tick_size, lot_size, instrument_type, segment, exchange.
func parseInstrumentsCSV(r io.Reader) ([]models.Instrument, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"instrument_token", "tradingsymbol", "exchange", "instrument_type"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("instrument dump missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var out []models.Instrument
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		token, err := strconv.ParseInt(field(rec, "instrument_token"), 10, 64)
		if err != nil {
			continue
		}
		inst := models.Instrument{
			InstrumentToken: token,
			Exchange:        field(rec, "exchange"),
			TradingSymbol:   field(rec, "tradingsymbol"),
			Name:            field(rec, "name"),
		}
		inst.TickSize, _ = strconv.ParseFloat(field(rec, "tick_size"), 64)
		inst.Strike, _ = strconv.ParseFloat(field(rec, "strike"), 64)
		if lot, err := strconv.Atoi(field(rec, "lot_size")); err == nil && lot > 0 {
			inst.LotSize = lot
		} else {
			inst.LotSize = 1
		}
		if exp := field(rec, "expiry"); exp != "" {
			if t, err := utils.ParseDateIST(exp); err == nil {
				inst.Expiry = &t
			}
		}

		switch field(rec, "instrument_type") {
		case "FUT":
			inst.Segment = models.SegmentFutures
		case "CE":
			inst.Segment = models.SegmentOptions
			inst.OptionType = models.OptionCall
		case "PE":
			inst.Segment = models.SegmentOptions
			inst.OptionType = models.OptionPut
		default:
			if strings.Contains(field(rec, "segment"), "INDICES") {
				inst.Segment = models.SegmentIndex
			} else {
				inst.Segment = models.SegmentEquity
			}
		}
		out = append(out, inst)
	}
	return out, nil
}

// ════════════════════════════════════════════════════════════════════
// HTTP Plumbing
// ════════════════════════════════════════════════════════════════════

// kiteError is the vendor's failure envelope.
type kiteError struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

func (z *Zerodha) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	const op = "zerodha.doRequest"

	z.mu.RLock()
	key, token := z.apiKey, z.accessToken
	z.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, method, z.baseURL+path, body)
	if err != nil {
		return nil, Wrap(KindInternal, op, err)
	}
	req.Header.Set("X-Kite-Version", "3")
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", key, token))
	}
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return nil, Wrap(KindNetwork, op, err)
	}
	defer resp.Body.Close()

	z.checkClockSkew(resp)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Wrap(KindNetwork, op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return nil, z.classifyVendorError(resp.StatusCode, respBody)
}

// classifyVendorError maps a Kite failure to the error taxonomy.
func (z *Zerodha) classifyVendorError(status int, body []byte) error {
	const op = "zerodha.api"

	var ke kiteError
	_ = json.Unmarshal(body, &ke)
	msg := ke.Message
	if msg == "" {
		msg = fmt.Sprintf("kite api error (HTTP %d)", status)
	}

	// Token failures invalidate the session whatever the status code.
	if ke.ErrorType == "TokenException" {
		z.markDisconnected()
		return &Error{Kind: KindAuth, Op: op, Message: msg, Err: ErrTokenExpired}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return E(KindRateLimited, op, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		z.markDisconnected()
		return E(KindAuth, op, msg)
	case status == http.StatusNotFound:
		return E(KindNotFound, op, msg)
	case status >= 500:
		return E(KindVendorUnavailable, op, msg)
	case ke.ErrorType == "InputException", status == http.StatusBadRequest:
		return E(KindValidation, op, msg)
	default:
		return E(KindInternal, op, msg)
	}
}

// checkClockSkew compares the vendor's Date header against the local clock
// once per session. Order timestamps and token expiry math assume the two
// agree to within a minute.
func (z *Zerodha) checkClockSkew(resp *http.Response) {
	z.mu.Lock()
	if z.skewChecked {
		z.mu.Unlock()
		return
	}
	z.skewChecked = true
	z.mu.Unlock()

	serverDate, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		return
	}
	skew := time.Since(serverDate)
	if skew < 0 {
		skew = -skew
	}
	if skew > time.Minute {
		z.log.Warn().Dur("skew", skew).Msg("local clock deviates from vendor clock")
		z.sink.Emit(models.Activity{
			Kind:    models.ActivityWarning,
			Level:   models.LevelWarning,
			Message: fmt.Sprintf("local clock deviates from vendor clock by %s", skew.Round(time.Second)),
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// Vendor Types
// ════════════════════════════════════════════════════════════════════

// kiteTime decodes the two timestamp layouts Kite responses use.
type kiteTime time.Time

func (kt *kiteTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*kt = kiteTime(time.Time{})
		return nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05-0700"} {
		if t, err := time.ParseInLocation(layout, s, utils.IST); err == nil {
			*kt = kiteTime(t)
			return nil
		}
	}
	return fmt.Errorf("unrecognized kite timestamp %q", s)
}

// kiteDepthEntry is one level of the order book.
type kiteDepthEntry struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Orders   int     `json:"orders"`
}

// kiteOrder is the vendor order row shared by /orders and /orders/{id}.
type kiteOrder struct {
	OrderID        string   `json:"order_id"`
	TradingSymbol  string   `json:"tradingsymbol"`
	Exchange       string   `json:"exchange"`
	TransType      string   `json:"transaction_type"`
	OrderType      string   `json:"order_type"`
	Product        string   `json:"product"`
	Validity       string   `json:"validity"`
	Quantity       int      `json:"quantity"`
	FilledQty      int      `json:"filled_quantity"`
	PendingQty     int      `json:"pending_quantity"`
	Price          float64  `json:"price"`
	TriggerPrice   float64  `json:"trigger_price"`
	AveragePrice   float64  `json:"average_price"`
	Status         string   `json:"status"`
	StatusMessage  string   `json:"status_message"`
	OrderTimestamp kiteTime `json:"order_timestamp"`
	Tag            string   `json:"tag"`
}

func (o kiteOrder) toOrder() models.Order {
	status := mapKiteStatus(o.Status)
	// A COMPLETE report that still carries unfilled quantity means the
	// remainder died with the order; report it as cancelled.
	if status == models.OrderComplete && o.PendingQty > 0 {
		status = models.OrderCancelled
	}
	return models.Order{
		OrderID:       o.OrderID,
		TradingSymbol: o.TradingSymbol,
		Exchange:      o.Exchange,
		Side:          models.OrderSide(o.TransType),
		OrderType:     models.OrderType(o.OrderType),
		Product:       models.OrderProduct(o.Product),
		Validity:      models.OrderValidity(o.Validity),
		Quantity:      o.Quantity,
		FilledQty:     o.FilledQty,
		PendingQty:    o.PendingQty,
		Price:         o.Price,
		TriggerPrice:  o.TriggerPrice,
		AvgFillPrice:  o.AveragePrice,
		Status:        status,
		StatusMessage: o.StatusMessage,
		CreatedAt:     time.Time(o.OrderTimestamp),
		UpdatedAt:     time.Time(o.OrderTimestamp),
		Tag:           o.Tag,
	}
}

// mapKiteStatus folds Kite's many order states into the internal machine.
// Everything that is neither resting nor terminal is still pending.
func mapKiteStatus(status string) models.OrderStatus {
	switch s := strings.ToUpper(status); {
	case s == "COMPLETE":
		return models.OrderComplete
	case strings.Contains(s, "CANCELLED"):
		return models.OrderCancelled
	case s == "REJECTED":
		return models.OrderRejected
	case s == "OPEN", s == "TRIGGER PENDING":
		return models.OrderOpen
	default:
		return models.OrderPending
	}
}
