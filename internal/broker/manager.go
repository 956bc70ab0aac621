package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Adapter Manager
// ════════════════════════════════════════════════════════════════════

// Manager owns the process's broker adapters. Adapters are constructed
// lazily, once, and live for the process; Connect/Disconnect toggle their
// sessions. At most one adapter is "current" — the one the supervisor
// trades through and the control plane reports on.
//
// The live adapter is always wrapped in the Guard (retry, circuit breaker,
// request pacing). The paper simulator runs bare: it has no transport to
// fail and pacing it would only slow ticks down.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Broker
	kite     *Zerodha // unwrapped live adapter, for OAuth flows
	current  string

	sink EventSink
	log  zerolog.Logger
}

// NewManager builds an empty manager. Adapters appear on first Get.
func NewManager(sink EventSink, log zerolog.Logger) *Manager {
	if sink == nil {
		sink = NopSink
	}
	return &Manager{
		adapters: make(map[string]Broker),
		sink:     sink,
		log:      log.With().Str("component", "broker-manager").Logger(),
	}
}

// Get returns the adapter for name, constructing it on first use.
func (m *Manager) Get(name string) (Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(name)
}

func (m *Manager) getLocked(name string) (Broker, error) {
	if b, ok := m.adapters[name]; ok {
		return b, nil
	}

	switch name {
	case "paper":
		// The live adapter, when connected, feeds the simulator real
		// quotes; otherwise the synthetic walk takes over.
		ref, _ := m.getLocked("zerodha")
		b := NewPaper(&PaperConfig{Reference: ref}, m.sink, m.log)
		m.adapters[name] = b
		return b, nil
	case "zerodha":
		m.kite = NewZerodha(nil, m.sink, m.log)
		b := NewGuard(m.kite, DefaultRetryPolicy(), m.log)
		m.adapters[name] = b
		return b, nil
	default:
		return nil, E(KindValidation, "broker.Get", fmt.Sprintf("unsupported broker %q", name))
	}
}

// Kite returns the unwrapped live adapter for OAuth flows (login URL,
// token exchange). These run before a session exists, so they bypass the
// Guard deliberately.
func (m *Manager) Kite() *Zerodha {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kite == nil {
		_, _ = m.getLocked("zerodha")
	}
	return m.kite
}

// Connect establishes a session on cred.Broker and makes it current.
func (m *Manager) Connect(ctx context.Context, cred models.Credential) error {
	const op = "broker.Connect"

	b, err := m.Get(cred.Broker)
	if err != nil {
		return err
	}
	if err := b.Connect(ctx, cred); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	m.current = cred.Broker
	m.mu.Unlock()

	m.log.Info().Str("broker", cred.Broker).Msg("broker connected")
	return nil
}

// Disconnect tears down the current adapter's session. Disconnecting with
// nothing current is a no-op.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	name := m.current
	b := m.adapters[name]
	m.current = ""
	m.mu.Unlock()

	if name == "" || b == nil {
		return nil
	}
	if err := b.Disconnect(ctx); err != nil {
		return fmt.Errorf("broker.Disconnect: %w", err)
	}
	m.log.Info().Str("broker", name).Msg("broker disconnected")
	return nil
}

// Current returns the current adapter, if one was connected.
func (m *Manager) Current() (Broker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.adapters[m.current]
	return b, ok && m.current != ""
}

// CurrentName returns the current adapter's name, or "".
func (m *Manager) CurrentName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ConnectionStatus is the control-plane view of the broker session.
type ConnectionStatus struct {
	Broker    string `json:"broker,omitempty"`
	Connected bool   `json:"connected"`
}

// Status reports the current connection without touching the network.
func (m *Manager) Status() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.adapters[m.current]
	if m.current == "" || !ok {
		return ConnectionStatus{}
	}
	return ConnectionStatus{Broker: m.current, Connected: b.IsConnected()}
}
