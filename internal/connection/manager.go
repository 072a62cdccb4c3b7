package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"orderbot_backend/internal/events"
	"orderbot_backend/internal/whatsapp"
	"orderbot_backend/platform/apperr"
	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// restartSpacing is the minimum interval between browser restarts enforced
// by the rate limiter; restarts arriving faster fall through to the
// critical-health path.
const restartSpacing = 2 * time.Minute

// Manager is the connection lifecycle state machine. It is the only writer
// of State and SessionHealth; it owns the chat-client handle and translates
// the client's callback-style events into state transitions and bus events.
type Manager struct {
	client  whatsapp.Client
	session *SessionStore
	cfg     config.ConnectionConfig
	log     *logger.Logger
	bus     events.Bus

	sf             singleflight.Group
	restartLimiter *rate.Limiter

	mu             sync.Mutex
	state          State
	health         SessionHealth
	qrCode         string
	connectedAt    time.Time
	terminal       bool // explicit logout observed; no automatic reconnects
	stopped        bool
	reconnectTimer *time.Timer
	initDone       chan error

	now func() time.Time
}

// NewManager creates the lifecycle manager. It does not touch the client
// until Run and Initialize are called.
func NewManager(client whatsapp.Client, session *SessionStore, cfg config.ConnectionConfig, bus events.Bus, log *logger.Logger) *Manager {
	return &Manager{
		client:         client,
		session:        session,
		cfg:            cfg,
		log:            log.WithComponent("connection"),
		bus:            bus,
		restartLimiter: rate.NewLimiter(rate.Every(restartSpacing), 1),
		state:          StateNotInitialized,
		health:         healthDefaults(),
		now:            time.Now,
	}
}

// Run consumes the client event stream until the context is done or the
// stream closes. It must be running before Initialize is called.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.client.Events():
			if !ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

// Initialize starts or resumes a session. Concurrent callers share one
// in-flight attempt; the call blocks until the client is ready, a pairing
// challenge stands, or the hard deadline aborts the attempt.
func (m *Manager) Initialize(ctx context.Context) error {
	_, err, _ := m.sf.Do("initialize", func() (interface{}, error) {
		return nil, m.initialize(ctx)
	})
	return err
}

func (m *Manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return apperr.Unavailable("engine stopped")
	}
	if m.terminal {
		m.mu.Unlock()
		return apperr.Conflict("session was logged out; clear the session before reconnecting")
	}
	m.stopTimerLocked()
	prev := m.state
	m.state = StateInitializing
	done := make(chan error, 1)
	m.initDone = done
	m.mu.Unlock()

	m.log.ConnectionEvent(string(prev), string(StateInitializing), "initialize")

	// A corrupted session would fail to resume on every attempt; purge it
	// up front so the client pairs fresh instead.
	if err := m.session.CheckIntegrity(); err != nil {
		m.log.Warn("session integrity check failed, purging", "error", err.Error())
		if purgeErr := m.session.Purge(); purgeErr != nil {
			return purgeErr
		}
		m.publish(events.SessionCleared{BaseEvent: events.NewBaseEvent(), Reason: err.Error()})
	}

	ictx, cancel := context.WithTimeout(ctx, m.cfg.GetInitTimeout())
	defer cancel()

	if err := m.client.Initialize(ictx); err != nil {
		m.teardownClient()
		return m.failInitialization(fmt.Errorf("client initialize: %w", err))
	}

	select {
	case <-ictx.Done():
		// The deadline tears down any partially-created handle and feeds
		// the same failure path as an authentication failure.
		m.teardownClient()
		return m.failInitialization(fmt.Errorf("initialization deadline exceeded after %s", m.cfg.GetInitTimeout()))
	case err := <-done:
		if err != nil {
			m.teardownClient()
			return m.failInitialization(err)
		}
		return nil
	}
}

// failInitialization purges the session and schedules a fresh pairing
// cycle; the caller gets a needs-re-pairing error.
func (m *Manager) failInitialization(cause error) error {
	m.setState(StateError, cause.Error())

	if err := m.session.Purge(); err != nil {
		m.log.Error("session purge after failed initialization", "error", err)
	} else {
		m.publish(events.SessionCleared{BaseEvent: events.NewBaseEvent(), Reason: cause.Error()})
	}

	m.scheduleReconnect()
	return apperr.Wrap(apperr.KindUnauthorized, "needs re-pairing", cause)
}

func (m *Manager) handleEvent(ev whatsapp.Event) {
	switch ev.Kind {
	case whatsapp.EventQR:
		m.mu.Lock()
		m.qrCode = ev.QRCode
		prev := m.state
		m.state = StateWaitingForPairing
		m.mu.Unlock()
		m.log.ConnectionEvent(string(prev), string(StateWaitingForPairing), "pairing challenge")
		m.publish(events.PairingRequired{BaseEvent: events.NewBaseEvent(), Code: ev.QRCode})

	case whatsapp.EventAuthenticated:
		m.setState(StateAuthenticating, "authenticated")

	case whatsapp.EventReady:
		m.onConnected()

	case whatsapp.EventAuthFailure:
		err := fmt.Errorf("authentication failure: %s", ev.Reason)
		if !m.signalInit(err) {
			// No initialize in flight: resolve the broken session directly.
			m.setState(StateError, err.Error())
			if purgeErr := m.session.Purge(); purgeErr != nil {
				m.log.Error("session purge after auth failure", "error", purgeErr)
			} else {
				m.publish(events.SessionCleared{BaseEvent: events.NewBaseEvent(), Reason: err.Error()})
			}
			m.scheduleReconnect()
		}

	case whatsapp.EventDisconnected:
		m.onDisconnect(ev.Reason)

	case whatsapp.EventStateChanged:
		if ev.State.Terminal() {
			// Do not wait for the client's own disconnect event.
			m.onDisconnect("client state " + string(ev.State))
		}
	}
}

// onConnected resets health to its defaults and flips the state machine to
// Connected. A previously paired session resuming silently takes the same
// path as a fresh pairing.
func (m *Manager) onConnected() {
	m.mu.Lock()
	prev := m.state
	restored := prev == StateInitializing
	m.state = StateConnected
	m.qrCode = ""
	m.connectedAt = m.now()
	m.health = healthDefaults()
	m.health.IsConnected = true
	m.health.LastHeartbeat = m.now()
	m.stopTimerLocked()
	m.mu.Unlock()

	m.log.ConnectionEvent(string(prev), string(StateConnected), "ready")
	m.publish(events.ConnectionEstablished{BaseEvent: events.NewBaseEvent(), Restored: restored})
	m.signalInit(nil)
}

func (m *Manager) onDisconnect(reason string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = StateDisconnected
	m.health.IsConnected = false
	m.mu.Unlock()

	m.log.ConnectionEvent(string(prev), string(StateDisconnected), reason)

	switch classifyDisconnect(reason) {
	case disconnectLogout:
		m.mu.Lock()
		m.terminal = true
		m.mu.Unlock()
		m.publish(events.ConnectionLost{BaseEvent: events.NewBaseEvent(), Reason: reason, Terminal: true})

	case disconnectTakeover:
		m.publish(events.ConnectionLost{BaseEvent: events.NewBaseEvent(), Reason: reason})
		if err := m.session.Purge(); err != nil {
			m.log.Error("session purge after takeover", "error", err)
		} else {
			m.publish(events.SessionCleared{BaseEvent: events.NewBaseEvent(), Reason: reason})
		}
		m.scheduleReconnect()

	default:
		m.publish(events.ConnectionLost{BaseEvent: events.NewBaseEvent(), Reason: reason})
		m.scheduleReconnect()
	}
}

type disconnectClass int

const (
	disconnectTransient disconnectClass = iota
	disconnectLogout
	disconnectTakeover
)

func classifyDisconnect(reason string) disconnectClass {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "logout") || strings.Contains(lower, "logged out"):
		return disconnectLogout
	case strings.Contains(lower, "conflict") || strings.Contains(lower, "takeover") || strings.Contains(lower, "replaced"):
		return disconnectTakeover
	default:
		return disconnectTransient
	}
}

// scheduleReconnect queues the next attempt with exponential backoff, or
// escalates to a client restart once attempts are exhausted.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.stopped || m.terminal {
		m.mu.Unlock()
		return
	}

	attempt := m.health.ReconnectAttempts + 1
	if attempt > m.cfg.GetReconnectMaxAttempts() {
		m.mu.Unlock()
		m.escalateRestart()
		return
	}

	delay := BackoffDelay(m.cfg.GetReconnectBaseDelay(), m.cfg.GetReconnectMaxDelay(), attempt)
	m.health.ReconnectAttempts = attempt
	m.health.LastReconnectTime = m.now()
	m.stopTimerLocked()
	m.reconnectTimer = time.AfterFunc(delay, func() {
		if err := m.Initialize(context.Background()); err != nil {
			m.log.Warn("scheduled reconnect failed", "error", err.Error())
		}
	})
	m.mu.Unlock()

	m.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay.String())
	m.publish(events.ReconnectScheduled{BaseEvent: events.NewBaseEvent(), Attempt: attempt, Delay: delay})
}

// escalateRestart performs a full client restart. Restarts are rate-limited
// and capped; past the cap the session is force-purged, health degrades to
// critical, and retries continue on the long fixed delay.
func (m *Manager) escalateRestart() {
	m.mu.Lock()
	m.health.BrowserRestarts++
	restarts := m.health.BrowserRestarts
	m.health.ReconnectAttempts = 0
	overLimit := restarts > m.cfg.GetRestartLimit()
	m.mu.Unlock()

	if overLimit {
		m.log.Warn("restart limit exceeded, forcing session purge", "restarts", restarts)
		if err := m.session.Purge(); err != nil {
			m.log.Error("forced session purge failed", "error", err)
		} else {
			m.publish(events.SessionCleared{BaseEvent: events.NewBaseEvent(), Reason: "restart limit exceeded"})
		}
		m.degradeToCritical("restart limit exceeded")
		return
	}

	if !m.restartLimiter.Allow() {
		m.degradeToCritical("restarting too frequently")
		return
	}

	m.log.Warn("escalating to client restart", "restart", restarts)
	m.teardownClient()
	go func() {
		if err := m.Initialize(context.Background()); err != nil {
			m.log.Warn("restart initialization failed", "error", err.Error())
		}
	}()
}

func (m *Manager) degradeToCritical(reason string) {
	m.mu.Lock()
	m.health.SessionHealth = HealthCritical
	m.stopTimerLocked()
	m.reconnectTimer = time.AfterFunc(m.cfg.GetCriticalRetryDelay(), func() {
		if err := m.Initialize(context.Background()); err != nil {
			m.log.Warn("critical retry failed", "error", err.Error())
		}
	})
	m.mu.Unlock()

	m.publish(events.HealthDegraded{BaseEvent: events.NewBaseEvent(), Level: string(HealthCritical), Reason: reason})
}

// =============================================================================
// Operator actions
// =============================================================================

// ForceReconnect tears the client down and starts a fresh attempt,
// resetting the backoff schedule.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	m.terminal = false
	m.health.ReconnectAttempts = 0
	m.stopTimerLocked()
	m.mu.Unlock()

	m.teardownClient()
	return m.Initialize(ctx)
}

// ClearSession destroys the client, purges the on-disk session, and resets
// all health bookkeeping. The next Initialize pairs from scratch.
func (m *Manager) ClearSession(ctx context.Context) error {
	m.teardownClient()

	if err := m.session.Purge(); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateNotInitialized
	m.terminal = false
	m.qrCode = ""
	m.health = healthDefaults()
	m.stopTimerLocked()
	m.mu.Unlock()

	m.publish(events.SessionCleared{BaseEvent: events.NewBaseEvent(), Reason: "operator request"})
	_ = ctx
	return nil
}

// HealthCheck probes client state immediately and returns the status snapshot.
func (m *Manager) HealthCheck(ctx context.Context) (Status, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	state, err := m.client.GetState(probeCtx)
	if err != nil {
		return m.Status(), err
	}

	m.mu.Lock()
	m.health.LastHeartbeat = m.now()
	m.mu.Unlock()

	if state.Terminal() {
		m.onDisconnect("health check found client state " + string(state))
	}
	return m.Status(), nil
}

// Stop halts reconnect scheduling and destroys the client handle.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	m.stopped = true
	m.stopTimerLocked()
	m.mu.Unlock()

	if err := m.client.Destroy(ctx); err != nil {
		m.log.Warn("client destroy on stop", "error", err.Error())
	}
}

// =============================================================================
// Read surface
// =============================================================================

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the chat client is ready to send.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Gate is the fast-fail check installed on chat-client executors.
func (m *Manager) Gate() error {
	if !m.IsConnected() {
		return apperr.Unavailable("chat connection is down")
	}
	return nil
}

// Status returns the operator-facing snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	health := m.health
	uptime := time.Duration(0)
	if health.IsConnected && !m.connectedAt.IsZero() {
		uptime = m.now().Sub(m.connectedAt)
	}
	health.TotalUptime = uptime.Truncate(time.Second).String()

	return Status{
		ConnectionState:   m.state,
		SessionHealth:     health,
		QRCode:            m.qrCode,
		Uptime:            health.TotalUptime,
		ReconnectAttempts: health.ReconnectAttempts,
	}
}

// =============================================================================
// Hooks for the health monitor and outbound worker
// =============================================================================

// MarkHeartbeat records a successful liveness probe.
func (m *Manager) MarkHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health.LastHeartbeat = m.now()
}

// Degrade lowers sessionHealth one level and announces it.
func (m *Manager) Degrade(reason string) {
	m.mu.Lock()
	level := HealthDegraded
	if m.health.SessionHealth == HealthDegraded || m.health.SessionHealth == HealthCritical {
		level = HealthCritical
	}
	m.health.SessionHealth = level
	m.mu.Unlock()

	m.publish(events.HealthDegraded{BaseEvent: events.NewBaseEvent(), Level: string(level), Reason: reason})
}

// TriggerDisconnect feeds an externally detected failure (health probe,
// session corruption) into the regular disconnect path.
func (m *Manager) TriggerDisconnect(reason string) {
	m.teardownClient()
	m.onDisconnect(reason)
}

// NoteSuccessfulSend records the last successful outbound delivery.
func (m *Manager) NoteSuccessfulSend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health.LastSuccessfulSend = m.now()
}

// =============================================================================
// Helpers
// =============================================================================

// BackoffDelay is min(base*2^(attempt-1), cap); attempt counts from 1.
func BackoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

func (m *Manager) setState(next State, reason string) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()
	m.log.ConnectionEvent(string(prev), string(next), reason)
}

// signalInit resolves an in-flight initialize wait. Returns false when no
// initialize was waiting.
func (m *Manager) signalInit(err error) bool {
	m.mu.Lock()
	done := m.initDone
	m.initDone = nil
	m.mu.Unlock()

	if done == nil {
		return false
	}
	done <- err
	return true
}

func (m *Manager) teardownClient() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.client.Destroy(ctx); err != nil {
		m.log.Debug("client destroy", "error", err.Error())
	}
}

func (m *Manager) stopTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(context.Background(), ev)
	}
}
