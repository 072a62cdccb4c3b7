package connection

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"orderbot_backend/internal/whatsapp"
	"orderbot_backend/platform/apperr"
	"orderbot_backend/platform/logger"
)

type managerTestConfig struct {
	initTimeout time.Duration
}

func (c managerTestConfig) GetInitTimeout() time.Duration {
	if c.initTimeout != 0 {
		return c.initTimeout
	}
	return 2 * time.Second
}
func (managerTestConfig) GetReconnectBaseDelay() time.Duration { return 10 * time.Millisecond }
func (managerTestConfig) GetReconnectMaxDelay() time.Duration  { return 80 * time.Millisecond }
func (managerTestConfig) GetReconnectMaxAttempts() int         { return 3 }
func (managerTestConfig) GetRestartLimit() int                 { return 2 }
func (managerTestConfig) GetCriticalRetryDelay() time.Duration { return time.Hour }
func (managerTestConfig) GetSessionMaxBytes() int64            { return 1 << 20 }

type fakeClient struct {
	mu           sync.Mutex
	events       chan whatsapp.Event
	initCalls    int
	destroyCalls int
	initRelease  chan struct{} // when non-nil, Initialize blocks until signaled
	initStarted  chan struct{}
	state        whatsapp.ClientState
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events: make(chan whatsapp.Event, 16),
		state:  whatsapp.StateConnected,
	}
}

func (f *fakeClient) Initialize(ctx context.Context) error {
	f.mu.Lock()
	f.initCalls++
	started := f.initStarted
	release := f.initRelease
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeClient) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyCalls++
	return nil
}

func (f *fakeClient) GetState(context.Context) (whatsapp.ClientState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeClient) SendMessage(context.Context, string, string) error { return nil }
func (f *fakeClient) IsRegistered(context.Context, string) (bool, error) {
	return true, nil
}
func (f *fakeClient) Events() <-chan whatsapp.Event { return f.events }

func (f *fakeClient) initCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

func newTestManager(t *testing.T, client whatsapp.Client) (*Manager, context.CancelFunc) {
	t.Helper()
	log := logger.New("development")
	session := NewSessionStore(filepath.Join(t.TempDir(), "session"), 1<<20, log)
	m := NewManager(client, session, managerTestConfig{}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	return m, cancel
}

func TestInitializeBecomesConnectedOnReady(t *testing.T) {
	client := newFakeClient()
	m, cancel := newTestManager(t, client)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Initialize(context.Background()) }()

	waitFor(t, func() bool { return client.initCount() == 1 })
	client.events <- whatsapp.Event{Kind: whatsapp.EventReady}

	if err := <-done; err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if m.State() != StateConnected {
		t.Fatalf("expected connected, got %s", m.State())
	}
	status := m.Status()
	if !status.SessionHealth.IsConnected {
		t.Fatal("expected health to report connected")
	}
	if status.SessionHealth.SessionHealth != HealthHealthy {
		t.Fatalf("expected healthy after connect, got %s", status.SessionHealth.SessionHealth)
	}
}

func TestInitializeIsSingleFlight(t *testing.T) {
	client := newFakeClient()
	client.initStarted = make(chan struct{}, 2)
	client.initRelease = make(chan struct{})
	m, cancel := newTestManager(t, client)
	defer cancel()

	results := make(chan error, 2)
	go func() { results <- m.Initialize(context.Background()) }()
	<-client.initStarted // first attempt is in flight

	go func() { results <- m.Initialize(context.Background()) }()
	time.Sleep(50 * time.Millisecond) // second caller parks on the shared flight

	close(client.initRelease)
	client.events <- whatsapp.Event{Kind: whatsapp.EventReady}

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := client.initCount(); got != 1 {
		t.Fatalf("expected one underlying initialize, got %d", got)
	}
}

func TestQRCodeMovesToWaitingForPairing(t *testing.T) {
	client := newFakeClient()
	m, cancel := newTestManager(t, client)
	defer cancel()

	go func() { _ = m.Initialize(context.Background()) }()
	waitFor(t, func() bool { return client.initCount() == 1 })

	client.events <- whatsapp.Event{Kind: whatsapp.EventQR, QRCode: "pairing-code"}
	waitFor(t, func() bool { return m.State() == StateWaitingForPairing })

	if m.Status().QRCode != "pairing-code" {
		t.Fatalf("expected qr code in status, got %q", m.Status().QRCode)
	}

	client.events <- whatsapp.Event{Kind: whatsapp.EventAuthenticated}
	waitFor(t, func() bool { return m.State() == StateAuthenticating })

	client.events <- whatsapp.Event{Kind: whatsapp.EventReady}
	waitFor(t, func() bool { return m.State() == StateConnected })

	if m.Status().QRCode != "" {
		t.Fatal("expected qr code cleared after connect")
	}
}

func TestInitializeDeadlineFailsAsRepairing(t *testing.T) {
	client := newFakeClient()
	client.initRelease = make(chan struct{}) // never released: ready never arrives
	log := logger.New("development")
	session := NewSessionStore(filepath.Join(t.TempDir(), "session"), 1<<20, log)
	m := NewManager(client, session, managerTestConfig{initTimeout: 50 * time.Millisecond}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	err := m.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected deadline failure")
	}
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected needs-re-pairing error, got %v", err)
	}
}

func TestDisconnectSchedulesReconnectAndReadyResets(t *testing.T) {
	client := newFakeClient()
	m, cancel := newTestManager(t, client)
	defer cancel()

	connect(t, m, client)

	client.events <- whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: "NAVIGATION"}
	waitFor(t, func() bool { return client.initCount() >= 2 }) // reconnect fired

	client.events <- whatsapp.Event{Kind: whatsapp.EventReady}
	waitFor(t, func() bool { return m.State() == StateConnected })

	if got := m.Status().ReconnectAttempts; got != 0 {
		t.Fatalf("expected attempts reset after reconnect, got %d", got)
	}
}

func TestLogoutIsTerminal(t *testing.T) {
	client := newFakeClient()
	m, cancel := newTestManager(t, client)
	defer cancel()

	connect(t, m, client)

	client.events <- whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: "user logout"}
	waitFor(t, func() bool { return m.State() == StateDisconnected })

	// No reconnect may fire, and initialize refuses until the session is cleared.
	time.Sleep(100 * time.Millisecond)
	if got := client.initCount(); got != 1 {
		t.Fatalf("expected no reconnect after logout, got %d initializes", got)
	}
	if err := m.Initialize(context.Background()); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict until session cleared, got %v", err)
	}
}

func TestTakeoverPurgesSessionThenReconnects(t *testing.T) {
	client := newFakeClient()
	log := logger.New("development")
	dir := filepath.Join(t.TempDir(), "session")
	seedSession(t, dir)
	session := NewSessionStore(dir, 1<<20, log)
	m := NewManager(client, session, managerTestConfig{}, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	connect(t, m, client)

	client.events <- whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: "session takeover by another device"}
	waitFor(t, func() bool { return !session.Exists() })
	waitFor(t, func() bool { return client.initCount() >= 2 })
}

func TestClearSessionResetsEverything(t *testing.T) {
	client := newFakeClient()
	m, cancel := newTestManager(t, client)
	defer cancel()

	connect(t, m, client)

	if err := m.ClearSession(context.Background()); err != nil {
		t.Fatalf("clear session: %v", err)
	}
	if m.State() != StateNotInitialized {
		t.Fatalf("expected not_initialized, got %s", m.State())
	}
	status := m.Status()
	if status.SessionHealth.SessionHealth != HealthHealthy {
		t.Fatalf("expected healthy defaults, got %s", status.SessionHealth.SessionHealth)
	}
	if status.SessionHealth.IsConnected {
		t.Fatal("expected disconnected after session clear")
	}
}

func TestBackoffDelayGrowthAndCap(t *testing.T) {
	base := 3 * time.Second
	cap := 30 * time.Second

	want := []time.Duration{
		3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second,
		30 * time.Second, 30 * time.Second,
	}
	prev := time.Duration(0)
	for i, expected := range want {
		got := BackoffDelay(base, cap, i+1)
		if got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, expected, got)
		}
		if got < prev {
			t.Fatalf("attempt %d: delay decreased from %v to %v", i+1, prev, got)
		}
		prev = got
	}
}

func TestGateFailsFastWhileDisconnected(t *testing.T) {
	client := newFakeClient()
	m, cancel := newTestManager(t, client)
	defer cancel()

	if err := m.Gate(); !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable before connect, got %v", err)
	}

	connect(t, m, client)
	if err := m.Gate(); err != nil {
		t.Fatalf("expected open gate while connected, got %v", err)
	}
}

// connect drives the manager to Connected through a full initialize.
func connect(t *testing.T, m *Manager, client *fakeClient) {
	t.Helper()
	before := client.initCount()

	done := make(chan error, 1)
	go func() { done <- m.Initialize(context.Background()) }()
	waitFor(t, func() bool { return client.initCount() > before })
	client.events <- whatsapp.Event{Kind: whatsapp.EventReady}
	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func seedSession(t *testing.T, dir string) {
	t.Helper()
	for _, sub := range []string{
		filepath.Join(dir, "Default", "Local Storage"),
		filepath.Join(dir, "Default", "IndexedDB"),
	} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
