// Package alerts emails an operator when the engine needs a human:
// critical health, a pairing challenge, or a terminal logout.
package alerts

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"orderbot_backend/internal/events"
	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"

	gomail "github.com/wneessen/go-mail"
)

// throttle is the minimum interval between alerts of the same subject,
// so a flapping connection does not flood the operator inbox.
const throttle = 15 * time.Minute

// Mailer subscribes to the events that warrant operator attention and
// delivers them over SMTP.
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
	log      *logger.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
	deliver  func(ctx context.Context, subject, body string) error
}

// NewMailer creates the mailer, or nil when alerts are not configured.
// A nil Mailer is safe to pass around; Register on nil is a no-op.
func NewMailer(cfg config.AlertConfig, log *logger.Logger) *Mailer {
	if !cfg.IsAlertsEnabled() {
		return nil
	}
	m := &Mailer{
		host:     cfg.GetSMTPHost(),
		port:     cfg.GetSMTPPort(),
		username: cfg.GetSMTPUsername(),
		password: cfg.GetSMTPPassword(),
		from:     cfg.GetAlertFromAddress(),
		to:       cfg.GetAlertToAddress(),
		log:      log.WithComponent("alerts"),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
	m.deliver = m.send
	return m
}

// Register wires the mailer onto the bus.
func (m *Mailer) Register(bus events.Bus) {
	if m == nil || bus == nil {
		return
	}

	bus.Subscribe("connection.health_degraded", events.HandlerFunc(func(ctx context.Context, ev events.Event) error {
		degraded, ok := ev.(events.HealthDegraded)
		if !ok || degraded.Level != "critical" {
			return nil
		}
		m.alert(ctx, "Chat connection critical",
			fmt.Sprintf("The chat connection degraded to critical: %s.\n\nThe engine retries on a fixed delay; manual intervention is likely needed.", degraded.Reason))
		return nil
	}))

	bus.Subscribe("connection.pairing_required", events.HandlerFunc(func(ctx context.Context, ev events.Event) error {
		m.alert(ctx, "Chat session needs pairing",
			"The chat client is waiting for a pairing scan. Open the status endpoint to retrieve the code.")
		return nil
	}))

	bus.Subscribe("connection.lost", events.HandlerFunc(func(ctx context.Context, ev events.Event) error {
		lost, ok := ev.(events.ConnectionLost)
		if !ok || !lost.Terminal {
			return nil
		}
		m.alert(ctx, "Chat session logged out",
			fmt.Sprintf("The chat session was logged out (%s). Clear the session and pair again to resume sending.", lost.Reason))
		return nil
	}))
}

func (m *Mailer) alert(ctx context.Context, subject, body string) {
	m.mu.Lock()
	if last, ok := m.lastSent[subject]; ok && m.now().Sub(last) < throttle {
		m.mu.Unlock()
		m.log.Debug("alert throttled", "subject", subject)
		return
	}
	m.lastSent[subject] = m.now()
	m.mu.Unlock()

	if err := m.deliver(ctx, subject, body); err != nil {
		m.log.Error("operator alert failed", "subject", subject, "error", err)
		return
	}
	m.log.Info("operator alert sent", "subject", subject)
}

func (m *Mailer) send(ctx context.Context, subject, body string) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(m.to); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject("[orderbot] " + subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.username),
		gomail.WithPassword(m.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
