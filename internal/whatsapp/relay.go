package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"orderbot_backend/internal/resilience"
	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"
	"orderbot_backend/platform/phone"
)

// RelayClient talks to a gowa-style WhatsApp relay over HTTP and adapts its
// long-poll event feed into the Client event channel.
type RelayClient struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	log      *logger.Logger

	mu      sync.Mutex
	events  chan Event
	polling bool
	cancel  context.CancelFunc
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type stateResponse struct {
	State string `json:"state"`
}

type checkResponse struct {
	Registered bool `json:"registered"`
}

type relayEvent struct {
	Kind   string `json:"kind"`
	QRCode string `json:"qrCode,omitempty"`
	Reason string `json:"reason,omitempty"`
	State  string `json:"state,omitempty"`
}

// NewRelayClient creates a relay client from configuration. Returns nil when
// no relay URL is configured.
func NewRelayClient(cfg config.WhatsAppConfig, log *logger.Logger) *RelayClient {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	return &RelayClient{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
		events:   make(chan Event, 16),
	}
}

// Initialize asks the relay to start or resume a session and begins
// consuming its event feed.
func (c *RelayClient) Initialize(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/session/start", nil, nil); err != nil {
		return fmt.Errorf("relay session start: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.polling {
		pollCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.polling = true
		go c.pollEvents(pollCtx)
	}
	return nil
}

// Destroy stops the event feed and tears down the relay session.
func (c *RelayClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.polling = false
	c.mu.Unlock()

	if err := c.do(ctx, http.MethodDelete, "/session", nil, nil); err != nil {
		return fmt.Errorf("relay session destroy: %w", err)
	}
	return nil
}

// GetState probes the relay for the current client state.
func (c *RelayClient) GetState(ctx context.Context) (ClientState, error) {
	var resp stateResponse
	if err := c.do(ctx, http.MethodGet, "/session/state", nil, &resp); err != nil {
		return StateUnknown, fmt.Errorf("relay state: %w", err)
	}

	switch strings.ToUpper(resp.State) {
	case "CONNECTED":
		return StateConnected, nil
	case "OPENING":
		return StateOpening, nil
	case "PAIRING", "QR":
		return StatePairing, nil
	case "UNPAIRED", "LOGGED_OUT":
		return StateUnpaired, nil
	case "TIMEOUT":
		return StateTimeout, nil
	default:
		return StateUnknown, nil
	}
}

// SendMessage sends body to the recipient, normalized to digits-only E.164.
func (c *RelayClient) SendMessage(ctx context.Context, recipient, body string) error {
	normalized := strings.TrimPrefix(phone.NormalizeE164(recipient), "+")

	payload := sendRequest{Phone: normalized, Message: body}
	if err := c.do(ctx, http.MethodPost, "/send/message", payload, nil); err != nil {
		return fmt.Errorf("relay send: %w", err)
	}

	c.log.Debug("relay message delivered", "phone", normalized)
	return nil
}

// IsRegistered checks whether the recipient exists on the chat network.
func (c *RelayClient) IsRegistered(ctx context.Context, recipient string) (bool, error) {
	normalized := strings.TrimPrefix(phone.NormalizeE164(recipient), "+")

	var resp checkResponse
	path := "/user/check?phone=" + normalized
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, fmt.Errorf("relay registration check: %w", err)
	}
	return resp.Registered, nil
}

// Events returns the relay event stream.
func (c *RelayClient) Events() <-chan Event {
	return c.events
}

// pollEvents long-polls the relay feed and republishes events on the
// channel. Poll errors back off on a fixed delay; the loop ends when the
// client is destroyed.
func (c *RelayClient) pollEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var batch []relayEvent
		if err := c.do(ctx, http.MethodGet, "/session/events?wait=25s", nil, &batch); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug("relay event poll failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, ev := range batch {
			mapped, ok := mapRelayEvent(ev)
			if !ok {
				continue
			}
			select {
			case c.events <- mapped:
			case <-ctx.Done():
				return
			}
		}
	}
}

func mapRelayEvent(ev relayEvent) (Event, bool) {
	switch ev.Kind {
	case "qr":
		return Event{Kind: EventQR, QRCode: ev.QRCode}, true
	case "ready":
		return Event{Kind: EventReady}, true
	case "authenticated":
		return Event{Kind: EventAuthenticated}, true
	case "auth_failure":
		return Event{Kind: EventAuthFailure, Reason: ev.Reason}, true
	case "disconnected":
		return Event{Kind: EventDisconnected, Reason: ev.Reason}, true
	case "state_changed":
		return Event{Kind: EventStateChanged, State: ClientState(strings.ToUpper(ev.State))}, true
	default:
		return Event{}, false
	}
}

func (c *RelayClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal relay payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return &resilience.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode relay response: %w", err)
		}
	}
	return nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}

var _ Client = (*RelayClient)(nil)
