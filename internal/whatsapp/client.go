// Package whatsapp defines the chat-client boundary and its HTTP relay
// implementation. The engine only depends on the Client interface; QR-code
// pairing, browser automation, and the wire protocol live behind the relay.
package whatsapp

import "context"

// ClientState is the low-level readiness state reported by the relay.
type ClientState string

const (
	StateConnected ClientState = "CONNECTED"
	StateOpening   ClientState = "OPENING"
	StatePairing   ClientState = "PAIRING"
	StateUnpaired  ClientState = "UNPAIRED"
	StateTimeout   ClientState = "TIMEOUT"
	StateUnknown   ClientState = "UNKNOWN"
)

// Terminal reports whether the state cannot recover without re-pairing.
func (s ClientState) Terminal() bool {
	return s == StateUnpaired || s == StateTimeout
}

// EventKind identifies an event emitted by the chat client.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventReady         EventKind = "ready"
	EventAuthenticated EventKind = "authenticated"
	EventAuthFailure   EventKind = "auth_failure"
	EventDisconnected  EventKind = "disconnected"
	EventStateChanged  EventKind = "state_changed"
)

// Event is a single chat-client event. Only the fields relevant to the
// event kind are populated.
type Event struct {
	Kind   EventKind
	QRCode string      // EventQR
	Reason string      // EventDisconnected, EventAuthFailure
	State  ClientState // EventStateChanged
}

// Client is the chat-client abstraction consumed by the lifecycle manager,
// the validation cache, and the outbound worker.
type Client interface {
	// Initialize starts (or resumes) a session. It blocks until the relay
	// has accepted the request, not until the session is ready; readiness
	// arrives on the event stream.
	Initialize(ctx context.Context) error

	// Destroy tears down the client handle. Safe to call on a never- or
	// half-initialized client.
	Destroy(ctx context.Context) error

	// GetState probes the current client state.
	GetState(ctx context.Context) (ClientState, error)

	// SendMessage sends body to the recipient phone number.
	SendMessage(ctx context.Context, recipient, body string) error

	// IsRegistered reports whether the recipient exists on the chat network.
	IsRegistered(ctx context.Context, recipient string) (bool, error)

	// Events returns the stream of client events. The channel is closed
	// when the client is destroyed.
	Events() <-chan Event
}
