// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"orderbot_backend/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Connection Lifecycle Events
// =============================================================================

// ConnectionEstablished is published when the chat client becomes ready.
type ConnectionEstablished struct {
	BaseEvent
	Restored bool `json:"restored"` // true when an existing session was resumed without pairing
}

func (e ConnectionEstablished) EventName() string { return "connection.established" }

// ConnectionLost is published when the chat client disconnects.
type ConnectionLost struct {
	BaseEvent
	Reason   string `json:"reason"`
	Terminal bool   `json:"terminal"` // explicit logout; no reconnect will be attempted
}

func (e ConnectionLost) EventName() string { return "connection.lost" }

// ReconnectScheduled is published when a reconnect attempt has been queued.
type ReconnectScheduled struct {
	BaseEvent
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

func (e ReconnectScheduled) EventName() string { return "connection.reconnect_scheduled" }

// PairingRequired is published when a fresh pairing challenge is emitted.
type PairingRequired struct {
	BaseEvent
	Code string `json:"code"`
}

func (e PairingRequired) EventName() string { return "connection.pairing_required" }

// SessionCleared is published after the on-disk session has been purged.
type SessionCleared struct {
	BaseEvent
	Reason string `json:"reason"`
}

func (e SessionCleared) EventName() string { return "connection.session_cleared" }

// HealthDegraded is published when sessionHealth drops a level.
type HealthDegraded struct {
	BaseEvent
	Level  string `json:"level"` // degraded or critical
	Reason string `json:"reason"`
}

func (e HealthDegraded) EventName() string { return "connection.health_degraded" }

// =============================================================================
// Dispatch Events
// =============================================================================

// OrderStatusChanged is published when a poll cycle observes a new or
// changed status for an order.
type OrderStatusChanged struct {
	BaseEvent
	OrderID        string `json:"orderId"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Status         string `json:"status"`
	FirstSeen      bool   `json:"firstSeen"`
}

func (e OrderStatusChanged) EventName() string { return "orders.status_changed" }

// MessageSent is published after a successful outbound send.
type MessageSent struct {
	BaseEvent
	OrderID     string `json:"orderId"`
	MessageType string `json:"messageType"`
	Recipient   string `json:"recipient"`
}

func (e MessageSent) EventName() string { return "messages.sent" }

// MessageSuppressed is published when the suppression guard blocks a duplicate.
type MessageSuppressed struct {
	BaseEvent
	OrderID     string        `json:"orderId"`
	MessageType string        `json:"messageType"`
	SincePrior  time.Duration `json:"sincePrior"`
}

func (e MessageSuppressed) EventName() string { return "messages.suppressed" }

// MessageDeferred is published when a job is queued because the connection
// is down. Deferred jobs flush on reconnect; they are never dropped.
type MessageDeferred struct {
	BaseEvent
	OrderID     string `json:"orderId"`
	MessageType string `json:"messageType"`
}

func (e MessageDeferred) EventName() string { return "messages.deferred" }
