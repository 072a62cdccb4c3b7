// Package connection owns the chat-client handle: the lifecycle state
// machine, session integrity, reconnection scheduling, and health
// bookkeeping. It is the single writer of connection state; every other
// component reads through its methods.
package connection

import "time"

// State is the connection lifecycle state. Exactly one live Manager exists
// per process, so there is exactly one State instance.
type State string

const (
	StateNotInitialized    State = "not_initialized"
	StateInitializing      State = "initializing"
	StateWaitingForPairing State = "waiting_for_pairing"
	StateAuthenticating    State = "authenticating"
	StateConnected         State = "connected"
	StateDisconnected      State = "disconnected"
	StateError             State = "error"
)

// HealthLevel grades the session quality.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthDegraded HealthLevel = "degraded"
	HealthCritical HealthLevel = "critical"
)

// SessionHealth is the bookkeeping updated by the Manager and the Monitor
// and read-only everywhere else.
type SessionHealth struct {
	IsConnected        bool        `json:"isConnected"`
	LastHeartbeat      time.Time   `json:"lastHeartbeat"`
	ReconnectAttempts  int         `json:"reconnectAttempts"`
	LastReconnectTime  time.Time   `json:"lastReconnectTime"`
	SessionHealth      HealthLevel `json:"sessionHealth"`
	BrowserRestarts    int         `json:"browserRestarts"`
	TotalUptime        string      `json:"totalUptime"`
	LastSuccessfulSend time.Time   `json:"lastSuccessfulSend"`
}

// Status is the operator-facing snapshot returned by the status endpoint.
type Status struct {
	ConnectionState   State         `json:"connectionState"`
	SessionHealth     SessionHealth `json:"sessionHealth"`
	QRCode            string        `json:"qrCode,omitempty"`
	Uptime            string        `json:"uptime"`
	ReconnectAttempts int           `json:"reconnectAttempts"`
}

func healthDefaults() SessionHealth {
	return SessionHealth{SessionHealth: HealthHealthy}
}
