// Package transport defines the operator API request and response shapes.
package transport

import (
	"orderbot_backend/internal/connection"
	"orderbot_backend/internal/dispatch"
	"orderbot_backend/internal/suppression"
)

// StatusResponse is the full engine snapshot returned by GET /status.
type StatusResponse struct {
	Connection      connection.Status    `json:"connection"`
	Dispatch        dispatch.Stats       `json:"dispatch"`
	Suppression     suppression.Counters `json:"suppression"`
	PendingMessages int                  `json:"pendingMessages"`
	ValidationCache int                  `json:"validationCacheSize"`
}

// ActionResponse acknowledges an operator action.
type ActionResponse struct {
	Action string             `json:"action"`
	State  connection.State   `json:"state"`
	Detail string             `json:"detail,omitempty"`
	Health *connection.Status `json:"health,omitempty"`
}

// TestMessageRequest is the body of POST /messages/test.
type TestMessageRequest struct {
	Phone   string `json:"phone" validate:"required"`
	Message string `json:"message" validate:"required,max=4096"`
}

// TestMessageResponse reports where the test message was queued.
type TestMessageResponse struct {
	Recipient string `json:"recipient"`
	Queued    bool   `json:"queued"`
}
