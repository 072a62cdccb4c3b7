// Package dispatch turns spreadsheet status changes into outbound chat
// messages. The engine polls the order source, tracks per-order status
// history, and routes transitions through the suppression guard to the
// outbound worker.
package dispatch

import "context"

// Order is one spreadsheet row in domain form. The raw status cell is
// normalized by the status table before any dispatch decision.
type Order struct {
	ID           string
	CustomerName string
	Phone        string
	Product      string
	Amount       string
	RawStatus    string
	Row          int // 1-based spreadsheet row, for operator logs
}

// Source delivers the current order snapshot. Implementations own their
// transport, quota and retry concerns; the engine only sees orders.
type Source interface {
	FetchOrders(ctx context.Context) ([]Order, error)
}
