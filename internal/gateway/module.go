// Package gateway provides the operator API bounded context module.
package gateway

import (
	"orderbot_backend/internal/connection"
	"orderbot_backend/internal/dispatch"
	"orderbot_backend/internal/gateway/handler"
	apphttp "orderbot_backend/internal/http"
	"orderbot_backend/internal/suppression"
	"orderbot_backend/internal/validation"
	"orderbot_backend/platform/validator"
)

// Module is the operator API module implementing http.Module.
type Module struct {
	handler *handler.Handler
}

// NewModule creates the gateway module with all its dependencies.
func NewModule(manager *connection.Manager, engine *dispatch.Engine, worker *dispatch.Worker,
	guard *suppression.Guard, cache *validation.Cache, val *validator.Validator) *Module {
	return &Module{
		handler: handler.New(manager, engine, worker, guard, cache, val),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "gateway"
}

// RegisterRoutes mounts the operator routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/status", m.handler.HandleStatus)

	actions := ctx.V1.Group("/actions")
	actions.POST("/initialize", m.handler.HandleInitialize)
	actions.POST("/reconnect", m.handler.HandleReconnect)
	actions.POST("/clear-session", m.handler.HandleClearSession)
	actions.POST("/health-check", m.handler.HandleHealthCheck)

	ctx.V1.POST("/messages/test", m.handler.HandleTestMessage)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
