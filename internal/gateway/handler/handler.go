// Package handler implements the operator API endpoints.
package handler

import (
	"errors"
	"net/http"

	"orderbot_backend/internal/connection"
	"orderbot_backend/internal/dispatch"
	"orderbot_backend/internal/gateway/transport"
	"orderbot_backend/internal/suppression"
	"orderbot_backend/internal/validation"
	"orderbot_backend/platform/httpkit"
	"orderbot_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	manager   *connection.Manager
	engine    *dispatch.Engine
	worker    *dispatch.Worker
	guard     *suppression.Guard
	validator *validation.Cache
	val       *validator.Validator
}

func New(manager *connection.Manager, engine *dispatch.Engine, worker *dispatch.Worker,
	guard *suppression.Guard, cache *validation.Cache, val *validator.Validator) *Handler {
	return &Handler{
		manager:   manager,
		engine:    engine,
		worker:    worker,
		guard:     guard,
		validator: cache,
		val:       val,
	}
}

// HandleStatus returns the full engine snapshot.
func (h *Handler) HandleStatus(c *gin.Context) {
	httpkit.OK(c, transport.StatusResponse{
		Connection:      h.manager.Status(),
		Dispatch:        h.engine.Stats(),
		Suppression:     h.guard.Counters(),
		PendingMessages: h.worker.Pending(),
		ValidationCache: h.validator.Size(),
	})
}

// HandleInitialize starts or resumes the session. The call blocks until
// the attempt resolves, so a curl shows the outcome directly.
func (h *Handler) HandleInitialize(c *gin.Context) {
	if err := h.manager.Initialize(c.Request.Context()); err != nil {
		if httpkit.HandleError(c, err) {
			return
		}
	}
	httpkit.OK(c, transport.ActionResponse{Action: "initialize", State: h.manager.State()})
}

// HandleReconnect tears down and reconnects, resetting backoff.
func (h *Handler) HandleReconnect(c *gin.Context) {
	if err := h.manager.ForceReconnect(c.Request.Context()); err != nil {
		if httpkit.HandleError(c, err) {
			return
		}
	}
	httpkit.OK(c, transport.ActionResponse{Action: "reconnect", State: h.manager.State()})
}

// HandleClearSession purges the stored session; the next initialize
// pairs from scratch.
func (h *Handler) HandleClearSession(c *gin.Context) {
	if err := h.manager.ClearSession(c.Request.Context()); err != nil {
		if httpkit.HandleError(c, err) {
			return
		}
	}
	httpkit.OK(c, transport.ActionResponse{
		Action: "clear-session",
		State:  h.manager.State(),
		Detail: "session purged; re-pairing required",
	})
}

// HandleHealthCheck probes the client immediately.
func (h *Handler) HandleHealthCheck(c *gin.Context) {
	status, err := h.manager.HealthCheck(c.Request.Context())
	if err != nil {
		httpkit.Error(c, http.StatusBadGateway, "health probe failed", err.Error())
		return
	}
	httpkit.OK(c, transport.ActionResponse{
		Action: "health-check",
		State:  status.ConnectionState,
		Health: &status,
	})
}

// HandleTestMessage queues an ad-hoc message to a phone number.
func (h *Handler) HandleTestMessage(c *gin.Context) {
	var req transport.TestMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	recipient, err := h.engine.SendTest(c.Request.Context(), req.Phone, req.Message)
	if err != nil {
		var invalid *dispatch.InvalidRecipientError
		if errors.As(err, &invalid) {
			httpkit.Error(c, http.StatusUnprocessableEntity, "invalid recipient", invalid.Reason)
			return
		}
		if httpkit.HandleError(c, err) {
			return
		}
	}
	httpkit.Accepted(c, transport.TestMessageResponse{Recipient: recipient, Queued: true})
}
