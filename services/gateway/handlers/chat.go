package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/datatypes"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/orchestrator"
)

var chatTracer = otel.Tracer("chopsky.gateway.handlers")

// HandleChatTurn serves POST /v1/chat/turn. It binds and hands off to the
// orchestrator, then maps the error taxonomy onto status codes. This is the
// single boundary between internal errors and the wire: nothing below it
// writes a response, and no raw error detail escapes in production.
func HandleChatTurn(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatTurn")
		defer span.End()

		start := time.Now()

		var req datatypes.ChatTurnRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "malformed request body")
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error:   "invalid_request",
				Message: "request body is not valid JSON for a chat turn",
			})
			return
		}

		resp, err := orch.ProcessTurn(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chat turn failed")
			writeTurnError(c, err, time.Since(start).Milliseconds())
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// writeTurnError maps the orchestrator's error taxonomy to HTTP statuses.
// Unrecognized errors become a generic 500 so no internal detail leaks.
func writeTurnError(c *gin.Context, err error, timingMs int64) {
	var clientErr *orchestrator.ClientError
	var configErr *orchestrator.ConfigurationError
	var degradedErr *orchestrator.DegradedModeError
	var upstreamErr *orchestrator.UpstreamError

	switch {
	case errors.As(err, &clientErr):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error:   "validation_error",
			Message: clientErr.Message,
		})

	case errors.As(err, &configErr):
		slog.Error("Chat turn failed on configuration", "variable", configErr.Variable, "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error:    "configuration_error",
			Message:  configErr.Error(),
			TimingMs: timingMs,
		})

	case errors.As(err, &degradedErr):
		slog.Error("Chat turn refused in degraded mode", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error:    "critical_configuration_error",
			Message:  degradedErr.Error(),
			TimingMs: timingMs,
		})

	case errors.As(err, &upstreamErr):
		slog.Error("Chat turn failed upstream", "error", err)
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{
			Error:    "upstream_error",
			Message:  "the assistant backend is unavailable, please retry",
			TimingMs: timingMs,
		})

	default:
		slog.Error("Chat turn failed", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error:    "internal_error",
			Message:  "an unexpected error occurred processing the chat turn",
			TimingMs: timingMs,
		})
	}
}
