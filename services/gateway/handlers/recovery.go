package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/datatypes"
)

// RecoverJSON converts a handler panic into the standard error envelope with
// a timing value, instead of the bare 500 the default recovery writes.
func RecoverJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("Panic while serving request",
					"path", c.Request.URL.Path, "panic", recovered)
				c.AbortWithStatusJSON(http.StatusInternalServerError, datatypes.ErrorResponse{
					Error:    "internal_error",
					Message:  "an unexpected error occurred processing the request",
					TimingMs: time.Since(start).Milliseconds(),
				})
			}
		}()
		c.Next()
	}
}
