// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// Handler for health API
func Handler(signalCtx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		// fail once shutdown started so the pod is removed from traffic
		case <-signalCtx.Done():
			c.Data(http.StatusInternalServerError, gin.MIMEPlain, []byte(http.StatusText(http.StatusInternalServerError)))
		default:
			c.Data(http.StatusOK, gin.MIMEPlain, []byte(http.StatusText(http.StatusOK)))
		}
	}
}

// ReadyHandler reports 503 with the failing dependencies unless every check passes.
func ReadyHandler(signalCtx context.Context, checks map[string]Check, logger lumber.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if signalCtx.Err() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting down"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()
		failing := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warnf("readiness check %s failed, error: %v", name, err)
				failing[name] = err.Error()
			}
		}
		if len(failing) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failing": failing})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
