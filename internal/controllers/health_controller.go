package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueDepth reports how many job ids are waiting for a worker.
type QueueDepth interface {
	Len() int
}

// HealthController reports the store and queue. Optional backends (the
// model server, for instance) only degrade the status when unreachable.
type HealthController struct {
	store    Pinger
	queue    QueueDepth
	backends map[string]Pinger
	version  string
}

func NewHealthController(store Pinger, queue QueueDepth, backends map[string]Pinger, version string) *HealthController {
	return &HealthController{store: store, queue: queue, backends: backends, version: version}
}

// Health handles GET /health.
func (hc *HealthController) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	storeStatus := gin.H{"status": "ok"}
	overall, code := "ok", http.StatusOK
	if err := hc.store.Ping(ctx); err != nil {
		storeStatus = gin.H{"status": "error", "error": err.Error()}
		overall, code = "error", http.StatusServiceUnavailable
	}

	services := gin.H{
		"store": storeStatus,
		"queue": gin.H{"status": "ok", "depth": hc.queue.Len()},
	}
	for name, backend := range hc.backends {
		if err := backend.Ping(ctx); err != nil {
			services[name] = gin.H{"status": "error", "error": err.Error()}
			if overall == "ok" {
				overall = "degraded"
			}
			continue
		}
		services[name] = gin.H{"status": "ok"}
	}

	c.JSON(code, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   hc.version,
		"services":  services,
	})
}
