package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/wsecho/internal/version"
)

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthDeps is what the health endpoint inspects.
type healthDeps struct {
	instanceID string
	openConns  func() int
	db         pinger // nil when persistence is disabled
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(deps healthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			InstanceID string         `json:"instance_id"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			InstanceID: deps.instanceID,
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		health.Components["connections"] = map[string]int{
			"open": deps.openConns(),
		}

		if deps.db == nil {
			health.Components["timescaledb"] = "disabled"
		} else if err := deps.db.Ping(ctx); err != nil {
			// Echo keeps working without the database; reports queue up.
			health.Status = "degraded"
			health.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["timescaledb"] = "connected"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	}
}
