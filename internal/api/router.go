// Package api exposes the pipeline over HTTP and MCP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/intake/internal/pipeline"
	"github.com/kalambet/intake/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const maxBatchSize = 100

// Presigner hands out temporary links to archived record snapshots.
type Presigner interface {
	PresignedURL(ctx context.Context, recordID string, expiry time.Duration) (string, error)
}

type AppDeps struct {
	Store     *storage.Store
	Pipeline  *pipeline.Orchestrator
	Token     string
	Archive   Presigner // optional; if nil, the archive route returns 404
	Redis     Pinger    // optional; checked by the health routes when set
	RateLimit func(http.Handler) http.Handler
	Version   string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	if deps.RateLimit != nil {
		r.Use(deps.RateLimit)
	}

	r.Get("/health", handleHealth(deps))
	r.Get("/health/detailed", handleHealthDetailed(deps))
	r.Get("/health/ready", handleHealthReady(deps))

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/validate", handleValidate(deps))
		r.Post("/process", handleProcess(deps))
		r.Post("/process/batch", handleProcessBatch(deps))
		r.Post("/records/{id}/reprocess", handleReprocess(deps))
		r.Get("/records/{id}/archive", handleArchiveLink(deps))
		r.Get("/status/{id}", handleStatus(deps))
		r.Get("/users/{user_id}/records", handleListUserRecords(deps))
		r.Get("/providers", handleProviders(deps))
	})

	return r
}
