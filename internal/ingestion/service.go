package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/wearlytics/telemetry-ingest/internal/core/storage"
	"github.com/wearlytics/telemetry-ingest/internal/metrics"
	"github.com/wearlytics/telemetry-ingest/internal/schema"
)

// Service is the batch coordinator: it drives each event of a batch through
// normalize, validate and the idempotent write, inside one transaction.
type Service struct {
	validator        *schema.Validator
	store            storage.EventStore
	register         *metrics.Register
	maxBodySizeBytes int
}

func NewService(val *schema.Validator, store storage.EventStore, register *metrics.Register, maxBodySizeMB int) *Service {
	if val == nil {
		panic("ingestion: validator must not be nil")
	}
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if register == nil {
		panic("ingestion: metrics register must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		validator:        val,
		store:            store,
		register:         register,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/events", s.IngestHandler)
	r.GET("/metrics", s.MetricsHandler)
}
