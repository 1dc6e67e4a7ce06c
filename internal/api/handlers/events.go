// Package handlers implements the thin HTTP adapter around the
// orchestrator: it decodes the wire envelope, resolves the actor from
// headers, and translates a Decision into an HTTP response. No business
// logic lives here — actor authentication itself stays out of scope,
// handled upstream of this module.
//
// Import Path: servicebox.io/fsmcore/internal/api/handlers
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"servicebox.io/fsmcore/internal/domain"
	apperrors "servicebox.io/fsmcore/internal/pkg/errors"
	"servicebox.io/fsmcore/internal/pkg/worker"
)

// Ingester is the subset of *orchestrator.Orchestrator the events handler
// depends on.
type Ingester interface {
	Ingest(ctx context.Context, envelope domain.Envelope, actor domain.Actor) (domain.Decision, error)
}

// EventsServer serves the single ingestion endpoint. Every request is run
// through the ingestion worker pool rather than gin's own request
// goroutine, so the pool's capacity — not the HTTP server's — bounds how
// many ingest transactions run at once.
type EventsServer struct {
	orchestrator Ingester
	pool         *worker.Pool
}

// NewEventsServer builds an EventsServer around an Ingester and the pool
// its requests run on.
func NewEventsServer(orchestrator Ingester, pool *worker.Pool) *EventsServer {
	return &EventsServer{orchestrator: orchestrator, pool: pool}
}

// wireEnvelope is the JSON shape accepted on POST /v1/events. It mirrors
// domain.Envelope; an absent or empty idempotency_key falls back to the
// X-Idempotency-Key header, and created_at_reported is a pointer so an
// absent value leaves the envelope's time at zero.
type wireEnvelope struct {
	EntityType        string          `json:"entity_type" binding:"required"`
	EntityID          string          `json:"entity_id" binding:"required"`
	EventType         string          `json:"event_type" binding:"required"`
	Payload           json.RawMessage `json:"payload"`
	Source            string          `json:"source" binding:"required"`
	CreatedAtReported *time.Time      `json:"created_at_reported,omitempty"`
	ClientEventID     string          `json:"client_event_id,omitempty"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	CorrelationID     string          `json:"correlation_id,omitempty"`
	CausationID       string          `json:"causation_id,omitempty"`
	SchemaVersion     int             `json:"schema_version"`
}

// RegisterRoutes mounts the ingestion endpoint on router.
func (s *EventsServer) RegisterRoutes(router gin.IRoutes) {
	router.POST("/v1/events", s.PostEvent)
}

// PostEvent decodes the request body into an envelope, resolves the actor
// from headers, and runs it through the orchestrator.
func (s *EventsServer) PostEvent(c *gin.Context) {
	var wire wireEnvelope
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.Error(apperrors.BadRequest(apperrors.CodePayloadMissing, err.Error()))
		return
	}

	idempotencyKey := wire.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = c.GetHeader("X-Idempotency-Key")
	}

	role := domain.Role(c.GetHeader("X-Role"))
	if role == "" {
		role = domain.RoleSystem
	}
	actor := domain.Actor{Role: role, ActorID: c.GetHeader("X-Actor-Id")}

	envelope := domain.Envelope{
		EntityType:     wire.EntityType,
		EntityID:       wire.EntityID,
		EventType:      domain.EventType(wire.EventType),
		Payload:        wire.Payload,
		Source:         domain.Source(wire.Source),
		ClientEventID:  wire.ClientEventID,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  wire.CorrelationID,
		CausationID:    wire.CausationID,
		SchemaVersion:  wire.SchemaVersion,
	}
	if wire.CreatedAtReported != nil {
		envelope.CreatedAtReported = wire.CreatedAtReported.UTC()
	}

	var decision domain.Decision
	var ingestErr error
	done := make(chan struct{})
	submitErr := s.pool.Submit(c.Request.Context(), func(ctx context.Context) {
		defer close(done)
		decision, ingestErr = s.orchestrator.Ingest(ctx, envelope, actor)
	})
	if submitErr != nil {
		c.Error(apperrors.StoreUnavailable(submitErr))
		return
	}
	select {
	case <-done:
	case <-c.Request.Context().Done():
		c.Error(apperrors.StoreUnavailable(c.Request.Context().Err()))
		return
	}
	if ingestErr != nil {
		c.Error(apperrors.StoreUnavailable(ingestErr))
		return
	}

	if decision.Decision != domain.DecisionAccepted {
		c.JSON(statusForDecision(decision), decision)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func statusForDecision(decision domain.Decision) int {
	if decision.Decision == domain.DecisionNeedsReview {
		return http.StatusAccepted
	}
	return apperrors.ForReasonCode(decision.ReasonCode, "").HTTPStatus
}
