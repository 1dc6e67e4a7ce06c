// Package orchestrator runs the atomic validate, append, apply sequence
// that is the single write path into the ingestion core. Every submitted
// event goes through exactly one Orchestrator.Ingest call, which either
// commits a fully validated, stored and projected event or rolls back
// leaving no trace.
//
// Import Path: servicebox.io/fsmcore/internal/orchestrator
package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"servicebox.io/fsmcore/internal/domain"
	"servicebox.io/fsmcore/internal/eventstore"
	"servicebox.io/fsmcore/internal/metrics"
	"servicebox.io/fsmcore/internal/pkg/logger"
)

// Applier is the subset of *projection.Applier the orchestrator depends on.
type Applier interface {
	Apply(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, eventID string, effectiveTime time.Time) error
}

// ValidatorFactory builds a Validator bound to the projections visible
// inside tx, so the decision and the write it authorizes see the same
// snapshot. The orchestrator never holds a Validator across transactions.
type ValidatorFactory func(tx pgx.Tx) Validator

// Validator is the subset of *validator.Validator the orchestrator depends
// on.
type Validator interface {
	Validate(ctx context.Context, envelope domain.Envelope, actor domain.Actor) (domain.Decision, error)
}

// Orchestrator wires the Validator, the event store and the Projection
// Applier into one atomic transaction per submitted event.
type Orchestrator struct {
	pool         *pgxpool.Pool
	newValidator ValidatorFactory
	applier      Applier
	hooks        *domain.HookRegistry
}

// New builds an Orchestrator. newValidator is called once per Ingest call
// with the in-flight transaction, so the Validator reads projections
// through that same transaction. hooks may be nil; when set, its post-accept
// hooks run after commit for freshly accepted (non-duplicate) events only —
// they observe durable state, never gate it.
func New(pool *pgxpool.Pool, newValidator ValidatorFactory, applier Applier, hooks *domain.HookRegistry) *Orchestrator {
	return &Orchestrator{pool: pool, newValidator: newValidator, applier: applier, hooks: hooks}
}

// Ingest runs the full validate, append, apply sequence for one envelope
// inside a single database transaction. A REJECTED or NEEDS_REVIEW decision
// still commits: nothing is written to event_store or the projections, but
// the decision itself is the result of the call, not an error.
//
// Concurrent submissions against the same entity_id are serialized with a
// Postgres transaction-scoped advisory lock keyed by entity_id, so the
// Validator's projection read and the Applier's projection write for one
// entity never interleave with another in-flight ingestion for the same
// entity.
func (o *Orchestrator) Ingest(ctx context.Context, envelope domain.Envelope, actor domain.Actor) (decision domain.Decision, err error) {
	start := time.Now()
	defer func() {
		metrics.IngestDuration.WithLabelValues(string(envelope.EventType)).Observe(time.Since(start).Seconds())
		metrics.Decisions.WithLabelValues(string(envelope.EventType), string(decision.Decision), decision.ReasonCode).Inc()
	}()

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("begin ingest transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Warn("ingest transaction rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if _, lockErr := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", entityLockKey(envelope.EntityID)); lockErr != nil {
		err = fmt.Errorf("acquire entity lock: %w", lockErr)
		return domain.Decision{}, err
	}

	envelope.CreatedBy = actor.ActorID
	v := o.newValidator(tx)
	decision, validateErr := v.Validate(ctx, envelope, actor)
	if validateErr != nil {
		err = fmt.Errorf("validate event: %w", validateErr)
		return domain.Decision{}, err
	}

	if decision.Decision != domain.DecisionAccepted {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("commit non-accepted decision: %w", commitErr)
			return domain.Decision{}, err
		}
		return decision, nil
	}

	normalized := envelope
	if decision.NormalizedEvent != nil {
		normalized = *decision.NormalizedEvent
	}

	appendResult, appendErr := eventstore.Append(ctx, tx, normalized)
	if appendErr != nil {
		err = fmt.Errorf("append event: %w", appendErr)
		return domain.Decision{}, err
	}

	if appendResult.Duplicate {
		metrics.DuplicateEvents.WithLabelValues(string(envelope.EventType)).Inc()
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("commit duplicate decision: %w", commitErr)
			return domain.Decision{}, err
		}
		return domain.Decision{
			Decision:   domain.DecisionAccepted,
			ReasonCode: domain.ReasonDuplicateIgnored,
			EventID:    appendResult.EventID,
		}, nil
	}

	normalized.CreatedAtSystem = appendResult.CreatedAtSystem

	effectiveTime := normalized.CreatedAtSystem
	if normalized.EffectiveTime != nil {
		effectiveTime = *normalized.EffectiveTime
	}
	if applyErr := o.applier.Apply(ctx, tx, normalized, appendResult.EventID, effectiveTime); applyErr != nil {
		err = fmt.Errorf("apply event: %w", applyErr)
		return domain.Decision{}, err
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		err = fmt.Errorf("commit ingest transaction: %w", commitErr)
		return domain.Decision{}, err
	}

	decision.EventID = appendResult.EventID

	if o.hooks != nil {
		if hookErr := o.hooks.Notify(ctx, normalized); hookErr != nil {
			logger.Warn("post-accept hook reported an error", zap.String("event_id", appendResult.EventID), zap.Error(hookErr))
		}
	}

	return decision, nil
}

// entityLockKey derives a stable int64 advisory lock key from entity_id.
// FNV-1a keeps collisions rare enough that two distinct entities racing for
// the same lock key is not a practical concern at this scale; a collision
// only costs unrelated entities a moment of serialization, never
// correctness.
func entityLockKey(entityID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(entityID))
	return int64(h.Sum64())
}
