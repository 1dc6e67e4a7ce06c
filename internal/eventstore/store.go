// Package eventstore implements the append-only event store: the single
// source of truth every projection is derived from. Appends are idempotent
// on (entity_id, client_event_id) or (entity_id, idempotency_key) — a
// colliding insert resolves to the event_id already on record rather than
// erroring the caller's transaction.
//
// Import Path: servicebox.io/fsmcore/internal/eventstore
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"servicebox.io/fsmcore/internal/domain"
)

const uniqueViolation = "23505"

// appendEventSQL is the literal insert statement Append runs. It is pulled
// out to a constant so the no-live-database sqlmock test in store_sql_test.go
// exercises the exact text Append sends, not a hand-copied approximation of
// it that could silently drift out of sync.
const appendEventSQL = `
		INSERT INTO event_store (
			entity_type, entity_id, event_type, payload, source,
			created_at_reported, effective_time,
			client_event_id, idempotency_key,
			correlation_id, causation_id,
			schema_version, created_by
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			NULLIF($8, ''), NULLIF($9, ''),
			NULLIF($10, ''), NULLIF($11, ''),
			$12, $13
		)
		RETURNING event_id, created_at_system
	`

// AppendResult carries the outcome of an Append call. CreatedAtSystem is the
// server-assigned commit time from event_store's DEFAULT now() column — the
// applier needs it back on the Go-side envelope since it never computed it
// itself.
type AppendResult struct {
	EventID         string
	CreatedAtSystem time.Time
	Duplicate       bool
}

// Append inserts the normalized envelope inside tx, returning the stored
// event_id. If a row already exists for the same idempotency key, the
// insert is rolled back to a savepoint (so the rest of tx survives) and the
// pre-existing event_id is returned with Duplicate set.
func Append(ctx context.Context, tx pgx.Tx, envelope domain.Envelope) (AppendResult, error) {
	const savepoint = "event_store_append"
	if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
		return AppendResult{}, fmt.Errorf("set savepoint: %w", err)
	}

	var eventID string
	var createdAtSystem time.Time
	err := tx.QueryRow(ctx, appendEventSQL,
		envelope.EntityType, envelope.EntityID, envelope.EventType, envelope.Payload, envelope.Source,
		nullableTime(envelope.CreatedAtReported), envelope.EffectiveTime,
		envelope.ClientEventID, envelope.IdempotencyKey,
		envelope.CorrelationID, envelope.CausationID,
		envelope.SchemaVersion, envelope.CreatedBy,
	).Scan(&eventID, &createdAtSystem)

	if err == nil {
		if _, relErr := tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); relErr != nil {
			return AppendResult{}, fmt.Errorf("release savepoint: %w", relErr)
		}
		return AppendResult{EventID: eventID, CreatedAtSystem: createdAtSystem}, nil
	}

	if !isUniqueViolation(err) {
		return AppendResult{}, fmt.Errorf("insert event: %w", err)
	}

	if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
		return AppendResult{}, fmt.Errorf("rollback to savepoint: %w", rbErr)
	}

	existingID, existingCreatedAt, fetchErr := fetchExisting(ctx, tx, envelope)
	if fetchErr != nil {
		return AppendResult{}, fetchErr
	}
	return AppendResult{EventID: existingID, CreatedAtSystem: existingCreatedAt, Duplicate: true}, nil
}

const (
	fetchExistingByClientEventSQL    = `SELECT event_id, created_at_system FROM event_store WHERE entity_id = $1 AND client_event_id = $2`
	fetchExistingByIdempotencyKeySQL = `SELECT event_id, created_at_system FROM event_store WHERE entity_id = $1 AND idempotency_key = $2`
)

func fetchExisting(ctx context.Context, tx pgx.Tx, envelope domain.Envelope) (string, time.Time, error) {
	var eventID string
	var createdAtSystem time.Time
	var err error
	switch {
	case envelope.ClientEventID != "":
		err = tx.QueryRow(ctx, fetchExistingByClientEventSQL,
			envelope.EntityID, envelope.ClientEventID,
		).Scan(&eventID, &createdAtSystem)
	case envelope.IdempotencyKey != "":
		err = tx.QueryRow(ctx, fetchExistingByIdempotencyKeySQL,
			envelope.EntityID, envelope.IdempotencyKey,
		).Scan(&eventID, &createdAtSystem)
	default:
		return "", time.Time{}, fmt.Errorf("duplicate insert collided but envelope carries no idempotency key")
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("fetch existing event for duplicate: %w", err)
	}
	return eventID, createdAtSystem, nil
}

// FetchByID loads a stored envelope by event_id. It returns nil, nil when
// no event has that id.
func FetchByID(ctx context.Context, db Querier, eventID string) (*domain.Envelope, error) {
	var e domain.Envelope
	err := db.QueryRow(ctx, `
		SELECT event_id, entity_type, entity_id, event_type, payload, source,
		       created_at_reported, created_at_system, effective_time,
		       coalesce(client_event_id, ''), coalesce(idempotency_key, ''),
		       coalesce(correlation_id, ''), coalesce(causation_id, ''),
		       schema_version, created_by
		FROM event_store WHERE event_id = $1
	`, eventID).Scan(
		&e.EventID, &e.EntityType, &e.EntityID, &e.EventType, &e.Payload, &e.Source,
		&e.CreatedAtReported, &e.CreatedAtSystem, &e.EffectiveTime,
		&e.ClientEventID, &e.IdempotencyKey,
		&e.CorrelationID, &e.CausationID,
		&e.SchemaVersion, &e.CreatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch event %s: %w", eventID, err)
	}
	return &e, nil
}

// FetchByEntity loads every event recorded for an entity in append order,
// the ordering a projection rebuild replays.
func FetchByEntity(ctx context.Context, db Querier, entityID string) ([]domain.Envelope, error) {
	rows, err := db.Query(ctx, `
		SELECT event_id, entity_type, entity_id, event_type, payload, source,
		       created_at_reported, created_at_system, effective_time,
		       coalesce(client_event_id, ''), coalesce(idempotency_key, ''),
		       coalesce(correlation_id, ''), coalesce(causation_id, ''),
		       schema_version, created_by
		FROM event_store
		WHERE entity_id = $1
		ORDER BY created_at_system ASC, event_id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("fetch events for entity %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []domain.Envelope
	for rows.Next() {
		var e domain.Envelope
		if err := rows.Scan(
			&e.EventID, &e.EntityType, &e.EntityID, &e.EventType, &e.Payload, &e.Source,
			&e.CreatedAtReported, &e.CreatedAtSystem, &e.EffectiveTime,
			&e.ClientEventID, &e.IdempotencyKey,
			&e.CorrelationID, &e.CausationID,
			&e.SchemaVersion, &e.CreatedBy,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events for entity %s: %w", entityID, err)
	}
	return out, nil
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so reads can run
// either against the shared pool or inside an in-flight transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableTime(t interface{ IsZero() bool }) any {
	if t.IsZero() {
		return nil
	}
	return t
}
