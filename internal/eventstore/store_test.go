package eventstore_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"servicebox.io/fsmcore/internal/domain"
	"servicebox.io/fsmcore/internal/eventstore"
	"servicebox.io/fsmcore/internal/testutil"
)

func newEnvelope(entityID, eventType string) domain.Envelope {
	return domain.Envelope{
		EntityType:    "work_order",
		EntityID:      entityID,
		EventType:     domain.EventType(eventType),
		Payload:       json.RawMessage(`{}`),
		Source:        domain.SourceWeb,
		SchemaVersion: 1,
		CreatedBy:     "dispatcher-1",
	}
}

func TestAppendAssignsEventID(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "eventstore_append")

	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(t.Context()) }()

	result, err := eventstore.Append(t.Context(), tx, newEnvelope("wo-1", "WORK_ORDER.CREATED"))
	require.NoError(t, err)
	require.NotEmpty(t, result.EventID)
	require.False(t, result.Duplicate)

	require.NoError(t, tx.Commit(t.Context()))
}

func TestAppendIsIdempotentOnClientEventID(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "eventstore_idempotent")

	env := newEnvelope("wo-1", "WORK_ORDER.CREATED")
	env.ClientEventID = "client-evt-1"

	tx1, err := pool.Begin(t.Context())
	require.NoError(t, err)
	first, err := eventstore.Append(t.Context(), tx1, env)
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.NoError(t, tx1.Commit(t.Context()))

	tx2, err := pool.Begin(t.Context())
	require.NoError(t, err)
	defer func() { _ = tx2.Rollback(t.Context()) }()

	second, err := eventstore.Append(t.Context(), tx2, env)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.EventID, second.EventID)

	// A failed unique insert must not poison the rest of the transaction.
	_, err = tx2.Exec(t.Context(), `SELECT 1`)
	require.NoError(t, err)
}

func TestAppendIsIdempotentOnIdempotencyKey(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "eventstore_idem_key")

	env := newEnvelope("wo-2", "WORK_ORDER.CANCELLED")
	env.IdempotencyKey = "idem-key-1"

	tx1, err := pool.Begin(t.Context())
	require.NoError(t, err)
	first, err := eventstore.Append(t.Context(), tx1, env)
	require.NoError(t, err)
	require.NoError(t, tx1.Commit(t.Context()))

	tx2, err := pool.Begin(t.Context())
	require.NoError(t, err)
	defer func() { _ = tx2.Rollback(t.Context()) }()

	second, err := eventstore.Append(t.Context(), tx2, env)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.EventID, second.EventID)
}

func TestFetchByEntityReturnsAppendOrder(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "eventstore_fetch")

	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)

	_, err = eventstore.Append(t.Context(), tx, newEnvelope("wo-3", "WORK_ORDER.CREATED"))
	require.NoError(t, err)
	_, err = eventstore.Append(t.Context(), tx, newEnvelope("wo-3", "WORK_ORDER.ASSIGNED"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(t.Context()))

	events, err := eventstore.FetchByEntity(t.Context(), pool, "wo-3")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventWorkOrderCreated, events[0].EventType)
	require.Equal(t, domain.EventWorkOrderAssigned, events[1].EventType)
}

func TestFetchByIDReturnsNilWhenMissing(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "eventstore_missing")

	env, err := eventstore.FetchByID(t.Context(), pool, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	require.Nil(t, env)
}
