package kpi_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"servicebox.io/fsmcore/internal/domain"
	"servicebox.io/fsmcore/internal/eventstore"
	"servicebox.io/fsmcore/internal/kpi"
	"servicebox.io/fsmcore/internal/testutil"
)

func TestRebuildRangeComputesReactionAndMTTRAverages(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "kpi_rebuild")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	woID := "wo-kpi-1"
	clientID := "client-kpi-1"

	created := domain.Envelope{
		EntityType: "work_order", EntityID: woID, EventType: domain.EventWorkOrderCreated,
		Payload:           marshalPayload(t, domain.WorkOrderCreatedPayload{ClientID: clientID, AssetID: "asset-1", Priority: "LOW", WorkType: "MAINTENANCE"}),
		Source:            domain.SourceWeb,
		CreatedAtReported: today.Add(10 * time.Hour),
		SchemaVersion:     1,
		CreatedBy:         "dispatcher-1",
	}
	started := domain.Envelope{
		EntityType: "work_order", EntityID: woID, EventType: domain.EventWorkStarted,
		Payload:           marshalPayload(t, domain.WorkStartedPayload{ActualStartReported: timePtr(today.Add(11 * time.Hour))}),
		Source:            domain.SourceMobile,
		CreatedAtReported: today.Add(11 * time.Hour),
		SchemaVersion:     1,
		CreatedBy:         "engineer-1",
	}
	completed := domain.Envelope{
		EntityType: "work_order", EntityID: woID, EventType: domain.EventWorkCompleted,
		Payload:           marshalPayload(t, domain.WorkCompletedPayload{ActualEndReported: timePtr(today.Add(12 * time.Hour))}),
		Source:            domain.SourceMobile,
		CreatedAtReported: today.Add(12 * time.Hour),
		SchemaVersion:     1,
		CreatedBy:         "engineer-1",
	}

	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	for _, env := range []domain.Envelope{created, started, completed} {
		_, err := eventstore.Append(t.Context(), tx, env)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(t.Context()))

	rebuilder := kpi.New(pool)
	require.NoError(t, rebuilder.RebuildRange(t.Context(), today, today))

	var reactionAvg, mttrAvg float64
	var workOrdersTotal int
	err = pool.QueryRow(t.Context(), `
		SELECT reaction_avg_minutes, mttr_avg_minutes, work_orders_total
		FROM kpi_daily WHERE day = $1 AND client_id = $2`, today, clientID,
	).Scan(&reactionAvg, &mttrAvg, &workOrdersTotal)
	require.NoError(t, err)
	require.Equal(t, 1, workOrdersTotal)
	require.Equal(t, 60.0, reactionAvg)
	require.Equal(t, 60.0, mttrAvg)
}

func TestRebuildRangeIsIdempotent(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "kpi_idempotent")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	woID := "wo-kpi-2"
	created := domain.Envelope{
		EntityType: "work_order", EntityID: woID, EventType: domain.EventWorkOrderCreated,
		Payload:           marshalPayload(t, domain.WorkOrderCreatedPayload{ClientID: "client-kpi-2", AssetID: "asset-1", Priority: "HIGH", WorkType: "CORRECTIVE"}),
		Source:            domain.SourceWeb,
		CreatedAtReported: today.Add(time.Hour),
		SchemaVersion:     1,
		CreatedBy:         "dispatcher-1",
	}

	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	_, err = eventstore.Append(t.Context(), tx, created)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(t.Context()))

	rebuilder := kpi.New(pool)
	require.NoError(t, rebuilder.RebuildRange(t.Context(), today, today))
	require.NoError(t, rebuilder.RebuildRange(t.Context(), today, today))

	var count int
	err = pool.QueryRow(t.Context(), `SELECT count(*) FROM kpi_daily WHERE day = $1 AND client_id = 'client-kpi-2'`, today).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count, "rebuilding the same range twice must not duplicate rows")
}

func marshalPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func timePtr(t time.Time) *time.Time { return &t }
