package projection_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"servicebox.io/fsmcore/internal/domain"
	"servicebox.io/fsmcore/internal/projection"
	"servicebox.io/fsmcore/internal/testutil"
)

func payloadFor(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func envelopeWith(eventType domain.EventType, entityID string, payload map[string]any, createdAt time.Time) domain.Envelope {
	raw, _ := json.Marshal(payload)
	return domain.Envelope{
		EntityType:      "work_order",
		EntityID:        entityID,
		EventType:       eventType,
		Payload:         raw,
		Source:          domain.SourceWeb,
		CreatedAtSystem: createdAt,
		SchemaVersion:   1,
		CreatedBy:       "dispatcher-1",
	}
}

func TestApplierCreatesWorkOrderProjectionWithSLADeadlines(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "applier_create")
	applier := projection.NewApplier()
	reader := projection.NewReader(pool)

	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	env := envelopeWith(domain.EventWorkOrderCreated, "wo-1", payloadFor(t, domain.WorkOrderCreatedPayload{
		ClientID: "client-1", AssetID: "asset-1", Priority: string(domain.PriorityCritical), WorkType: "CORRECTIVE",
	}), now)

	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, env, uuid.NewString(), now))
	require.NoError(t, tx.Commit(t.Context()))

	wo, err := reader.FetchWorkOrder(t.Context(), "wo-1")
	require.NoError(t, err)
	require.NotNil(t, wo)
	require.Equal(t, domain.BusinessNew, wo.BusinessState)
	require.Equal(t, domain.ExecutionNotStarted, wo.ExecutionState)

	slaView, err := reader.FetchSLAView(t.Context(), "wo-1")
	require.NoError(t, err)
	require.NotNil(t, slaView)
	require.NotNil(t, slaView.ReactionDeadline)
	require.Equal(t, now.Add(2*time.Hour), *slaView.ReactionDeadline)
	require.Equal(t, now.Add(8*time.Hour), *slaView.RestoreDeadline)
}

func TestApplierFullLifecycleUpdatesEngineerBoardAndDowntime(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "applier_lifecycle")
	applier := projection.NewApplier()
	reader := projection.NewReader(pool)

	base := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)

	steps := []struct {
		eventType domain.EventType
		payload   map[string]any
		at        time.Time
	}{
		{domain.EventWorkOrderCreated, payloadFor(t, domain.WorkOrderCreatedPayload{ClientID: "client-1", AssetID: "asset-1", Priority: string(domain.PriorityHigh), WorkType: "CORRECTIVE"}), base},
		{domain.EventWorkOrderAssigned, payloadFor(t, domain.WorkOrderAssignedPayload{AssignedEngineerID: "engineer-1"}), base.Add(10 * time.Minute)},
		{domain.EventWorkDispatched, map[string]any{}, base.Add(20 * time.Minute)},
		{domain.EventWorkArrivedOnSite, map[string]any{}, base.Add(40 * time.Minute)},
		{domain.EventWorkStarted, map[string]any{}, base.Add(45 * time.Minute)},
		{domain.EventWorkCompleted, map[string]any{}, base.Add(105 * time.Minute)},
		{domain.EventWorkOrderClosed, map[string]any{}, base.Add(110 * time.Minute)},
	}

	for i, step := range steps {
		env := envelopeWith(step.eventType, "wo-2", step.payload, base)
		tx, err := pool.Begin(t.Context())
		require.NoError(t, err)
		require.NoErrorf(t, applier.Apply(t.Context(), tx, env, uuid.NewString(), step.at), "step %d (%s)", i, step.eventType)
		require.NoError(t, tx.Commit(t.Context()))
	}

	wo, err := reader.FetchWorkOrder(t.Context(), "wo-2")
	require.NoError(t, err)
	require.NotNil(t, wo)
	require.Equal(t, domain.BusinessClosed, wo.BusinessState)
	require.Equal(t, domain.ExecutionFinished, wo.ExecutionState)
	require.Equal(t, 60, wo.DowntimeMinutes)

	var status string
	var currentWO string
	err = pool.QueryRow(t.Context(), `SELECT status, current_work_order_id FROM engineer_board WHERE engineer_id = 'engineer-1'`).Scan(&status, &currentWO)
	require.NoError(t, err)
	require.Equal(t, "AVAILABLE", status)
	require.Equal(t, "wo-2", currentWO)

	var timelineCount int
	err = pool.QueryRow(t.Context(), `SELECT count(*) FROM work_order_timeline WHERE work_order_id = 'wo-2'`).Scan(&timelineCount)
	require.NoError(t, err)
	require.Equal(t, len(steps), timelineCount)
}

func TestApplierPartsAreAdditive(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "applier_parts")
	applier := projection.NewApplier()

	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	createEnv := envelopeWith(domain.EventWorkOrderCreated, "wo-3", payloadFor(t, domain.WorkOrderCreatedPayload{
		ClientID: "client-1", AssetID: "asset-1", Priority: string(domain.PriorityLow), WorkType: "CORRECTIVE",
	}), now)
	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, createEnv, uuid.NewString(), now))
	require.NoError(t, tx.Commit(t.Context()))

	for _, qty := range []int{2, 3} {
		env := envelopeWith(domain.EventPartReserved, "wo-3", payloadFor(t, domain.PartEventPayload{PartID: "part-1", Qty: qty}), now)
		tx, err := pool.Begin(t.Context())
		require.NoError(t, err)
		require.NoError(t, applier.Apply(t.Context(), tx, env, uuid.NewString(), now))
		require.NoError(t, tx.Commit(t.Context()))
	}

	var reservedQty int
	err = pool.QueryRow(t.Context(), `SELECT reserved_qty FROM work_order_parts WHERE work_order_id = 'wo-3' AND part_id = 'part-1'`).Scan(&reservedQty)
	require.NoError(t, err)
	require.Equal(t, 5, reservedQty)
}

func TestApplierLateWorkStartedBreachesSLA(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "applier_sla_breach")
	applier := projection.NewApplier()
	reader := projection.NewReader(pool)

	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	assignedStart := now.Add(-3 * time.Hour)
	createEnv := envelopeWith(domain.EventWorkOrderCreated, "wo-5", payloadFor(t, domain.WorkOrderCreatedPayload{
		ClientID: "client-1", AssetID: "asset-1", Priority: string(domain.PriorityCritical), WorkType: "CORRECTIVE",
		ScheduledStart: &assignedStart,
	}), now)
	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, createEnv, uuid.NewString(), now))
	require.NoError(t, tx.Commit(t.Context()))

	assignedEnv := envelopeWith(domain.EventWorkOrderAssigned, "wo-5", payloadFor(t, domain.WorkOrderAssignedPayload{
		AssignedEngineerID: "engineer-1",
	}), now)
	tx, err = pool.Begin(t.Context())
	require.NoError(t, err)
	_, err = tx.Exec(t.Context(), `UPDATE work_orders_current SET scheduled_start = $2 WHERE work_order_id = $1`, "wo-5", assignedStart)
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, assignedEnv, uuid.NewString(), now))
	require.NoError(t, tx.Commit(t.Context()))

	startedEnv := envelopeWith(domain.EventWorkStarted, "wo-5", map[string]any{}, now)
	tx, err = pool.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, startedEnv, uuid.NewString(), now))
	require.NoError(t, tx.Commit(t.Context()))

	slaView, err := reader.FetchSLAView(t.Context(), "wo-5")
	require.NoError(t, err)
	require.NotNil(t, slaView)
	require.Equal(t, domain.SLABreached, slaView.State)
	require.NotNil(t, slaView.BreachedAt)

	wo, err := reader.FetchWorkOrder(t.Context(), "wo-5")
	require.NoError(t, err)
	require.NotNil(t, wo)
	require.Equal(t, domain.SLABreached, wo.SLAState)
}

func TestApplierAssignedNeverWidensAlreadySetSLADeadline(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "applier_sla_writeonce")
	applier := projection.NewApplier()
	reader := projection.NewReader(pool)

	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	createEnv := envelopeWith(domain.EventWorkOrderCreated, "wo-6", payloadFor(t, domain.WorkOrderCreatedPayload{
		ClientID: "client-1", AssetID: "asset-1", Priority: string(domain.PriorityCritical), WorkType: "CORRECTIVE",
	}), now)
	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, createEnv, uuid.NewString(), now))
	require.NoError(t, tx.Commit(t.Context()))

	slaBefore, err := reader.FetchSLAView(t.Context(), "wo-6")
	require.NoError(t, err)
	require.NotNil(t, slaBefore)
	require.NotNil(t, slaBefore.ReactionDeadline)
	originalDeadline := *slaBefore.ReactionDeadline

	later := now.Add(1 * time.Hour)
	assignedEnv := envelopeWith(domain.EventWorkOrderAssigned, "wo-6", payloadFor(t, domain.WorkOrderAssignedPayload{
		AssignedEngineerID: "engineer-1",
	}), later)
	tx, err = pool.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, assignedEnv, uuid.NewString(), later))
	require.NoError(t, tx.Commit(t.Context()))

	slaAfter, err := reader.FetchSLAView(t.Context(), "wo-6")
	require.NoError(t, err)
	require.NotNil(t, slaAfter)
	require.NotNil(t, slaAfter.ReactionDeadline)
	require.Equal(t, originalDeadline, *slaAfter.ReactionDeadline)
}

func TestApplierEvidenceInsertsAppendOnlyRow(t *testing.T) {
	t.Parallel()
	pool := testutil.OpenMigratedPGXPool(t, "applier_evidence")
	applier := projection.NewApplier()

	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	createEnv := envelopeWith(domain.EventWorkOrderCreated, "wo-4", payloadFor(t, domain.WorkOrderCreatedPayload{
		ClientID: "client-1", AssetID: "asset-1", Priority: string(domain.PriorityMedium), WorkType: "PREVENTIVE",
	}), now)
	tx, err := pool.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, createEnv, uuid.NewString(), now))
	require.NoError(t, tx.Commit(t.Context()))

	evidenceEnv := envelopeWith(domain.EventEvidencePhotoAdded, "wo-4", payloadFor(t, domain.EvidencePayload{
		EvidenceID: "ev-1", URL: "https://example.com/p.jpg",
	}), now)
	tx, err = pool.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, applier.Apply(t.Context(), tx, evidenceEnv, uuid.NewString(), now))
	require.NoError(t, tx.Commit(t.Context()))

	var count int
	err = pool.QueryRow(t.Context(), `SELECT count(*) FROM work_order_evidence WHERE work_order_id = 'wo-4'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
