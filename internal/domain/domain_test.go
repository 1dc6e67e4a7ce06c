package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelopePayloadMapRoundTrip(t *testing.T) {
	raw, err := json.Marshal(WorkOrderCreatedPayload{
		ClientID: "client-1",
		AssetID:  "asset-1",
		Priority: string(PriorityHigh),
		WorkType: "CORRECTIVE",
	})
	require.NoError(t, err)

	env := Envelope{
		EventID:   "evt-1",
		EventType: EventWorkOrderCreated,
		Payload:   raw,
	}

	m, err := env.PayloadMap()
	require.NoError(t, err)
	require.Equal(t, "client-1", m["client_id"])
	require.Equal(t, string(PriorityHigh), m["priority"])
}

func TestEnvelopeWithEffectiveTime(t *testing.T) {
	base := Envelope{EventID: "evt-1"}
	ts := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

	withTime := base.WithEffectiveTime(ts)
	require.Nil(t, base.EffectiveTime)
	require.NotNil(t, withTime.EffectiveTime)
	require.Equal(t, ts, *withTime.EffectiveTime)
}

func TestCheckCompositeInvariant(t *testing.T) {
	require.True(t, CheckCompositeInvariant(BusinessNew, ExecutionNotStarted))
	require.True(t, CheckCompositeInvariant(BusinessInProgress, ExecutionWork))
	require.False(t, CheckCompositeInvariant(BusinessNew, ExecutionWork))
	require.False(t, CheckCompositeInvariant(BusinessCompleted, ExecutionWork))
}

func TestBusinessTransitionsTable(t *testing.T) {
	next, ok := BusinessTransitions[BusinessNew][EventWorkOrderAssigned]
	require.True(t, ok)
	require.Equal(t, BusinessPlanned, next)

	_, ok = BusinessTransitions[BusinessCompleted][EventWorkOrderCancelled]
	require.False(t, ok, "COMPLETED must never accept CANCELLED")
}

func TestDefaultSLADurations(t *testing.T) {
	reaction, restore := DefaultSLADurations(PriorityCritical)
	require.Equal(t, 2*time.Hour, reaction)
	require.Equal(t, 8*time.Hour, restore)

	reaction, restore = DefaultSLADurations(PriorityLow)
	require.Equal(t, 8*time.Hour, reaction)
	require.Equal(t, 72*time.Hour, restore)
}

func TestHookRegistryBestEffortDelivery(t *testing.T) {
	reg := NewHookRegistry()
	var calledFailing, calledOK bool

	reg.Register(EventWorkOrderCreated, func(_ context.Context, _ Envelope) error {
		calledFailing = true
		return errors.New("boom")
	})
	reg.RegisterAll(func(_ context.Context, _ Envelope) error {
		calledOK = true
		return nil
	})

	err := reg.Notify(context.Background(), Envelope{EventType: EventWorkOrderCreated})
	require.Error(t, err)
	require.True(t, calledFailing)
	require.True(t, calledOK, "catch-all hook must still run after the typed hook fails")
}
