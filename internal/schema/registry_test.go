package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"servicebox.io/fsmcore/internal/domain"
)

func TestNewRegistryCompilesAllEventTypes(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	for _, eventType := range []domain.EventType{
		domain.EventWorkOrderCreated,
		domain.EventWorkOrderAssigned,
		domain.EventWorkOrderCancelled,
		domain.EventWorkOrderClosed,
		domain.EventWorkDispatched,
		domain.EventWorkArrivedOnSite,
		domain.EventWorkStarted,
		domain.EventWorkPaused,
		domain.EventWorkResumed,
		domain.EventWorkCompleted,
		domain.EventPartReserved,
		domain.EventPartInstalled,
		domain.EventPartConsumed,
		domain.EventEvidencePhotoAdded,
		domain.EventEvidenceDocumentAdded,
		domain.EventEvidenceSignatureCaptured,
		domain.EventSLAAtRisk,
		domain.EventSLABreached,
		domain.EventSLARecovered,
		domain.EventSLABreachAccepted,
	} {
		require.True(t, reg.HasEventType(eventType), "missing payload schema for %s", eventType)
	}

	require.False(t, reg.HasEventType(domain.EventType("NOT.A.REAL.EVENT")))
}

func TestValidateEnvelopeRejectsMissingFields(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	violations := reg.ValidateEnvelope(map[string]any{
		"entity_type": "work_order",
	})
	require.NotEmpty(t, violations)
}

func TestValidateEnvelopeAcceptsWellFormed(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	violations := reg.ValidateEnvelope(map[string]any{
		"entity_type":    "work_order",
		"entity_id":      "wo-1",
		"event_type":     "WORK_ORDER.CREATED",
		"payload":        map[string]any{},
		"source":         "web",
		"schema_version": 1,
		"created_by":     "user-1",
	})
	require.Empty(t, violations)
}

func TestValidatePayloadWorkOrderCreated(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	violations, known := reg.ValidatePayload(domain.EventWorkOrderCreated, map[string]any{
		"client_id": "c-1",
		"asset_id":  "a-1",
		"priority":  "HIGH",
		"work_type": "corrective",
	})
	require.True(t, known)
	require.Empty(t, violations)

	violations, known = reg.ValidatePayload(domain.EventWorkOrderCreated, map[string]any{
		"client_id": "c-1",
	})
	require.True(t, known)
	require.NotEmpty(t, violations)
}

func TestValidatePayloadUnknownEventType(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	_, known := reg.ValidatePayload(domain.EventType("NOT.A.REAL.EVENT"), map[string]any{})
	require.False(t, known)
}
