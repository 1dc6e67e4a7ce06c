// Package domain holds the core types shared by every ingestion component:
// the event envelope, typed payload variants, the actor identity, the three
// coupled state machines and the projections they drive.
//
// Import Path: servicebox.io/fsmcore/internal/domain
package domain

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of domain event carried by an envelope.
type EventType string

const (
	EventWorkOrderCreated   EventType = "WORK_ORDER.CREATED"
	EventWorkOrderAssigned  EventType = "WORK_ORDER.ASSIGNED"
	EventWorkOrderCancelled EventType = "WORK_ORDER.CANCELLED"
	EventWorkOrderClosed    EventType = "WORK_ORDER.CLOSED"

	EventWorkDispatched    EventType = "WORK.DISPATCHED"
	EventWorkArrivedOnSite EventType = "WORK.ARRIVED_ON_SITE"
	EventWorkStarted       EventType = "WORK.STARTED"
	EventWorkPaused        EventType = "WORK.PAUSED"
	EventWorkResumed       EventType = "WORK.RESUMED"
	EventWorkCompleted     EventType = "WORK.COMPLETED"

	EventPartReserved  EventType = "PART.RESERVED"
	EventPartInstalled EventType = "PART.INSTALLED"
	EventPartConsumed  EventType = "PART.CONSUMED"

	EventEvidencePhotoAdded        EventType = "EVIDENCE.PHOTO_ADDED"
	EventEvidenceDocumentAdded     EventType = "EVIDENCE.DOCUMENT_ADDED"
	EventEvidenceSignatureCaptured EventType = "EVIDENCE.SIGNATURE_CAPTURED"

	EventSLAAtRisk         EventType = "SLA.AT_RISK"
	EventSLABreached       EventType = "SLA.BREACHED"
	EventSLARecovered      EventType = "SLA.RECOVERED"
	EventSLABreachAccepted EventType = "SLA.BREACH_ACCEPTED"
)

// Source identifies who submitted an event.
type Source string

const (
	SourceWeb    Source = "web"
	SourceMobile Source = "mobile"
	SourceSystem Source = "system"
)

// Envelope is the wire-level representation of a submitted event. Payload is
// kept as raw JSON; the validator decodes it into a typed variant once the
// envelope and the event_type are known to be well formed.
type Envelope struct {
	EventID            string          `json:"event_id"`
	EntityType         string          `json:"entity_type"`
	EntityID           string          `json:"entity_id"`
	EventType          EventType       `json:"event_type"`
	Payload            json.RawMessage `json:"payload"`
	Source             Source          `json:"source"`
	CreatedAtReported  time.Time       `json:"created_at_reported"`
	CreatedAtSystem    time.Time       `json:"created_at_system"`
	EffectiveTime      *time.Time      `json:"effective_time,omitempty"`
	ClientEventID      string          `json:"client_event_id,omitempty"`
	IdempotencyKey     string          `json:"idempotency_key,omitempty"`
	CorrelationID      string          `json:"correlation_id,omitempty"`
	CausationID        string          `json:"causation_id,omitempty"`
	SchemaVersion      int             `json:"schema_version"`
	CreatedBy          string          `json:"created_by"`
}

// WithEffectiveTime returns a copy of the envelope with effective_time set,
// the normalized_event the validator hands back on ACCEPTED decisions.
func (e Envelope) WithEffectiveTime(t time.Time) Envelope {
	cp := e
	cp.EffectiveTime = &t
	return cp
}

// PayloadMap decodes the raw payload into a generic map, preserving any
// fields a typed variant does not model (forward-compatible decoding).
func (e Envelope) PayloadMap() (map[string]any, error) {
	if len(e.Payload) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// WorkOrderCreatedPayload is the typed variant for WORK_ORDER.CREATED.
// Unrecognised payload fields still round-trip through PayloadMap, so
// consumers that need the raw shape are never blocked by this struct.
type WorkOrderCreatedPayload struct {
	ClientID       string     `json:"client_id"`
	AssetID        string     `json:"asset_id"`
	Priority       string     `json:"priority"`
	WorkType       string     `json:"work_type"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`
	ContractID     string     `json:"contract_id,omitempty"`
}

// WorkOrderAssignedPayload is the typed variant for WORK_ORDER.ASSIGNED.
type WorkOrderAssignedPayload struct {
	AssignedEngineerID string `json:"assigned_engineer_id,omitempty"`
	AssignedTeamID     string `json:"assigned_team_id,omitempty"`
}

// WorkOrderCancelledPayload is the typed variant for WORK_ORDER.CANCELLED.
type WorkOrderCancelledPayload struct {
	ReasonCode string `json:"reason_code"`
}

// WorkStartedPayload is the typed variant for WORK.STARTED.
type WorkStartedPayload struct {
	ActualStartReported *time.Time `json:"actual_start_reported,omitempty"`
}

// WorkPausedPayload is the typed variant for WORK.PAUSED.
type WorkPausedPayload struct {
	ReasonCode string `json:"reason_code"`
}

// WorkCompletedPayload is the typed variant for WORK.COMPLETED.
type WorkCompletedPayload struct {
	ActualEndReported *time.Time `json:"actual_end_reported,omitempty"`
	DowntimeMinutes   int        `json:"downtime_minutes,omitempty"`
	Symptoms          []string   `json:"symptoms,omitempty"`
	Causes            []string   `json:"causes,omitempty"`
	Actions           []string   `json:"actions,omitempty"`
}

// PartEventPayload is the typed variant shared by PART.RESERVED,
// PART.INSTALLED and PART.CONSUMED — each differs only in which quantity
// column the applier adds the qty to.
type PartEventPayload struct {
	PartID string `json:"part_id"`
	Qty    int    `json:"qty"`
}

// EvidencePayload is the typed variant shared by EVIDENCE.PHOTO_ADDED,
// EVIDENCE.DOCUMENT_ADDED and EVIDENCE.SIGNATURE_CAPTURED — the evidence_type
// stored on the row comes from the event_type itself, not a payload field.
type EvidencePayload struct {
	EvidenceID   string `json:"evidence_id"`
	URL          string `json:"url,omitempty"`
	SignatureURL string `json:"signature_url,omitempty"`
}
