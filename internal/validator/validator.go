// Package validator implements the pure decision function at the center of
// ingestion: given an envelope and an actor, it decides ACCEPTED, REJECTED,
// or NEEDS_REVIEW without ever mutating state itself.
//
// Import Path: servicebox.io/fsmcore/internal/validator
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"servicebox.io/fsmcore/internal/domain"
	"servicebox.io/fsmcore/internal/schema"
)

// ProjectionStore is the read-only slice of the projection store the
// validator needs: the current work order state keyed by entity_id.
type ProjectionStore interface {
	FetchWorkOrder(ctx context.Context, workOrderID string) (*domain.WorkOrder, error)
}

// ContractStore resolves the optional per-client SLA override referenced by
// a WORK_ORDER.CREATED payload's contract_id.
type ContractStore interface {
	FetchContract(ctx context.Context, contractID string) (*domain.Contract, error)
}

// CatalogGate answers reference-catalog guard questions.
type CatalogGate interface {
	IsActiveCode(ctx context.Context, catalog, code string) (bool, error)
}

// Clock returns the current time, injected so tests control it explicitly
// rather than reading time.Now() implicitly inside the decision function.
type Clock func() time.Time

// Validator is the pure decision function's dependency bundle. Nothing it
// holds is mutated by Validate.
type Validator struct {
	schema     *schema.Registry
	projections ProjectionStore
	contracts  ContractStore
	catalog    CatalogGate
	now        Clock
}

// New builds a Validator. now defaults to time.Now if nil.
func New(reg *schema.Registry, projections ProjectionStore, contracts ContractStore, catalog CatalogGate, now Clock) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{schema: reg, projections: projections, contracts: contracts, catalog: catalog, now: now}
}

// Validate runs the full ordered check sequence (spec §4.3) and returns a
// Decision. It never appends to the event store or mutates a projection —
// that is the orchestrator's and the applier's job, always inside the same
// transaction this Validator was constructed against.
func (v *Validator) Validate(ctx context.Context, envelope domain.Envelope, actor domain.Actor) (domain.Decision, error) {
	envelopeObj, err := toGenericObject(envelope)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("marshal envelope for schema check: %w", err)
	}

	// 1. Envelope schema.
	if violations := v.schema.ValidateEnvelope(envelopeObj); len(violations) > 0 {
		return domain.Rejected(domain.ReasonPayloadMissing, map[string]any{"errors": violationMessages(violations)}), nil
	}

	// 2. Payload schema for event_type; unknown event type is a guard failure.
	payloadObj, err := envelope.PayloadMap()
	if err != nil {
		return domain.Rejected(domain.ReasonPayloadMissing, map[string]any{"errors": []string{err.Error()}}), nil
	}
	payloadViolations, known := v.schema.ValidatePayload(envelope.EventType, payloadObj)
	if !known {
		return domain.Rejected(domain.ReasonGuardFailed, map[string]any{"error": fmt.Sprintf("unknown event_type: %s", envelope.EventType)}), nil
	}
	if len(payloadViolations) > 0 {
		return domain.Rejected(domain.ReasonPayloadMissing, map[string]any{"errors": violationMessages(payloadViolations)}), nil
	}

	// 3. SLA events are server-only.
	if strings.HasPrefix(string(envelope.EventType), "SLA.") && envelope.Source != domain.SourceSystem {
		return domain.Rejected(domain.ReasonSLAServerOnly, nil), nil
	}

	// 4. RBAC by event_type.
	if !rolePermitted(envelope.EventType, actor.Role) {
		return domain.Rejected(domain.ReasonRBACDenied, nil), nil
	}

	// 5. Projection fetch.
	projection, err := v.projections.FetchWorkOrder(ctx, envelope.EntityID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("fetch work order projection: %w", err)
	}

	// 6. Engineer binding: an engineer may only act on their own work order,
	// for every event type including parts and evidence.
	if actor.Role == domain.RoleEngineer && projection != nil {
		if projection.AssignedEngineerID == "" || projection.AssignedEngineerID != actor.ActorID {
			return domain.Rejected(domain.ReasonRBACDenied, nil), nil
		}
	}

	// 7. Existence rule.
	if envelope.EventType != domain.EventWorkOrderCreated && projection == nil {
		return domain.Rejected(domain.ReasonInvalidTransition, nil), nil
	}
	if envelope.EventType == domain.EventWorkOrderCreated && projection != nil {
		return domain.Rejected(domain.ReasonInvalidTransition, nil), nil
	}

	// 8. Time policy.
	var actualStartEffective *time.Time
	if projection != nil {
		actualStartEffective = projection.ActualStartEffective
	}
	timeResult := evaluateTimePolicy(v.now().UTC(), envelope, actualStartEffective)
	switch timeResult.decision {
	case domain.DecisionRejected:
		return domain.Rejected(timeResult.reasonCode, timeResult.details), nil
	case domain.DecisionNeedsReview:
		return domain.NeedsReview(timeResult.reasonCode, envelope.WithEffectiveTime(timeResult.effectiveTime)), nil
	}

	// 9. Catalog guards.
	if decision, err := v.checkCatalogGuards(ctx, envelope); err != nil {
		return domain.Decision{}, err
	} else if decision != nil {
		return *decision, nil
	}

	// 10. Contract guard on WORK_ORDER.CREATED.
	if envelope.EventType == domain.EventWorkOrderCreated {
		if decision, err := v.checkContractGuard(ctx, envelope); err != nil {
			return domain.Decision{}, err
		} else if decision != nil {
			return *decision, nil
		}
	}

	// 11. FSM validation.
	if envelope.EventType != domain.EventWorkOrderCreated {
		if decision := validateFSM(envelope.EventType, projection.BusinessState, projection.ExecutionState, projection.SLAState); decision.Decision != domain.DecisionAccepted {
			return decision, nil
		}
	}

	// 12. Success.
	return domain.Accepted(envelope.WithEffectiveTime(timeResult.effectiveTime)), nil
}

// validateFSM mirrors _validate_fsm: composite invariant first, then SLA
// transitions for SLA.* events, then business/execution transition tables
// for everything else.
func validateFSM(eventType domain.EventType, business domain.BusinessState, execution domain.ExecutionState, sla domain.SLAState) domain.Decision {
	if !domain.CheckCompositeInvariant(business, execution) {
		return domain.Rejected(domain.ReasonStateMismatch, map[string]any{
			"business_state":  business,
			"execution_state": execution,
		})
	}

	if strings.HasPrefix(string(eventType), "SLA.") {
		if _, ok := domain.SLATransitions[sla][eventType]; !ok {
			return domain.Rejected(domain.ReasonInvalidTransition, nil)
		}
		return domain.Decision{Decision: domain.DecisionAccepted}
	}

	if _, ok := domain.BusinessTransitions[business][eventType]; ok {
		if required, hasRequirement := domain.ExecutionRequiredBusiness[eventType]; hasRequirement && !containsBusinessState(required, business) {
			return domain.Rejected(domain.ReasonInvalidTransition, nil)
		}
		return domain.Decision{Decision: domain.DecisionAccepted}
	}

	if domain.ExecutionAllowed[execution][eventType] {
		if required, hasRequirement := domain.ExecutionRequiredBusiness[eventType]; hasRequirement && !containsBusinessState(required, business) {
			return domain.Rejected(domain.ReasonInvalidTransition, nil)
		}
		return domain.Decision{Decision: domain.DecisionAccepted}
	}

	return domain.Rejected(domain.ReasonInvalidTransition, nil)
}

func containsBusinessState(states []domain.BusinessState, target domain.BusinessState) bool {
	for _, s := range states {
		if s == target {
			return true
		}
	}
	return false
}

func (v *Validator) checkCatalogGuards(ctx context.Context, envelope domain.Envelope) (*domain.Decision, error) {
	switch envelope.EventType {
	case domain.EventWorkPaused:
		var payload domain.WorkPausedPayload
		if !decodeInto(envelope.Payload, &payload) {
			break
		}
		active, err := v.catalog.IsActiveCode(ctx, "WORK_PAUSE_REASON", payload.ReasonCode)
		if err != nil {
			return nil, err
		}
		if !active {
			d := domain.Rejected(domain.ReasonGuardFailed, nil)
			return &d, nil
		}
	case domain.EventWorkOrderCancelled:
		var payload domain.WorkOrderCancelledPayload
		if !decodeInto(envelope.Payload, &payload) {
			break
		}
		active, err := v.catalog.IsActiveCode(ctx, "CANCEL_REASON", payload.ReasonCode)
		if err != nil {
			return nil, err
		}
		if !active {
			d := domain.Rejected(domain.ReasonGuardFailed, nil)
			return &d, nil
		}
	case domain.EventWorkCompleted:
		var payload domain.WorkCompletedPayload
		decodeInto(envelope.Payload, &payload)
		for catalogName, codes := range map[string][]string{
			"SYMPTOM": payload.Symptoms,
			"CAUSE":   payload.Causes,
			"ACTION":  payload.Actions,
		} {
			for _, code := range codes {
				active, err := v.catalog.IsActiveCode(ctx, catalogName, code)
				if err != nil {
					return nil, err
				}
				if !active {
					d := domain.Rejected(domain.ReasonGuardFailed, nil)
					return &d, nil
				}
			}
		}
	}
	return nil, nil
}

func (v *Validator) checkContractGuard(ctx context.Context, envelope domain.Envelope) (*domain.Decision, error) {
	var payload domain.WorkOrderCreatedPayload
	if !decodeInto(envelope.Payload, &payload) || payload.ContractID == "" {
		return nil, nil
	}

	contract, err := v.contracts.FetchContract(ctx, payload.ContractID)
	if err != nil {
		return nil, err
	}
	if contract == nil || !contract.IsActive || contract.ClientID != payload.ClientID {
		d := domain.Rejected(domain.ReasonGuardFailed, nil)
		return &d, nil
	}
	now := v.now().UTC()
	if now.Before(contract.ActiveFrom) || (contract.ActiveTo != nil && now.After(*contract.ActiveTo)) {
		d := domain.Rejected(domain.ReasonGuardFailed, nil)
		return &d, nil
	}
	return nil, nil
}

func violationMessages(violations []schema.Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = v.Message
	}
	return out
}

// toGenericObject round-trips the envelope through JSON so the schema
// registry sees plain map[string]any/float64/string values, the shape
// jsonschema expects, rather than Go's typed Envelope struct.
func toGenericObject(envelope domain.Envelope) (map[string]any, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
