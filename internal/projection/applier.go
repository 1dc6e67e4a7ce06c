// Package projection implements the Projection Applier: the one place that
// turns an accepted, normalized event into mutations of the read-model
// tables (work_orders_current, sla_view, work_order_timeline,
// work_order_parts, work_order_evidence, engineer_board). It runs inside
// the same transaction the orchestrator used to append the event, so a read
// model is never observably out of sync with the event that produced it.
//
// Import Path: servicebox.io/fsmcore/internal/projection
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"servicebox.io/fsmcore/internal/domain"
)

// Applier mutates the projection tables from one accepted event at a time.
type Applier struct{}

// NewApplier builds an Applier. It is stateless; one instance is shared
// across every ingestion.
func NewApplier() *Applier {
	return &Applier{}
}

// Apply mutates every projection table the event_type touches. eventID and
// effectiveTime come from the Decision the orchestrator already appended.
func (a *Applier) Apply(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, eventID string, effectiveTime time.Time) error {
	payload, err := envelope.PayloadMap()
	if err != nil {
		return fmt.Errorf("decode payload for apply: %w", err)
	}

	switch envelope.EventType {
	case domain.EventWorkOrderCreated:
		if err := a.applyWorkOrderCreated(ctx, tx, envelope, eventID, payload); err != nil {
			return err
		}
	case domain.EventWorkOrderAssigned:
		if err := a.applyWorkOrderAssigned(ctx, tx, envelope, eventID, payload); err != nil {
			return err
		}
	case domain.EventWorkDispatched:
		if err := a.updateIfExecutionState(ctx, tx, envelope.EntityID, eventID, domain.ExecutionNotStarted, domain.ExecutionTravel); err != nil {
			return err
		}
	case domain.EventWorkArrivedOnSite:
		if err := a.updateIfExecutionState(ctx, tx, envelope.EntityID, eventID, domain.ExecutionTravel, domain.ExecutionWork); err != nil {
			return err
		}
	case domain.EventWorkStarted:
		if err := a.applyWorkStarted(ctx, tx, envelope, eventID, payload, effectiveTime); err != nil {
			return err
		}
	case domain.EventWorkPaused:
		if err := a.applyWorkPaused(ctx, tx, envelope.EntityID, eventID, payload); err != nil {
			return err
		}
	case domain.EventWorkResumed:
		if _, err := tx.Exec(ctx, `
			UPDATE work_orders_current
			SET business_state = $2, execution_state = $3, last_event_id = $4,
			    last_event_at = now(), version = version + 1
			WHERE work_order_id = $1`,
			envelope.EntityID, domain.BusinessInProgress, domain.ExecutionWork, eventID,
		); err != nil {
			return fmt.Errorf("apply work resumed: %w", err)
		}
	case domain.EventWorkCompleted:
		if err := a.applyWorkCompleted(ctx, tx, envelope, eventID, payload, effectiveTime); err != nil {
			return err
		}
	case domain.EventWorkOrderClosed:
		if _, err := tx.Exec(ctx, `
			UPDATE work_orders_current
			SET business_state = $2, last_event_id = $3, last_event_at = now(), version = version + 1
			WHERE work_order_id = $1`,
			envelope.EntityID, domain.BusinessClosed, eventID,
		); err != nil {
			return fmt.Errorf("apply work order closed: %w", err)
		}
	case domain.EventWorkOrderCancelled:
		if _, err := tx.Exec(ctx, `
			UPDATE work_orders_current
			SET business_state = $2, last_event_id = $3, last_event_at = now(), version = version + 1
			WHERE work_order_id = $1`,
			envelope.EntityID, domain.BusinessCancelled, eventID,
		); err != nil {
			return fmt.Errorf("apply work order cancelled: %w", err)
		}
	default:
		if err := a.applySLAOrAncillary(ctx, tx, envelope, eventID, payload); err != nil {
			return err
		}
	}

	if err := a.insertTimeline(ctx, tx, envelope, eventID, payload); err != nil {
		return err
	}
	if err := a.applyParts(ctx, tx, envelope, payload); err != nil {
		return err
	}
	if err := a.applyEvidence(ctx, tx, envelope, payload); err != nil {
		return err
	}
	return a.syncEngineerBoard(ctx, tx, envelope.EntityID)
}

func (a *Applier) applyWorkOrderCreated(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, eventID string, payload map[string]any) error {
	var created domain.WorkOrderCreatedPayload
	if err := remarshal(payload, &created); err != nil {
		return fmt.Errorf("decode WORK_ORDER.CREATED payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO work_orders_current (
			work_order_id, client_id, asset_id, priority, work_type,
			business_state, execution_state, sla_state,
			scheduled_start, scheduled_end,
			last_event_id, last_event_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), 1)`,
		envelope.EntityID, created.ClientID, created.AssetID, created.Priority, created.WorkType,
		domain.BusinessNew, domain.ExecutionNotStarted, domain.SLAInSLA,
		created.ScheduledStart, created.ScheduledEnd,
		eventID,
	); err != nil {
		return fmt.Errorf("insert work order: %w", err)
	}

	reaction, restore := slaDurationsFor(ctx, tx, created.Priority, created.ContractID)
	base := envelope.CreatedAtSystem
	if created.ScheduledStart != nil {
		base = *created.ScheduledStart
	}
	if base.IsZero() {
		base = envelope.CreatedAtSystem
	}
	return ensureSLADeadlines(ctx, tx, envelope.EntityID, base.Add(reaction), base.Add(restore))
}

func (a *Applier) applyWorkOrderAssigned(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, eventID string, payload map[string]any) error {
	var assigned domain.WorkOrderAssignedPayload
	if err := remarshal(payload, &assigned); err != nil {
		return fmt.Errorf("decode WORK_ORDER.ASSIGNED payload: %w", err)
	}
	var schedule struct {
		ScheduledStart *time.Time `json:"scheduled_start"`
		ScheduledEnd   *time.Time `json:"scheduled_end"`
	}
	if err := remarshal(payload, &schedule); err != nil {
		return fmt.Errorf("decode WORK_ORDER.ASSIGNED schedule: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE work_orders_current
		SET business_state = $2, assigned_engineer_id = NULLIF($3, ''), assigned_team_id = NULLIF($4, ''),
		    scheduled_start = COALESCE($6, scheduled_start), scheduled_end = COALESCE($7, scheduled_end),
		    last_event_id = $5, last_event_at = now(), version = version + 1
		WHERE work_order_id = $1`,
		envelope.EntityID, domain.BusinessPlanned, assigned.AssignedEngineerID, assigned.AssignedTeamID, eventID,
		schedule.ScheduledStart, schedule.ScheduledEnd,
	); err != nil {
		return fmt.Errorf("apply work order assigned: %w", err)
	}

	var priority string
	var scheduledStart *time.Time
	if err := tx.QueryRow(ctx, `SELECT priority, scheduled_start FROM work_orders_current WHERE work_order_id = $1`, envelope.EntityID).Scan(&priority, &scheduledStart); err != nil {
		return fmt.Errorf("read work order for sla deadlines: %w", err)
	}
	reaction, restore := slaDurationsFor(ctx, tx, priority, "")
	base := envelope.CreatedAtSystem
	if scheduledStart != nil {
		base = *scheduledStart
	}
	return ensureSLADeadlines(ctx, tx, envelope.EntityID, base.Add(reaction), base.Add(restore))
}

func (a *Applier) updateIfExecutionState(ctx context.Context, tx pgx.Tx, workOrderID, eventID string, from, to domain.ExecutionState) error {
	_, err := tx.Exec(ctx, `
		UPDATE work_orders_current
		SET execution_state = $3, last_event_id = $4, last_event_at = now(), version = version + 1
		WHERE work_order_id = $1 AND execution_state = $2`,
		workOrderID, from, to, eventID,
	)
	if err != nil {
		return fmt.Errorf("apply execution transition: %w", err)
	}
	return nil
}

func (a *Applier) applyWorkStarted(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, eventID string, payload map[string]any, effectiveTime time.Time) error {
	var started domain.WorkStartedPayload
	_ = remarshal(payload, &started)

	actualStartReported := envelope.CreatedAtReported
	if started.ActualStartReported != nil {
		actualStartReported = *started.ActualStartReported
	}

	if _, err := tx.Exec(ctx, `
		UPDATE work_orders_current
		SET business_state = $2,
		    execution_state = CASE WHEN execution_state IN ($3, $4) THEN $5 ELSE execution_state END,
		    actual_start_reported = $6, actual_start_effective = $7,
		    last_event_id = $8, last_event_at = now(), version = version + 1
		WHERE work_order_id = $1`,
		envelope.EntityID, domain.BusinessInProgress,
		domain.ExecutionNotStarted, domain.ExecutionTravel, domain.ExecutionWork,
		nullableTime(actualStartReported), effectiveTime,
		eventID,
	); err != nil {
		return fmt.Errorf("apply work started: %w", err)
	}

	var reactionDeadline *time.Time
	if err := tx.QueryRow(ctx, `SELECT reaction_deadline_at FROM sla_view WHERE work_order_id = $1`, envelope.EntityID).Scan(&reactionDeadline); err != nil {
		return fmt.Errorf("read reaction deadline: %w", err)
	}
	if reactionDeadline != nil && effectiveTime.After(*reactionDeadline) {
		return markSLABreached(ctx, tx, envelope.EntityID)
	}
	return nil
}

func (a *Applier) applyWorkPaused(ctx context.Context, tx pgx.Tx, workOrderID, eventID string, payload map[string]any) error {
	var paused domain.WorkPausedPayload
	_ = remarshal(payload, &paused)

	nextExecution := ""
	switch paused.ReasonCode {
	case "PARTS":
		nextExecution = string(domain.ExecutionWaitingParts)
	case "CLIENT":
		nextExecution = string(domain.ExecutionWaitingClient)
	}

	_, err := tx.Exec(ctx, `
		UPDATE work_orders_current
		SET business_state = $2,
		    execution_state = CASE
		        WHEN execution_state = $3 AND $4 <> '' THEN $4::text
		        ELSE execution_state
		    END,
		    last_event_id = $5, last_event_at = now(), version = version + 1
		WHERE work_order_id = $1`,
		workOrderID, domain.BusinessOnHold, domain.ExecutionWork, nextExecution, eventID,
	)
	if err != nil {
		return fmt.Errorf("apply work paused: %w", err)
	}
	return nil
}

func (a *Applier) applyWorkCompleted(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, eventID string, payload map[string]any, effectiveTime time.Time) error {
	var completed domain.WorkCompletedPayload
	_ = remarshal(payload, &completed)

	actualEndReported := envelope.CreatedAtReported
	if completed.ActualEndReported != nil {
		actualEndReported = *completed.ActualEndReported
	}

	var actualStartEffective *time.Time
	if err := tx.QueryRow(ctx, `SELECT actual_start_effective FROM work_orders_current WHERE work_order_id = $1`, envelope.EntityID).Scan(&actualStartEffective); err != nil {
		return fmt.Errorf("read actual_start_effective: %w", err)
	}

	downtimeMinutes := 0
	if actualStartEffective != nil {
		downtimeMinutes = int(effectiveTime.Sub(*actualStartEffective).Minutes())
	}

	if _, err := tx.Exec(ctx, `
		UPDATE work_orders_current
		SET business_state = $2, execution_state = $3,
		    actual_end_reported = $4, actual_end_effective = $5, downtime_minutes = $6,
		    last_event_id = $7, last_event_at = now(), version = version + 1
		WHERE work_order_id = $1`,
		envelope.EntityID, domain.BusinessCompleted, domain.ExecutionFinished,
		nullableTime(actualEndReported), effectiveTime, downtimeMinutes,
		eventID,
	); err != nil {
		return fmt.Errorf("apply work completed: %w", err)
	}

	var restoreDeadline *time.Time
	if err := tx.QueryRow(ctx, `SELECT restore_deadline_at FROM sla_view WHERE work_order_id = $1`, envelope.EntityID).Scan(&restoreDeadline); err != nil {
		return fmt.Errorf("read restore deadline: %w", err)
	}
	if restoreDeadline != nil && effectiveTime.After(*restoreDeadline) {
		return markSLABreached(ctx, tx, envelope.EntityID)
	}
	return nil
}

func (a *Applier) applySLAOrAncillary(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, eventID string, _ map[string]any) error {
	slaState, ok := slaStateFromEvent(envelope.EventType)
	if !ok {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE work_orders_current
		SET sla_state = $2, last_event_id = $3, last_event_at = now(), version = version + 1
		WHERE work_order_id = $1`,
		envelope.EntityID, slaState, eventID,
	); err != nil {
		return fmt.Errorf("apply sla state: %w", err)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO sla_view (work_order_id, state, last_calc_at)
		VALUES ($1, $2, now())
		ON CONFLICT (work_order_id) DO UPDATE SET state = EXCLUDED.state, last_calc_at = EXCLUDED.last_calc_at`,
		envelope.EntityID, slaState,
	)
	if err != nil {
		return fmt.Errorf("upsert sla view: %w", err)
	}
	return nil
}

func (a *Applier) insertTimeline(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, eventID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal timeline payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO work_order_timeline (work_order_id, event_id, event_type, created_at_system, created_by, payload)
		VALUES ($1, $2, $3, now(), $4, $5)`,
		envelope.EntityID, eventID, envelope.EventType, envelope.CreatedBy, raw,
	)
	if err != nil {
		return fmt.Errorf("insert timeline entry: %w", err)
	}
	return nil
}

func (a *Applier) applyParts(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, payload map[string]any) error {
	var qtyColumn string
	switch envelope.EventType {
	case domain.EventPartReserved:
		qtyColumn = "reserved_qty"
	case domain.EventPartInstalled:
		qtyColumn = "installed_qty"
	case domain.EventPartConsumed:
		qtyColumn = "consumed_qty"
	default:
		return nil
	}

	var part domain.PartEventPayload
	if err := remarshal(payload, &part); err != nil {
		return fmt.Errorf("decode part event payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO work_order_parts (work_order_id, part_id, %[1]s, last_event_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (work_order_id, part_id)
		DO UPDATE SET %[1]s = work_order_parts.%[1]s + EXCLUDED.%[1]s, last_event_at = now()`, qtyColumn)
	if _, err := tx.Exec(ctx, query, envelope.EntityID, part.PartID, part.Qty); err != nil {
		return fmt.Errorf("apply part quantity: %w", err)
	}
	return nil
}

func (a *Applier) applyEvidence(ctx context.Context, tx pgx.Tx, envelope domain.Envelope, payload map[string]any) error {
	var evidenceType domain.EvidenceType
	switch envelope.EventType {
	case domain.EventEvidencePhotoAdded:
		evidenceType = domain.EvidencePhoto
	case domain.EventEvidenceDocumentAdded:
		evidenceType = domain.EvidenceDocument
	case domain.EventEvidenceSignatureCaptured:
		evidenceType = domain.EvidenceSignature
	default:
		return nil
	}

	var evidence domain.EvidencePayload
	if err := remarshal(payload, &evidence); err != nil {
		return fmt.Errorf("decode evidence payload: %w", err)
	}

	url := evidence.URL
	if url == "" {
		url = evidence.SignatureURL
	}
	meta, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal evidence meta: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO work_order_evidence (work_order_id, evidence_type, url, meta, created_by)
		VALUES ($1, $2, $3, $4, $5)`,
		envelope.EntityID, evidenceType, nullableString(url), meta, envelope.CreatedBy,
	); err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (a *Applier) syncEngineerBoard(ctx context.Context, tx pgx.Tx, workOrderID string) error {
	var engineerID, executionState string
	err := tx.QueryRow(ctx, `
		SELECT assigned_engineer_id, execution_state FROM work_orders_current WHERE work_order_id = $1`,
		workOrderID,
	).Scan(&engineerID, &executionState)
	if err != nil {
		return fmt.Errorf("read work order for engineer board sync: %w", err)
	}
	if engineerID == "" {
		return nil
	}

	status := engineerStatusFor(domain.ExecutionState(executionState))
	_, err = tx.Exec(ctx, `
		INSERT INTO engineer_board (engineer_id, status, current_work_order_id, last_seen_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (engineer_id)
		DO UPDATE SET status = EXCLUDED.status, current_work_order_id = EXCLUDED.current_work_order_id, last_seen_at = EXCLUDED.last_seen_at`,
		engineerID, status, workOrderID,
	)
	if err != nil {
		return fmt.Errorf("upsert engineer board: %w", err)
	}
	return nil
}

func engineerStatusFor(execution domain.ExecutionState) domain.EngineerStatus {
	switch execution {
	case domain.ExecutionTravel:
		return domain.EngineerTravel
	case domain.ExecutionWork, domain.ExecutionWaitingParts, domain.ExecutionWaitingClient:
		return domain.EngineerWorking
	default:
		return domain.EngineerAvailable
	}
}

func slaStateFromEvent(eventType domain.EventType) (domain.SLAState, bool) {
	switch eventType {
	case domain.EventSLAAtRisk:
		return domain.SLAAtRisk, true
	case domain.EventSLARecovered:
		return domain.SLAInSLA, true
	case domain.EventSLABreached:
		return domain.SLABreached, true
	case domain.EventSLABreachAccepted:
		return domain.SLAAcceptedBreach, true
	default:
		return "", false
	}
}

func ensureSLADeadlines(ctx context.Context, tx pgx.Tx, workOrderID string, reactionDeadline, restoreDeadline time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sla_view (work_order_id, reaction_deadline_at, restore_deadline_at, state, last_calc_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (work_order_id) DO UPDATE SET
			reaction_deadline_at = COALESCE(sla_view.reaction_deadline_at, EXCLUDED.reaction_deadline_at),
			restore_deadline_at = COALESCE(sla_view.restore_deadline_at, EXCLUDED.restore_deadline_at),
			last_calc_at = EXCLUDED.last_calc_at`,
		workOrderID, reactionDeadline, restoreDeadline, domain.SLAInSLA,
	)
	if err != nil {
		return fmt.Errorf("ensure sla deadlines: %w", err)
	}
	return nil
}

// markSLABreached transitions both sla_view and the denormalized sla_state
// on work_orders_current to BREACHED, keeping the two in lockstep so a later
// SLA.BREACH_ACCEPTED event's FSM check (which reads work_orders_current)
// sees the same state sla_view already recorded.
func markSLABreached(ctx context.Context, tx pgx.Tx, workOrderID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE sla_view
		SET state = $2, breached_at = COALESCE(breached_at, now()), last_calc_at = now()
		WHERE work_order_id = $1`,
		workOrderID, domain.SLABreached,
	); err != nil {
		return fmt.Errorf("mark sla breached: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE work_orders_current SET sla_state = $2 WHERE work_order_id = $1`,
		workOrderID, domain.SLABreached,
	); err != nil {
		return fmt.Errorf("sync sla_state on work order: %w", err)
	}
	return nil
}

// slaDurationsFor resolves the reaction/restore durations for a new work
// order: an active contract override wins over the priority-based default.
func slaDurationsFor(ctx context.Context, tx pgx.Tx, priority, contractID string) (reaction, restore time.Duration) {
	if contractID != "" {
		var reactionMinutes, restoreMinutes int
		err := tx.QueryRow(ctx, `
			SELECT reaction_minutes, restore_minutes FROM contracts
			WHERE contract_id = $1 AND is_active = TRUE`, contractID,
		).Scan(&reactionMinutes, &restoreMinutes)
		if err == nil {
			return time.Duration(reactionMinutes) * time.Minute, time.Duration(restoreMinutes) * time.Minute
		}
	}
	return domain.DefaultSLADurations(domain.Priority(priority))
}

func remarshal(payload map[string]any, target any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
