package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"servicebox.io/fsmcore/internal/domain"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so reads can run either
// against the shared pool or inside an in-flight transaction — the
// Validator needs the latter so it sees writes from earlier in the same
// ingestion.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reader implements validator.ProjectionStore and validator.ContractStore
// against the projection tables.
type Reader struct {
	db Querier
}

// NewReader builds a Reader against db (a pool or a transaction).
func NewReader(db Querier) *Reader {
	return &Reader{db: db}
}

// FetchWorkOrder loads the current projection for a work order, or nil if
// none exists yet.
func (r *Reader) FetchWorkOrder(ctx context.Context, workOrderID string) (*domain.WorkOrder, error) {
	var wo domain.WorkOrder
	var assignedEngineerID, assignedTeamID *string
	err := r.db.QueryRow(ctx, `
		SELECT work_order_id, client_id, asset_id, priority, work_type,
		       business_state, execution_state, sla_state,
		       assigned_engineer_id, assigned_team_id,
		       scheduled_start, scheduled_end,
		       actual_start_reported, actual_start_effective,
		       actual_end_reported, actual_end_effective,
		       coalesce(downtime_minutes, 0),
		       last_event_id, last_event_at, version
		FROM work_orders_current WHERE work_order_id = $1`,
		workOrderID,
	).Scan(
		&wo.WorkOrderID, &wo.ClientID, &wo.AssetID, &wo.Priority, &wo.WorkType,
		&wo.BusinessState, &wo.ExecutionState, &wo.SLAState,
		&assignedEngineerID, &assignedTeamID,
		&wo.ScheduledStart, &wo.ScheduledEnd,
		&wo.ActualStart, &wo.ActualStartEffective,
		&wo.ActualEndReported, &wo.ActualEndEffective,
		&wo.DowntimeMinutes,
		&wo.LastEventID, &wo.LastEventAt, &wo.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch work order %s: %w", workOrderID, err)
	}
	if assignedEngineerID != nil {
		wo.AssignedEngineerID = *assignedEngineerID
	}
	if assignedTeamID != nil {
		wo.AssignedTeamID = *assignedTeamID
	}
	return &wo, nil
}

// FetchContract loads a contract override by contract_id, or nil if none
// exists.
func (r *Reader) FetchContract(ctx context.Context, contractID string) (*domain.Contract, error) {
	var c domain.Contract
	err := r.db.QueryRow(ctx, `
		SELECT contract_id, client_id, is_active, active_from, active_to, reaction_minutes, restore_minutes
		FROM contracts WHERE contract_id = $1`,
		contractID,
	).Scan(&c.ContractID, &c.ClientID, &c.IsActive, &c.ActiveFrom, &c.ActiveTo, &c.ReactionMinutes, &c.RestoreMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch contract %s: %w", contractID, err)
	}
	return &c, nil
}

// FetchSLAView loads the SLA deadline projection for a work order.
func (r *Reader) FetchSLAView(ctx context.Context, workOrderID string) (*domain.SLAView, error) {
	var v domain.SLAView
	err := r.db.QueryRow(ctx, `
		SELECT work_order_id, reaction_deadline_at, restore_deadline_at, state, breached_at, last_calc_at
		FROM sla_view WHERE work_order_id = $1`,
		workOrderID,
	).Scan(&v.WorkOrderID, &v.ReactionDeadline, &v.RestoreDeadline, &v.State, &v.BreachedAt, &v.LastCalcAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch sla view %s: %w", workOrderID, err)
	}
	return &v, nil
}
