package domain

// BusinessState is the work order's coarse lifecycle state.
type BusinessState string

const (
	BusinessNew        BusinessState = "NEW"
	BusinessPlanned    BusinessState = "PLANNED"
	BusinessInProgress BusinessState = "IN_PROGRESS"
	BusinessOnHold     BusinessState = "ON_HOLD"
	BusinessCompleted  BusinessState = "COMPLETED"
	BusinessClosed     BusinessState = "CLOSED"
	BusinessCancelled  BusinessState = "CANCELLED"
)

// ExecutionState is the engineer's on-the-ground progress state.
type ExecutionState string

const (
	ExecutionNotStarted    ExecutionState = "NOT_STARTED"
	ExecutionTravel        ExecutionState = "TRAVEL"
	ExecutionWork          ExecutionState = "WORK"
	ExecutionWaitingParts  ExecutionState = "WAITING_PARTS"
	ExecutionWaitingClient ExecutionState = "WAITING_CLIENT"
	ExecutionFinished      ExecutionState = "FINISHED"
)

// SLAState is the work order's SLA-compliance state.
type SLAState string

const (
	SLAInSLA           SLAState = "IN_SLA"
	SLAAtRisk          SLAState = "AT_RISK"
	SLABreached        SLAState = "BREACHED"
	SLAAcceptedBreach  SLAState = "ACCEPTED_BREACH"
)

// BusinessTransitions mirrors the original BUSINESS_TRANSITIONS table:
// state -> event_type -> next state. Any event not listed in a state's row
// is invalid for that state (ERR_INVALID_TRANSITION).
var BusinessTransitions = map[BusinessState]map[EventType]BusinessState{
	BusinessNew: {
		EventWorkOrderAssigned:  BusinessPlanned,
		EventWorkOrderCancelled: BusinessCancelled,
	},
	BusinessPlanned: {
		EventWorkStarted:        BusinessInProgress,
		EventWorkPaused:         BusinessOnHold,
		EventWorkOrderCancelled: BusinessCancelled,
	},
	BusinessInProgress: {
		EventWorkPaused:     BusinessOnHold,
		EventWorkCompleted:  BusinessCompleted,
	},
	BusinessOnHold: {
		EventWorkResumed: BusinessInProgress,
	},
	BusinessCompleted: {
		EventWorkOrderClosed: BusinessClosed,
	},
}

// ExecutionAllowed mirrors EXECUTION_ALLOWED: the set of execution events a
// given execution state may receive. It only says what events are
// syntactically allowed from that state; the resulting next state and the
// cross-check against business state are handled separately below.
var ExecutionAllowed = map[ExecutionState]map[EventType]bool{
	ExecutionNotStarted: {
		EventWorkDispatched: true,
		EventWorkStarted:    true,
	},
	ExecutionTravel: {
		EventWorkArrivedOnSite: true,
		EventWorkStarted:       true,
	},
	ExecutionWork: {
		EventWorkPaused:    true,
		EventWorkCompleted: true,
	},
	ExecutionWaitingParts: {
		EventWorkResumed: true,
	},
	ExecutionWaitingClient: {
		EventWorkResumed: true,
	},
	ExecutionFinished: {},
}

// ExecutionNextState maps an execution event to the execution state it
// drives the projection to, independent of which state it started from.
var ExecutionNextState = map[EventType]ExecutionState{
	EventWorkDispatched:    ExecutionTravel,
	EventWorkArrivedOnSite: ExecutionWork,
	EventWorkStarted:       ExecutionWork,
	EventWorkPaused:        ExecutionWaitingParts, // overridden per reason_code by the applier
	EventWorkResumed:       ExecutionWork,
	EventWorkCompleted:     ExecutionFinished,
}

// ExecutionRequiredBusiness lists, per execution event, which business
// states the projection must currently be in for the event to be valid —
// the composite requirement spec §4.4 attaches to execution transitions.
var ExecutionRequiredBusiness = map[EventType][]BusinessState{
	EventWorkDispatched:    {BusinessPlanned, BusinessInProgress},
	EventWorkArrivedOnSite: {BusinessPlanned, BusinessInProgress},
	EventWorkStarted:       {BusinessPlanned},
	EventWorkPaused:        {BusinessPlanned, BusinessInProgress},
	EventWorkResumed:       {BusinessOnHold},
	EventWorkCompleted:     {BusinessInProgress},
}

// SLATransitions mirrors SLA_TRANSITIONS: state -> event_type -> next state.
var SLATransitions = map[SLAState]map[EventType]SLAState{
	SLAInSLA: {
		EventSLAAtRisk:   SLAAtRisk,
		EventSLABreached: SLABreached,
	},
	SLAAtRisk: {
		EventSLARecovered: SLAInSLA,
		EventSLABreached:  SLABreached,
	},
	SLABreached: {
		EventSLABreachAccepted: SLAAcceptedBreach,
	},
}

// CompositeInvariant is the cross-FSM invariant table (spec §4.4): for each
// business state, the set of execution states that may legally co-occur
// with it on an existing projection. A mismatch is ERR_STATE_MISMATCH.
var CompositeInvariant = map[BusinessState]map[ExecutionState]bool{
	BusinessNew:        {ExecutionNotStarted: true},
	BusinessPlanned:    {ExecutionNotStarted: true, ExecutionTravel: true},
	BusinessInProgress: {ExecutionTravel: true, ExecutionWork: true, ExecutionWaitingParts: true, ExecutionWaitingClient: true},
	BusinessOnHold:     {ExecutionWork: true, ExecutionWaitingParts: true, ExecutionWaitingClient: true},
	BusinessCompleted:  {ExecutionFinished: true},
	BusinessClosed:     {ExecutionFinished: true, ExecutionNotStarted: true},
	BusinessCancelled:  {ExecutionFinished: true, ExecutionNotStarted: true},
}

// CheckCompositeInvariant reports whether the given business/execution pair
// is a legal combination. A freshly created projection (NEW/NOT_STARTED)
// always satisfies it.
func CheckCompositeInvariant(business BusinessState, execution ExecutionState) bool {
	allowed, ok := CompositeInvariant[business]
	if !ok {
		return false
	}
	return allowed[execution]
}
