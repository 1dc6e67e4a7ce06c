package domain

import "time"

// Priority is the work order's dispatch priority, which also selects the
// default SLA durations (spec §4.7) absent an overriding contract.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// WorkOrder is the read projection built and mutated exclusively by the
// Projection Applier from accepted events. It is never written directly by
// request handlers.
type WorkOrder struct {
	WorkOrderID        string
	ClientID           string
	AssetID            string
	Priority           Priority
	WorkType           string
	BusinessState      BusinessState
	ExecutionState     ExecutionState
	SLAState           SLAState
	AssignedEngineerID string
	AssignedTeamID     string
	ScheduledStart     *time.Time
	ScheduledEnd       *time.Time
	ActualStart        *time.Time
	ActualEndReported  *time.Time
	ActualEndEffective *time.Time
	ActualStartEffective *time.Time
	DowntimeMinutes    int
	LastEventID        string
	LastEventAt        time.Time
	Version            int
}

// SLAView is the write-once/monotonic SLA-deadline projection (spec §4.7).
type SLAView struct {
	WorkOrderID      string
	ReactionDeadline *time.Time
	RestoreDeadline  *time.Time
	State            SLAState
	BreachedAt       *time.Time
	LastCalcAt       time.Time
}

// TimelineEntry is one append-only row in a work order's timeline.
type TimelineEntry struct {
	EventID     string
	EventType   EventType
	CreatedAt   time.Time
	CreatedBy   string
	Payload     map[string]any
}

// PartLine is the additive per-(work_order,part) quantity projection.
type PartLine struct {
	WorkOrderID  string
	PartID       string
	ReservedQty  int
	InstalledQty int
	ConsumedQty  int
}

// EvidenceType enumerates the kinds of evidence that can be attached.
type EvidenceType string

const (
	EvidencePhoto     EvidenceType = "PHOTO"
	EvidenceDocument  EvidenceType = "DOCUMENT"
	EvidenceSignature EvidenceType = "SIGNATURE"
)

// Evidence is one append-only evidence row.
type Evidence struct {
	EvidenceID string
	WorkOrderID string
	EvidenceType EvidenceType
	URL        string
	Meta       map[string]any
	CreatedAt  time.Time
	CreatedBy  string
}

// EngineerStatus is the engineer board's current activity state.
type EngineerStatus string

const (
	EngineerAvailable EngineerStatus = "AVAILABLE"
	EngineerTravel    EngineerStatus = "TRAVEL"
	EngineerWorking   EngineerStatus = "WORK"
)

// EngineerBoardEntry is the per-engineer live status projection.
type EngineerBoardEntry struct {
	EngineerID       string
	Status           EngineerStatus
	CurrentWorkOrder string
	LastSeenAt       time.Time
}

// RefCatalogItem is a reference catalog row. The validator only ever reads
// active rows (is_active = true); inactive rows stay visible to operators
// through the catalog table but are invisible to the validation gate.
type RefCatalogItem struct {
	Catalog   string
	Code      string
	Title     string
	IsActive  bool
	SortOrder int
	Meta      map[string]any
}

// Contract is the optional per-client SLA-duration override looked up on
// WORK_ORDER.CREATED when the payload references a contract_id.
type Contract struct {
	ContractID      string
	ClientID        string
	IsActive        bool
	ActiveFrom      time.Time
	ActiveTo        *time.Time
	ReactionMinutes int
	RestoreMinutes  int
}

// slaDurations is the priority -> (reaction, restore) default table from
// spec §4.7, mirroring apply_event.py's _sla_durations.
var slaDurations = map[Priority][2]time.Duration{
	PriorityCritical: {2 * time.Hour, 8 * time.Hour},
	PriorityHigh:     {4 * time.Hour, 16 * time.Hour},
	PriorityMedium:   {8 * time.Hour, 48 * time.Hour},
	PriorityLow:      {8 * time.Hour, 72 * time.Hour},
}

// DefaultSLADurations returns the priority-based reaction/restore windows.
// Unknown priorities fall back to the LOW tier rather than panicking, since
// schema validation already guarantees priority is one of the four values
// by the time this is called.
func DefaultSLADurations(p Priority) (reaction, restore time.Duration) {
	d, ok := slaDurations[p]
	if !ok {
		d = slaDurations[PriorityLow]
	}
	return d[0], d[1]
}
