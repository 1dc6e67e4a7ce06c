package validator

import "servicebox.io/fsmcore/internal/domain"

// roleRules mirrors the original ROLE_RULES table: event_type -> the set of
// roles permitted to submit it. An event_type missing from this table is
// treated as permitted for any role — in practice every non-SLA event_type
// the schema registry knows about has a row here.
var roleRules = map[domain.EventType]map[domain.Role]bool{
	domain.EventWorkOrderCreated:   {domain.RoleDispatcher: true, domain.RoleAdmin: true, domain.RoleSystem: true},
	domain.EventWorkOrderAssigned:  {domain.RoleDispatcher: true, domain.RoleSystem: true, domain.RoleAdmin: true},
	domain.EventWorkOrderCancelled: {domain.RoleDispatcher: true, domain.RoleManager: true, domain.RoleAdmin: true},
	domain.EventWorkOrderClosed:    {domain.RoleDispatcher: true, domain.RoleEngineer: true, domain.RoleManager: true, domain.RoleAdmin: true, domain.RoleSystem: true},

	domain.EventWorkStarted:       {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
	domain.EventWorkPaused:        {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
	domain.EventWorkResumed:       {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
	domain.EventWorkCompleted:     {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
	domain.EventWorkDispatched:    {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
	domain.EventWorkArrivedOnSite: {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},

	// Parts: reserved/consumed are dispatch-side bookkeeping, never the
	// engineer directly; installed is the one an engineer records on site.
	domain.EventPartReserved:  {domain.RoleDispatcher: true, domain.RoleAdmin: true, domain.RoleSystem: true},
	domain.EventPartInstalled: {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
	domain.EventPartConsumed:  {domain.RoleDispatcher: true, domain.RoleAdmin: true, domain.RoleSystem: true},

	domain.EventEvidencePhotoAdded:        {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
	domain.EventEvidenceDocumentAdded:     {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
	domain.EventEvidenceSignatureCaptured: {domain.RoleEngineer: true, domain.RoleDispatcher: true, domain.RoleAdmin: true},
}

// rolePermitted reports whether role may submit event_type. SLA.* events are
// not in this table at all — they are gated earlier by the server-only
// source check, not by role.
func rolePermitted(eventType domain.EventType, role domain.Role) bool {
	rules, ok := roleRules[eventType]
	if !ok {
		return true
	}
	return rules[role]
}
