package domain

// Role is the pre-resolved identity of whoever submitted an event. Actor
// resolution (who is the caller) happens upstream of this module — see
// Non-goals: authentication is not this module's concern.
type Role string

const (
	RoleDispatcher Role = "DISPATCHER"
	RoleEngineer   Role = "ENGINEER"
	RoleManager    Role = "MANAGER"
	RoleAdmin      Role = "ADMIN"
	RoleSystem     Role = "SYSTEM"
)

// Actor identifies who is submitting an event. It is passed explicitly
// through every call in this package; nothing reads it from ambient state.
type Actor struct {
	Role     Role
	ActorID  string
}
