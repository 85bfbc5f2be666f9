package domain

// SubjectType differentiates end-user, staff and bridge callers. A bridge is
// the process relaying chat platform events to the HTTP ingress.
type SubjectType string

const (
	SubjectTypeUser   SubjectType = "USER"
	SubjectTypeStaff  SubjectType = "STAFF"
	SubjectTypeBridge SubjectType = "BRIDGE"
)

// StaffRole enumerates internal operator roles.
type StaffRole string

const (
	StaffRoleAgent StaffRole = "AGENT"
	StaffRoleAdmin StaffRole = "ADMIN"
)

// Actor identifies who triggered an operation.
type Actor struct {
	ID          string
	DisplayName string
	Subject     SubjectType
	Role        *StaffRole
}

// IsStaff reports whether the actor acts for the support team.
func (a Actor) IsStaff() bool {
	return a.Subject == SubjectTypeStaff
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.IsStaff() && a.Role != nil && *a.Role == StaffRoleAdmin
}

// SystemActor is used for mutations the service performs on its own.
func SystemActor() Actor {
	role := StaffRoleAdmin
	return Actor{ID: SystemActorID, DisplayName: "system", Subject: SubjectTypeStaff, Role: &role}
}

// Name returns the display name, falling back to the id.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ID
}
