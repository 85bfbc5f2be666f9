package service

import (
	"github.com/spec-kit/ticketdesk/internal/domain"
)

// StaffDirectory resolves platform user ids to actors.
type StaffDirectory interface {
	Actor(userID, displayName string) domain.Actor
}

// staticStaffDirectory is built from configured staff and admin id lists.
type staticStaffDirectory struct {
	staff  map[string]struct{}
	admins map[string]struct{}
}

// NewStaffDirectory builds a directory. Admins are staff too.
func NewStaffDirectory(staffIDs, adminIDs []string) StaffDirectory {
	d := &staticStaffDirectory{
		staff:  make(map[string]struct{}, len(staffIDs)+len(adminIDs)),
		admins: make(map[string]struct{}, len(adminIDs)),
	}
	for _, id := range staffIDs {
		d.staff[id] = struct{}{}
	}
	for _, id := range adminIDs {
		d.staff[id] = struct{}{}
		d.admins[id] = struct{}{}
	}
	return d
}

func (d *staticStaffDirectory) Actor(userID, displayName string) domain.Actor {
	actor := domain.Actor{ID: userID, DisplayName: displayName, Subject: domain.SubjectTypeUser}
	if _, ok := d.staff[userID]; !ok {
		return actor
	}
	role := domain.StaffRoleAgent
	if _, ok := d.admins[userID]; ok {
		role = domain.StaffRoleAdmin
	}
	actor.Subject = domain.SubjectTypeStaff
	actor.Role = &role
	return actor
}
