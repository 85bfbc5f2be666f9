package main

import (
	"testing"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

func TestParseTokenSubject(t *testing.T) {
	subject, role, err := parseTokenSubject("bridge", "admin")
	if err != nil || subject != domain.SubjectTypeBridge || role != nil {
		t.Fatalf("bridge: got %v %v %v", subject, role, err)
	}

	subject, role, err = parseTokenSubject("STAFF", "admin")
	if err != nil || subject != domain.SubjectTypeStaff || role == nil || *role != domain.StaffRoleAdmin {
		t.Fatalf("staff admin: got %v %v %v", subject, role, err)
	}

	if _, _, err := parseTokenSubject("staff", "owner"); err == nil {
		t.Fatalf("expected invalid role error")
	}
	if _, _, err := parseTokenSubject("user", ""); err == nil {
		t.Fatalf("expected invalid subject error")
	}
}
