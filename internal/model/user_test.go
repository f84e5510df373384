package model

import (
	"testing"
	"time"
)

func TestRoleAtLeast(t *testing.T) {
	tests := []struct {
		role     string
		minimum  string
		expected bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleLibrarian, true},
		{RoleAdmin, RoleAssistant, true},
		{RoleLibrarian, RoleAdmin, false},
		{RoleLibrarian, RoleLibrarian, true},
		{RoleLibrarian, RoleAssistant, true},
		{RoleAssistant, RoleAdmin, false},
		{RoleAssistant, RoleLibrarian, false},
		{RoleAssistant, RoleAssistant, true},
		// Unknown roles fail-closed.
		{"unknown", RoleAssistant, false},
		{RoleAdmin, "unknown", false},
		{"", "", false},
		{"", RoleAssistant, false},
	}

	for _, tt := range tests {
		got := RoleAtLeast(tt.role, tt.minimum)
		if got != tt.expected {
			t.Errorf("RoleAtLeast(%q, %q) = %v, want %v", tt.role, tt.minimum, got, tt.expected)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"", true},
		{"short", true},
		{"1234567", true},
		{"12345678", false},
		{"a-valid-password", false},
	}

	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
		}
	}
}

func TestLoanOverdue(t *testing.T) {
	due := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	loan := Loan{DueDate: due}

	if loan.IsOverdue(due) {
		t.Error("loan should not be overdue at its due date")
	}
	if !loan.IsOverdue(due.Add(time.Minute)) {
		t.Error("open loan past due date should be overdue")
	}

	returned := due.Add(time.Hour)
	loan.ReturnDate = &returned
	if loan.IsOverdue(due.Add(48 * time.Hour)) {
		t.Error("returned loan is never overdue")
	}
}
