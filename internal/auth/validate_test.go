package auth

import (
	"strings"
	"testing"
)

func TestValidPasswordHasNoViolations(t *testing.T) {
	if v := ValidatePassword("Str0ngPassw0rd"); len(v) != 0 {
		t.Fatalf("expected no violations, got %v", v)
	}
}

func TestPasswordPolicyViolations(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"too short", "Weak1", "at least 8 characters"},
		{"too long", "A1" + strings.Repeat("a", 120), "at most 100 characters"},
		{"no uppercase", "weakpass1", "uppercase"},
		{"no lowercase", "WEAKPASS1", "lowercase"},
		{"no digit", "WeakPassword", "digit"},
		{"contains space", "Weak Pass1", "spaces"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := ValidatePassword(tt.password)
			if len(violations) == 0 {
				t.Fatal("expected violations")
			}
			joined := JoinViolations(violations)
			if !strings.Contains(joined, tt.want) {
				t.Fatalf("expected violation containing %q, got %q", tt.want, joined)
			}
		})
	}
}

func TestWeakPasswordReportsAllViolationsAtOnce(t *testing.T) {
	violations := ValidatePassword("weak")
	// Single pass must report length, uppercase and digit together.
	if len(violations) != 3 {
		t.Fatalf("expected 3 violations, got %v", violations)
	}
}

func TestMissingFieldsOrder(t *testing.T) {
	req := RegisterRequest{Password: "x", Surname: "B"}
	got := req.MissingFields()
	want := []string{"email", "name", "username"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
