package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// Password policy bounds.
const (
	passwordMinLen = 8
	passwordMaxLen = 100
)

// RegisterRequest is the explicit registration payload validated at the
// boundary.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Username string `json:"username"`
}

// MissingFields reports which required registration fields are absent, in
// declaration order.
func (r RegisterRequest) MissingFields() []string {
	var missing []string
	if r.Email == "" {
		missing = append(missing, "email")
	}
	if r.Password == "" {
		missing = append(missing, "password")
	}
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if r.Surname == "" {
		missing = append(missing, "surname")
	}
	if r.Username == "" {
		missing = append(missing, "username")
	}
	return missing
}

// ValidatePassword checks the password against the declarative policy in a
// single pass and returns the full list of violations: length 8-100, at
// least one uppercase, one lowercase, one digit, no spaces.
func ValidatePassword(password string) []string {
	var violations []string

	runes := []rune(password)
	if len(runes) < passwordMinLen {
		violations = append(violations, fmt.Sprintf("password must be at least %d characters long", passwordMinLen))
	}
	if len(runes) > passwordMaxLen {
		violations = append(violations, fmt.Sprintf("password must be at most %d characters long", passwordMaxLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpace bool
	for _, r := range runes {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsSpace(r):
			hasSpace = true
		}
	}

	if !hasUpper {
		violations = append(violations, "password must contain at least one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "password must contain at least one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "password must contain at least one digit")
	}
	if hasSpace {
		violations = append(violations, "password must not contain spaces")
	}

	return violations
}

// JoinViolations renders a violation list the way the HTTP envelope expects.
func JoinViolations(violations []string) string {
	return strings.Join(violations, ", ")
}
