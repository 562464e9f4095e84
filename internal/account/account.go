// Package account defines the identity record owned by the auth service and
// the narrow credential-store gateway the core consumes. Accounts are never
// deleted; deactivation is the ban flag.
package account

import (
	"context"
	"errors"
	"time"
)

// Roles assignable to an account.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicate is returned when a unique field (email, username)
	// collides on create.
	ErrDuplicate = errors.New("account already exists")
)

// Account is the identity record. PasswordHash is nil for accounts
// authenticated only through a third-party identity provider.
type Account struct {
	ID           string
	Email        string
	Username     string
	Name         string
	Surname      string
	PasswordHash *string
	Role         string
	Bio          *string
	AvatarURL    *string
	IsPrivate    bool
	IsVerified   bool
	IsBanned     bool
	GoogleID     *string

	MFAEnabled          bool
	MFAPendingToken     *string
	MFAPendingExpiresAt *time.Time

	VerificationToken          *string
	VerificationTokenExpiresAt *time.Time

	ResetToken          *string
	ResetTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Field names the indexed columns FindByField accepts.
type Field string

const (
	FieldID                Field = "id"
	FieldEmail             Field = "email"
	FieldUsername          Field = "username"
	FieldGoogleID          Field = "google_id"
	FieldVerificationToken Field = "verification_token"
	FieldMFAPendingToken   Field = "mfa_pending_token"
	FieldResetToken        Field = "reset_token"
)

// Changes is a partial update applied atomically to a single record. Only
// non-nil members are written.
type Changes struct {
	PasswordHash        **string
	IsVerified          *bool
	GoogleID            **string
	MFAPendingToken     **string
	MFAPendingExpiresAt **time.Time
	VerificationToken   **string
	VerificationExpires **time.Time
	ResetToken          **string
	ResetTokenExpires   **time.Time
}

// Store is the credential store gateway: lookup by indexed field, create,
// and atomic partial update. Implementations must guarantee per-record
// upsert semantics.
type Store interface {
	FindByField(ctx context.Context, field Field, value string) (*Account, error)
	Create(ctx context.Context, acc *Account) error
	Update(ctx context.Context, id string, changes Changes) error
}

// ClearStr yields a Changes member that nulls a string column.
func ClearStr() **string {
	var p *string
	return &p
}

// ClearTime yields a Changes member that nulls a timestamp column.
func ClearTime() **time.Time {
	var p *time.Time
	return &p
}

// SetStr yields a Changes member that writes a string column.
func SetStr(s string) **string {
	p := &s
	return &p
}

// SetTime yields a Changes member that writes a timestamp column.
func SetTime(t time.Time) **time.Time {
	p := &t
	return &p
}
