package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests and local development. It
// mirrors the gateway contract including duplicate detection on email and
// username.
type MemStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{accounts: make(map[string]*Account)}
}

// FindByField looks up an account by an indexed field.
func (s *MemStore) FindByField(ctx context.Context, field Field, value string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if matches(acc, field, value) {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Create inserts a new account, rejecting duplicate email/username.
func (s *MemStore) Create(ctx context.Context, acc *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Email == acc.Email || existing.Username == acc.Username {
			return ErrDuplicate
		}
	}

	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.Role == "" {
		acc.Role = RoleUser
	}
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	cp := *acc
	s.accounts[acc.ID] = &cp
	return nil
}

// Update applies a partial change set to one record.
func (s *MemStore) Update(ctx context.Context, id string, changes Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}

	if changes.PasswordHash != nil {
		acc.PasswordHash = *changes.PasswordHash
	}
	if changes.IsVerified != nil {
		acc.IsVerified = *changes.IsVerified
	}
	if changes.GoogleID != nil {
		acc.GoogleID = *changes.GoogleID
	}
	if changes.MFAPendingToken != nil {
		acc.MFAPendingToken = *changes.MFAPendingToken
	}
	if changes.MFAPendingExpiresAt != nil {
		acc.MFAPendingExpiresAt = *changes.MFAPendingExpiresAt
	}
	if changes.VerificationToken != nil {
		acc.VerificationToken = *changes.VerificationToken
	}
	if changes.VerificationExpires != nil {
		acc.VerificationTokenExpiresAt = *changes.VerificationExpires
	}
	if changes.ResetToken != nil {
		acc.ResetToken = *changes.ResetToken
	}
	if changes.ResetTokenExpires != nil {
		acc.ResetTokenExpiresAt = *changes.ResetTokenExpires
	}
	acc.UpdatedAt = time.Now().UTC()
	return nil
}

// Seed inserts an account directly, bypassing duplicate checks. Test helper.
func (s *MemStore) Seed(acc *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.Role == "" {
		acc.Role = RoleUser
	}
	cp := *acc
	s.accounts[acc.ID] = &cp
}

func matches(acc *Account, field Field, value string) bool {
	switch field {
	case FieldID:
		return acc.ID == value
	case FieldEmail:
		return acc.Email == value
	case FieldUsername:
		return acc.Username == value
	case FieldGoogleID:
		return acc.GoogleID != nil && *acc.GoogleID == value
	case FieldVerificationToken:
		return acc.VerificationToken != nil && *acc.VerificationToken == value
	case FieldMFAPendingToken:
		return acc.MFAPendingToken != nil && *acc.MFAPendingToken == value
	case FieldResetToken:
		return acc.ResetToken != nil && *acc.ResetToken == value
	default:
		return false
	}
}
