// Package mfa holds the cache side of the MFA challenge: the short numeric
// code delivered out of band. The opaque challenge token lives on the account
// row; both must match before a session is minted, and neither is reusable
// after success or expiry.
package mfa

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCodeMismatch is returned when the presented code does not match
	// the stored one, or no code exists for the account.
	ErrCodeMismatch = errors.New("mfa code mismatch")
	// ErrCodeBackend indicates the code store is unreachable.
	ErrCodeBackend = errors.New("mfa code backend unavailable")
)

const codeDigits = 4

// CodeStore keeps pending MFA codes in Redis with the challenge TTL.
type CodeStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewCodeStore creates a CodeStore. ttl defaults to 5 minutes.
func NewCodeStore(redisClient redis.UniversalClient, ttl time.Duration) *CodeStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CodeStore{redis: redisClient, ttl: ttl}
}

// TTL reports the challenge lifetime, shared with the row-bound token expiry.
func (s *CodeStore) TTL() time.Duration {
	return s.ttl
}

func (s *CodeStore) key(accountID string) string {
	return "mfa_code:" + accountID
}

// Issue generates a fresh numeric code for the account and stores it under
// the challenge TTL, replacing any previous pending code.
func (s *CodeStore) Issue(ctx context.Context, accountID string) (string, error) {
	code, err := newNumericCode(codeDigits)
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, s.key(accountID), code, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return code, nil
}

// Consume atomically removes the stored code and compares it against the
// presented one. GETDEL makes the code single-use even when the same pair is
// presented concurrently: only one caller observes the stored value.
func (s *CodeStore) Consume(ctx context.Context, accountID, presented string) error {
	stored, err := s.redis.GetDel(ctx, s.key(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCodeMismatch
		}
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return ErrCodeMismatch
	}
	return nil
}

// Clear drops any pending code for the account.
func (s *CodeStore) Clear(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return nil
}

func newNumericCode(digits int) (string, error) {
	max := big.NewInt(10)
	buf := make([]byte, digits)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
