package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumensocial/identity/internal/account"
	"github.com/lumensocial/identity/internal/events"
	"github.com/lumensocial/identity/internal/lockout"
	"github.com/lumensocial/identity/internal/mfa"
	"github.com/lumensocial/identity/internal/session"
	"github.com/lumensocial/identity/internal/token"
)

type capturePublisher struct {
	mu    sync.Mutex
	facts []events.UserCreated
}

func (p *capturePublisher) PublishUserCreated(ctx context.Context, fact events.UserCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.facts = append(p.facts, fact)
	return nil
}

func (p *capturePublisher) published() []events.UserCreated {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.UserCreated(nil), p.facts...)
}

type captureMailer struct {
	mu                sync.Mutex
	verificationToken string
	mfaCode           string
	resetToken        string
}

func (m *captureMailer) SendVerificationToken(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationToken = token
	return nil
}

func (m *captureMailer) SendMFACode(ctx context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mfaCode = code
	return nil
}

func (m *captureMailer) SendPasswordResetToken(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetToken = token
	return nil
}

type harness struct {
	svc       *Service
	accounts  *account.MemStore
	sessions  *session.Store
	tokens    *token.Service
	publisher *capturePublisher
	mailer    *captureMailer
	redis     *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := token.NewService(token.Config{Secret: []byte("test-secret-0123456789"), TTL: 24 * time.Hour})
	require.NoError(t, err)

	accounts := account.NewMemStore()
	sessions := session.NewStore(rdb, "")
	lockouts := lockout.NewCounter(rdb, lockout.Config{Threshold: 5, Window: 15 * time.Minute})
	codes := mfa.NewCodeStore(rdb, 5*time.Minute)
	publisher := &capturePublisher{}
	m := &captureMailer{}

	svc := NewService(accounts, sessions, tokens, lockouts, codes, publisher, m, Config{}, zap.NewNop())

	return &harness{
		svc:       svc,
		accounts:  accounts,
		sessions:  sessions,
		tokens:    tokens,
		publisher: publisher,
		mailer:    m,
		redis:     mr,
	}
}

func (h *harness) seedVerified(t *testing.T, email, password string) *account.Account {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	hashStr := string(hash)
	acc := &account.Account{
		Email:        email,
		Username:     "user-" + email,
		Name:         "A",
		Surname:      "B",
		PasswordHash: &hashStr,
		Role:         account.RoleUser,
		IsVerified:   true,
	}
	h.accounts.Seed(acc)
	return acc
}

func (h *harness) sessionIDFor(t *testing.T, accessToken string) string {
	t.Helper()

	claims, err := h.tokens.Verify(accessToken)
	require.NoError(t, err)
	return claims.ID
}

const goodPassword = "Sup3rSecret"

func TestRegisterVerifyLoginEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.svc.Register(ctx, RegisterRequest{
		Email:    "a@b.com",
		Password: goodPassword,
		Name:     "A",
		Surname:  "B",
		Username: "ab",
	})
	require.NoError(t, err)
	require.NotEmpty(t, h.mailer.verificationToken)
	require.Empty(t, h.publisher.published(), "no event before verification")

	// Login before verification is rejected.
	_, err = h.svc.Login(ctx, "a@b.com", goodPassword)
	require.ErrorIs(t, err, ErrAccountUnverified)

	require.NoError(t, h.svc.VerifyEmail(ctx, h.mailer.verificationToken))

	facts := h.publisher.published()
	require.Len(t, facts, 1, "exactly one user.created fact")
	require.Equal(t, "a@b.com", facts[0].Email)
	require.Equal(t, "ab", facts[0].Username)
	require.False(t, facts[0].IsBanned)

	result, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.NoError(t, err)
	require.False(t, result.MFARequired)
	require.NotEmpty(t, result.AccessToken)

	jti := h.sessionIDFor(t, result.AccessToken)
	desc, err := h.sessions.Get(ctx, jti)
	require.NoError(t, err)
	require.Equal(t, facts[0].ID, desc.UserID)
}

func TestVerifyEmailTokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.Register(ctx, RegisterRequest{
		Email: "a@b.com", Password: goodPassword, Name: "A", Surname: "B", Username: "ab",
	}))
	verificationToken := h.mailer.verificationToken

	require.NoError(t, h.svc.VerifyEmail(ctx, verificationToken))
	require.ErrorIs(t, h.svc.VerifyEmail(ctx, verificationToken), ErrInvalidVerification)
	require.Len(t, h.publisher.published(), 1)
}

func TestVerifyEmailRejectsUnknownAndExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.ErrorIs(t, h.svc.VerifyEmail(ctx, "no-such-token"), ErrInvalidVerification)
	require.ErrorIs(t, h.svc.VerifyEmail(ctx, ""), ErrInvalidVerification)

	expired := time.Now().Add(-time.Minute)
	verificationToken := "expired-token"
	h.accounts.Seed(&account.Account{
		Email:                      "c@d.com",
		Username:                   "cd",
		VerificationToken:          &verificationToken,
		VerificationTokenExpiresAt: &expired,
	})
	require.ErrorIs(t, h.svc.VerifyEmail(ctx, verificationToken), ErrInvalidVerification)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := RegisterRequest{Email: "a@b.com", Password: goodPassword, Name: "A", Surname: "B", Username: "ab"}
	require.NoError(t, h.svc.Register(ctx, req))

	req.Username = "other"
	require.ErrorIs(t, h.svc.Register(ctx, req), account.ErrDuplicate)
}

func TestLoginUnknownAccountAndWrongPasswordAreIndistinguishable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedVerified(t, "a@b.com", goodPassword)

	_, errUnknown := h.svc.Login(ctx, "nobody@b.com", goodPassword)
	_, errWrong := h.svc.Login(ctx, "a@b.com", "WrongPass1")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	require.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLockoutBlocksCorrectPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedVerified(t, "a@b.com", goodPassword)

	for i := 0; i < 5; i++ {
		_, err := h.svc.Login(ctx, "a@b.com", "WrongPass1")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Sixth attempt with the correct password is still rejected.
	_, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLockoutExpiresWithWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedVerified(t, "a@b.com", goodPassword)

	for i := 0; i < 5; i++ {
		_, _ = h.svc.Login(ctx, "a@b.com", "WrongPass1")
	}
	h.redis.FastForward(16 * time.Minute)

	result, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
}

func TestSuccessfulLoginResetsLockoutCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedVerified(t, "a@b.com", goodPassword)

	for i := 0; i < 4; i++ {
		_, _ = h.svc.Login(ctx, "a@b.com", "WrongPass1")
	}
	_, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.NoError(t, err)

	// The counter restarted: four more failures do not lock.
	for i := 0; i < 4; i++ {
		_, _ = h.svc.Login(ctx, "a@b.com", "WrongPass1")
	}
	_, err = h.svc.Login(ctx, "a@b.com", goodPassword)
	require.NoError(t, err)
}

func TestLoginStatusChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	banned := h.seedVerified(t, "banned@b.com", goodPassword)
	banned.IsBanned = true
	h.accounts.Seed(banned)

	googleID := "g-123"
	h.accounts.Seed(&account.Account{
		Email:      "google@b.com",
		Username:   "gonly",
		IsVerified: true,
		GoogleID:   &googleID,
	})

	_, err := h.svc.Login(ctx, "banned@b.com", goodPassword)
	require.ErrorIs(t, err, ErrAccountBanned)

	_, err = h.svc.Login(ctx, "google@b.com", goodPassword)
	require.ErrorIs(t, err, ErrPasswordLoginUnavailable)
}

func TestMFAChallengeAndVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acc := h.seedVerified(t, "a@b.com", goodPassword)
	acc.MFAEnabled = true
	h.accounts.Seed(acc)

	result, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.NoError(t, err)
	require.True(t, result.MFARequired)
	require.NotEmpty(t, result.MFAToken)
	require.Empty(t, result.AccessToken, "no session before MFA completes")
	require.Len(t, h.mailer.mfaCode, 4)

	confirmed, err := h.svc.VerifyMFA(ctx, result.MFAToken, h.mailer.mfaCode)
	require.NoError(t, err)
	require.NotEmpty(t, confirmed.AccessToken)

	// The consumed pair cannot be replayed.
	_, err = h.svc.VerifyMFA(ctx, result.MFAToken, h.mailer.mfaCode)
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestMFAWrongCodeRequiresRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acc := h.seedVerified(t, "a@b.com", goodPassword)
	acc.MFAEnabled = true
	h.accounts.Seed(acc)

	result, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.NoError(t, err)
	code := h.mailer.mfaCode

	wrong := "0000"
	if code == wrong {
		wrong = "1111"
	}
	_, err = h.svc.VerifyMFA(ctx, result.MFAToken, wrong)
	require.ErrorIs(t, err, ErrInvalidChallenge)

	// The challenge is burned; even the right code no longer works and the
	// caller must restart from primary login.
	_, err = h.svc.VerifyMFA(ctx, result.MFAToken, code)
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestMFAChallengeExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acc := h.seedVerified(t, "a@b.com", goodPassword)
	acc.MFAEnabled = true
	h.accounts.Seed(acc)

	result, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.NoError(t, err)

	h.redis.FastForward(6 * time.Minute)

	_, err = h.svc.VerifyMFA(ctx, result.MFAToken, h.mailer.mfaCode)
	require.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedVerified(t, "a@b.com", goodPassword)

	// Unknown accounts produce no error and no mail.
	require.NoError(t, h.svc.RequestPasswordReset(ctx, "nobody@b.com"))
	require.Empty(t, h.mailer.resetToken)

	require.NoError(t, h.svc.RequestPasswordReset(ctx, "a@b.com"))
	resetToken := h.mailer.resetToken
	require.NotEmpty(t, resetToken)

	require.ErrorIs(t, h.svc.ConfirmPasswordReset(ctx, "bogus", "NewSecret1"), ErrInvalidResetToken)
	require.NoError(t, h.svc.ConfirmPasswordReset(ctx, resetToken, "NewSecret1"))

	// Token is single-use.
	require.ErrorIs(t, h.svc.ConfirmPasswordReset(ctx, resetToken, "NewSecret1"), ErrInvalidResetToken)

	_, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	result, err := h.svc.Login(ctx, "a@b.com", "NewSecret1")
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
}

func TestPasswordResetIgnoresGoogleOnlyAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	googleID := "g-123"
	h.accounts.Seed(&account.Account{
		Email:      "google@b.com",
		Username:   "gonly",
		IsVerified: true,
		GoogleID:   &googleID,
	})

	require.NoError(t, h.svc.RequestPasswordReset(ctx, "google@b.com"))
	require.Empty(t, h.mailer.resetToken)
}

func TestGoogleSignInCreatesVerifiedAccountOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	profile := GoogleProfile{GoogleID: "g-1", Email: "g@b.com", Name: "G", Surname: "B"}

	result, err := h.svc.GoogleSignIn(ctx, profile)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.Len(t, h.publisher.published(), 1, "first sign-in publishes the fact")

	acc, err := h.accounts.FindByField(ctx, account.FieldGoogleID, "g-1")
	require.NoError(t, err)
	require.True(t, acc.IsVerified)
	require.Contains(t, acc.Username, "google_")

	// Second sign-in reuses the account and publishes nothing new.
	_, err = h.svc.GoogleSignIn(ctx, profile)
	require.NoError(t, err)
	require.Len(t, h.publisher.published(), 1)
}

func TestGoogleSignInLinksByEmailAndClearsPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seeded := h.seedVerified(t, "a@b.com", goodPassword)

	_, err := h.svc.GoogleSignIn(ctx, GoogleProfile{GoogleID: "g-9", Email: "a@b.com", Name: "A", Surname: "B"})
	require.NoError(t, err)
	require.Empty(t, h.publisher.published(), "linking is not a creation")

	acc, err := h.accounts.FindByField(ctx, account.FieldID, seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, acc.GoogleID)
	require.Equal(t, "g-9", *acc.GoogleID)
	require.Nil(t, acc.PasswordHash)
}

func TestLogoutRevokesSessionWhileTokenStaysValid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedVerified(t, "a@b.com", goodPassword)

	result, err := h.svc.Login(ctx, "a@b.com", goodPassword)
	require.NoError(t, err)

	jti := h.sessionIDFor(t, result.AccessToken)
	require.NoError(t, h.svc.Logout(ctx, jti))

	// The signature still verifies, but the session is gone: callers must
	// treat the bearer as unauthenticated.
	_, err = h.tokens.Verify(result.AccessToken)
	require.NoError(t, err)
	_, err = h.sessions.Get(ctx, jti)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
