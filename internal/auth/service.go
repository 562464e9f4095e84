// Package auth implements the core identity flows: registration, email
// verification, login with lockout and MFA, password reset, third-party
// sign-in, and logout.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumensocial/identity/internal/account"
	"github.com/lumensocial/identity/internal/events"
	"github.com/lumensocial/identity/internal/lockout"
	"github.com/lumensocial/identity/internal/mailer"
	"github.com/lumensocial/identity/internal/mfa"
	"github.com/lumensocial/identity/internal/session"
	"github.com/lumensocial/identity/internal/token"
)

var (
	// ErrInvalidCredentials covers both unknown account and wrong password;
	// the two cases must be indistinguishable to callers.
	ErrInvalidCredentials = errors.New("incorrect email or password")
	// ErrAccountLocked is returned while the lockout counter is at or above
	// threshold, regardless of credential correctness.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountBanned is returned for banned accounts.
	ErrAccountBanned = errors.New("account banned")
	// ErrAccountUnverified is returned before email verification completes.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrPasswordLoginUnavailable is returned for accounts that only have a
	// third-party identity (no credential hash).
	ErrPasswordLoginUnavailable = errors.New("password login unavailable for this account")
	// ErrInvalidChallenge covers missing, expired, mismatched and already
	// consumed MFA challenges.
	ErrInvalidChallenge = errors.New("invalid mfa challenge")
	// ErrInvalidVerification covers missing or expired verification tokens.
	ErrInvalidVerification = errors.New("invalid or expired verification token")
	// ErrInvalidResetToken covers missing or expired password reset tokens.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
)

// Publisher is the slice of the event channel the auth flows need.
type Publisher interface {
	PublishUserCreated(ctx context.Context, fact events.UserCreated) error
}

// Config holds flow-level lifetimes.
type Config struct {
	VerificationTTL time.Duration // defaults to 24h
	ResetTTL        time.Duration // defaults to 1h
	MFAChallengeTTL time.Duration // defaults to 5m
}

// Service wires the identity flows over injected collaborators. All
// coordination state lives in the shared cache; the Service itself is
// stateless and safe for concurrent use.
type Service struct {
	accounts  account.Store
	sessions  *session.Store
	tokens    *token.Service
	lockouts  *lockout.Counter
	mfaCodes  *mfa.CodeStore
	publisher Publisher
	mailer    mailer.Mailer
	config    Config
	logger    *zap.Logger
}

// NewService constructs the auth Service.
func NewService(
	accounts account.Store,
	sessions *session.Store,
	tokens *token.Service,
	lockouts *lockout.Counter,
	mfaCodes *mfa.CodeStore,
	publisher Publisher,
	m mailer.Mailer,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	if cfg.MFAChallengeTTL <= 0 {
		cfg.MFAChallengeTTL = 5 * time.Minute
	}
	return &Service{
		accounts:  accounts,
		sessions:  sessions,
		tokens:    tokens,
		lockouts:  lockouts,
		mfaCodes:  mfaCodes,
		publisher: publisher,
		mailer:    m,
		config:    cfg,
		logger:    logger,
	}
}

// LoginResult is the outcome of a successful primary or secondary
// authentication step.
type LoginResult struct {
	// AccessToken is empty when MFARequired is set.
	AccessToken string
	// MFARequired signals that primary credentials were correct but a
	// second factor must be presented before a session exists.
	MFARequired bool
	// MFAToken is the opaque challenge token to present to VerifyMFA.
	MFAToken string
}

// Register hashes the password and creates an unverified account with a
// fresh verification token, delivered out of band. The caller validates the
// request shape and password policy first.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	verificationToken := uuid.NewString()
	expiresAt := time.Now().Add(s.config.VerificationTTL)

	hashStr := string(hash)
	acc := &account.Account{
		Email:                      req.Email,
		Username:                   req.Username,
		Name:                       req.Name,
		Surname:                    req.Surname,
		PasswordHash:               &hashStr,
		Role:                       account.RoleUser,
		VerificationToken:          &verificationToken,
		VerificationTokenExpiresAt: &expiresAt,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		return err
	}

	if err := s.mailer.SendVerificationToken(ctx, acc.Email, verificationToken); err != nil {
		// The account exists; the token can be re-requested. Delivery
		// failure must not fail registration.
		s.logger.Error("verification mail delivery failed", zap.Error(err))
	}
	return nil
}

// VerifyEmail consumes a verification token, marks the account verified, and
// publishes the account-created fact. A failed publish is logged, never
// surfaced: the verification has already committed.
func (s *Service) VerifyEmail(ctx context.Context, verificationToken string) error {
	if verificationToken == "" {
		return ErrInvalidVerification
	}

	acc, err := s.accounts.FindByField(ctx, account.FieldVerificationToken, verificationToken)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidVerification
		}
		return err
	}
	if acc.VerificationTokenExpiresAt == nil || time.Now().After(*acc.VerificationTokenExpiresAt) {
		return ErrInvalidVerification
	}

	verified := true
	err = s.accounts.Update(ctx, acc.ID, account.Changes{
		IsVerified:          &verified,
		VerificationToken:   account.ClearStr(),
		VerificationExpires: account.ClearTime(),
	})
	if err != nil {
		return err
	}

	s.publishCreated(ctx, acc)
	return nil
}

// Login performs primary authentication. Lockout is checked before the
// password so a locked account is rejected even with correct credentials,
// and failures increment the shared counter atomically.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	acc, err := s.accounts.FindByField(ctx, account.FieldEmail, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	locked, err := s.lockouts.IsLocked(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrAccountLocked
	}

	if acc.IsBanned {
		return nil, ErrAccountBanned
	}
	if acc.PasswordHash == nil {
		return nil, ErrPasswordLoginUnavailable
	}
	if !acc.IsVerified {
		return nil, ErrAccountUnverified
	}

	if bcrypt.CompareHashAndPassword([]byte(*acc.PasswordHash), []byte(password)) != nil {
		if err := s.lockouts.RecordFailure(ctx, acc.ID); err != nil {
			s.logger.Error("lockout increment failed", zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.lockouts.Reset(ctx, acc.ID); err != nil {
		s.logger.Error("lockout reset failed", zap.Error(err))
	}

	if acc.MFAEnabled {
		return s.issueMFAChallenge(ctx, acc)
	}

	accessToken, err := s.issueSession(ctx, acc)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: accessToken}, nil
}

// VerifyMFA consumes a challenge token and code pair. Both artifacts are
// single-use: the code is removed atomically on first presentation and the
// row-bound token is cleared before the session is minted.
func (s *Service) VerifyMFA(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	if challengeToken == "" || code == "" {
		return nil, ErrInvalidChallenge
	}

	acc, err := s.accounts.FindByField(ctx, account.FieldMFAPendingToken, challengeToken)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrInvalidChallenge
		}
		return nil, err
	}
	if acc.MFAPendingExpiresAt == nil || time.Now().After(*acc.MFAPendingExpiresAt) {
		return nil, ErrInvalidChallenge
	}

	if err := s.mfaCodes.Consume(ctx, acc.ID, code); err != nil {
		if errors.Is(err, mfa.ErrCodeMismatch) {
			return nil, ErrInvalidChallenge
		}
		return nil, err
	}

	err = s.accounts.Update(ctx, acc.ID, account.Changes{
		MFAPendingToken:     account.ClearStr(),
		MFAPendingExpiresAt: account.ClearTime(),
	})
	if err != nil {
		return nil, err
	}

	accessToken, err := s.issueSession(ctx, acc)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: accessToken}, nil
}

// RequestPasswordReset issues a reset token when the account exists and owns
// a credential hash. Callers respond identically either way to avoid account
// enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	acc, err := s.accounts.FindByField(ctx, account.FieldEmail, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil
		}
		return err
	}
	if acc.PasswordHash == nil {
		return nil
	}

	resetToken := uuid.NewString()
	expiresAt := time.Now().Add(s.config.ResetTTL)

	err = s.accounts.Update(ctx, acc.ID, account.Changes{
		ResetToken:        account.SetStr(resetToken),
		ResetTokenExpires: account.SetTime(expiresAt),
	})
	if err != nil {
		return err
	}

	if err := s.mailer.SendPasswordResetToken(ctx, acc.Email, resetToken); err != nil {
		s.logger.Error("reset mail delivery failed", zap.Error(err))
	}
	return nil
}

// ConfirmPasswordReset consumes a reset token and replaces the credential
// hash. The caller validates the new password against the policy first.
func (s *Service) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if resetToken == "" {
		return ErrInvalidResetToken
	}

	acc, err := s.accounts.FindByField(ctx, account.FieldResetToken, resetToken)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if acc.ResetTokenExpiresAt == nil || time.Now().After(*acc.ResetTokenExpiresAt) {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	hashStr := string(hash)
	return s.accounts.Update(ctx, acc.ID, account.Changes{
		PasswordHash:      account.SetStr(hashStr),
		ResetToken:        account.ClearStr(),
		ResetTokenExpires: account.ClearTime(),
	})
}

// Logout revokes the session for a jti. Idempotent.
func (s *Service) Logout(ctx context.Context, jti string) error {
	return s.sessions.Delete(ctx, jti)
}

// GoogleProfile is the subset of the provider profile the sign-in flow uses.
type GoogleProfile struct {
	GoogleID string
	Email    string
	Name     string
	Surname  string
}

// GoogleSignIn links or creates an account for a verified provider profile
// and mints a session. Linking by email clears the credential hash, per the
// platform's one-identity-source rule; a first-time creation publishes the
// account fact.
func (s *Service) GoogleSignIn(ctx context.Context, profile GoogleProfile) (*LoginResult, error) {
	acc, err := s.accounts.FindByField(ctx, account.FieldGoogleID, profile.GoogleID)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return nil, err
	}

	created := false
	if acc == nil {
		acc, err = s.accounts.FindByField(ctx, account.FieldEmail, profile.Email)
		switch {
		case err == nil:
			err = s.accounts.Update(ctx, acc.ID, account.Changes{
				GoogleID:     account.SetStr(profile.GoogleID),
				PasswordHash: account.ClearStr(),
			})
			if err != nil {
				return nil, err
			}
			acc.GoogleID = &profile.GoogleID
			acc.PasswordHash = nil
		case errors.Is(err, account.ErrNotFound):
			username := "google_" + uuid.NewString()[:8]
			googleID := profile.GoogleID
			acc = &account.Account{
				Email:      profile.Email,
				Username:   username,
				Name:       profile.Name,
				Surname:    profile.Surname,
				Role:       account.RoleUser,
				IsVerified: true,
				GoogleID:   &googleID,
			}
			if err := s.accounts.Create(ctx, acc); err != nil {
				return nil, err
			}
			created = true
		default:
			return nil, err
		}
	}

	if acc.IsBanned {
		return nil, ErrAccountBanned
	}

	if created {
		s.publishCreated(ctx, acc)
	}

	accessToken, err := s.issueSession(ctx, acc)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: accessToken}, nil
}

func (s *Service) issueMFAChallenge(ctx context.Context, acc *account.Account) (*LoginResult, error) {
	challengeToken := uuid.NewString()
	expiresAt := time.Now().Add(s.config.MFAChallengeTTL)

	err := s.accounts.Update(ctx, acc.ID, account.Changes{
		MFAPendingToken:     account.SetStr(challengeToken),
		MFAPendingExpiresAt: account.SetTime(expiresAt),
	})
	if err != nil {
		return nil, err
	}

	code, err := s.mfaCodes.Issue(ctx, acc.ID)
	if err != nil {
		return nil, err
	}

	if err := s.mailer.SendMFACode(ctx, acc.Email, code); err != nil {
		s.logger.Error("mfa code delivery failed", zap.Error(err))
	}

	return &LoginResult{MFARequired: true, MFAToken: challengeToken}, nil
}

func (s *Service) issueSession(ctx context.Context, acc *account.Account) (string, error) {
	accessToken, jti, err := s.tokens.Issue(acc.ID, acc.Role)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	desc := &session.Descriptor{
		UserID:       acc.ID,
		Role:         acc.Role,
		Email:        acc.Email,
		Username:     acc.Username,
		CreatedAt:    now,
		LastActivity: now,
	}
	// Session TTL tracks the token lifetime so a structurally valid token
	// cannot outlive its session.
	if err := s.sessions.Put(ctx, jti, desc, s.tokens.TTL()); err != nil {
		return "", err
	}

	return accessToken, nil
}

func (s *Service) publishCreated(ctx context.Context, acc *account.Account) {
	fact := events.UserCreated{
		ID:       acc.ID,
		Email:    acc.Email,
		Name:     acc.Name,
		Surname:  acc.Surname,
		Username: acc.Username,
		IsBanned: acc.IsBanned,
	}
	if err := s.publisher.PublishUserCreated(ctx, fact); err != nil {
		// Availability over consistency: the account state is already
		// committed, the event loss is logged for reconciliation.
		s.logger.Error("user.created publish failed", zap.String("id", acc.ID), zap.Error(err))
	}
}
