package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, email, username, name, surname, password_hash, role,
	bio, avatar_url, is_private, is_verified, is_banned, google_id,
	mfa_enabled, mfa_pending_token, mfa_pending_expires_at,
	verification_token, verification_token_expires_at,
	reset_token, reset_token_expires_at, created_at, updated_at`

// PGStore is the Postgres credential store gateway.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a pgx pool as an account Store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var lookupColumns = map[Field]string{
	FieldID:                "id",
	FieldEmail:             "email",
	FieldUsername:          "username",
	FieldGoogleID:          "google_id",
	FieldVerificationToken: "verification_token",
	FieldMFAPendingToken:   "mfa_pending_token",
	FieldResetToken:        "reset_token",
}

// FindByField looks up a single account by one of the indexed columns.
func (s *PGStore) FindByField(ctx context.Context, field Field, value string) (*Account, error) {
	column, ok := lookupColumns[field]
	if !ok {
		return nil, fmt.Errorf("unsupported lookup field: %s", field)
	}

	query := fmt.Sprintf("SELECT %s FROM accounts WHERE %s = $1", accountColumns, column)
	row := s.pool.QueryRow(ctx, query, value)

	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return acc, nil
}

// Create inserts a new account, generating the id when absent.
func (s *PGStore) Create(ctx context.Context, acc *Account) error {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.Role == "" {
		acc.Role = RoleUser
	}
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, email, username, name, surname, password_hash, role,
			bio, avatar_url, is_private, is_verified, is_banned, google_id,
			mfa_enabled, mfa_pending_token, mfa_pending_expires_at,
			verification_token, verification_token_expires_at,
			reset_token, reset_token_expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		acc.ID, acc.Email, acc.Username, acc.Name, acc.Surname, acc.PasswordHash, acc.Role,
		acc.Bio, acc.AvatarURL, acc.IsPrivate, acc.IsVerified, acc.IsBanned, acc.GoogleID,
		acc.MFAEnabled, acc.MFAPendingToken, acc.MFAPendingExpiresAt,
		acc.VerificationToken, acc.VerificationTokenExpiresAt,
		acc.ResetToken, acc.ResetTokenExpiresAt, acc.CreatedAt, acc.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Update applies a partial change set to one record in a single statement.
func (s *PGStore) Update(ctx context.Context, id string, changes Changes) error {
	sets := make([]string, 0, 8)
	args := make([]interface{}, 0, 9)

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if changes.PasswordHash != nil {
		add("password_hash", *changes.PasswordHash)
	}
	if changes.IsVerified != nil {
		add("is_verified", *changes.IsVerified)
	}
	if changes.GoogleID != nil {
		add("google_id", *changes.GoogleID)
	}
	if changes.MFAPendingToken != nil {
		add("mfa_pending_token", *changes.MFAPendingToken)
	}
	if changes.MFAPendingExpiresAt != nil {
		add("mfa_pending_expires_at", *changes.MFAPendingExpiresAt)
	}
	if changes.VerificationToken != nil {
		add("verification_token", *changes.VerificationToken)
	}
	if changes.VerificationExpires != nil {
		add("verification_token_expires_at", *changes.VerificationExpires)
	}
	if changes.ResetToken != nil {
		add("reset_token", *changes.ResetToken)
	}
	if changes.ResetTokenExpires != nil {
		add("reset_token_expires_at", *changes.ResetTokenExpires)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE accounts SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var acc Account
	err := row.Scan(
		&acc.ID, &acc.Email, &acc.Username, &acc.Name, &acc.Surname, &acc.PasswordHash, &acc.Role,
		&acc.Bio, &acc.AvatarURL, &acc.IsPrivate, &acc.IsVerified, &acc.IsBanned, &acc.GoogleID,
		&acc.MFAEnabled, &acc.MFAPendingToken, &acc.MFAPendingExpiresAt,
		&acc.VerificationToken, &acc.VerificationTokenExpiresAt,
		&acc.ResetToken, &acc.ResetTokenExpiresAt, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
