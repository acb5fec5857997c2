package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `uid, email, password_hash, display_name, organization_id, role, created_at, updated_at, last_login_at`

// CreateAccount inserts a new account. A duplicate email maps to ErrEmailInUse.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account Account) (Account, error) {
	const query = `
		INSERT INTO accounts (uid, email, password_hash, display_name, organization_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.UID,
		account.Email,
		account.PasswordHash,
		account.DisplayName,
		account.CustomClaims.OrganizationID,
		account.CustomClaims.Role,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Account{}, ErrEmailInUse
		}
		return Account{}, err
	}

	return account, nil
}

// GetAccount looks up an account by uid.
func (r *PostgresRepository) GetAccount(ctx context.Context, uid string) (*Account, error) {
	return r.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE uid = $1`, uid)
}

// FindAccountByEmail looks up an account by its email address.
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *PostgresRepository) findAccount(ctx context.Context, query string, arg any) (*Account, error) {
	var row accountRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toAccount(), nil
}

// UpdateCustomClaims replaces the organization and role claims of an account.
func (r *PostgresRepository) UpdateCustomClaims(ctx context.Context, uid string, claims CustomClaims) error {
	const query = `
		UPDATE accounts
		SET organization_id = $2, role = $3, updated_at = $4
		WHERE uid = $1
	`
	return r.execAffecting(ctx, query, uid, claims.OrganizationID, claims.Role, time.Now().UTC())
}

// UpdateDisplayName changes the account's display name.
func (r *PostgresRepository) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	const query = `UPDATE accounts SET display_name = $2, updated_at = $3 WHERE uid = $1`
	return r.execAffecting(ctx, query, uid, displayName, time.Now().UTC())
}

// RecordLogin stamps the account's last login time.
func (r *PostgresRepository) RecordLogin(ctx context.Context, uid string, at time.Time) error {
	const query = `UPDATE accounts SET last_login_at = $2 WHERE uid = $1`
	return r.execAffecting(ctx, query, uid, at)
}

func (r *PostgresRepository) execAffecting(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession inserts a new session keyed by its refresh token hash.
func (r *PostgresRepository) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	const query = `
		INSERT INTO auth_sessions (id, uid, refresh_token_hash, expires_at, created_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UID,
		tokenHash,
		session.ExpiresAt,
		session.CreatedAt,
		session.UserAgent,
		session.IPAddress,
	)
	return err
}

const sessionSelect = `
	SELECT s.id, s.uid, s.expires_at, s.created_at, s.user_agent, s.ip_address,
	       a.email, a.display_name
	FROM auth_sessions s
	JOIN accounts a ON a.uid = s.uid
`

// FindSession looks up a session and its account's identity fields by id.
func (r *PostgresRepository) FindSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.findSession(ctx, sessionSelect+` WHERE s.id = $1`, id)
}

// FindSessionByTokenHash looks up a session by refresh token hash.
func (r *PostgresRepository) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	return r.findSession(ctx, sessionSelect+` WHERE s.refresh_token_hash = $1`, tokenHash)
}

func (r *PostgresRepository) findSession(ctx context.Context, query string, arg any) (*Session, error) {
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toSession(), nil
}

// RotateSessionToken replaces the refresh token hash and extends the session.
// The old hash is part of the match so only one of two concurrent rotations
// of the same token wins.
func (r *PostgresRepository) RotateSessionToken(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) error {
	const query = `UPDATE auth_sessions SET refresh_token_hash = $3, expires_at = $4
		WHERE id = $1 AND refresh_token_hash = $2`
	err := r.execAffecting(ctx, query, id, oldHash, newHash, expiresAt)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidToken
	}
	return err
}

// DeleteSession removes a session from the database.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM auth_sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// DeleteSessionsForAccount removes every session of an account and returns their ids.
func (r *PostgresRepository) DeleteSessionsForAccount(ctx context.Context, uid string) ([]uuid.UUID, error) {
	const query = `DELETE FROM auth_sessions WHERE uid = $1 RETURNING id`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, uid); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExpiredSessions removes all sessions that expired before the given time.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM auth_sessions WHERE expires_at < $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// accountRow is a database row representation of Account.
type accountRow struct {
	UID            string       `db:"uid"`
	Email          string       `db:"email"`
	PasswordHash   string       `db:"password_hash"`
	DisplayName    string       `db:"display_name"`
	OrganizationID string       `db:"organization_id"`
	Role           string       `db:"role"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
	LastLoginAt    sql.NullTime `db:"last_login_at"`
}

func (r *accountRow) toAccount() *Account {
	account := &Account{
		UID:          r.UID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		DisplayName:  r.DisplayName,
		CustomClaims: CustomClaims{
			OrganizationID: r.OrganizationID,
			Role:           r.Role,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.LastLoginAt.Valid {
		at := r.LastLoginAt.Time
		account.LastLoginAt = &at
	}
	return account
}

// sessionRow is a database row for the session + account join query.
type sessionRow struct {
	ID          uuid.UUID `db:"id"`
	UID         string    `db:"uid"`
	ExpiresAt   time.Time `db:"expires_at"`
	CreatedAt   time.Time `db:"created_at"`
	UserAgent   string    `db:"user_agent"`
	IPAddress   string    `db:"ip_address"`
	Email       string    `db:"email"`
	DisplayName string    `db:"display_name"`
}

func (r *sessionRow) toSession() *Session {
	return &Session{
		ID:          r.ID,
		UID:         r.UID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
		UserAgent:   r.UserAgent,
		IPAddress:   r.IPAddress,
	}
}
