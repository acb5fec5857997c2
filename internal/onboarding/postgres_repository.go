package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"routemate/internal/profiles"
)

const invitationColumns = `id, organization_id, email, role, display_name, invited_by, token_hash, created_at, expires_at, accepted_at`

// PostgresRepository implements InvitationRepository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateInvitation inserts an invitation.
func (r *PostgresRepository) CreateInvitation(ctx context.Context, inv Invitation) error {
	const query = `
		INSERT INTO invitations (id, organization_id, email, role, display_name, invited_by, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		inv.ID,
		inv.OrganizationID,
		inv.Email,
		string(inv.Role),
		inv.DisplayName,
		inv.InvitedBy,
		inv.TokenHash,
		inv.CreatedAt,
		inv.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

// ListInvitations returns an organization's invitations, newest first.
func (r *PostgresRepository) ListInvitations(ctx context.Context, organizationID string) ([]Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE organization_id = $1 ORDER BY created_at DESC`
	var rows []invitationRow
	if err := r.db.SelectContext(ctx, &rows, query, organizationID); err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	out := make([]Invitation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toInvitation())
	}
	return out, nil
}

// FindInvitationByTokenHash looks up an invitation by token hash.
func (r *PostgresRepository) FindInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	var row invitationRow
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE token_hash = $1`
	if err := r.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find invitation: %w", err)
	}
	inv := row.toInvitation()
	return &inv, nil
}

// MarkAccepted stamps the invitation unless it was already accepted.
func (r *PostgresRepository) MarkAccepted(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `UPDATE invitations SET accepted_at = $2 WHERE id = $1 AND accepted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidInvite
	}
	return nil
}

// DeleteInvitation removes an invitation belonging to organizationID.
func (r *PostgresRepository) DeleteInvitation(ctx context.Context, organizationID string, id uuid.UUID) error {
	const query = `DELETE FROM invitations WHERE id = $1 AND organization_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, organizationID)
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
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

// invitationRow is a database row representation of Invitation.
type invitationRow struct {
	ID             uuid.UUID    `db:"id"`
	OrganizationID string       `db:"organization_id"`
	Email          string       `db:"email"`
	Role           string       `db:"role"`
	DisplayName    string       `db:"display_name"`
	InvitedBy      string       `db:"invited_by"`
	TokenHash      string       `db:"token_hash"`
	CreatedAt      time.Time    `db:"created_at"`
	ExpiresAt      time.Time    `db:"expires_at"`
	AcceptedAt     sql.NullTime `db:"accepted_at"`
}

func (r invitationRow) toInvitation() Invitation {
	inv := Invitation{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Email:          r.Email,
		Role:           profiles.Role(r.Role),
		DisplayName:    r.DisplayName,
		InvitedBy:      r.InvitedBy,
		TokenHash:      r.TokenHash,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
	if r.AcceptedAt.Valid {
		at := r.AcceptedAt.Time
		inv.AcceptedAt = &at
	}
	return inv
}
