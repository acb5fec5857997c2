package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// changeChannel is the NOTIFY channel the profiles trigger publishes uids on.
const changeChannel = "profile_changes"

const profileColumns = `uid, email, display_name, role, organization_id, organization_name, created_at, updated_at`

// PostgresRepository persists profiles to Postgres. Once Listen is running,
// watchers are driven by LISTEN/NOTIFY so changes made by any instance reach
// them; before that, only this instance's own writes are published.
type PostgresRepository struct {
	db        *sqlx.DB
	feed      *Feed
	listening atomic.Bool
	logger    *slog.Logger
}

// NewPostgresRepository constructs a repository backed by sqlx.
func NewPostgresRepository(db *sqlx.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, feed: NewFeed(), logger: logger}
}

// Listen subscribes to profile change notifications until ctx is done.
// Losing the notification connection fails every open watch.
func (r *PostgresRepository) Listen(ctx context.Context, dsn string) error {
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		switch event {
		case pq.ListenerEventDisconnected:
			if err == nil {
				err = errors.New("connection closed")
			}
			r.logger.Warn("profile listener disconnected", "error", err)
			r.feed.Fail(fmt.Errorf("profile change listener: %w", err))
		case pq.ListenerEventReconnected:
			r.logger.Info("profile listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			r.logger.Warn("profile listener reconnect failed", "error", err)
		}
	})

	if err := listener.Listen(changeChannel); err != nil {
		_ = listener.Close()
		return fmt.Errorf("listen %s: %w", changeChannel, err)
	}

	r.listening.Store(true)
	go r.run(ctx, listener)
	return nil
}

func (r *PostgresRepository) run(ctx context.Context, listener *pq.Listener) {
	defer func() {
		r.listening.Store(false)
		_ = listener.Close()
	}()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// Reconnected: notifications may have been missed.
				for _, uid := range r.feed.WatchedUIDs() {
					r.refresh(ctx, uid)
				}
				continue
			}
			r.refresh(ctx, n.Extra)
		case <-ping.C:
			go func() { _ = listener.Ping() }()
		}
	}
}

func (r *PostgresRepository) refresh(ctx context.Context, uid string) {
	if r.feed.Count(uid) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := r.GetProfile(ctx, uid)
	switch {
	case errors.Is(err, ErrNotFound):
		r.feed.Publish(uid, nil)
	case err != nil:
		r.logger.Error("reload profile after change", "uid", uid, "error", err)
		r.feed.PublishError(uid, err)
	default:
		r.feed.Publish(uid, &p)
	}
}

// CreateOrganization inserts a new organization.
func (r *PostgresRepository) CreateOrganization(ctx context.Context, org Organization) (Organization, error) {
	const query = `INSERT INTO organizations (id, name, owner_id, created_at) VALUES (:id, :name, :owner_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, org); err != nil {
		if isUniqueViolation(err) {
			return Organization{}, ErrConflict
		}
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	return org, nil
}

// GetOrganization retrieves an organization by id.
func (r *PostgresRepository) GetOrganization(ctx context.Context, id string) (Organization, error) {
	var org Organization
	if err := r.db.GetContext(ctx, &org, `SELECT id, name, owner_id, created_at FROM organizations WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

// PutProfile creates or replaces the profile for profile.UID.
func (r *PostgresRepository) PutProfile(ctx context.Context, profile Profile) (Profile, error) {
	const query = `
INSERT INTO profiles (` + profileColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (uid) DO UPDATE SET
    email = EXCLUDED.email,
    display_name = EXCLUDED.display_name,
    role = EXCLUDED.role,
    organization_id = EXCLUDED.organization_id,
    organization_name = EXCLUDED.organization_name,
    updated_at = EXCLUDED.updated_at
RETURNING ` + profileColumns

	var stored Profile
	err := r.db.GetContext(ctx, &stored, query,
		profile.UID,
		profile.Email,
		profile.DisplayName,
		profile.Role,
		profile.OrganizationID,
		profile.OrganizationName,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("upsert profile: %w", err)
	}

	r.publishLocal(stored)
	return stored, nil
}

// GetProfile retrieves a profile by uid.
func (r *PostgresRepository) GetProfile(ctx context.Context, uid string) (Profile, error) {
	var p Profile
	if err := r.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE uid = $1`, uid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns an organization's members, oldest first.
func (r *PostgresRepository) ListProfiles(ctx context.Context, organizationID string) ([]Profile, error) {
	out := make([]Profile, 0)
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE organization_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &out, query, organizationID); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// UpdateRole changes a member's role.
func (r *PostgresRepository) UpdateRole(ctx context.Context, uid string, role Role) (Profile, error) {
	query := `UPDATE profiles SET role = $2, updated_at = $3 WHERE uid = $1 RETURNING ` + profileColumns
	return r.update(ctx, query, uid, role, time.Now().UTC())
}

// UpdateDisplayName changes a member's display name.
func (r *PostgresRepository) UpdateDisplayName(ctx context.Context, uid, displayName string) (Profile, error) {
	query := `UPDATE profiles SET display_name = $2, updated_at = $3 WHERE uid = $1 RETURNING ` + profileColumns
	return r.update(ctx, query, uid, displayName, time.Now().UTC())
}

func (r *PostgresRepository) update(ctx context.Context, query string, args ...any) (Profile, error) {
	var p Profile
	if err := r.db.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	r.publishLocal(p)
	return p, nil
}

// Watch delivers the stored profile for uid, then every change.
func (r *PostgresRepository) Watch(uid string, fn WatchFunc) func() {
	return r.feed.Subscribe(uid, fn, func() (*Profile, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		p, err := r.GetProfile(ctx, uid)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// publishLocal notifies watchers directly when no listener is running.
func (r *PostgresRepository) publishLocal(p Profile) {
	if r.listening.Load() {
		return
	}
	r.feed.Publish(p.UID, &p)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
