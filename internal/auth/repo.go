package auth

import (
	"context"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusfleet/campusfleet/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	RoleNamesForUser(ctx context.Context, userID int64) ([]string, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
	ListActiveSessions(ctx context.Context) ([]SessionAudit, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, username, full_name, email, password_hash, is_active, created_at, updated_at`

// FindByUsername fetches a user by username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row)
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// RoleNamesForUser returns the role names assigned to a user, in
// assignment order.
func (r *PGRepository) RoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_name FROM user_roles WHERE user_id = $1 ORDER BY assigned_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateSession registers a login session for auditing. Re-registering
// the same session id is benign, a re-login over an existing session.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at, ip, ua) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, time.Now().UTC(), expiresAt.UTC(), nullable(ip), nullable(ua))
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			_, err = r.pool.Exec(ctx,
				`UPDATE auth_sessions SET user_id = $2, created_at = $3, expires_at = $4, ip = $5, ua = $6 WHERE id = $1`,
				id, userID, time.Now().UTC(), expiresAt.UTC(), nullable(ip), nullable(ua))
			return err
		}
		return err
	}
	return nil
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE id = $1`, id)
	return err
}

// DeleteExpiredSessions purges sessions that expired before the cutoff
// and returns how many were removed.
func (r *PGRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActiveSessions returns unexpired sessions, newest first.
func (r *PGRepository) ListActiveSessions(ctx context.Context) ([]SessionAudit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.user_id, u.username, s.created_at, s.expires_at, COALESCE(s.ip, ''), COALESCE(s.ua, '')
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.expires_at >= now()
		ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []SessionAudit
	for rows.Next() {
		var sess SessionAudit
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Username, &sess.CreatedAt, &sess.ExpiresAt, &sess.IP, &sess.UserAgent); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

var _ Repository = (*PGRepository)(nil)
