package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"plate/api/internal/model"
	"plate/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `
	u.id, u.display_name, u.email, u.password_hash, COALESCE(tm.team_id, ''), COALESCE(tm.role, 'viewer'),
	u.is_email_verified, COALESCE(u.verification_token, ''), u.verification_expires_at, u.created_at, u.updated_at`

const userFrom = `FROM users u LEFT JOIN team_members tm ON tm.user_id = u.id`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var verificationExpires sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.TeamID,
		&user.Role,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&verificationExpires,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if verificationExpires.Valid {
		t := verificationExpires.Time
		user.VerificationExpiresAt = &t
	}
	return user, nil
}

// CreateUser inserts the account. A user without a TeamID gets a new team
// and becomes its owner; otherwise it joins TeamID with Role.
func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		`, user.ID, user.DisplayName, email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
		if err != nil {
			return fmt.Errorf("insert user: %w", translate(err))
		}

		teamID, role := user.TeamID, user.Role
		if teamID == "" {
			teamID, role = util.NewID("team"), "owner"
			if _, err := tx.ExecContext(ctx, `INSERT INTO teams (id, name) VALUES ($1, $2)`, teamID, user.DisplayName+"'s team"); err != nil {
				return fmt.Errorf("insert team: %w", err)
			}
		}
		if role == "" {
			role = "member"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, $3)
		`, teamID, user.ID, role); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` `+userFrom+` WHERE u.id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` `+userFrom+` WHERE u.email=$1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, displayName string) error {
	return s.execOne(ctx, "update user profile", `
		UPDATE users SET display_name=$2, updated_at=NOW() WHERE id=$1
	`, userID, displayName)
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return s.execOne(ctx, "update verification token", `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	return s.execOne(ctx, "verify user email", `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
}

func (s *PostgresStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.execOne(ctx, "mark email verified", `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE id=$1
	`, userID)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return s.execOne(ctx, "update user password", `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		LEFT JOIN team_members tm ON tm.user_id = u.id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// PurgeRevokedAccessTokens drops revocations whose token has expired anyway,
// along with dead refresh sessions.
func (s *PostgresStore) PurgeRevokedAccessTokens(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_access_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	purged, _ := result.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE expires_at < NOW() OR revoked_at IS NOT NULL`); err != nil {
		return purged, fmt.Errorf("purge refresh sessions: %w", err)
	}
	return purged, nil
}

func (s *PostgresStore) GetRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM team_members WHERE user_id=$1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "viewer", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.team_id, tm.user_id, u.display_name, u.email, tm.role, tm.joined_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id=$1
		ORDER BY tm.joined_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	items := make([]model.TeamMember, 0)
	for rows.Next() {
		var item model.TeamMember
		if err := rows.Scan(&item.TeamID, &item.UserID, &item.DisplayName, &item.Email, &item.Role, &item.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return items, nil
}

// AddTeamMember moves an existing user into teamID with role.
func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET team_id=EXCLUDED.team_id, role=EXCLUDED.role, joined_at=NOW()
	`, teamID, userID, role)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, teamID, userID, role string) error {
	return s.execOne(ctx, "update member role", `
		UPDATE team_members SET role=$3 WHERE team_id=$1 AND user_id=$2
	`, teamID, userID, role)
}

func (s *PostgresStore) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	return s.execOne(ctx, "remove team member", `
		DELETE FROM team_members WHERE team_id=$1 AND user_id=$2
	`, teamID, userID)
}

// execOne runs a statement that must touch exactly one row; zero rows is
// reported as sql.ErrNoRows.
func (s *PostgresStore) execOne(ctx context.Context, label, query string, args ...any) error {
	return execOne(ctx, s.db, label, query, args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execOne(ctx context.Context, db execer, label, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", label, translate(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", label, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
