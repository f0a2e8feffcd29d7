package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/loomhost/identity/internal/storage"
)

// PutSession persists one session row.
func (s *Store) PutSession(ctx context.Context, session storage.Session) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(session.ID) == "" {
		return errors.New("session id is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return errors.New("session user id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, device_id, device_name, created_at, last_active_at, expires_at, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_active_at = excluded.last_active_at,
			expires_at = excluded.expires_at`,
		session.ID, session.UserID, session.DeviceID, session.DeviceName,
		toMillis(session.CreatedAt), toMillis(session.LastActiveAt), toMillis(session.ExpiresAt),
		session.IPAddress, session.UserAgent,
	)
	return err
}

// GetSession retrieves one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (storage.Session, error) {
	if err := s.ensureDB(); err != nil {
		return storage.Session{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, user_id, device_id, device_name, created_at, last_active_at, expires_at, ip_address, user_agent
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessionsByUser returns a user's sessions ordered by most recent activity.
func (s *Store) ListSessionsByUser(ctx context.Context, userID string) ([]storage.Session, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, user_id, device_id, device_name, created_at, last_active_at, expires_at, ip_address, user_agent
		FROM sessions WHERE user_id = ? ORDER BY last_active_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []storage.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CountSessionsByUser returns the number of stored sessions for a user.
func (s *Store) CountSessionsByUser(ctx context.Context, userID string) (int, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

// TouchSession updates a session's last activity timestamp.
func (s *Store) TouchSession(ctx context.Context, id string, lastActiveAt time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE id = ?`, toMillis(lastActiveAt), id)
	return err
}

// UpdateSessionExpiry moves a session's expiry.
func (s *Store) UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE id = ?`, toMillis(expiresAt), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteSession removes one session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteSessionsByUser removes a user's sessions, optionally sparing one.
func (s *Store) DeleteSessionsByUser(ctx context.Context, userID, exceptID string) (int, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ? AND id != ?`, userID, exceptID)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// DeleteExpiredSessions removes stale sessions and returns affected user IDs.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) ([]string, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	cutoff := toMillis(now)
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM sessions WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			_ = rows.Close()
			return nil, err
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(users) == 0 {
		return nil, nil
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, cutoff); err != nil {
		return nil, err
	}
	return users, nil
}

// NextSessionExpiry returns the earliest expiry across all sessions.
func (s *Store) NextSessionExpiry(ctx context.Context) (*time.Time, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var millis sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT MIN(expires_at) FROM sessions`).Scan(&millis)
	if err != nil {
		return nil, err
	}
	if !millis.Valid {
		return nil, nil
	}
	at := fromMillis(millis.Int64)
	return &at, nil
}

// GetLoginRateLimit retrieves a user's login counter state.
func (s *Store) GetLoginRateLimit(ctx context.Context, userID string) (storage.LoginRateLimit, error) {
	if err := s.ensureDB(); err != nil {
		return storage.LoginRateLimit{}, err
	}
	var limit storage.LoginRateLimit
	var windowStart int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT user_id, attempt_count, window_start FROM login_rate_limits WHERE user_id = ?`,
		userID,
	).Scan(&limit.UserID, &limit.Count, &windowStart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LoginRateLimit{}, storage.ErrNotFound
		}
		return storage.LoginRateLimit{}, err
	}
	limit.WindowStart = fromMillis(windowStart)
	return limit, nil
}

// PutLoginRateLimit persists a user's login counter state.
func (s *Store) PutLoginRateLimit(ctx context.Context, limit storage.LoginRateLimit) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO login_rate_limits (user_id, attempt_count, window_start)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			attempt_count = excluded.attempt_count,
			window_start = excluded.window_start`,
		limit.UserID, limit.Count, toMillis(limit.WindowStart),
	)
	return err
}

// DeleteLoginRateLimit clears a user's login counter state.
func (s *Store) DeleteLoginRateLimit(ctx context.Context, userID string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM login_rate_limits WHERE user_id = ?`, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (storage.Session, error) {
	var session storage.Session
	var createdAt, lastActiveAt, expiresAt int64
	err := row.Scan(
		&session.ID, &session.UserID, &session.DeviceID, &session.DeviceName,
		&createdAt, &lastActiveAt, &expiresAt, &session.IPAddress, &session.UserAgent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Session{}, storage.ErrNotFound
		}
		return storage.Session{}, err
	}
	session.CreatedAt = fromMillis(createdAt)
	session.LastActiveAt = fromMillis(lastActiveAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}
