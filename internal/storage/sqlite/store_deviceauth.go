package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/loomhost/identity/internal/storage"
)

// PutDeviceAuthorization persists a new device grant record.
func (s *Store) PutDeviceAuthorization(ctx context.Context, record storage.DeviceAuthorization) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(record.DeviceCode) == "" {
		return errors.New("device code is required")
	}
	var lastPolled any
	if record.LastPolledAt != nil {
		lastPolled = toMillis(*record.LastPolledAt)
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO device_authorizations
		(device_code, user_code, client_id, status, created_at, expires_at, last_polled_at, poll_interval_seconds, result_token, approved_by, consumed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.DeviceCode, record.UserCode, record.ClientID, string(record.Status),
		toMillis(record.CreatedAt), toMillis(record.ExpiresAt), lastPolled,
		record.PollIntervalSeconds, record.ResultToken, record.ApprovedBy, boolToInt(record.Consumed),
	)
	return err
}

// GetDeviceAuthorization retrieves a record by its device code.
func (s *Store) GetDeviceAuthorization(ctx context.Context, deviceCode string) (storage.DeviceAuthorization, error) {
	if err := s.ensureDB(); err != nil {
		return storage.DeviceAuthorization{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		deviceAuthorizationColumns+` WHERE device_code = ?`, deviceCode)
	return scanDeviceAuthorization(row)
}

// GetDeviceAuthorizationByUserCode retrieves the most recent record claiming
// a user code. Non-terminal records shadow older terminal ones.
func (s *Store) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (storage.DeviceAuthorization, error) {
	if err := s.ensureDB(); err != nil {
		return storage.DeviceAuthorization{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		deviceAuthorizationColumns+` WHERE user_code = ? ORDER BY created_at DESC LIMIT 1`, userCode)
	return scanDeviceAuthorization(row)
}

// UserCodeInUse reports whether a non-terminal record claims the user code.
func (s *Store) UserCodeInUse(ctx context.Context, userCode string) (bool, error) {
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM device_authorizations WHERE user_code = ? AND status = ? LIMIT 1`,
		userCode, string(storage.DeviceStatusPending),
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TransitionDeviceAuthorization conditionally moves a record between states.
func (s *Store) TransitionDeviceAuthorization(ctx context.Context, deviceCode string, from, to storage.DeviceStatus, resultToken, approvedBy string) (bool, error) {
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE device_authorizations
		SET status = ?, result_token = ?, approved_by = ?
		WHERE device_code = ? AND status = ?`,
		string(to), resultToken, approvedBy, deviceCode, string(from),
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// MarkDevicePolled stamps a record's last poll time.
func (s *Store) MarkDevicePolled(ctx context.Context, deviceCode string, at time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE device_authorizations SET last_polled_at = ? WHERE device_code = ?`,
		toMillis(at), deviceCode)
	return err
}

// ConsumeDeviceToken marks an approved record's token as handed out.
func (s *Store) ConsumeDeviceToken(ctx context.Context, deviceCode string) (bool, error) {
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE device_authorizations SET consumed = 1
		WHERE device_code = ? AND status = ? AND consumed = 0`,
		deviceCode, string(storage.DeviceStatusApproved),
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ExpireOverdueDeviceAuthorizations sweeps pending records past expiry.
func (s *Store) ExpireOverdueDeviceAuthorizations(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ensureDB(); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE device_authorizations SET status = ?
		WHERE status = ? AND expires_at <= ?`,
		string(storage.DeviceStatusExpired), string(storage.DeviceStatusPending), toMillis(now),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deviceAuthorizationColumns = `SELECT device_code, user_code, client_id, status, created_at, expires_at, last_polled_at, poll_interval_seconds, result_token, approved_by, consumed
	FROM device_authorizations`

func scanDeviceAuthorization(row rowScanner) (storage.DeviceAuthorization, error) {
	var record storage.DeviceAuthorization
	var status string
	var createdAt, expiresAt int64
	var lastPolled sql.NullInt64
	var consumed int
	err := row.Scan(
		&record.DeviceCode, &record.UserCode, &record.ClientID, &status,
		&createdAt, &expiresAt, &lastPolled, &record.PollIntervalSeconds,
		&record.ResultToken, &record.ApprovedBy, &consumed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.DeviceAuthorization{}, storage.ErrNotFound
		}
		return storage.DeviceAuthorization{}, err
	}
	record.Status = storage.DeviceStatus(status)
	record.CreatedAt = fromMillis(createdAt)
	record.ExpiresAt = fromMillis(expiresAt)
	if lastPolled.Valid {
		at := fromMillis(lastPolled.Int64)
		record.LastPolledAt = &at
	}
	record.Consumed = consumed != 0
	return record, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
