package store

import (
	"context"
	"errors"
	"time"

	"visitorlog/internal/apperr"
	"visitorlog/internal/audit"
)

// UpsertDevice ensures a kiosk device record exists.
func (p *Postgres) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return apperr.Storage("upsert device", err)
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (p *Postgres) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, subject, expires_at)
		VALUES ($1, $2, $3)
	`, token, subject, expiresAt)
	return apperr.Storage("save refresh token", err)
}

// ConsumeRefreshToken revokes an active token and reports whether it was active.
func (p *Postgres) ConsumeRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND revoked = FALSE AND expires_at > NOW()
	`, token)
	if err != nil {
		return false, apperr.Storage("consume refresh token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage("consume refresh token", err)
	}
	return n == 1, nil
}

// AppendAudit writes one audit entry.
func (p *Postgres) AppendAudit(ctx context.Context, evt audit.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_log (occurred_at, action, visitor_id, device_id, outcome, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.Timestamp, evt.Action, evt.VisitorID, evt.DeviceID, evt.Outcome, evt.Detail)
	return apperr.Storage("append audit", err)
}

// ListAudit returns the most recent audit entries.
func (p *Postgres) ListAudit(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT occurred_at, action, visitor_id, device_id, outcome, detail
		FROM audit_log ORDER BY occurred_at DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperr.Storage("list audit", err)
	}
	defer rows.Close()
	var res []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.Timestamp, &e.Action, &e.VisitorID, &e.DeviceID, &e.Outcome, &e.Detail); err != nil {
			return nil, apperr.Storage("scan audit", err)
		}
		res = append(res, e)
	}
	return res, apperr.Storage("list audit", rows.Err())
}

// Ping reports database reachability.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
