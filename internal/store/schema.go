package store

import (
	"context"
	"fmt"
)

// openPresenceIndex is the storage-level guard that keeps at most one open
// presence record per visitor.
const openPresenceIndex = "presence_one_open_per_visitor"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS visitors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		badge_number TEXT NOT NULL DEFAULT '',
		staff_contact TEXT NOT NULL DEFAULT '',
		visitor_type TEXT NOT NULL DEFAULT 'general',
		training_type TEXT NOT NULL DEFAULT 'none',
		last_training_date DATE,
		training_expiration_date DATE,
		contractor_orientation_completed BOOLEAN NOT NULL DEFAULT FALSE,
		general_orientation_completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visitors_lower_name ON visitors (lower(name))`,
	`CREATE INDEX IF NOT EXISTS idx_visitors_email ON visitors (email)`,
	`CREATE TABLE IF NOT EXISTS presence_records (
		id TEXT PRIMARY KEY,
		visitor_id TEXT NOT NULL REFERENCES visitors(id),
		device_id TEXT,
		checked_in_at TIMESTAMPTZ NOT NULL,
		checked_out_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_presence_visitor_checkin ON presence_records (visitor_id, checked_in_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + openPresenceIndex + ` ON presence_records (visitor_id) WHERE checked_out_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		action TEXT NOT NULL,
		visitor_id TEXT NOT NULL DEFAULT '',
		device_id TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_occurred ON audit_log (occurred_at DESC)`,
}

// InitSchema ensures every table and index exists.
func (p *Postgres) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
