package pgstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the tables backing UserStore, SessionStore and AuditStore.
// Every statement is idempotent.
var Schema = []string{
	`create table if not exists users (
		id                text primary key,
		email             text unique,
		mobile            text unique,
		username          text unique,
		password_hash     text not null default '',
		federated_subject text unique,
		roles             jsonb not null default '[]',
		status            text not null default 'unverified',
		branch            text not null default '',
		department        text not null default '',
		page_overrides    jsonb not null default '{}'
	)`,
	`create table if not exists refresh_sessions (
		id             text primary key,
		user_id        text not null,
		refresh_hash   bytea not null,
		created_at     timestamptz not null,
		expires_at     timestamptz not null,
		last_used_at   timestamptz not null,
		revoked        boolean not null default false,
		revoked_reason text,
		revoked_at     timestamptz,
		rotated_from   text,
		method         text not null default '',
		ip             text not null default '',
		user_agent     text not null default ''
	)`,
	`create index if not exists refresh_sessions_user_live
		on refresh_sessions (user_id) where not revoked`,
	`create index if not exists refresh_sessions_expires
		on refresh_sessions (expires_at)`,
	`create table if not exists auth_audit_log (
		id         text primary key,
		ts         timestamptz not null,
		event_type text not null,
		status     text not null,
		reason     text not null default '',
		method     text not null default '',
		identifier text not null default '',
		user_id    text not null default '',
		session_id text not null default '',
		ip         text not null default '',
		user_agent text not null default '',
		metadata   jsonb
	)`,
	`create index if not exists auth_audit_log_user_ts
		on auth_audit_log (user_id, ts)`,
}

// Migrate applies Schema in one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range Schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return tx.Commit()
}
