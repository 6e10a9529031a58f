package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/MrEthical07/campusauth/internal/audit"
)

// AuditStore appends audit events to auth_audit_log. Rows are never updated.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, ev audit.Event) error {
	var metadata []byte
	if len(ev.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(ev.Metadata); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into auth_audit_log
			(id, ts, event_type, status, reason, method, identifier,
			 user_id, session_id, ip, user_agent, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		on conflict (id) do nothing`,
		ev.ID, ev.Timestamp, ev.EventType, ev.Status, ev.Reason, ev.Method, ev.Identifier,
		ev.UserID, ev.SessionID, ev.IP, ev.UserAgent, metadata)
	return err
}
