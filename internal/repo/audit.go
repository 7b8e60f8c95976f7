package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healapp/backend/internal/consultation"
)

func CreateAuditEvent(ctx context.Context, pool *pgxpool.Pool, ev consultation.AuditEvent) error {
	var meta []byte
	if len(ev.Metadata) > 0 {
		var marshalErr error
		meta, marshalErr = json.Marshal(ev.Metadata)
		if marshalErr != nil {
			return marshalErr
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO audit_events (
			action, source, actor_id, actor_email, consultation_id,
			from_status, to_status, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		ev.Action, ev.Source, uuidOrNil(ev.ActorID), nullIfEmptyText(ev.ActorEmail), uuidOrNil(ev.ConsultationID),
		nullIfEmptyText(string(ev.FromStatus)), nullIfEmptyText(string(ev.ToStatus)), nullIfEmptyText(ev.Reason), meta, ev.CreatedAt,
	)
	return err
}

func ListAuditEvents(ctx context.Context, pool *pgxpool.Pool, consultationID string) ([]consultation.AuditEvent, error) {
	out := []consultation.AuditEvent{}
	uid, err := uuid.Parse(consultationID)
	if err != nil {
		return out, nil
	}
	rows, err := pool.Query(ctx, `
		SELECT action, source, actor_id, COALESCE(actor_email, ''), COALESCE(from_status, ''),
		       COALESCE(to_status, ''), COALESCE(reason, ''), metadata, created_at
		FROM audit_events WHERE consultation_id = $1
		ORDER BY created_at, id
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev       consultation.AuditEvent
			actorID  *uuid.UUID
			from, to string
			meta     []byte
		)
		if err := rows.Scan(&ev.Action, &ev.Source, &actorID, &ev.ActorEmail, &from, &to, &ev.Reason, &meta, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			ev.ActorID = actorID.String()
		}
		ev.ConsultationID = consultationID
		ev.FromStatus, ev.ToStatus = consultation.Status(from), consultation.Status(to)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &ev.Metadata)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullIfEmptyText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func uuidOrNil(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

// AuditStore implementa consultation.AuditRecorder e consultation.AuditReader.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore { return &AuditStore{pool: pool} }

func (s *AuditStore) RecordAudit(ctx context.Context, ev consultation.AuditEvent) error {
	return CreateAuditEvent(ctx, s.pool, ev)
}

func (s *AuditStore) ListAudit(ctx context.Context, consultationID string) ([]consultation.AuditEvent, error) {
	return ListAuditEvents(ctx, s.pool, consultationID)
}
