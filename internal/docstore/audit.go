package docstore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/healapp/backend/internal/consultation"
)

type auditDoc struct {
	Action         string            `firestore:"action"`
	Source         string            `firestore:"source"`
	ActorID        string            `firestore:"actorId,omitempty"`
	ActorEmail     string            `firestore:"actorEmail,omitempty"`
	ConsultationID string            `firestore:"consultationId"`
	FromStatus     string            `firestore:"fromStatus,omitempty"`
	ToStatus       string            `firestore:"toStatus,omitempty"`
	Reason         string            `firestore:"reason,omitempty"`
	Metadata       map[string]string `firestore:"metadata,omitempty"`
	CreatedAt      time.Time         `firestore:"createdAt"`
}

// Audit implementa consultation.AuditRecorder e consultation.AuditReader.
type Audit struct {
	client *firestore.Client
}

func NewAudit(client *firestore.Client) *Audit { return &Audit{client: client} }

func (a *Audit) RecordAudit(ctx context.Context, ev consultation.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, _, err := a.client.Collection(auditCollection).Add(ctx, auditDoc{
		Action:         ev.Action,
		Source:         ev.Source,
		ActorID:        ev.ActorID,
		ActorEmail:     ev.ActorEmail,
		ConsultationID: ev.ConsultationID,
		FromStatus:     string(ev.FromStatus),
		ToStatus:       string(ev.ToStatus),
		Reason:         ev.Reason,
		Metadata:       ev.Metadata,
		CreatedAt:      ev.CreatedAt.UTC(),
	})
	return err
}

// ListAudit ordena em memória para não exigir índice composto.
func (a *Audit) ListAudit(ctx context.Context, consultationID string) ([]consultation.AuditEvent, error) {
	docs, err := a.client.Collection(auditCollection).Where("consultationId", "==", consultationID).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]consultation.AuditEvent, 0, len(docs))
	for _, snap := range docs {
		var d auditDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, err
		}
		out = append(out, consultation.AuditEvent{
			Action:         d.Action,
			Source:         d.Source,
			ActorID:        d.ActorID,
			ActorEmail:     d.ActorEmail,
			ConsultationID: d.ConsultationID,
			FromStatus:     consultation.Status(d.FromStatus),
			ToStatus:       consultation.Status(d.ToStatus),
			Reason:         d.Reason,
			Metadata:       d.Metadata,
			CreatedAt:      d.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
