package consultation

import (
	"context"
	"time"
)

// Store persiste consultas. Implementações: internal/store/memory, internal/repo (Postgres)
// e internal/docstore (Firestore).
//
// Update aplica patch parcialmente. Quando expected != nil a escrita só acontece se o status
// atual for *expected; caso contrário retorna ErrConflict. Id inexistente retorna ErrNotFound.
// Create retorna ErrDuplicateToken se o token já estiver em uso.
type Store interface {
	Create(ctx context.Context, c *Consultation) error
	Get(ctx context.Context, id string) (*Consultation, error)
	List(ctx context.Context) ([]Consultation, error)
	FindByToken(ctx context.Context, token string) ([]Consultation, error)
	Update(ctx context.Context, id string, p Patch, expected *Status) error
	Delete(ctx context.Context, id string) error
}

// ChangeFeed é implementado por stores que avisam mudanças feitas por outros processos
// (LISTEN/NOTIFY, snapshots do Firestore). Watch bloqueia até ctx terminar, chamando changed
// a cada mudança e de novo depois de cada reconexão. Retornar com ctx ainda ativo significa
// que o feed caiu de vez.
type ChangeFeed interface {
	Watch(ctx context.Context, changed func()) error
}

// Notifier envia o link de confirmação ao paciente.
type Notifier interface {
	SendConfirmationLink(ctx context.Context, c Consultation) error
}

// AuditEvent registra mudanças feitas pela equipe ou pelo paciente.
type AuditEvent struct {
	Action         string            `json:"action"`
	ActorID        string            `json:"actorId,omitempty"`
	ActorEmail     string            `json:"actorEmail,omitempty"`
	Source         string            `json:"source"` // STAFF|PATIENT|SYSTEM
	ConsultationID string            `json:"consultationId"`
	FromStatus     Status            `json:"fromStatus,omitempty"`
	ToStatus       Status            `json:"toStatus,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// AuditRecorder persiste AuditEvent.
type AuditRecorder interface {
	RecordAudit(ctx context.Context, ev AuditEvent) error
}

const (
	AuditCreated      = "CONSULTATION_CREATED"
	AuditUpdated      = "CONSULTATION_UPDATED"
	AuditDeleted      = "CONSULTATION_DELETED"
	AuditConfirmed    = "CONSULTATION_CONFIRMED"
	AuditDeclined     = "CONSULTATION_DECLINED"
	AuditStatusForced = "CONSULTATION_STATUS_OVERRIDE"
	AuditReminderSent = "CONSULTATION_REMINDER_SENT"

	SourceStaff   = "STAFF"
	SourcePatient = "PATIENT"
	SourceSystem  = "SYSTEM"
)

// AuditReader lista o histórico de uma consulta, do mais antigo ao mais recente.
type AuditReader interface {
	ListAudit(ctx context.Context, consultationID string) ([]AuditEvent, error)
}
