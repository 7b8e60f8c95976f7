package memory

import (
	"context"
	"sync"

	"github.com/healapp/backend/internal/consultation"
)

type Audit struct {
	mu     sync.Mutex
	events []consultation.AuditEvent
}

func NewAudit() *Audit { return &Audit{} }

func (a *Audit) RecordAudit(_ context.Context, ev consultation.AuditEvent) error {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (a *Audit) Events() []consultation.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]consultation.AuditEvent, len(a.events))
	copy(out, a.events)
	return out
}

func (a *Audit) ListAudit(_ context.Context, consultationID string) ([]consultation.AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []consultation.AuditEvent{}
	for _, ev := range a.events {
		if ev.ConsultationID == consultationID {
			out = append(out, ev)
		}
	}
	return out, nil
}
