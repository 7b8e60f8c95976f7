// Package memory guarda consultas, usuários e audit em memória. Usado em desenvolvimento
// (STORE_BACKEND=memory) e nos testes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healapp/backend/internal/consultation"
)

// Consultations implementa consultation.Store.
type Consultations struct {
	mu      sync.RWMutex
	items   map[string]consultation.Consultation
	byToken map[string]string
	now     func() time.Time
}

func NewConsultations() *Consultations {
	return &Consultations{
		items:   make(map[string]consultation.Consultation),
		byToken: make(map[string]string),
		now:     time.Now,
	}
}

func (s *Consultations) Create(_ context.Context, c *consultation.Consultation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byToken[c.ConfirmationToken]; taken {
		return consultation.ErrDuplicateToken
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.items[c.ID] = clone(*c)
	s.byToken[c.ConfirmationToken] = c.ID
	return nil
}

func (s *Consultations) Get(_ context.Context, id string) (*consultation.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok {
		return nil, consultation.ErrNotFound
	}
	out := clone(c)
	return &out, nil
}

// List ordena por data da consulta e depois por id.
func (s *Consultations) List(_ context.Context) ([]consultation.Consultation, error) {
	s.mu.RLock()
	out := make([]consultation.Consultation, 0, len(s.items))
	for _, c := range s.items {
		out = append(out, clone(c))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConsultationDate.Equal(out[j].ConsultationDate) {
			return out[i].ConsultationDate.Before(out[j].ConsultationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Consultations) FindByToken(_ context.Context, token string) ([]consultation.Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return []consultation.Consultation{}, nil
	}
	return []consultation.Consultation{clone(s.items[id])}, nil
}

func (s *Consultations) Update(_ context.Context, id string, p consultation.Patch, expected *consultation.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return consultation.ErrNotFound
	}
	if expected != nil && c.Status != *expected {
		return consultation.ErrConflict
	}
	p.Apply(&c)
	c.UpdatedAt = s.now()
	s.items[id] = c
	return nil
}

func (s *Consultations) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return consultation.ErrNotFound
	}
	delete(s.items, id)
	delete(s.byToken, c.ConfirmationToken)
	return nil
}

func clone(c consultation.Consultation) consultation.Consultation {
	if c.ConsumedAt != nil {
		t := *c.ConsumedAt
		c.ConsumedAt = &t
	}
	return c
}
