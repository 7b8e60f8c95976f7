package consultation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinelas devolvidas pelos stores.
var (
	ErrNotFound       = errors.New("consultation not found")
	ErrConflict       = errors.New("consultation status changed concurrently")
	ErrDuplicateToken = errors.New("duplicate confirmation token")
)

// ValidationError lista os campos ausentes ou inválidos de um cadastro.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason + ": " + strings.Join(e.Fields, ", ")
	}
	return "invalid fields: " + strings.Join(e.Fields, ", ")
}

// NotFoundError: id ou token inexistente (ou token já utilizado).
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("consultation %q not found", e.Key) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IntegrityError: mais de um registro com o mesmo token de confirmação.
type IntegrityError struct {
	Token string
	Count int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("confirmation token shared by %d consultations", e.Count)
}

// InvalidTransitionError: mudança de status fora da tabela de transições.
type InvalidTransitionError struct {
	From  Status
	To    Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("event %q not allowed from status %q", e.Event, e.From)
	}
	return fmt.Sprintf("status change %q -> %q not allowed", e.From, e.To)
}

// ConflictError: o status mudou entre a leitura e a escrita condicional.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("consultation %s changed concurrently", e.ID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
