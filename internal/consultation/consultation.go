// Package consultation contém o registro de consultas, a máquina de estados de status,
// o fluxo de confirmação por token e o filtro do painel.
package consultation

import (
	"strings"
	"time"

	"github.com/healapp/backend/internal/format"
)

// Consultation é o registro persistido de uma consulta agendada.
// Document e PhoneNumber são armazenados só com dígitos.
type Consultation struct {
	ID                string     `json:"id"`
	PatientName       string     `json:"patientName"`
	Document          string     `json:"document"`
	Email             string     `json:"email"`
	PhoneNumber       string     `json:"phoneNumber"`
	ConsultationType  string     `json:"consultationType"`
	ProfessionalName  string     `json:"professionalName"`
	ConsultationDate  time.Time  `json:"consultationDate"`
	Status            Status     `json:"status"`
	ConfirmationToken string     `json:"confirmationToken"`
	ConsumedAt        *time.Time `json:"consumedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Fields é a entrada do cadastro feito pela equipe.
// ConsultationTime é opcional: quando ConsultationDate vem só com a data (2006-01-02), os dois são combinados.
type Fields struct {
	PatientName      string `json:"patientName"`
	Document         string `json:"document"`
	Email            string `json:"email"`
	PhoneNumber      string `json:"phoneNumber"`
	ConsultationType string `json:"consultationType"`
	ProfessionalName string `json:"professionalName"`
	ConsultationDate string `json:"consultationDate"`
	ConsultationTime string `json:"consultationTime,omitempty"`
	Status           string `json:"status,omitempty"`
}

// PatchInput é a edição parcial vinda da API. Campos nil não são alterados.
type PatchInput struct {
	PatientName      *string `json:"patientName,omitempty"`
	Document         *string `json:"document,omitempty"`
	Email            *string `json:"email,omitempty"`
	PhoneNumber      *string `json:"phoneNumber,omitempty"`
	ConsultationType *string `json:"consultationType,omitempty"`
	ProfessionalName *string `json:"professionalName,omitempty"`
	ConsultationDate *string `json:"consultationDate,omitempty"`
	Status           *string `json:"status,omitempty"`
}

// IsEmpty reports whether no field was sent.
func (in PatchInput) IsEmpty() bool {
	return in.PatientName == nil && in.Document == nil && in.Email == nil && in.PhoneNumber == nil &&
		in.ConsultationType == nil && in.ProfessionalName == nil && in.ConsultationDate == nil && in.Status == nil
}

// Patch é a alteração já normalizada que os stores aplicam.
type Patch struct {
	PatientName      *string
	Document         *string
	Email            *string
	PhoneNumber      *string
	ConsultationType *string
	ProfessionalName *string
	ConsultationDate *time.Time
	Status           *Status
	ConsumedAt       *time.Time
}

func (p Patch) IsEmpty() bool {
	return p.PatientName == nil && p.Document == nil && p.Email == nil && p.PhoneNumber == nil &&
		p.ConsultationType == nil && p.ProfessionalName == nil && p.ConsultationDate == nil &&
		p.Status == nil && p.ConsumedAt == nil
}

// Apply merges the patch into c. UpdatedAt is left to the caller.
func (p Patch) Apply(c *Consultation) {
	if p.PatientName != nil {
		c.PatientName = *p.PatientName
	}
	if p.Document != nil {
		c.Document = *p.Document
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.PhoneNumber != nil {
		c.PhoneNumber = *p.PhoneNumber
	}
	if p.ConsultationType != nil {
		c.ConsultationType = *p.ConsultationType
	}
	if p.ProfessionalName != nil {
		c.ProfessionalName = *p.ProfessionalName
	}
	if p.ConsultationDate != nil {
		c.ConsultationDate = *p.ConsultationDate
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.ConsumedAt != nil {
		t := *p.ConsumedAt
		c.ConsumedAt = &t
	}
}

// layouts aceitos para consultationDate, do mais completo ao mais simples.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseDate interpreta a data da consulta. Datas sem fuso são lidas em loc.
// Quando raw traz só o dia, clock (HH:MM) é obrigatório.
func ParseDate(raw, clock string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	clock = strings.TrimSpace(clock)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	if day, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		if clock == "" {
			return time.Time{}, false
		}
		hm, err := time.Parse("15:04", clock)
		if err != nil {
			return time.Time{}, false
		}
		return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, loc), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeText(s string) string { return strings.TrimSpace(s) }

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func normalizeDigits(s string) string { return format.OnlyDigits(s) }
