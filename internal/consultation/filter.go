package consultation

import (
	"strings"
	"time"

	"github.com/healapp/backend/internal/format"
)

const dayLayout = "2006-01-02"

// Filters são os critérios do painel. Campos vazios não restringem o resultado.
// StartDate e EndDate usam 2006-01-02 e valem para o dia inteiro em Location (UTC se nil).
type Filters struct {
	PatientName      string
	Email            string
	Document         string
	ConsultationType string
	ProfessionalName string
	StartDate        string
	EndDate          string
	Location         *time.Location
}

func (f Filters) IsZero() bool {
	return f.PatientName == "" && f.Email == "" && f.Document == "" && f.ConsultationType == "" &&
		f.ProfessionalName == "" && f.StartDate == "" && f.EndDate == ""
}

// ValidDay reports whether s is empty or a 2006-01-02 date.
func ValidDay(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(dayLayout, s)
	return err == nil
}

// Filter devolve, na ordem original, os registros que satisfazem todos os critérios ativos.
// Texto: substring sem diferenciar maiúsculas. Documento: substring só de dígitos.
// Datas inválidas são ignoradas.
func Filter(all []Consultation, f Filters) []Consultation {
	out := make([]Consultation, 0, len(all))
	if f.IsZero() {
		return append(out, all...)
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	name := strings.ToLower(strings.TrimSpace(f.PatientName))
	email := strings.ToLower(strings.TrimSpace(f.Email))
	ctype := strings.ToLower(strings.TrimSpace(f.ConsultationType))
	prof := strings.ToLower(strings.TrimSpace(f.ProfessionalName))
	doc := format.OnlyDigits(f.Document)
	start := dayOrEmpty(f.StartDate)
	end := dayOrEmpty(f.EndDate)

	for _, c := range all {
		if !containsFold(c.PatientName, name) ||
			!containsFold(c.Email, email) ||
			!containsFold(c.ConsultationType, ctype) ||
			!containsFold(c.ProfessionalName, prof) {
			continue
		}
		if doc != "" && !strings.Contains(format.OnlyDigits(c.Document), doc) {
			continue
		}
		if start != "" || end != "" {
			// 2006-01-02 compara lexicograficamente na mesma ordem do calendário.
			day := c.ConsultationDate.In(loc).Format(dayLayout)
			if start != "" && day < start {
				continue
			}
			if end != "" && day > end {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func containsFold(field, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(field), needle)
}

func dayOrEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !ValidDay(s) {
		return ""
	}
	return s
}
