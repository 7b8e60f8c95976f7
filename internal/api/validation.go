package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/format"
)

const (
	maxBodyBytes      = 1 << 20
	minPasswordLength = 8
)

var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidDay      = errors.New("invalid day")
)

// ValidateEmailRegex valida formato de e-mail com a mesma regra usada no cadastro de consultas.
func ValidateEmailRegex(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}
	if !format.ValidEmail(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword exige ao menos 8 caracteres, sem contar espaços nas pontas.
func ValidatePassword(p string) error {
	if len(strings.TrimSpace(p)) < minPasswordLength || len(p) > auth.MaxPasswordBytes {
		return ErrInvalidPassword
	}
	return nil
}

// decodeJSON lê o corpo com limite de tamanho. Corpo vazio não é erro: o chamador valida os campos.
func decodeJSON(r *http.Request, w http.ResponseWriter, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// filtersFromQuery lê os filtros do painel da query string. Datas fora de 2006-01-02 são rejeitadas.
func filtersFromQuery(r *http.Request, svc *consultation.Service) (consultation.Filters, error) {
	q := r.URL.Query()
	f := consultation.Filters{
		PatientName:      q.Get("patientName"),
		Email:            q.Get("email"),
		Document:         q.Get("document"),
		ConsultationType: q.Get("consultationType"),
		ProfessionalName: q.Get("professionalName"),
		StartDate:        strings.TrimSpace(q.Get("startDate")),
		EndDate:          strings.TrimSpace(q.Get("endDate")),
		Location:         svc.Location(),
	}
	if !consultation.ValidDay(f.StartDate) || !consultation.ValidDay(f.EndDate) {
		return f, ErrInvalidDay
	}
	return f, nil
}
