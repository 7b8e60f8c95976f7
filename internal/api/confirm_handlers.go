package api

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/healapp/backend/internal/consultation"
)

//go:embed templates/confirm.html
var templatesFS embed.FS

var confirmTpl = template.Must(template.ParseFS(templatesFS, "templates/confirm.html"))

// viewKind é a variante da página de confirmação.
type viewKind string

const (
	viewInvalid  viewKind = "invalid"
	viewPending  viewKind = "pending"
	viewAnswered viewKind = "answered"
)

type confirmView struct {
	Kind             viewKind
	PatientName      string
	ConsultationType string
	ProfessionalName string
	When             string
	Status           consultation.Status
	Notice           string
}

// publicConsultation é o que o paciente vê pelo link. Documento, e-mail e telefone ficam de fora.
type publicConsultation struct {
	ID               string              `json:"id"`
	PatientName      string              `json:"patientName"`
	ConsultationType string              `json:"consultationType"`
	ProfessionalName string              `json:"professionalName"`
	ConsultationDate time.Time           `json:"consultationDate"`
	Status           consultation.Status `json:"status"`
	Answered         bool                `json:"answered"`
}

func toPublic(c *consultation.Consultation) publicConsultation {
	return publicConsultation{
		ID:               c.ID,
		PatientName:      c.PatientName,
		ConsultationType: c.ConsultationType,
		ProfessionalName: c.ProfessionalName,
		ConsultationDate: c.ConsultationDate,
		Status:           c.Status,
		Answered:         answered(c),
	}
}

func answered(c *consultation.Consultation) bool {
	return c.ConsumedAt != nil || c.Status != consultation.StatusPending
}

func (h *Handler) GetConfirmation(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.ResolveByToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublic(c))
}

func (h *Handler) ConfirmConsultation(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.Confirm(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublic(c))
}

func (h *Handler) DeclineConsultation(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.Decline(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublic(c))
}

// writeTokenError responde ao paciente sem expor o estado interno da consulta: token
// inexistente, já usado, consulta cancelada pela equipe ou resposta concorrente viram o mesmo 404.
func (h *Handler) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		nerr *consultation.NotFoundError
		terr *consultation.InvalidTransitionError
		cerr *consultation.ConflictError
	)
	switch {
	case errors.As(err, &nerr), errors.As(err, &terr), errors.As(err, &cerr):
		writeError(w, http.StatusNotFound, "Link inválido ou consulta não encontrada.")
	default:
		h.logTokenError(r, err)
		writeError(w, http.StatusInternalServerError, "Erro ao atualizar consulta")
	}
}

// ConfirmPage renderiza a página que o paciente abre pelo link.
func (h *Handler) ConfirmPage(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.ResolveByToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.logTokenError(r, err)
		h.renderConfirm(w, http.StatusNotFound, confirmView{Kind: viewInvalid})
		return
	}
	kind := viewPending
	if answered(c) {
		kind = viewAnswered
	}
	h.renderConfirm(w, http.StatusOK, h.viewOf(c, kind))
}

// ConfirmPageSubmit trata os botões do formulário (action=confirm|decline).
func (h *Handler) ConfirmPageSubmit(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.renderConfirm(w, http.StatusBadRequest, confirmView{Kind: viewInvalid})
		return
	}
	var (
		c   *consultation.Consultation
		err error
	)
	switch r.PostForm.Get("action") {
	case "confirm":
		c, err = h.Service.Confirm(r.Context(), token)
	case "decline":
		c, err = h.Service.Decline(r.Context(), token)
	default:
		h.ConfirmPage(w, r)
		return
	}
	if err == nil {
		h.renderConfirm(w, http.StatusOK, h.viewOf(c, viewAnswered))
		return
	}

	// resposta repetida ou corrida com a equipe: mostra o estado atual
	cur, rerr := h.Service.ResolveByToken(r.Context(), token)
	if rerr != nil {
		h.logTokenError(r, rerr)
		h.renderConfirm(w, http.StatusNotFound, confirmView{Kind: viewInvalid})
		return
	}
	v := h.viewOf(cur, viewAnswered)
	if !answered(cur) {
		h.log().WithError(err).WithField("consultation_id", cur.ID).Error("falha ao registrar resposta do paciente")
		v.Kind = viewPending
		v.Notice = "Erro ao atualizar status, tente novamente."
	}
	h.renderConfirm(w, http.StatusOK, v)
}

func (h *Handler) viewOf(c *consultation.Consultation, kind viewKind) confirmView {
	return confirmView{
		Kind:             kind,
		PatientName:      c.PatientName,
		ConsultationType: c.ConsultationType,
		ProfessionalName: c.ProfessionalName,
		When:             c.ConsultationDate.In(h.Service.Location()).Format("02/01/2006 às 15:04"),
		Status:           c.Status,
	}
}

func (h *Handler) logTokenError(r *http.Request, err error) {
	var nerr *consultation.NotFoundError
	if errors.As(err, &nerr) {
		return
	}
	h.log().WithError(err).WithField("path", r.URL.Path).Error("falha ao resolver link de confirmação")
}

func (h *Handler) renderConfirm(w http.ResponseWriter, code int, v confirmView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := confirmTpl.Execute(w, v); err != nil {
		h.log().WithError(err).Error("falha ao renderizar página de confirmação")
	}
}
