package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/middleware"
)

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

// writeServiceError traduz os erros do serviço de consultas. fallback é a mensagem para falhas
// inesperadas do store, que vão para o log com a causa.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		verr *consultation.ValidationError
		nerr *consultation.NotFoundError
		cerr *consultation.ConflictError
		terr *consultation.InvalidTransitionError
		ierr *consultation.IntegrityError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validationMessage(verr), Fields: verr.Fields})
	case errors.As(err, &nerr):
		writeError(w, http.StatusNotFound, "Consulta não encontrada.")
	case errors.As(err, &cerr):
		writeError(w, http.StatusConflict, "A consulta foi alterada por outra pessoa. Recarregue e tente novamente.")
	case errors.As(err, &terr):
		writeError(w, http.StatusUnprocessableEntity, "Mudança de status não permitida: "+string(terr.From)+" -> "+transitionTarget(terr))
	case errors.As(err, &ierr):
		h.log().WithField("request_id", middleware.RequestIDFromContext(r.Context())).WithError(err).Error("token compartilhado por mais de uma consulta")
		writeError(w, http.StatusInternalServerError, fallback)
	default:
		h.log().WithField("request_id", middleware.RequestIDFromContext(r.Context())).WithError(err).Error(fallback)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func validationMessage(e *consultation.ValidationError) string {
	if e.Reason == "" || e.Reason == "campos obrigatórios ausentes" {
		return "Campos obrigatórios ausentes"
	}
	return "Campos inválidos"
}

func transitionTarget(e *consultation.InvalidTransitionError) string {
	if e.To != "" {
		return string(e.To)
	}
	return string(e.Event)
}
