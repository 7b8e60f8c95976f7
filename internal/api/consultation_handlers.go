package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/healapp/backend/internal/consultation"
)

type updateConsultationRequest struct {
	ID string `json:"id"`
	consultation.PatchInput
}

type deleteConsultationRequest struct {
	ID string `json:"id"`
}

type overrideStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// ListConsultations devolve todas as consultas, filtradas pelos parâmetros da query quando houver.
func (h *Handler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r, h.Service)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Data inválida, use AAAA-MM-DD", Fields: []string{"startDate", "endDate"}})
		return
	}
	all, err := h.Service.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "Erro ao buscar dados")
		return
	}
	writeJSON(w, http.StatusOK, consultation.Filter(all, f))
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err, "Erro ao buscar dados")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var in consultation.Fields
	if err := decodeJSON(r, w, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	c, err := h.Service.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err, "Erro ao criar consulta")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// UpdateConsultation recebe {id, ...campos}. Só os campos enviados mudam.
func (h *Handler) UpdateConsultation(w http.ResponseWriter, r *http.Request) {
	var req updateConsultationRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.PatchInput.IsEmpty() {
		writeError(w, http.StatusBadRequest, "ID da consulta ou dados de atualização ausentes.")
		return
	}
	if _, err := h.Service.Update(r.Context(), req.ID, req.PatchInput); err != nil {
		h.writeServiceError(w, r, err, "Erro ao atualizar consulta")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) DeleteConsultation(w http.ResponseWriter, r *http.Request) {
	var req deleteConsultationRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "ID da consulta não fornecido.")
		return
	}
	if err := h.Service.Delete(r.Context(), req.ID); err != nil {
		h.writeServiceError(w, r, err, "Erro ao deletar consulta")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// OverrideStatus força um status fora da tabela de transições. O motivo é obrigatório e vai para o histórico.
func (h *Handler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	var req overrideStatusRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	c, err := h.Service.Override(r.Context(), mux.Vars(r)["id"], consultation.Status(strings.TrimSpace(req.Status)), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err, "Erro ao atualizar consulta")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ConsultationHistory lista os eventos de audit da consulta.
func (h *Handler) ConsultationHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.Service.Get(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, "Erro ao buscar dados")
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []consultation.AuditEvent{})
		return
	}
	events, err := h.audit.ListAudit(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "Erro ao buscar dados")
		return
	}
	if events == nil {
		events = []consultation.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
