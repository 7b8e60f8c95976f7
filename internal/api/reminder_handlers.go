package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/middleware"
	"github.com/healapp/backend/internal/reminder"
)

var requireAdmin = middleware.RequireRole(auth.RoleAdmin)

type reminderRunResponse struct {
	reminder.Result
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	DryRun bool      `json:"dryRun"`
}

// RunReminders reenvia o link para as pendentes do dia alvo. ?days_ahead= sobrepõe o padrão e ?dry_run=true só conta.
func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	if h.reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "Lembretes não configurados")
		return
	}
	q := r.URL.Query()
	days := h.reminderDays
	if raw := q.Get("days_ahead"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 30 {
			writeError(w, http.StatusBadRequest, "days_ahead inválido")
			return
		}
		days = n
	}
	dryRun, _ := strconv.ParseBool(q.Get("dry_run"))

	from, to := reminder.Window(h.clock(), h.Service.Location(), days)
	log := h.log().WithFields(logrus.Fields{
		"job":        "reminder",
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"actor":      auth.UserIDFrom(r.Context()),
	})
	res, err := reminder.Run(r.Context(), h.reminders, h.Service, from, to, dryRun, log)
	if err != nil {
		log.WithError(err).Error("[reminder] falha ao listar consultas")
		writeError(w, http.StatusInternalServerError, "Erro ao buscar dados")
		return
	}
	writeJSON(w, http.StatusOK, reminderRunResponse{Result: res, From: from, To: to, DryRun: dryRun})
}
