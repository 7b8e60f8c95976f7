package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/cache"
	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/pdf"
	"github.com/healapp/backend/internal/reminder"
	"github.com/healapp/backend/internal/whatsapp"
)

// Links monta o link de confirmação e o conteúdo derivado dele. Implementado por *notify.Dispatcher.
type Links interface {
	ConfirmationURL(token string) string
	Message(c consultation.Consultation) whatsapp.ConfirmationMessage
	Voucher(c consultation.Consultation) pdf.Voucher
}

type Handler struct {
	Service *consultation.Service
	Auth    *auth.Authenticator
	Links   Links
	Log     *logrus.Entry

	audit        consultation.AuditReader
	deepLinkHost string
	reminders    reminder.Lister
	reminderDays int
	now          func() time.Time
	upgrader     websocket.Upgrader
	publicSignup bool

	resetBaseURL  string
	sendReset     ResetMailer
	resetThrottle *cache.TTL[struct{}]
}

func (h *Handler) SetAuditReader(a consultation.AuditReader) { h.audit = a }

func (h *Handler) SetDeepLinkHost(host string) { h.deepLinkHost = host }

// SetPublicSignup deixa /api/signup aberto. Desligado, só ADMIN cadastra equipe.
func (h *Handler) SetPublicSignup(on bool) { h.publicSignup = on }

// SetReminderSource habilita POST /api/reminders/run.
func (h *Handler) SetReminderSource(l reminder.Lister, daysAhead int) {
	h.reminders, h.reminderDays = l, daysAhead
}

// SetAllowedOrigins restringe o handshake do WebSocket às origens do CORS.
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func (h *Handler) log() *logrus.Entry {
	if h.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return h.Log
}

func (h *Handler) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

// Register monta as rotas públicas em r e as de equipe atrás de protect.
func (h *Handler) Register(r *mux.Router, protect func(http.Handler) http.Handler) {
	public := r.PathPrefix("/api").Subrouter()
	public.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	if h.publicSignup {
		public.HandleFunc("/signup", h.Signup).Methods(http.MethodPost)
	}
	public.HandleFunc("/password/forgot", h.ForgotPassword).Methods(http.MethodPost)
	public.HandleFunc("/password/reset", h.ResetPassword).Methods(http.MethodPost)
	public.HandleFunc("/confirm/{token}", h.GetConfirmation).Methods(http.MethodGet)
	public.HandleFunc("/confirm/{token}", h.ConfirmConsultation).Methods(http.MethodPost)
	public.HandleFunc("/confirm/{token}/decline", h.DeclineConsultation).Methods(http.MethodPost)

	r.HandleFunc("/confirm/{token}", h.ConfirmPage).Methods(http.MethodGet)
	r.HandleFunc("/confirm/{token}", h.ConfirmPageSubmit).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(protect)
	protected.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	protected.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	protected.HandleFunc("/consultations", h.ListConsultations).Methods(http.MethodGet)
	protected.HandleFunc("/consultations", h.CreateConsultation).Methods(http.MethodPost)
	protected.HandleFunc("/consultations", h.UpdateConsultation).Methods(http.MethodPut)
	protected.HandleFunc("/consultations", h.DeleteConsultation).Methods(http.MethodDelete)
	protected.HandleFunc("/consultations/stream", h.StreamConsultations).Methods(http.MethodGet)
	protected.HandleFunc("/consultations/{id}", h.GetConsultation).Methods(http.MethodGet)
	protected.HandleFunc("/consultations/{id}/status", h.OverrideStatus).Methods(http.MethodPut)
	protected.HandleFunc("/consultations/{id}/history", h.ConsultationHistory).Methods(http.MethodGet)
	protected.HandleFunc("/consultations/{id}/qrcode", h.ConsultationQRCode).Methods(http.MethodGet)
	protected.HandleFunc("/consultations/{id}/voucher.pdf", h.ConsultationVoucher).Methods(http.MethodGet)
	protected.HandleFunc("/consultations/{id}/whatsapp-link", h.WhatsAppLink).Methods(http.MethodGet)
	if !h.publicSignup {
		protected.Handle("/signup", requireAdmin(http.HandlerFunc(h.Signup))).Methods(http.MethodPost)
	}
	protected.Handle("/reminders/run", requireAdmin(http.HandlerFunc(h.RunReminders))).Methods(http.MethodPost)
}
