package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/pdf"
	"github.com/healapp/backend/internal/whatsapp"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

type whatsAppLinkResponse struct {
	URL             string `json:"url"`
	Text            string `json:"text"`
	ConfirmationURL string `json:"confirmationUrl"`
}

func (h *Handler) loadConsultation(w http.ResponseWriter, r *http.Request) (*consultation.Consultation, bool) {
	c, err := h.Service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err, "Erro ao buscar dados")
		return nil, false
	}
	return c, true
}

// ConsultationQRCode devolve o PNG do QR code do link de confirmação. ?size= entre 64 e 1024.
func (h *Handler) ConsultationQRCode(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadConsultation(w, r)
	if !ok {
		return
	}
	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > maxQRSize {
			writeError(w, http.StatusBadRequest, "Tamanho inválido")
			return
		}
		size = n
	}
	png, err := pdf.QRCodePNG(h.Links.ConfirmationURL(c.ConfirmationToken), size)
	if err != nil {
		h.log().WithError(err).WithField("consultation_id", c.ID).Error("falha ao gerar qrcode")
		writeError(w, http.StatusInternalServerError, "Erro ao gerar QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// ConsultationVoucher devolve o comprovante em PDF.
func (h *Handler) ConsultationVoucher(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadConsultation(w, r)
	if !ok {
		return
	}
	b, err := pdf.BuildVoucherPDF(h.Links.Voucher(*c))
	if err != nil {
		h.log().WithError(err).WithField("consultation_id", c.ID).Error("falha ao gerar comprovante")
		writeError(w, http.StatusInternalServerError, "Erro ao gerar comprovante")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="comprovante-`+c.ID+`.pdf"`)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
}

// WhatsAppLink monta o link click-to-chat com a mensagem de confirmação para a equipe abrir no navegador.
func (h *Handler) WhatsAppLink(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadConsultation(w, r)
	if !ok {
		return
	}
	msg := h.Links.Message(*c)
	writeJSON(w, http.StatusOK, whatsAppLinkResponse{
		URL:             whatsapp.DeepLink(h.deepLinkHost, c.PhoneNumber, msg.Text),
		Text:            msg.Text,
		ConfirmationURL: msg.ConfirmationURL,
	})
}
