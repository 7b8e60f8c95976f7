// Package notify entrega o link de confirmação ao paciente pelos canais configurados.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/format"
	"github.com/healapp/backend/internal/metrics"
	"github.com/healapp/backend/internal/pdf"
	"github.com/healapp/backend/internal/whatsapp"
)

// WhatsAppSender é implementado por *whatsapp.Client.
type WhatsAppSender interface {
	SendConfirmationLink(ctx context.Context, msg whatsapp.ConfirmationMessage) error
}

// EmailSender é implementado por *email.Config.
type EmailSender interface {
	SendConfirmationLink(ctx context.Context, to, name, consultationType, professional, when, link string, voucher []byte) error
}

// DispatchError identifica o canal que falhou. Nunca interrompe o cadastro.
type DispatchError struct {
	Channel string
	Err     error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("notify %s: %v", e.Channel, e.Err) }

func (e *DispatchError) Unwrap() error { return e.Err }

// Dispatcher implementa consultation.Notifier.
type Dispatcher struct {
	baseURL  string
	whatsapp WhatsAppSender
	mail     EmailSender
	loc      *time.Location
	log      *logrus.Entry
}

// NewDispatcher: baseURL é a URL pública do app (APP_PUBLIC_URL). wa e mail podem ser nil.
func NewDispatcher(baseURL string, wa WhatsAppSender, mail EmailSender, loc *time.Location, log *logrus.Entry) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		whatsapp: wa,
		mail:     mail,
		loc:      loc,
		log:      log,
	}
}

// ConfirmationURL monta {baseUrl}/confirm/{token}.
func (d *Dispatcher) ConfirmationURL(token string) string {
	return d.baseURL + "/confirm/" + token
}

// When formata a data da consulta no fuso da clínica.
func (d *Dispatcher) When(t time.Time) string {
	return t.In(d.loc).Format("02/01/2006 às 15:04")
}

// Message monta a mensagem de WhatsApp de uma consulta.
func (d *Dispatcher) Message(c consultation.Consultation) whatsapp.ConfirmationMessage {
	link := d.ConfirmationURL(c.ConfirmationToken)
	return whatsapp.ConfirmationMessage{
		Phone:             c.PhoneNumber,
		PatientName:       c.PatientName,
		ConfirmationToken: c.ConfirmationToken,
		ConfirmationURL:   link,
		Text:              whatsapp.ConfirmationText(c.PatientName, d.When(c.ConsultationDate), link),
	}
}

// Voucher monta os dados do comprovante com CPF e telefone mascarados.
func (d *Dispatcher) Voucher(c consultation.Consultation) pdf.Voucher {
	return pdf.Voucher{
		PatientName:      c.PatientName,
		Document:         format.CPF(c.Document),
		Phone:            format.Phone(c.PhoneNumber),
		Email:            c.Email,
		ConsultationType: c.ConsultationType,
		ProfessionalName: c.ProfessionalName,
		When:             d.When(c.ConsultationDate),
		Status:           string(c.Status),
		ConfirmationURL:  d.ConfirmationURL(c.ConfirmationToken),
	}
}

// SendConfirmationLink tenta cada canal uma vez. Erros de todos os canais são devolvidos juntos.
func (d *Dispatcher) SendConfirmationLink(ctx context.Context, c consultation.Consultation) error {
	entry := d.log.WithFields(logrus.Fields{"consultation_id": c.ID, "phone": format.MaskPhone(c.PhoneNumber)})
	var errs []error

	if d.whatsapp != nil {
		err := d.whatsapp.SendConfirmationLink(ctx, d.Message(c))
		switch {
		case errors.Is(err, whatsapp.ErrNotConfigured):
			metrics.Notifications.WithLabelValues("whatsapp", "skipped").Inc()
		case err != nil:
			metrics.Notifications.WithLabelValues("whatsapp", "failed").Inc()
			entry.WithError(err).Warn("whatsapp: envio falhou")
			errs = append(errs, &DispatchError{Channel: "whatsapp", Err: err})
		default:
			metrics.Notifications.WithLabelValues("whatsapp", "sent").Inc()
			entry.Info("whatsapp: link enviado")
		}
	}

	if d.mail != nil && c.Email != "" {
		voucher, err := pdf.BuildVoucherPDF(d.Voucher(c))
		if err != nil {
			entry.WithError(err).Warn("comprovante não gerado, enviando e-mail sem anexo")
			voucher = nil
		}
		link := d.ConfirmationURL(c.ConfirmationToken)
		err = d.mail.SendConfirmationLink(ctx, c.Email, c.PatientName, c.ConsultationType, c.ProfessionalName, d.When(c.ConsultationDate), link, voucher)
		if err != nil {
			metrics.Notifications.WithLabelValues("email", "failed").Inc()
			entry.WithError(err).Warn("email: envio falhou")
			errs = append(errs, &DispatchError{Channel: "email", Err: err})
		} else {
			metrics.Notifications.WithLabelValues("email", "sent").Inc()
		}
	}
	return errors.Join(errs...)
}
