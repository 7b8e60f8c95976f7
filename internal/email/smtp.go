package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"text/template"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/healapp/backend/internal/format"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	FromName string
	FromAddr string
	Log      *logrus.Entry

	// dial é substituído nos testes.
	dial func(m ...*gomail.Message) error
}

func (c *Config) Enabled() bool {
	return c != nil && c.Host != "" && c.FromAddr != ""
}

func (c *Config) log() *logrus.Entry {
	if c.Log != nil {
		return c.Log
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "email")
}

// Attachment é um anexo opcional.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Send monta e envia a mensagem. O dialer do gomail não aceita contexto, então o
// envio roda numa goroutine e Send retorna ctx.Err() quando o prazo expira antes.
func (c *Config) Send(ctx context.Context, to, subject, body string, html bool, attachments ...Attachment) error {
	if to == "" {
		c.log().Error("destinatário (to) vazio")
		return fmt.Errorf("destinatário de e-mail vazio")
	}
	if !c.Enabled() {
		c.log().WithField("to", format.MaskEmail(to)).Error("SMTP host ou remetente não configurado")
		return fmt.Errorf("SMTP host ou remetente não configurado")
	}
	m := gomail.NewMessage()
	m.SetAddressHeader("From", c.FromAddr, c.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if html {
		m.SetBody("text/html", body)
	} else {
		m.SetBody("text/plain", body)
	}
	for _, a := range attachments {
		data := a.Data
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		m.Attach(a.Name,
			gomail.SetHeader(map[string][]string{"Content-Type": {ct}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		)
	}
	entry := c.log().WithFields(logrus.Fields{"to": format.MaskEmail(to), "subject": subject, "attachments": len(attachments)})
	send := c.sender()
	done := make(chan error, 1)
	go func() { done <- send(m) }()
	select {
	case err := <-done:
		if err != nil {
			entry.WithError(err).Error("falha ao enviar e-mail")
			return err
		}
	case <-ctx.Done():
		entry.WithError(ctx.Err()).Error("envio de e-mail excedeu o prazo")
		return ctx.Err()
	}
	entry.Info("e-mail enviado")
	return nil
}

func (c *Config) sender() func(m ...*gomail.Message) error {
	if c.dial != nil {
		return c.dial
	}
	port := c.Port
	if port == 0 {
		port = 25
	}
	// User vazio (ex.: MailHog) não envia AUTH.
	d := gomail.NewDialer(c.Host, port, c.User, c.Pass)
	return d.DialAndSend
}

var confirmationTpl = template.Must(template.New("confirmation").Parse(`Olá, {{.Name}},

Sua consulta de {{.Type}} com {{.Professional}} está marcada para {{.When}}.

Confirme ou cancele sua presença pelo link:

{{.Link}}

O comprovante segue em anexo.`))

// ConfirmationBody renderiza o texto do e-mail de confirmação.
func ConfirmationBody(name, consultationType, professional, when, link string) (string, error) {
	var b bytes.Buffer
	err := confirmationTpl.Execute(&b, map[string]string{
		"Name":         name,
		"Type":         consultationType,
		"Professional": professional,
		"When":         when,
		"Link":         link,
	})
	return b.String(), err
}

// SendConfirmationLink envia o link de confirmação com o comprovante em PDF (quando houver).
func (c *Config) SendConfirmationLink(ctx context.Context, to, name, consultationType, professional, when, link string, voucher []byte) error {
	body, err := ConfirmationBody(name, consultationType, professional, when, link)
	if err != nil {
		return err
	}
	var att []Attachment
	if len(voucher) > 0 {
		att = append(att, Attachment{Name: "comprovante-consulta.pdf", ContentType: "application/pdf", Data: voucher})
	}
	return c.Send(ctx, to, "Confirme sua consulta - Heal.app", body, false, att...)
}

var resetTpl = template.Must(template.New("reset").Parse(`Olá, {{.Name}},

Recebemos um pedido para redefinir sua senha no Heal.app.

Use o link abaixo em até {{.TTL}}:

{{.Link}}

Se não foi você, ignore este e-mail.`))

// SendPasswordReset envia o link de redefinição de senha para a equipe.
func (c *Config) SendPasswordReset(ctx context.Context, to, name, link, ttl string) error {
	var b bytes.Buffer
	if err := resetTpl.Execute(&b, map[string]string{"Name": name, "Link": link, "TTL": ttl}); err != nil {
		return err
	}
	return c.Send(ctx, to, "Redefinição de senha - Heal.app", b.String(), false)
}

// LogConfigSummary loga um resumo da config SMTP (sem senha).
func (c *Config) LogConfigSummary() {
	entry := c.log().WithFields(logrus.Fields{"host": c.Host, "port": c.Port, "from": c.FromAddr, "auth": c.User != ""})
	if !c.Enabled() {
		entry.Warn("SMTP incompleto; e-mails de confirmação desativados")
		return
	}
	entry.Info("config SMTP")
}

func PortFromString(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
