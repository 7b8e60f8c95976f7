package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/healapp/backend/internal/format"
)

const (
	defaultTwilioBaseURL = "https://api.twilio.com"
	defaultDeepLinkHost  = "api.whatsapp.com"
	SignatureHeader      = "X-Heal-Signature"
)

// ErrNotConfigured is returned by Send when neither relay nor Twilio is set up.
var ErrNotConfigured = errors.New("whatsapp: not configured")

// Config: RelayURL tem prioridade sobre Twilio. Sem nenhum dos dois o envio é desativado.
type Config struct {
	RelayURL    string
	RelaySecret string

	AccountSid    string
	AuthToken     string
	From          string // ex.: "whatsapp:+14155238886"
	TwilioBaseURL string
}

// ConfirmationMessage é o payload enviado ao relay.
type ConfirmationMessage struct {
	Phone             string `json:"phone"`
	PatientName       string `json:"patientName"`
	ConfirmationToken string `json:"confirmationToken"`
	ConfirmationURL   string `json:"confirmationUrl,omitempty"`
	Text              string `json:"text,omitempty"`
}

// Client envia mensagens pelo relay de mensagens ou pela API do Twilio.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.TwilioBaseURL == "" {
		cfg.TwilioBaseURL = defaultTwilioBaseURL
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) Enabled() bool {
	return c.cfg.RelayURL != "" || c.twilioEnabled()
}

func (c *Client) twilioEnabled() bool {
	return c.cfg.AccountSid != "" && c.cfg.AuthToken != "" && c.cfg.From != ""
}

// Channel descreve o transporte ativo, para logs e métricas.
func (c *Client) Channel() string {
	switch {
	case c.cfg.RelayURL != "":
		return "relay"
	case c.twilioEnabled():
		return "twilio"
	}
	return "disabled"
}

// SendConfirmationLink entrega o link ao paciente.
func (c *Client) SendConfirmationLink(ctx context.Context, msg ConfirmationMessage) error {
	msg.Phone = E164(msg.Phone)
	if msg.Phone == "" {
		return fmt.Errorf("whatsapp: destinatário vazio")
	}
	switch {
	case c.cfg.RelayURL != "":
		return c.sendRelay(ctx, msg)
	case c.twilioEnabled():
		return c.sendTwilio(ctx, msg.Phone, msg.Text)
	}
	return ErrNotConfigured
}

func (c *Client) sendRelay(ctx context.Context, msg ConfirmationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RelayURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.RelaySecret != "" {
		req.Header.Set(SignatureHeader, "sha256="+SignPayload(payload, c.cfg.RelaySecret))
	}
	return c.do(req)
}

func (c *Client) sendTwilio(ctx context.Context, to, body string) error {
	to = "whatsapp:+" + to
	from := c.cfg.From
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)
	reqURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(c.cfg.TwilioBaseURL, "/"), c.cfg.AccountSid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSid, c.cfg.AuthToken)
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	slurp, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return fmt.Errorf("whatsapp: %s: read body: %w", resp.Status, err)
	}
	return fmt.Errorf("whatsapp: %s: %s", resp.Status, strings.TrimSpace(string(slurp)))
}

// DeepLink monta o link click-to-chat que a equipe abre no navegador.
func DeepLink(host, phone, text string) string {
	if host == "" {
		host = defaultDeepLinkHost
	}
	q := url.Values{}
	q.Set("phone", E164(phone))
	q.Set("text", text)
	return "https://" + host + "/send?" + q.Encode()
}

// ConfirmationText é a mensagem padrão com o link de confirmação.
func ConfirmationText(patientName, when, link string) string {
	return fmt.Sprintf("Olá, %s! Sua consulta está agendada para %s. Confirme ou cancele sua presença pelo link: %s", patientName, when, link)
}

// E164 devolve só dígitos, com DDI 55 para números nacionais (10 ou 11 dígitos).
func E164(phone string) string {
	d := format.OnlyDigits(phone)
	if len(d) == 10 || len(d) == 11 {
		return "55" + d
	}
	return d
}

// SignPayload computes the hex HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
