package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/cache"
	"github.com/healapp/backend/internal/format"
)

// ResetMailer envia o link de redefinição. Implementado com (*email.Config).SendPasswordReset.
type ResetMailer func(ctx context.Context, to, name, link string) error

// ResetRequestInterval limita um pedido de redefinição por e-mail nesse intervalo.
const ResetRequestInterval = time.Minute

const forgotPasswordMessage = "Se o e-mail estiver cadastrado, você receberá um link para redefinir a senha."

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// SetPasswordReset liga o envio do link. baseURL é a origem pública do painel.
func (h *Handler) SetPasswordReset(baseURL string, send ResetMailer, throttle *cache.TTL[struct{}]) {
	h.resetBaseURL = strings.TrimRight(baseURL, "/")
	h.sendReset = send
	h.resetThrottle = throttle
}

func (h *Handler) resetLink(token string) string {
	return h.resetBaseURL + "/reset-password?token=" + url.QueryEscape(token)
}

// ForgotPassword responde igual para e-mail cadastrado ou não.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if ValidateEmailRegex(email) != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Campos inválidos", Fields: []string{"email"}})
		return
	}
	entry := h.log().WithField("email", format.MaskEmail(email))
	if h.resetThrottle != nil && h.resetThrottle.Has(email) {
		entry.Info("[password-reset] pedido repetido dentro do intervalo, ignorado")
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": forgotPasswordMessage})
		return
	}

	u, tok, err := h.Auth.RequestPasswordReset(r.Context(), email)
	switch {
	case err == nil:
		if h.resetThrottle != nil {
			h.resetThrottle.Set(email, struct{}{})
		}
		if h.sendReset == nil {
			entry.Warn("[password-reset] e-mail desativado; link não enviado")
			break
		}
		if err := h.sendReset(r.Context(), u.Email, u.Name, h.resetLink(tok)); err != nil {
			entry.WithError(err).Warn("[password-reset] falha ao enviar e-mail")
		}
	case errors.Is(err, auth.ErrUserNotFound):
	case errors.Is(err, auth.ErrResetDisabled):
		entry.Warn("[password-reset] store sem suporte a redefinição")
	default:
		entry.WithError(err).Error("[password-reset] falha ao gerar token")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": forgotPasswordMessage})
}

// ResetPassword troca a senha com o token do e-mail. O token vale uma vez.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	if ValidatePassword(req.NewPassword) != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Campos inválidos", Fields: []string{"newPassword"}})
		return
	}
	err := h.Auth.ResetPassword(r.Context(), req.Token, req.NewPassword)
	switch {
	case err == nil:
		h.log().Info("[password-reset] senha redefinida")
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, auth.ErrResetTokenInvalid):
		writeError(w, http.StatusBadRequest, "Link inválido ou expirado")
	case errors.Is(err, auth.ErrResetDisabled):
		writeError(w, http.StatusServiceUnavailable, "Redefinição de senha indisponível")
	default:
		h.log().WithError(err).Error("[password-reset] falha ao redefinir senha")
		writeError(w, http.StatusInternalServerError, "Erro ao redefinir senha")
	}
}
