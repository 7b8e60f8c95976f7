package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/healapp/backend/internal/auth"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      auth.User `json:"user"`
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login autentica um membro da equipe e devolve o perfil com o token da sessão.
// Usuário inexistente, senha errada e perfil ausente respondem 401.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email e senha são obrigatórios")
		return
	}
	s, err := h.Auth.SignIn(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		genericLoginError(w)
		return
	case errors.Is(err, auth.ErrProfileNotFound):
		writeError(w, http.StatusUnauthorized, "Usuário sem dados cadastrados")
		return
	default:
		h.log().WithError(err).Error("falha no login")
		writeError(w, http.StatusInternalServerError, "Erro ao autenticar")
		return
	}
	h.log().WithField("user_id", s.User.ID).Info("login")
	writeJSON(w, http.StatusOK, LoginResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, User: s.User})
}

func genericLoginError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "Credenciais inválidas")
}

// Signup cadastra um usuário da equipe com papel STAFF.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	var fields []string
	if strings.TrimSpace(req.Name) == "" {
		fields = append(fields, "name")
	}
	if ValidateEmailRegex(req.Email) != nil {
		fields = append(fields, "email")
	}
	if ValidatePassword(req.Password) != nil {
		fields = append(fields, "password")
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Campos inválidos", Fields: fields})
		return
	}
	u, err := h.Auth.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "Email já cadastrado")
		return
	}
	if err != nil {
		h.log().WithError(err).Error("falha no cadastro de usuário")
		writeError(w, http.StatusInternalServerError, "Erro ao cadastrar usuário")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Logout revoga o token atual.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	c := auth.ClaimsFrom(r.Context())
	if c == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.Auth.SignOut(c)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	c := auth.ClaimsFrom(r.Context())
	if c == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	u, err := h.Auth.Profile(r.Context(), c)
	if errors.Is(err, auth.ErrProfileNotFound) {
		writeError(w, http.StatusUnauthorized, "Usuário sem dados cadastrados")
		return
	}
	if err != nil {
		h.log().WithError(err).Error("falha ao carregar perfil")
		writeError(w, http.StatusInternalServerError, "Erro ao buscar dados")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
