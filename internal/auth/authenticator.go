package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/healapp/backend/internal/cache"
)

// Session é o estado explícito de login: criado em SignIn, encerrado em SignOut.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Authenticator faz login, cadastro e logout da equipe.
type Authenticator struct {
	users        UserStore
	secret       []byte
	ttl          time.Duration
	revoked      *cache.TTL[struct{}]
	hashPassword func(string) (string, error)
	resets       ResetStore
}

func NewAuthenticator(users UserStore, secret []byte, ttl time.Duration, revoked *cache.TTL[struct{}]) *Authenticator {
	return &Authenticator{users: users, secret: secret, ttl: ttl, revoked: revoked, hashPassword: HashPassword}
}

// SetHashPassword troca o hash (testes usam custo menor).
func (a *Authenticator) SetHashPassword(fn func(string) (string, error)) { a.hashPassword = fn }

// SignIn valida as credenciais e carrega o perfil. Credencial errada e usuário inexistente
// retornam o mesmo ErrInvalidCredentials.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := a.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		burnCompare(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	profile, err := a.users.UserByID(ctx, u.ID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	tok, claims, err := BuildJWT(a.secret, profile.ID, profile.Email, profile.Role, a.ttl)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: claims.ExpiresAt.Time, User: *profile}, nil
}

// SignUp cria um usuário da equipe com papel STAFF.
func (a *Authenticator) SignUp(ctx context.Context, name, email, password string) (*User, error) {
	hash, err := a.hashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         strings.TrimSpace(name),
		Role:         RoleStaff,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := a.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Profile carrega o perfil da sessão atual.
func (a *Authenticator) Profile(ctx context.Context, c *Claims) (*User, error) {
	u, err := a.users.UserByID(ctx, c.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrProfileNotFound
	}
	return u, err
}

// SignOut revoga o token até a sua expiração.
func (a *Authenticator) SignOut(c *Claims) {
	if c == nil || c.ID == "" {
		return
	}
	exp := time.Now().Add(a.ttl)
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Time
	}
	a.revoked.SetUntil(c.ID, struct{}{}, exp)
}

// Verify valida assinatura, expiração e revogação.
func (a *Authenticator) Verify(raw string) (*Claims, error) {
	c, err := ParseJWT(a.secret, raw)
	if err != nil {
		return nil, err
	}
	if a.revoked.Has(c.ID) {
		return nil, ErrSessionRevoked
	}
	return c, nil
}

var ErrSessionRevoked = errors.New("session revoked")
