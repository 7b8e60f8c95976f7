package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ResetTokenTTL é a validade do link de redefinição de senha.
const ResetTokenTTL = time.Hour

var (
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
	ErrResetDisabled     = errors.New("password reset not configured")
)

// ResetStore guarda os tokens de redefinição (só o hash) e troca a senha.
// ConsumeResetToken marca o token como usado e devolve o dono numa única operação;
// token usado, expirado ou inexistente retorna ErrResetTokenInvalid.
type ResetStore interface {
	CreateResetToken(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (userID string, err error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// SetResetStore habilita a redefinição de senha.
func (a *Authenticator) SetResetStore(s ResetStore) { a.resets = s }

// HashResetToken é o que fica gravado no store; o token em claro só vai no e-mail.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RequestPasswordReset gera um token para o e-mail informado e devolve o usuário e o token em claro.
// E-mail desconhecido retorna ErrUserNotFound; o handler responde igual nos dois casos.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, email string) (*User, string, error) {
	if a.resets == nil {
		return nil, "", ErrResetDisabled
	}
	u, err := a.users.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, "", err
	}
	tok, err := newResetToken()
	if err != nil {
		return nil, "", err
	}
	if err := a.resets.CreateResetToken(ctx, HashResetToken(tok), u.ID, time.Now().Add(ResetTokenTTL)); err != nil {
		return nil, "", err
	}
	return u, tok, nil
}

// ResetPassword consome o token e grava a nova senha.
func (a *Authenticator) ResetPassword(ctx context.Context, token, newPassword string) error {
	if a.resets == nil {
		return ErrResetDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrResetTokenInvalid
	}
	if len(newPassword) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	hash, err := a.hashPassword(newPassword)
	if err != nil {
		return err
	}
	userID, err := a.resets.ConsumeResetToken(ctx, HashResetToken(token), time.Now())
	if err != nil {
		return err
	}
	return a.resets.UpdatePassword(ctx, userID, hash)
}
