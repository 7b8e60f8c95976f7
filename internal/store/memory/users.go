package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healapp/backend/internal/auth"
)

type credential struct {
	id   string
	hash string
}

// Users implementa auth.UserStore. Credenciais e perfis ficam separados, como no
// provedor de identidade + documento de perfil.
type Users struct {
	mu       sync.RWMutex
	creds    map[string]credential
	profiles map[string]auth.User
	resets   map[string]resetToken
}

type resetToken struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func NewUsers() *Users {
	return &Users{
		creds:    make(map[string]credential),
		profiles: make(map[string]auth.User),
		resets:   make(map[string]resetToken),
	}
}

func (s *Users) UserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	cr, ok := s.creds[email]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	u, ok := s.profiles[cr.id]
	if !ok {
		u = auth.User{ID: cr.id, Email: email}
	}
	u.PasswordHash = cr.hash
	return &u, nil
}

func (s *Users) UserByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.profiles[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

func (s *Users) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, taken := s.creds[email]; taken {
		return auth.ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.creds[email] = credential{id: u.ID, hash: u.PasswordHash}
	s.profiles[u.ID] = *u
	return nil
}

// DeleteProfile remove o perfil e mantém a credencial.
func (s *Users) DeleteProfile(id string) {
	s.mu.Lock()
	delete(s.profiles, id)
	s.mu.Unlock()
}

func (s *Users) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds), nil
}

func (s *Users) CreateResetToken(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[tokenHash] = resetToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *Users) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.resets[tokenHash]
	if !ok || rt.used || !now.Before(rt.expiresAt) {
		return "", auth.ErrResetTokenInvalid
	}
	rt.used = true
	s.resets[tokenHash] = rt
	return rt.userID, nil
}

func (s *Users) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, cr := range s.creds {
		if cr.id == userID {
			cr.hash = passwordHash
			s.creds[email] = cr
			return nil
		}
	}
	return auth.ErrUserNotFound
}

var _ auth.ResetStore = (*Users)(nil)
