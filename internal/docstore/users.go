package docstore

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"

	"github.com/healapp/backend/internal/auth"
)

type userDoc struct {
	Email        string    `firestore:"email"`
	Name         string    `firestore:"name"`
	Role         string    `firestore:"role"`
	PasswordHash string    `firestore:"passwordHash"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func (d userDoc) toDomain(id string) *auth.User {
	return &auth.User{ID: id, Email: d.Email, Name: d.Name, Role: d.Role, PasswordHash: d.PasswordHash, CreatedAt: d.CreatedAt}
}

// Users implementa auth.UserStore na coleção users (id do documento = id do usuário).
type Users struct {
	client *firestore.Client
}

func NewUsers(client *firestore.Client) *Users { return &Users{client: client} }

func (s *Users) col() *firestore.CollectionRef { return s.client.Collection(usersCollection) }

func (s *Users) UserByEmail(ctx context.Context, email string) (*auth.User, error) {
	docs, err := s.col().Where("email", "==", normalizeEmail(email)).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, auth.ErrUserNotFound
	}
	var d userDoc
	if err := docs[0].DataTo(&d); err != nil {
		return nil, err
	}
	return d.toDomain(docs[0].Ref.ID), nil
}

func (s *Users) UserByID(ctx context.Context, id string) (*auth.User, error) {
	snap, err := s.col().Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	var d userDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return d.toDomain(snap.Ref.ID), nil
}

func (s *Users) CreateUser(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = auth.RoleStaff
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = normalizeEmail(u.Email)
	ref := s.col().Doc(u.ID)
	q := s.col().Where("email", "==", u.Email).Limit(1)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return auth.ErrEmailTaken
		}
		return tx.Create(ref, userDoc{Email: u.Email, Name: u.Name, Role: u.Role, PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt})
	})
}

// CountUsers usa a agregação de contagem do Firestore.
func (s *Users) CountUsers(ctx context.Context) (int, error) {
	res, err := s.col().NewAggregationQuery().WithCount("n").Get(ctx)
	if err != nil {
		return 0, err
	}
	v, ok := res["n"]
	if !ok {
		return 0, nil
	}
	return countValue(v), nil
}

type resetDoc struct {
	UserID    string     `firestore:"userId"`
	ExpiresAt time.Time  `firestore:"expiresAt"`
	UsedAt    *time.Time `firestore:"usedAt"`
}

// CreateResetToken grava o token na coleção password_resets (id do documento = hash do token).
func (s *Users) CreateResetToken(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.client.Collection(resetsCollection).Doc(tokenHash).Create(ctx, resetDoc{UserID: userID, ExpiresAt: expiresAt})
	return err
}

// ConsumeResetToken valida e marca o uso na mesma transação.
func (s *Users) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	ref := s.client.Collection(resetsCollection).Doc(tokenHash)
	var userID string
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return auth.ErrResetTokenInvalid
		}
		if err != nil {
			return err
		}
		var d resetDoc
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		if d.UsedAt != nil || !now.Before(d.ExpiresAt) {
			return auth.ErrResetTokenInvalid
		}
		userID = d.UserID
		return tx.Update(ref, []firestore.Update{{Path: "usedAt", Value: now}})
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Users) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.col().Doc(userID).Update(ctx, []firestore.Update{{Path: "passwordHash", Value: passwordHash}})
	if isNotFound(err) {
		return auth.ErrUserNotFound
	}
	return err
}

var _ auth.ResetStore = (*Users)(nil)

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func countValue(v interface{}) int {
	switch n := v.(type) {
	case *pb.Value:
		return int(n.GetIntegerValue())
	case int64:
		return int(n)
	}
	return 0
}
