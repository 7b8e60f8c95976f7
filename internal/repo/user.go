package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healapp/backend/internal/auth"
)

const userColumns = `id, email, name, role, password_hash, created_at`

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u  auth.User
		id uuid.UUID
	)
	err := row.Scan(&id, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.ID = id.String()
	return &u, nil
}

func UserByEmail(ctx context.Context, pool *pgxpool.Pool, email string) (*auth.User, error) {
	return scanUser(pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

func UserByID(ctx context.Context, pool *pgxpool.Pool, id string) (*auth.User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, auth.ErrUserNotFound
	}
	return scanUser(pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid))
}

// CreateUser insere o usuário. E-mail repetido retorna auth.ErrEmailTaken.
func CreateUser(ctx context.Context, pool *pgxpool.Pool, u *auth.User) error {
	id := uuid.New()
	if u.ID != "" {
		parsed, err := uuid.Parse(u.ID)
		if err != nil {
			return err
		}
		id = parsed
	}
	if u.Role == "" {
		u.Role = auth.RoleStaff
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, strings.ToLower(strings.TrimSpace(u.Email)), u.Name, u.Role, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrEmailTaken
	}
	if err != nil {
		return err
	}
	u.ID = id.String()
	return nil
}

func CountUsers(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// CreatePasswordResetToken grava só o hash do token.
func CreatePasswordResetToken(ctx context.Context, pool *pgxpool.Pool, tokenHash, userID string, expiresAt time.Time) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return auth.ErrUserNotFound
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO password_reset_tokens (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, uid, expiresAt)
	return err
}

// ConsumePasswordResetToken marca o token como usado na mesma instrução que valida uso e validade.
func ConsumePasswordResetToken(ctx context.Context, pool *pgxpool.Pool, tokenHash string, now time.Time) (string, error) {
	var uid uuid.UUID
	err := pool.QueryRow(ctx, `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id
	`, tokenHash, now).Scan(&uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", auth.ErrResetTokenInvalid
	}
	if err != nil {
		return "", err
	}
	return uid.String(), nil
}

func UpdatePassword(ctx context.Context, pool *pgxpool.Pool, userID, passwordHash string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return auth.ErrUserNotFound
	}
	tag, err := pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, uid, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// UserStore implementa auth.UserStore e auth.ResetStore sobre pgx.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore { return &UserStore{pool: pool} }

func (s *UserStore) UserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return UserByEmail(ctx, s.pool, email)
}

func (s *UserStore) UserByID(ctx context.Context, id string) (*auth.User, error) {
	return UserByID(ctx, s.pool, id)
}

func (s *UserStore) CreateUser(ctx context.Context, u *auth.User) error {
	return CreateUser(ctx, s.pool, u)
}

func (s *UserStore) CountUsers(ctx context.Context) (int, error) {
	return CountUsers(ctx, s.pool)
}

func (s *UserStore) CreateResetToken(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	return CreatePasswordResetToken(ctx, s.pool, tokenHash, userID, expiresAt)
}

func (s *UserStore) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	return ConsumePasswordResetToken(ctx, s.pool, tokenHash, now)
}

func (s *UserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return UpdatePassword(ctx, s.pool, userID, passwordHash)
}
