//go:build integration

package repo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/crypto"
	"github.com/healapp/backend/internal/testutil"
)

var pg *testutil.Postgres

func TestMain(m *testing.M) {
	var err error
	pg, err = testutil.StartPostgres(context.Background())
	if err != nil {
		println("postgres indisponível:", err.Error())
		os.Exit(1)
	}
	code := m.Run()
	pg.Close()
	os.Exit(code)
}

func newConsultation() *consultation.Consultation {
	return &consultation.Consultation{
		PatientName:       "Ana",
		Document:          "12345678901",
		Email:             "ana@x.com",
		PhoneNumber:       "11999998888",
		ConsultationType:  "pre_natal",
		ProfessionalName:  "Dr. Silva",
		ConsultationDate:  time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		Status:            consultation.StatusPending,
		ConfirmationToken: uuid.NewString(),
	}
}

func TestIntegration_ConsultationCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewConsultationStore(pg.DB, pg.Pool)

	c := newConsultation()
	require.NoError(t, s.Create(ctx, c))
	require.NotEmpty(t, c.ID)

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.PatientName)
	assert.True(t, got.ConsultationDate.Equal(c.ConsultationDate))

	byToken, err := s.FindByToken(ctx, c.ConfirmationToken)
	require.NoError(t, err)
	require.Len(t, byToken, 1)
	assert.Equal(t, c.ID, byToken[0].ID)

	attended := consultation.StatusAttended
	assert.ErrorIs(t, s.Update(ctx, c.ID, consultation.Patch{Status: &attended}, &attended), consultation.ErrConflict)

	waiting := consultation.StatusWaiting
	pending := consultation.StatusPending
	now := time.Now().UTC()
	require.NoError(t, s.Update(ctx, c.ID, consultation.Patch{Status: &waiting, ConsumedAt: &now}, &pending))
	got, err = s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusWaiting, got.Status)
	require.NotNil(t, got.ConsumedAt)

	require.NoError(t, s.Delete(ctx, c.ID))
	assert.ErrorIs(t, s.Delete(ctx, c.ID), consultation.ErrNotFound)
	_, err = s.Get(ctx, c.ID)
	assert.ErrorIs(t, err, consultation.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, c.ID, consultation.Patch{Status: &waiting}, nil), consultation.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, "not-a-uuid", consultation.Patch{Status: &waiting}, nil), consultation.ErrNotFound)
}

func TestIntegration_DocumentSealedAtRest(t *testing.T) {
	ctx := context.Background()
	fc, err := crypto.NewFieldCipher("v1", map[string][]byte{"v1": make([]byte, 32)})
	require.NoError(t, err)
	s := NewConsultationStore(pg.DB, pg.Pool)
	s.SetCipher(fc)

	c := newConsultation()
	require.NoError(t, s.Create(ctx, c))
	assert.Equal(t, "12345678901", c.Document)

	var raw string
	require.NoError(t, pg.Pool.QueryRow(ctx, `SELECT document FROM consultations WHERE id = $1`, c.ID).Scan(&raw))
	assert.True(t, crypto.IsSealed(raw))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345678901", got.Document)

	doc := "98765432100"
	require.NoError(t, s.Update(ctx, c.ID, consultation.Patch{Document: &doc}, nil))
	byToken, err := s.FindByToken(ctx, c.ConfirmationToken)
	require.NoError(t, err)
	require.Len(t, byToken, 1)
	assert.Equal(t, doc, byToken[0].Document)
}

func TestIntegration_DuplicateToken(t *testing.T) {
	ctx := context.Background()
	s := NewConsultationStore(pg.DB, pg.Pool)
	a := newConsultation()
	require.NoError(t, s.Create(ctx, a))
	b := newConsultation()
	b.ConfirmationToken = a.ConfirmationToken
	assert.ErrorIs(t, s.Create(ctx, b), consultation.ErrDuplicateToken)
}

func TestIntegration_ConcurrentCAS(t *testing.T) {
	ctx := context.Background()
	s := NewConsultationStore(pg.DB, pg.Pool)
	c := newConsultation()
	c.Status = consultation.StatusWaiting
	require.NoError(t, s.Create(ctx, c))

	waiting := consultation.StatusWaiting
	targets := []consultation.Status{consultation.StatusCancelled, consultation.StatusAttended}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Update(ctx, c.ID, consultation.Patch{Status: &targets[i]}, &waiting)
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, consultation.ErrConflict)
		}
	}
	assert.Equal(t, 1, won)
}

func TestIntegration_WatchReceivesChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewConsultationStore(pg.DB, pg.Pool)

	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func() { changed <- struct{}{} })
	}()

	// espera o LISTEN ativo antes de escrever
	require.Eventually(t, func() bool {
		var n int
		err := pg.Pool.QueryRow(ctx, "SELECT count(*) FROM pg_stat_activity WHERE query LIKE 'LISTEN%'").Scan(&n)
		return err == nil && n > 0
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Create(ctx, newConsultation()))
	select {
	case <-changed:
	case <-time.After(10 * time.Second):
		t.Fatal("nenhuma notificação recebida")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Watch não retornou após o cancelamento")
	}
}

func TestIntegration_UsersAndAudit(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(pg.Pool)
	u := &auth.User{Email: "Staff@Heal.app", Name: "Staff", PasswordHash: "x"}
	require.NoError(t, users.CreateUser(ctx, u))
	assert.ErrorIs(t, users.CreateUser(ctx, &auth.User{Email: "staff@heal.app", Name: "Dup", PasswordHash: "x"}), auth.ErrEmailTaken)

	got, err := users.UserByEmail(ctx, "STAFF@heal.app")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, auth.RoleStaff, got.Role)
	_, err = users.UserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	audit := NewAuditStore(pg.Pool)
	cid := uuid.NewString()
	require.NoError(t, audit.RecordAudit(ctx, consultation.AuditEvent{
		Action:         consultation.AuditStatusForced,
		Source:         consultation.SourceStaff,
		ActorID:        u.ID,
		ActorEmail:     u.Email,
		ConsultationID: cid,
		FromStatus:     consultation.StatusAttended,
		ToStatus:       consultation.StatusCancelled,
		Reason:         "lançado errado",
		Metadata:       map[string]string{"via": "test"},
	}))
	events, err := audit.ListAudit(ctx, cid)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "lançado errado", events[0].Reason)
	assert.Equal(t, u.ID, events[0].ActorID)
	assert.Equal(t, "test", events[0].Metadata["via"])
}

func TestIntegration_PasswordReset(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(pg.Pool)
	u := &auth.User{Email: "reset-" + uuid.NewString() + "@heal.app", Name: "Reset", PasswordHash: "antiga"}
	require.NoError(t, users.CreateUser(ctx, u))

	now := time.Now()
	require.NoError(t, users.CreateResetToken(ctx, "hash-ok", u.ID, now.Add(time.Hour)))
	require.NoError(t, users.CreateResetToken(ctx, "hash-vencido", u.ID, now.Add(-time.Minute)))

	_, err := users.ConsumeResetToken(ctx, "hash-vencido", now)
	assert.ErrorIs(t, err, auth.ErrResetTokenInvalid)

	id, err := users.ConsumeResetToken(ctx, "hash-ok", now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
	_, err = users.ConsumeResetToken(ctx, "hash-ok", now)
	assert.ErrorIs(t, err, auth.ErrResetTokenInvalid, "token de uso único")

	require.NoError(t, users.UpdatePassword(ctx, u.ID, "nova"))
	got, err := users.UserByEmail(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, "nova", got.PasswordHash)
	assert.ErrorIs(t, users.UpdatePassword(ctx, uuid.NewString(), "x"), auth.ErrUserNotFound)
}
