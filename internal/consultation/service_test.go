package consultation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/store/memory"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendConfirmationLink(ctx context.Context, c consultation.Consultation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

// MockStore é usado onde o store em memória não consegue reproduzir o cenário (token duplicado).
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, c *consultation.Consultation) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockStore) Get(ctx context.Context, id string) (*consultation.Consultation, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*consultation.Consultation)
	return c, args.Error(1)
}

func (m *MockStore) List(ctx context.Context) ([]consultation.Consultation, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]consultation.Consultation)
	return list, args.Error(1)
}

func (m *MockStore) FindByToken(ctx context.Context, token string) ([]consultation.Consultation, error) {
	args := m.Called(ctx, token)
	list, _ := args.Get(0).([]consultation.Consultation)
	return list, args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, id string, p consultation.Patch, expected *consultation.Status) error {
	return m.Called(ctx, id, p, expected).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func anaFields() consultation.Fields {
	return consultation.Fields{
		PatientName:      "Ana",
		Document:         "12345678901",
		Email:            "a@x.com",
		PhoneNumber:      "11999998888",
		ConsultationType: "pre_natal",
		ProfessionalName: "Dr. Silva",
		ConsultationDate: "2025-06-01T10:00:00Z",
	}
}

type fixture struct {
	svc      *consultation.Service
	store    *memory.Consultations
	audit    *memory.Audit
	notifier *MockNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	n := new(MockNotifier)
	n.On("SendConfirmationLink", mock.Anything, mock.Anything).Return(nil).Maybe()
	store := memory.NewConsultations()
	audit := memory.NewAudit()
	svc := consultation.NewService(store,
		consultation.WithNotifier(n),
		consultation.WithAuditRecorder(audit),
	)
	return &fixture{svc: svc, store: store, audit: audit, notifier: n}
}

func TestCreateScenarioAna(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Create(context.Background(), anaFields())
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, consultation.StatusPending, c.Status)
	assert.NotEmpty(t, c.ConfirmationToken)
	assert.True(t, c.ConsultationDate.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))
	f.svc.Wait()
	f.notifier.AssertCalled(t, "SendConfirmationLink", mock.Anything, mock.MatchedBy(func(got consultation.Consultation) bool {
		return got.ConfirmationToken == c.ConfirmationToken && got.PhoneNumber == "11999998888"
	}))
}

func TestCreateKeepsSuppliedStatus(t *testing.T) {
	f := newFixture(t)
	in := anaFields()
	in.Status = string(consultation.StatusWaiting)
	c, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusWaiting, c.Status)
}

func TestCreateNormalizesDigits(t *testing.T) {
	f := newFixture(t)
	in := anaFields()
	in.Document = "123.456.789-01"
	in.PhoneNumber = "(11) 99999-8888"
	in.Email = " A@X.com "
	c, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "12345678901", c.Document)
	assert.Equal(t, "11999998888", c.PhoneNumber)
	assert.Equal(t, "a@x.com", c.Email)
}

func TestCreateCombinesDateAndTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	svc := consultation.NewService(memory.NewConsultations(), consultation.WithLocation(loc))
	in := anaFields()
	in.ConsultationDate = "2025-06-01"
	in.ConsultationTime = "14:30"
	c, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, c.ConsultationDate.Equal(time.Date(2025, 6, 1, 17, 30, 0, 0, time.UTC)))
}

func TestCreateTokensAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		c, err := f.svc.Create(context.Background(), anaFields())
		require.NoError(t, err)
		assert.False(t, seen[c.ConfirmationToken], "token repetido")
		seen[c.ConfirmationToken] = true
	}
}

func TestCreateMissingFields(t *testing.T) {
	f := newFixture(t)
	in := anaFields()
	in.Email = ""
	in.ProfessionalName = "  "
	_, err := f.svc.Create(context.Background(), in)
	var verr *consultation.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"email", "professionalName"}, verr.Fields)
	f.notifier.AssertNotCalled(t, "SendConfirmationLink", mock.Anything, mock.Anything)

	list, err := f.svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateInvalidDateAndStatus(t *testing.T) {
	f := newFixture(t)
	in := anaFields()
	in.ConsultationDate = "amanhã"
	in.Status = "Remarcado"
	_, err := f.svc.Create(context.Background(), in)
	var verr *consultation.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"consultationDate", "status"}, verr.Fields)
}

func TestCreateSurvivesNotifierFailure(t *testing.T) {
	n := new(MockNotifier)
	n.On("SendConfirmationLink", mock.Anything, mock.Anything).Return(errors.New("relay fora do ar"))
	store := memory.NewConsultations()
	svc := consultation.NewService(store, consultation.WithNotifier(n))

	c, err := svc.Create(context.Background(), anaFields())
	require.NoError(t, err)
	_, err = store.Get(context.Background(), c.ID)
	assert.NoError(t, err, "falha no envio não desfaz o cadastro")
	svc.Wait()
	n.AssertNumberOfCalls(t, "SendConfirmationLink", 1)
}

func TestCreateRetriesDuplicateToken(t *testing.T) {
	s := new(MockStore)
	s.On("Create", mock.Anything, mock.Anything).Return(consultation.ErrDuplicateToken).Once()
	s.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	tokens := []string{"tok-1", "tok-2"}
	i := 0
	svc := consultation.NewService(s, consultation.WithTokenGenerator(func() string {
		tok := tokens[i]
		i++
		return tok
	}))
	c, err := svc.Create(context.Background(), anaFields())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", c.ConfirmationToken)
	s.AssertNumberOfCalls(t, "Create", 2)
}

func TestDateRoundTripThroughJSON(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Create(context.Background(), anaFields())
	require.NoError(t, err)
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	var back consultation.Consultation
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, c.ConsultationDate.Equal(back.ConsultationDate))
}

func TestUpdateToAttendedKeepsOtherFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, c.ConfirmationToken)
	require.NoError(t, err)

	attended := string(consultation.StatusAttended)
	_, err = f.svc.Update(ctx, c.ID, consultation.PatchInput{Status: &attended})
	require.NoError(t, err)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, consultation.StatusAttended, got.Status)
	assert.Equal(t, c.PatientName, got.PatientName)
	assert.Equal(t, c.Document, got.Document)
	assert.Equal(t, c.ConfirmationToken, got.ConfirmationToken)
	assert.True(t, c.ConsultationDate.Equal(got.ConsultationDate))
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)

	attended := string(consultation.StatusAttended)
	_, err = f.svc.Update(ctx, c.ID, consultation.PatchInput{Status: &attended})
	var inv *consultation.InvalidTransitionError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, consultation.StatusPending, inv.From)
	assert.Equal(t, consultation.StatusAttended, inv.To)
}

func TestUpdateFieldsWithoutStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)

	name, date := "Ana Maria", "2025-06-02T09:00:00Z"
	updated, err := f.svc.Update(ctx, c.ID, consultation.PatchInput{PatientName: &name, ConsultationDate: &date})
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", updated.PatientName)
	assert.Equal(t, consultation.StatusPending, updated.Status)

	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", stored.PatientName)
	assert.True(t, stored.ConsultationDate.Equal(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)))
}

func TestUpdateSameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)
	pending := string(consultation.StatusPending)
	got, err := f.svc.Update(ctx, c.ID, consultation.PatchInput{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusPending, got.Status)
}

func TestUpdateEmptyPatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Update(context.Background(), "qualquer", consultation.PatchInput{})
	var verr *consultation.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDeleteThenUpdateOrDeleteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, c.ID))
	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	for _, got := range list {
		assert.NotEqual(t, c.ID, got.ID)
	}

	name := "X"
	_, err = f.svc.Update(ctx, c.ID, consultation.PatchInput{PatientName: &name})
	var nf *consultation.NotFoundError
	assert.ErrorAs(t, err, &nf)
	err = f.svc.Delete(ctx, c.ID)
	assert.ErrorAs(t, err, &nf)
	assert.ErrorIs(t, err, consultation.ErrNotFound)
}

func TestResolveByTokenNonexistent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ResolveByToken(context.Background(), "nonexistent")
	var nf *consultation.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestResolveByTokenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)
	a, err := f.svc.ResolveByToken(ctx, c.ConfirmationToken)
	require.NoError(t, err)
	b, err := f.svc.ResolveByToken(ctx, c.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolveByTokenIntegrityError(t *testing.T) {
	s := new(MockStore)
	s.On("FindByToken", mock.Anything, "dup").Return([]consultation.Consultation{{ID: "1"}, {ID: "2"}}, nil)
	svc := consultation.NewService(s)
	_, err := svc.ResolveByToken(context.Background(), "dup")
	var ie *consultation.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Count)
}

func TestConfirmIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)

	got, err := f.svc.Confirm(ctx, c.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusWaiting, got.Status)
	require.NotNil(t, got.ConsumedAt)

	_, err = f.svc.Confirm(ctx, c.ConfirmationToken)
	var nf *consultation.NotFoundError
	assert.ErrorAs(t, err, &nf, "token consumido não confirma de novo")

	// o link continua resolvendo para mostrar a resposta dada
	resolved, err := f.svc.ResolveByToken(ctx, c.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusWaiting, resolved.Status)
}

func TestDeclineCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)
	got, err := f.svc.Decline(ctx, c.ConfirmationToken)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusCancelled, got.Status)

	events := f.audit.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, consultation.AuditDeclined, last.Action)
	assert.Equal(t, consultation.SourcePatient, last.Source)
}

func TestConfirmAfterStaffCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)
	cancelled := string(consultation.StatusCancelled)
	_, err = f.svc.Update(ctx, c.ID, consultation.PatchInput{Status: &cancelled})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, c.ConfirmationToken)
	var inv *consultation.InvalidTransitionError
	assert.ErrorAs(t, err, &inv)
}

func TestOverrideIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithClaims(context.Background(), &auth.Claims{UserID: "u-1", Email: "staff@heal.app"})
	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, c.ConfirmationToken)
	require.NoError(t, err)
	attended := string(consultation.StatusAttended)
	_, err = f.svc.Update(ctx, c.ID, consultation.PatchInput{Status: &attended})
	require.NoError(t, err)

	_, err = f.svc.Override(ctx, c.ID, consultation.StatusCancelled, "")
	var verr *consultation.ValidationError
	require.ErrorAs(t, err, &verr, "motivo é obrigatório")

	got, err := f.svc.Override(ctx, c.ID, consultation.StatusCancelled, "paciente faltou, lançamento errado")
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusCancelled, got.Status)

	events := f.audit.Events()
	last := events[len(events)-1]
	assert.Equal(t, consultation.AuditStatusForced, last.Action)
	assert.Equal(t, consultation.StatusAttended, last.FromStatus)
	assert.Equal(t, consultation.StatusCancelled, last.ToStatus)
	assert.Equal(t, "staff@heal.app", last.ActorEmail)
	assert.NotEmpty(t, last.Reason)
}

// Dois membros da equipe alteram a mesma consulta ao mesmo tempo. A escrita é condicional ao
// status lido, então exatamente uma vence e a outra recebe ConflictError (ou, se ler depois da
// primeira escrita, InvalidTransitionError, já que Atendido e Cancelado são finais).
// Qual das duas vence não é determinístico; o teste aceita qualquer uma.
func TestConcurrentStatusUpdates(t *testing.T) {
	for run := 0; run < 20; run++ {
		f := newFixture(t)
		ctx := context.Background()
		c, err := f.svc.Create(ctx, anaFields())
		require.NoError(t, err)
		_, err = f.svc.Confirm(ctx, c.ConfirmationToken)
		require.NoError(t, err)

		targets := []consultation.Status{consultation.StatusCancelled, consultation.StatusAttended}
		errs := make([]error, len(targets))
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i, st := range targets {
			wg.Add(1)
			go func(i int, st consultation.Status) {
				defer wg.Done()
				<-start
				s := string(st)
				_, errs[i] = f.svc.Update(ctx, c.ID, consultation.PatchInput{Status: &s})
			}(i, st)
		}
		close(start)
		wg.Wait()

		var winners []consultation.Status
		for i, err := range errs {
			if err == nil {
				winners = append(winners, targets[i])
				continue
			}
			var conflict *consultation.ConflictError
			var inv *consultation.InvalidTransitionError
			assert.True(t, errors.As(err, &conflict) || errors.As(err, &inv), "erro inesperado: %v", err)
		}
		require.Len(t, winners, 1, "exatamente uma escrita vence")

		final, err := f.svc.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, winners[0], final.Status)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var snapshots [][]consultation.Consultation
	sub, err := f.svc.Subscribe(ctx, func(list []consultation.Consultation) {
		mu.Lock()
		snapshots = append(snapshots, list)
		mu.Unlock()
	})
	require.NoError(t, err)

	c, err := f.svc.Create(ctx, anaFields())
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, c.ID))
	sub.Close()
	_, err = f.svc.Create(ctx, anaFields())
	require.NoError(t, err)
	sub.Close()
	<-sub.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 3, "inicial + criação + exclusão")
	assert.Empty(t, snapshots[0])
	assert.Len(t, snapshots[1], 1)
	assert.Empty(t, snapshots[2])
}

func TestCreateReturnsBeforeNotifierFinishes(t *testing.T) {
	release := make(chan struct{})
	n := new(MockNotifier)
	n.On("SendConfirmationLink", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil)
	svc := consultation.NewService(memory.NewConsultations(), consultation.WithNotifier(n))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.Create(context.Background(), anaFields())
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Create esperou o envio do link")
	}

	close(release)
	svc.Close()
	n.AssertNumberOfCalls(t, "SendConfirmationLink", 1)
}

func TestConfirmRaceLoserGetsNotFound(t *testing.T) {
	s := new(MockStore)
	pending := consultation.Consultation{ID: "c-1", Status: consultation.StatusPending, ConfirmationToken: "tok"}
	s.On("FindByToken", mock.Anything, "tok").Return([]consultation.Consultation{pending}, nil)
	s.On("Update", mock.Anything, "c-1", mock.Anything, mock.Anything).Return(consultation.ErrConflict)
	svc := consultation.NewService(s)

	_, err := svc.Confirm(context.Background(), "tok")
	var nf *consultation.NotFoundError
	require.ErrorAs(t, err, &nf)
	var conflict *consultation.ConflictError
	assert.False(t, errors.As(err, &conflict))
}

// racingList cria uma consulta pelo service durante o primeiro List, antes de devolver o
// resultado lido, reproduzindo uma escrita concorrente com a leitura inicial do Subscribe.
type racingList struct {
	*memory.Consultations
	svc   *consultation.Service
	fired bool
}

func (r *racingList) List(ctx context.Context) ([]consultation.Consultation, error) {
	list, err := r.Consultations.List(ctx)
	if !r.fired {
		r.fired = true
		if _, cerr := r.svc.Create(ctx, anaFields()); cerr != nil {
			return nil, cerr
		}
	}
	return list, err
}

func TestSubscribeKeepsWriteDuringInitialList(t *testing.T) {
	store := &racingList{Consultations: memory.NewConsultations()}
	svc := consultation.NewService(store)
	store.svc = svc

	var mu sync.Mutex
	var latest []consultation.Consultation
	sub, err := svc.Subscribe(context.Background(), func(list []consultation.Consultation) {
		mu.Lock()
		latest = list
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	all, err := store.Consultations.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, latest, 1, "o snapshot lido antes da escrita não pode sobrescrever o mais novo")
}

// feedStore avisa mudanças quando o teste escreve em changes e encerra o feed quando o canal fecha.
type feedStore struct {
	*memory.Consultations
	changes chan struct{}
	mu      sync.Mutex
	watches int
}

func (f *feedStore) Watch(ctx context.Context, changed func()) error {
	f.mu.Lock()
	f.watches++
	f.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-f.changes:
			if !ok {
				return errors.New("listen encerrado")
			}
			changed()
		}
	}
}

func TestSubscribeSharesOneChangeFeed(t *testing.T) {
	store := &feedStore{Consultations: memory.NewConsultations(), changes: make(chan struct{})}
	svc := consultation.NewService(store)
	defer svc.Close()
	ctx := context.Background()

	got := make(chan []consultation.Consultation, 10)
	a, err := svc.Subscribe(ctx, func(list []consultation.Consultation) { got <- list })
	require.NoError(t, err)
	b, err := svc.Subscribe(ctx, func([]consultation.Consultation) {})
	require.NoError(t, err)
	assert.Empty(t, <-got)

	// escrita feita por outro processo, vista só pelo feed
	c := &consultation.Consultation{PatientName: "Ana", Status: consultation.StatusPending, ConfirmationToken: "tok-ext"}
	require.NoError(t, store.Create(ctx, c))
	store.changes <- struct{}{}
	select {
	case list := <-got:
		require.Len(t, list, 1)
		assert.Equal(t, "tok-ext", list[0].ConfirmationToken)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot do feed não chegou")
	}

	store.mu.Lock()
	assert.Equal(t, 1, store.watches)
	store.mu.Unlock()

	close(store.changes)
	for _, sub := range []*consultation.Subscription{a, b} {
		select {
		case <-sub.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("assinatura continuou aberta depois da queda do feed")
		}
	}
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	f := newFixture(t)
	f.svc.Close()
	_, err := f.svc.Subscribe(context.Background(), func([]consultation.Consultation) {})
	assert.Error(t, err)
}
