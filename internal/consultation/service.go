package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/format"
	"github.com/healapp/backend/internal/logger"
	"github.com/healapp/backend/internal/metrics"
)

const (
	maxTokenAttempts     = 3
	defaultNotifyTimeout = 10 * time.Second
)

// Service aplica as regras de cadastro, transição de status e confirmação por token sobre um Store.
type Service struct {
	store         Store
	notifier      Notifier
	audit         AuditRecorder
	log           *logrus.Entry
	audLog        *logger.Logger
	loc           *time.Location
	hub           *hub
	newToken      func() string
	now           func() time.Time
	notifyTimeout time.Duration

	// ctx vive até Close; o feed de mudanças roda sob ele.
	ctx         context.Context
	cancel      context.CancelFunc
	feedMu      sync.Mutex
	feedRunning bool
	feedDone    sync.WaitGroup
	dispatches  sync.WaitGroup
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithAuditRecorder(a AuditRecorder) Option { return func(s *Service) { s.audit = a } }

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		s.audLog = l
		s.log = l.WithComponent("consultation")
	}
}

// WithLocation define o fuso usado para datas sem offset.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithNotifyTimeout(d time.Duration) Option { return func(s *Service) { s.notifyTimeout = d } }

func WithTokenGenerator(fn func() string) Option { return func(s *Service) { s.newToken = fn } }

func WithClock(fn func() time.Time) Option { return func(s *Service) { s.now = fn } }

func NewService(store Store, opts ...Option) *Service {
	l := logger.Discard()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		ctx:           ctx,
		cancel:        cancel,
		store:         store,
		log:           l.WithComponent("consultation"),
		audLog:        l,
		loc:           time.UTC,
		hub:           newHub(),
		newToken:      uuid.NewString,
		now:           time.Now,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the time zone used for dates without offset.
func (s *Service) Location() *time.Location { return s.loc }

// Wait bloqueia até os envios de link em andamento terminarem.
func (s *Service) Wait() { s.dispatches.Wait() }

// Close para o feed de mudanças, encerra as assinaturas e espera os envios pendentes.
func (s *Service) Close() {
	s.feedMu.Lock()
	s.cancel()
	s.feedMu.Unlock()
	s.feedDone.Wait()
	s.hub.closeAll()
	s.dispatches.Wait()
}

// Create valida, persiste com status inicial e token novo, e dispara o envio do link ao paciente
// em segundo plano. Falha no envio não desfaz o cadastro.
func (s *Service) Create(ctx context.Context, in Fields) (*Consultation, error) {
	c, err := s.build(in)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		c.ConfirmationToken = s.newToken()
		err = s.store.Create(ctx, c)
		if !errors.Is(err, ErrDuplicateToken) {
			break
		}
		s.log.WithField("attempt", attempt+1).Warn("token de confirmação repetido, gerando outro")
	}
	if err != nil {
		s.log.WithError(err).WithField("document_hash", format.DocumentHash(c.Document)).Error("falha ao criar consulta")
		return nil, fmt.Errorf("create consultation: %w", err)
	}
	metrics.ConsultationsCreated.Inc()
	s.log.WithFields(logrus.Fields{
		"consultation_id": c.ID,
		"document_hash":   format.DocumentHash(c.Document),
		"status":          c.Status,
	}).Info("consulta criada")
	s.record(ctx, AuditEvent{Action: AuditCreated, ConsultationID: c.ID, ToStatus: c.Status}, SourceStaff)
	s.publish(ctx)
	s.dispatch(*c)
	return c, nil
}

func (s *Service) build(in Fields) (*Consultation, error) {
	var missing []string
	req := func(name, v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}
	c := &Consultation{
		PatientName:      req("patientName", in.PatientName),
		Document:         normalizeDigits(req("document", in.Document)),
		Email:            normalizeEmail(req("email", in.Email)),
		PhoneNumber:      normalizeDigits(req("phoneNumber", in.PhoneNumber)),
		ConsultationType: req("consultationType", in.ConsultationType),
		ProfessionalName: req("professionalName", in.ProfessionalName),
		Status:           StatusPending,
	}
	rawDate := req("consultationDate", in.ConsultationDate)
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing, Reason: "campos obrigatórios ausentes"}
	}
	var invalid []string
	if c.Document == "" {
		invalid = append(invalid, "document")
	}
	if c.PhoneNumber == "" {
		invalid = append(invalid, "phoneNumber")
	}
	if !format.ValidEmail(c.Email) {
		invalid = append(invalid, "email")
	}
	date, ok := ParseDate(rawDate, in.ConsultationTime, s.loc)
	if !ok {
		invalid = append(invalid, "consultationDate")
	}
	if st := strings.TrimSpace(in.Status); st != "" {
		if !Status(st).Valid() {
			invalid = append(invalid, "status")
		}
		c.Status = Status(st)
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Fields: invalid, Reason: "campos inválidos"}
	}
	c.ConsultationDate = date
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	return c, nil
}

func (s *Service) List(ctx context.Context) ([]Consultation, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		s.log.WithError(err).Error("falha ao listar consultas")
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &NotFoundError{Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

// Subscribe entrega o conjunto atual a onChange e depois um snapshot completo a cada mudança.
// O assinante é registrado antes da leitura inicial, então nenhuma escrita concorrente se perde.
func (s *Service) Subscribe(ctx context.Context, onChange func([]Consultation)) (*Subscription, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := s.hub.add(onChange)
	s.startFeed()
	seq := s.hub.next()
	list, err := s.store.List(ctx)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub.deliver(seq, list)
	return sub, nil
}

// startFeed liga um único Watch por Service, compartilhado por todos os assinantes.
// Se o feed cair, as assinaturas abertas são encerradas para o cliente reconectar.
func (s *Service) startFeed() {
	feed, ok := s.store.(ChangeFeed)
	if !ok {
		return
	}
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feedRunning || s.ctx.Err() != nil {
		return
	}
	s.feedRunning = true
	s.feedDone.Add(1)
	go func() {
		defer s.feedDone.Done()
		err := feed.Watch(s.ctx, func() { s.publish(s.ctx) })
		s.feedMu.Lock()
		s.feedRunning = false
		s.feedMu.Unlock()
		if s.ctx.Err() == nil {
			s.log.WithError(err).Error("feed de mudanças encerrado; fechando assinaturas")
		}
		s.hub.closeAll()
	}()
}

// Update aplica uma edição parcial. Mudança de status precisa respeitar a tabela de transições
// e é gravada condicionalmente ao status lido.
func (s *Service) Update(ctx context.Context, id string, in PatchInput) (*Consultation, error) {
	if in.IsEmpty() {
		return nil, &ValidationError{Fields: []string{"id", "data"}, Reason: "dados de atualização ausentes"}
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.patchFrom(in)
	if err != nil {
		return nil, err
	}
	var expected *Status
	if p.Status != nil {
		if *p.Status == cur.Status {
			p.Status = nil
		} else {
			if !CanTransition(cur.Status, *p.Status) {
				return nil, &InvalidTransitionError{From: cur.Status, To: *p.Status}
			}
			from := cur.Status
			expected = &from
		}
	}
	if p.IsEmpty() {
		return cur, nil
	}
	if err := s.apply(ctx, id, p, expected); err != nil {
		return nil, err
	}
	p.Apply(cur)
	ev := AuditEvent{Action: AuditUpdated, ConsultationID: id}
	if expected != nil {
		ev.FromStatus, ev.ToStatus = *expected, *p.Status
		metrics.StatusTransitions.WithLabelValues(string(*expected), string(*p.Status), "staff").Inc()
	}
	s.record(ctx, ev, SourceStaff)
	s.publish(ctx)
	return cur, nil
}

func (s *Service) patchFrom(in PatchInput) (Patch, error) {
	var p Patch
	var invalid []string
	text := func(name string, v *string) *string {
		if v == nil {
			return nil
		}
		t := normalizeText(*v)
		if t == "" {
			invalid = append(invalid, name)
		}
		return &t
	}
	digits := func(name string, v *string) *string {
		if v == nil {
			return nil
		}
		d := normalizeDigits(*v)
		if d == "" {
			invalid = append(invalid, name)
		}
		return &d
	}
	p.PatientName = text("patientName", in.PatientName)
	p.ConsultationType = text("consultationType", in.ConsultationType)
	p.ProfessionalName = text("professionalName", in.ProfessionalName)
	p.Document = digits("document", in.Document)
	p.PhoneNumber = digits("phoneNumber", in.PhoneNumber)
	if in.Email != nil {
		e := normalizeEmail(*in.Email)
		if !format.ValidEmail(e) {
			invalid = append(invalid, "email")
		}
		p.Email = &e
	}
	if in.ConsultationDate != nil {
		d, ok := ParseDate(*in.ConsultationDate, "", s.loc)
		if !ok {
			invalid = append(invalid, "consultationDate")
		}
		p.ConsultationDate = &d
	}
	if in.Status != nil {
		st := Status(strings.TrimSpace(*in.Status))
		if !st.Valid() {
			invalid = append(invalid, "status")
		}
		p.Status = &st
	}
	if len(invalid) > 0 {
		return Patch{}, &ValidationError{Fields: invalid, Reason: "campos inválidos"}
	}
	return p, nil
}

// Override grava qualquer status, inclusive saindo de estados finais. Exige motivo e fica no audit.
func (s *Service) Override(ctx context.Context, id string, to Status, reason string) (*Consultation, error) {
	reason = strings.TrimSpace(reason)
	var invalid []string
	if !to.Valid() {
		invalid = append(invalid, "status")
	}
	if reason == "" {
		invalid = append(invalid, "reason")
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Fields: invalid, Reason: "campos inválidos"}
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == to {
		return cur, nil
	}
	from := cur.Status
	if err := s.apply(ctx, id, Patch{Status: &to}, &from); err != nil {
		return nil, err
	}
	cur.Status = to
	metrics.StatusTransitions.WithLabelValues(string(from), string(to), "override").Inc()
	s.record(ctx, AuditEvent{
		Action:         AuditStatusForced,
		ConsultationID: id,
		FromStatus:     from,
		ToStatus:       to,
		Reason:         reason,
	}, SourceStaff)
	s.publish(ctx)
	return cur, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{Key: id}
		}
		s.log.WithError(err).WithField("consultation_id", id).Error("falha ao excluir consulta")
		return fmt.Errorf("delete consultation: %w", err)
	}
	s.record(ctx, AuditEvent{Action: AuditDeleted, ConsultationID: id}, SourceStaff)
	s.publish(ctx)
	return nil
}

// ResolveByToken busca a consulta do link. Tokens já usados continuam resolvendo.
func (s *Service) ResolveByToken(ctx context.Context, token string) (*Consultation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &NotFoundError{Key: token}
	}
	list, err := s.store.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	switch len(list) {
	case 0:
		return nil, &NotFoundError{Key: token}
	case 1:
		c := list[0]
		return &c, nil
	default:
		s.log.WithField("matches", len(list)).Error("token de confirmação duplicado")
		return nil, &IntegrityError{Token: token, Count: len(list)}
	}
}

// Confirm é a resposta positiva do paciente: Confirmação Pendente -> Aguardando.
func (s *Service) Confirm(ctx context.Context, token string) (*Consultation, error) {
	return s.answer(ctx, token, EventConfirm, AuditConfirmed)
}

// Decline é a recusa do paciente: Confirmação Pendente -> Cancelado.
func (s *Service) Decline(ctx context.Context, token string) (*Consultation, error) {
	return s.answer(ctx, token, EventDecline, AuditDeclined)
}

func (s *Service) answer(ctx context.Context, token string, ev Event, action string) (*Consultation, error) {
	c, err := s.ResolveByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if c.ConsumedAt != nil {
		return nil, &NotFoundError{Key: token}
	}
	to, err := Transition(c.Status, ev)
	if err != nil {
		return nil, err
	}
	from := c.Status
	now := s.now()
	if err := s.apply(ctx, c.ID, Patch{Status: &to, ConsumedAt: &now}, &from); err != nil {
		// outra resposta pelo mesmo link ganhou a corrida; para o paciente o link já foi usado
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, &NotFoundError{Key: token}
		}
		return nil, err
	}
	c.Status, c.ConsumedAt = to, &now
	metrics.StatusTransitions.WithLabelValues(string(from), string(to), "patient").Inc()
	s.record(ctx, AuditEvent{Action: action, ConsultationID: c.ID, FromStatus: from, ToStatus: to}, SourcePatient)
	s.publish(ctx)
	return c, nil
}

// Resend reenvia o link de confirmação de uma consulta ainda pendente.
func (s *Service) Resend(ctx context.Context, c Consultation) error {
	if s.notifier == nil {
		return nil
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.SendConfirmationLink(sendCtx, c); err != nil {
		return err
	}
	s.record(ctx, AuditEvent{Action: AuditReminderSent, ConsultationID: c.ID, FromStatus: c.Status, ToStatus: c.Status}, SourceSystem)
	return nil
}

func (s *Service) apply(ctx context.Context, id string, p Patch, expected *Status) error {
	err := s.store.Update(ctx, id, p, expected)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return &NotFoundError{Key: id}
	case errors.Is(err, ErrConflict):
		s.log.WithField("consultation_id", id).Warn("status alterado por outra requisição")
		return &ConflictError{ID: id}
	default:
		s.log.WithError(err).WithField("consultation_id", id).Error("falha ao atualizar consulta")
		return fmt.Errorf("update consultation: %w", err)
	}
}

// dispatch roda numa goroutine com timeout próprio, desligada do contexto da requisição.
// Wait e Close esperam os envios pendentes.
func (s *Service) dispatch(c Consultation) {
	if s.notifier == nil {
		return
	}
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.SendConfirmationLink(ctx, c); err != nil {
			s.log.WithError(err).WithField("consultation_id", c.ID).Warn("link de confirmação não enviado")
		}
	}()
}

func (s *Service) publish(ctx context.Context) {
	if s.hub.len() == 0 {
		return
	}
	seq := s.hub.next()
	list, err := s.store.List(context.WithoutCancel(ctx))
	if err != nil {
		s.log.WithError(err).Warn("snapshot para assinantes falhou")
		return
	}
	s.hub.broadcast(seq, list)
}

func (s *Service) record(ctx context.Context, ev AuditEvent, source string) {
	ev.Source = source
	ev.CreatedAt = s.now()
	if source == SourceStaff {
		if c := auth.ClaimsFrom(ctx); c != nil {
			ev.ActorID, ev.ActorEmail = c.UserID, c.Email
		}
	}
	s.audLog.Audit(ev.ActorEmail, ev.Action, "consultation:"+ev.ConsultationID, true, map[string]interface{}{
		"source": ev.Source,
		"from":   ev.FromStatus,
		"to":     ev.ToStatus,
		"reason": ev.Reason,
	})
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordAudit(context.WithoutCancel(ctx), ev); err != nil {
		s.log.WithError(err).WithField("action", ev.Action).Warn("falha ao gravar audit")
	}
}
