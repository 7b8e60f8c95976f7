package docstore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/healapp/backend/internal/consultation"
)

// consultationDoc usa os mesmos nomes camelCase do JSON da API.
type consultationDoc struct {
	PatientName       string     `firestore:"patientName"`
	Document          string     `firestore:"document"`
	Email             string     `firestore:"email"`
	PhoneNumber       string     `firestore:"phoneNumber"`
	ConsultationType  string     `firestore:"consultationType"`
	ProfessionalName  string     `firestore:"professionalName"`
	ConsultationDate  time.Time  `firestore:"consultationDate"`
	Status            string     `firestore:"status"`
	ConfirmationToken string     `firestore:"confirmationToken"`
	ConsumedAt        *time.Time `firestore:"consumedAt,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func toDoc(c consultation.Consultation) consultationDoc {
	return consultationDoc{
		PatientName:       c.PatientName,
		Document:          c.Document,
		Email:             c.Email,
		PhoneNumber:       c.PhoneNumber,
		ConsultationType:  c.ConsultationType,
		ProfessionalName:  c.ProfessionalName,
		ConsultationDate:  c.ConsultationDate.UTC(),
		Status:            string(c.Status),
		ConfirmationToken: c.ConfirmationToken,
		ConsumedAt:        c.ConsumedAt,
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
}

func (d consultationDoc) toDomain(id string) consultation.Consultation {
	return consultation.Consultation{
		ID:                id,
		PatientName:       d.PatientName,
		Document:          d.Document,
		Email:             d.Email,
		PhoneNumber:       d.PhoneNumber,
		ConsultationType:  d.ConsultationType,
		ProfessionalName:  d.ProfessionalName,
		ConsultationDate:  d.ConsultationDate,
		Status:            consultation.Status(d.Status),
		ConfirmationToken: d.ConfirmationToken,
		ConsumedAt:        d.ConsumedAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// patchUpdates converte o patch em updates de campo; UpdatedAt vai sempre junto.
func patchUpdates(p consultation.Patch, now time.Time) []firestore.Update {
	var ups []firestore.Update
	add := func(path string, v interface{}) { ups = append(ups, firestore.Update{Path: path, Value: v}) }
	if p.PatientName != nil {
		add("patientName", *p.PatientName)
	}
	if p.Document != nil {
		add("document", *p.Document)
	}
	if p.Email != nil {
		add("email", *p.Email)
	}
	if p.PhoneNumber != nil {
		add("phoneNumber", *p.PhoneNumber)
	}
	if p.ConsultationType != nil {
		add("consultationType", *p.ConsultationType)
	}
	if p.ProfessionalName != nil {
		add("professionalName", *p.ProfessionalName)
	}
	if p.ConsultationDate != nil {
		add("consultationDate", p.ConsultationDate.UTC())
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.ConsumedAt != nil {
		add("consumedAt", p.ConsumedAt.UTC())
	}
	add("updatedAt", now.UTC())
	return ups
}

func decodeAll(docs []*firestore.DocumentSnapshot) ([]consultation.Consultation, error) {
	out := make([]consultation.Consultation, 0, len(docs))
	for _, snap := range docs {
		var d consultationDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, err
		}
		out = append(out, d.toDomain(snap.Ref.ID))
	}
	return out, nil
}

// Consultations implementa consultation.Store e consultation.ChangeFeed.
type Consultations struct {
	client *firestore.Client
	now    func() time.Time
	log    *logrus.Entry
}

func NewConsultations(client *firestore.Client) *Consultations {
	return &Consultations{client: client, now: time.Now}
}

// SetLogger define onde as quedas do stream de snapshots são registradas.
func (s *Consultations) SetLogger(l *logrus.Entry) *Consultations {
	s.log = l
	return s
}

func (s *Consultations) logger() *logrus.Entry {
	if s.log != nil {
		return s.log
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "docstore")
}

func (s *Consultations) col() *firestore.CollectionRef {
	return s.client.Collection(consultationsCollection)
}

// Create verifica o token e grava na mesma transação (Firestore não tem índice único).
func (s *Consultations) Create(ctx context.Context, c *consultation.Consultation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	ref := s.col().Doc(c.ID)
	q := s.col().Where("confirmationToken", "==", c.ConfirmationToken).Limit(1)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return consultation.ErrDuplicateToken
		}
		return tx.Create(ref, toDoc(*c))
	})
}

func (s *Consultations) Get(ctx context.Context, id string) (*consultation.Consultation, error) {
	snap, err := s.col().Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, consultation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d consultationDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	c := d.toDomain(snap.Ref.ID)
	return &c, nil
}

func (s *Consultations) List(ctx context.Context) ([]consultation.Consultation, error) {
	docs, err := s.col().OrderBy("consultationDate", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

func (s *Consultations) FindByToken(ctx context.Context, token string) ([]consultation.Consultation, error) {
	docs, err := s.col().Where("confirmationToken", "==", token).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

// ListBetween filtra por data no servidor e por status em memória (evita índice composto).
func (s *Consultations) ListBetween(ctx context.Context, from, to time.Time, st consultation.Status) ([]consultation.Consultation, error) {
	docs, err := s.col().
		Where("consultationDate", ">=", from.UTC()).
		Where("consultationDate", "<", to.UTC()).
		OrderBy("consultationDate", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	all, err := decodeAll(docs)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Status == st {
			out = append(out, c)
		}
	}
	return out, nil
}

// Update lê e grava dentro de uma transação; status divergente de expected retorna ErrConflict.
func (s *Consultations) Update(ctx context.Context, id string, p consultation.Patch, expected *consultation.Status) error {
	ref := s.col().Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return consultation.ErrNotFound
		}
		if err != nil {
			return err
		}
		if expected != nil {
			cur, err := snap.DataAt("status")
			if err != nil {
				return err
			}
			if st, _ := cur.(string); consultation.Status(st) != *expected {
				return consultation.ErrConflict
			}
		}
		return tx.Update(ref, patchUpdates(p, s.now()))
	})
}

func (s *Consultations) Delete(ctx context.Context, id string) error {
	_, err := s.col().Doc(id).Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return consultation.ErrNotFound
	}
	return err
}

const (
	watchMinBackoff = time.Second
	watchMaxBackoff = 30 * time.Second
)

// Watch escuta snapshots da coleção e chama changed a cada um, inclusive o primeiro de cada
// conexão. Se o stream cair, reabre com backoff exponencial. Só retorna quando ctx termina.
func (s *Consultations) Watch(ctx context.Context, changed func()) error {
	backoff := watchMinBackoff
	for {
		received, err := s.listen(ctx, changed)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			backoff = watchMinBackoff
		}
		s.logger().WithError(err).WithField("retry_in", backoff.String()).Warn("snapshots interrompidos, reconectando")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchMaxBackoff)
	}
}

func (s *Consultations) listen(ctx context.Context, changed func()) (received bool, err error) {
	it := s.col().Snapshots(ctx)
	defer it.Stop()
	for {
		if _, err := it.Next(); err != nil {
			return received, err
		}
		received = true
		changed()
	}
}

var _ consultation.Store = (*Consultations)(nil)
var _ consultation.ChangeFeed = (*Consultations)(nil)
