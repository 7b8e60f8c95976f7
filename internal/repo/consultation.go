package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/crypto"
)

const consultationsChannel = "consultations_changed"

// ConsultationRow é a linha da tabela consultations.
type ConsultationRow struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	PatientName       string     `gorm:"column:patient_name"`
	Document          string     `gorm:"column:document"`
	Email             string     `gorm:"column:email"`
	PhoneNumber       string     `gorm:"column:phone_number"`
	ConsultationType  string     `gorm:"column:consultation_type"`
	ProfessionalName  string     `gorm:"column:professional_name"`
	ConsultationDate  time.Time  `gorm:"column:consultation_date"`
	Status            string     `gorm:"column:status"`
	ConfirmationToken string     `gorm:"column:confirmation_token"`
	ConsumedAt        *time.Time `gorm:"column:consumed_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (ConsultationRow) TableName() string { return "consultations" }

func (r ConsultationRow) toDomain() consultation.Consultation {
	return consultation.Consultation{
		ID:                r.ID.String(),
		PatientName:       r.PatientName,
		Document:          r.Document,
		Email:             r.Email,
		PhoneNumber:       r.PhoneNumber,
		ConsultationType:  r.ConsultationType,
		ProfessionalName:  r.ProfessionalName,
		ConsultationDate:  r.ConsultationDate,
		Status:            consultation.Status(r.Status),
		ConfirmationToken: r.ConfirmationToken,
		ConsumedAt:        r.ConsumedAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func rowsToDomain(rows []ConsultationRow) []consultation.Consultation {
	out := make([]consultation.Consultation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// CreateConsultation insere a consulta e preenche ID/CreatedAt/UpdatedAt.
// Token repetido (índice único) retorna consultation.ErrDuplicateToken.
func CreateConsultation(ctx context.Context, db *gorm.DB, c *consultation.Consultation) error {
	id := uuid.New()
	if c.ID != "" {
		parsed, err := uuid.Parse(c.ID)
		if err != nil {
			return fmt.Errorf("consultation id: %w", err)
		}
		id = parsed
	}
	now := time.Now().UTC()
	row := ConsultationRow{
		ID:                id,
		PatientName:       c.PatientName,
		Document:          c.Document,
		Email:             c.Email,
		PhoneNumber:       c.PhoneNumber,
		ConsultationType:  c.ConsultationType,
		ProfessionalName:  c.ProfessionalName,
		ConsultationDate:  c.ConsultationDate,
		Status:            string(c.Status),
		ConfirmationToken: c.ConfirmationToken,
		ConsumedAt:        c.ConsumedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return consultation.ErrDuplicateToken
		}
		return err
	}
	c.ID = row.ID.String()
	c.CreatedAt, c.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func GetConsultation(ctx context.Context, db *gorm.DB, id string) (*consultation.Consultation, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, consultation.ErrNotFound
	}
	var row ConsultationRow
	err = db.WithContext(ctx).Where("id = ?", uid).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, consultation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c := row.toDomain()
	return &c, nil
}

func ListConsultations(ctx context.Context, db *gorm.DB) ([]consultation.Consultation, error) {
	var rows []ConsultationRow
	if err := db.WithContext(ctx).Order("consultation_date, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToDomain(rows), nil
}

// ListConsultationsBetween retorna consultas com consultation_date em [from, to) e status informado.
func ListConsultationsBetween(ctx context.Context, db *gorm.DB, from, to time.Time, status consultation.Status) ([]consultation.Consultation, error) {
	var rows []ConsultationRow
	err := db.WithContext(ctx).
		Where("consultation_date >= ? AND consultation_date < ?", from, to).
		Where("status = ?", string(status)).
		Order("consultation_date, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToDomain(rows), nil
}

func FindConsultationsByToken(ctx context.Context, db *gorm.DB, token string) ([]consultation.Consultation, error) {
	var rows []ConsultationRow
	if err := db.WithContext(ctx).Where("confirmation_token = ?", token).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToDomain(rows), nil
}

// UpdateConsultation aplica o patch. Com expected != nil o UPDATE leva "AND status = ?",
// e zero linhas afetadas com o id existente vira consultation.ErrConflict.
func UpdateConsultation(ctx context.Context, db *gorm.DB, id string, p consultation.Patch, expected *consultation.Status) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return consultation.ErrNotFound
	}
	updates := patchColumns(p)
	updates["updated_at"] = time.Now().UTC()

	q := db.WithContext(ctx).Model(&ConsultationRow{}).Where("id = ?", uid)
	if expected != nil {
		q = q.Where("status = ?", string(*expected))
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.WithContext(ctx).Model(&ConsultationRow{}).Where("id = ?", uid).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return consultation.ErrNotFound
	}
	return consultation.ErrConflict
}

func DeleteConsultation(ctx context.Context, db *gorm.DB, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return consultation.ErrNotFound
	}
	res := db.WithContext(ctx).Where("id = ?", uid).Delete(&ConsultationRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return consultation.ErrNotFound
	}
	return nil
}

func patchColumns(p consultation.Patch) map[string]interface{} {
	m := make(map[string]interface{})
	if p.PatientName != nil {
		m["patient_name"] = *p.PatientName
	}
	if p.Document != nil {
		m["document"] = *p.Document
	}
	if p.Email != nil {
		m["email"] = *p.Email
	}
	if p.PhoneNumber != nil {
		m["phone_number"] = *p.PhoneNumber
	}
	if p.ConsultationType != nil {
		m["consultation_type"] = *p.ConsultationType
	}
	if p.ProfessionalName != nil {
		m["professional_name"] = *p.ProfessionalName
	}
	if p.ConsultationDate != nil {
		m["consultation_date"] = *p.ConsultationDate
	}
	if p.Status != nil {
		m["status"] = string(*p.Status)
	}
	if p.ConsumedAt != nil {
		m["consumed_at"] = *p.ConsumedAt
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ConsultationStore adapta as funções acima para consultation.Store.
// Com pool != nil também implementa consultation.ChangeFeed via LISTEN/NOTIFY, com uma
// única conexão do pool por store.
// Com cipher configurado o documento é gravado cifrado e decifrado na leitura.
type ConsultationStore struct {
	db     *gorm.DB
	pool   *pgxpool.Pool
	cipher *crypto.FieldCipher
	log    *logrus.Entry
}

func NewConsultationStore(db *gorm.DB, pool *pgxpool.Pool) *ConsultationStore {
	return &ConsultationStore{db: db, pool: pool}
}

// SetLogger define onde as quedas do LISTEN são registradas.
func (s *ConsultationStore) SetLogger(l *logrus.Entry) { s.log = l }

func (s *ConsultationStore) logger() *logrus.Entry {
	if s.log != nil {
		return s.log
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "repo")
}

// SetCipher liga a cifra do documento (CPF).
func (s *ConsultationStore) SetCipher(c *crypto.FieldCipher) { s.cipher = c }

func (s *ConsultationStore) seal(doc string) (string, error) {
	if s.cipher == nil {
		return doc, nil
	}
	return s.cipher.Seal(doc)
}

func (s *ConsultationStore) open(list []consultation.Consultation) ([]consultation.Consultation, error) {
	if s.cipher == nil {
		return list, nil
	}
	for i := range list {
		doc, err := s.cipher.Open(list[i].Document)
		if err != nil {
			return nil, fmt.Errorf("consultation %s: document: %w", list[i].ID, err)
		}
		list[i].Document = doc
	}
	return list, nil
}

func (s *ConsultationStore) Create(ctx context.Context, c *consultation.Consultation) error {
	row := *c
	sealed, err := s.seal(c.Document)
	if err != nil {
		return err
	}
	row.Document = sealed
	if err := CreateConsultation(ctx, s.db, &row); err != nil {
		return err
	}
	c.ID, c.CreatedAt, c.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *ConsultationStore) Get(ctx context.Context, id string) (*consultation.Consultation, error) {
	c, err := GetConsultation(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	list, err := s.open([]consultation.Consultation{*c})
	if err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *ConsultationStore) List(ctx context.Context) ([]consultation.Consultation, error) {
	list, err := ListConsultations(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return s.open(list)
}

func (s *ConsultationStore) FindByToken(ctx context.Context, token string) ([]consultation.Consultation, error) {
	list, err := FindConsultationsByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	return s.open(list)
}

func (s *ConsultationStore) Update(ctx context.Context, id string, p consultation.Patch, expected *consultation.Status) error {
	if p.Document != nil {
		sealed, err := s.seal(*p.Document)
		if err != nil {
			return err
		}
		p.Document = &sealed
	}
	return UpdateConsultation(ctx, s.db, id, p, expected)
}

func (s *ConsultationStore) Delete(ctx context.Context, id string) error {
	return DeleteConsultation(ctx, s.db, id)
}

func (s *ConsultationStore) ListBetween(ctx context.Context, from, to time.Time, status consultation.Status) ([]consultation.Consultation, error) {
	list, err := ListConsultationsBetween(ctx, s.db, from, to, status)
	if err != nil {
		return nil, err
	}
	return s.open(list)
}

const (
	watchMinBackoff = time.Second
	watchMaxBackoff = 30 * time.Second
)

// Watch mantém uma conexão do pool em LISTEN e chama changed a cada NOTIFY. Se a conexão cair,
// reconecta com backoff exponencial e chama changed de novo para cobrir o que passou no intervalo.
// Só retorna quando ctx termina.
func (s *ConsultationStore) Watch(ctx context.Context, changed func()) error {
	if s.pool == nil {
		return errors.New("watch: pool não configurado")
	}
	backoff := watchMinBackoff
	for attempt := 0; ; attempt++ {
		listening, err := s.listen(ctx, changed, attempt > 0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if listening {
			backoff = watchMinBackoff
		}
		s.logger().WithError(err).WithField("retry_in", backoff.String()).Warn("LISTEN caiu, reconectando")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchMaxBackoff)
	}
}

// listen devolve listening=true se chegou a assinar o canal antes de falhar.
func (s *ConsultationStore) listen(ctx context.Context, changed func(), resync bool) (listening bool, err error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		// a conexão volta ao pool sem LISTEN pendente; se nem isso der, é descartada
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := pc.Exec(uctx, "UNLISTEN *"); err != nil {
			_ = pc.Conn().Close(uctx)
		}
		pc.Release()
	}()
	if _, err := pc.Exec(ctx, "LISTEN "+consultationsChannel); err != nil {
		return false, err
	}
	if resync {
		changed()
	}
	for {
		if _, err := pc.Conn().WaitForNotification(ctx); err != nil {
			return true, err
		}
		changed()
	}
}
