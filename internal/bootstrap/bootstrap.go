// Package bootstrap abre o backend de armazenamento escolhido em STORE_BACKEND e monta os canais de notificação.
// Usado pelo servidor e pelo cmd/reminder.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/healapp/backend/internal/config"
	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/crypto"
	"github.com/healapp/backend/internal/docstore"
	"github.com/healapp/backend/internal/email"
	"github.com/healapp/backend/internal/logger"
	"github.com/healapp/backend/internal/migrate"
	"github.com/healapp/backend/internal/notify"
	"github.com/healapp/backend/internal/repo"
	"github.com/healapp/backend/internal/seed"
	"github.com/healapp/backend/internal/store/memory"
	"github.com/healapp/backend/internal/whatsapp"
	"github.com/healapp/backend/migrations"
)

// Audit grava e lista eventos de audit.
type Audit interface {
	consultation.AuditRecorder
	consultation.AuditReader
}

// Stores agrupa os stores de um backend. Close libera conexões; Ready é usado pelo /ready.
type Stores struct {
	Kind          string
	Consultations consultation.Store
	Users         seed.Users
	Audit         Audit

	ready func(ctx context.Context) error
	close []func()
}

func (s *Stores) Ready(ctx context.Context) error {
	if s.ready == nil {
		return nil
	}
	return s.ready(ctx)
}

func (s *Stores) Close() {
	for i := len(s.close) - 1; i >= 0; i-- {
		s.close[i]()
	}
}

// OpenStores conecta no backend configurado. Em postgres aplica as migrations antes de devolver.
func OpenStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stores, error) {
	entry := log.WithComponent("store").WithField("backend", cfg.StoreKind)
	switch cfg.StoreKind {
	case config.BackendMemory:
		entry.Warn("store em memória: os dados somem ao reiniciar")
		return &Stores{
			Kind:          cfg.StoreKind,
			Consultations: memory.NewConsultations(),
			Users:         memory.NewUsers(),
			Audit:         memory.NewAudit(),
		}, nil
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, entry)
	case config.BackendFirestore:
		return openFirestore(ctx, cfg, entry)
	}
	return nil, fmt.Errorf("STORE_BACKEND desconhecido: %q", cfg.StoreKind)
}

func openPostgres(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Stores, error) {
	level := gormlogger.Warn
	if cfg.IsProduction() {
		level = gormlogger.Error
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db.DB: %w", err)
	}
	st := &Stores{Kind: cfg.StoreKind}
	st.close = append(st.close, func() { _ = sqlDB.Close() })
	if err := sqlDB.PingContext(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate.Run(ctx, db, migrations.FS); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("config postgres: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = cfg.DBMaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("conexão postgres: %w", err)
	}
	st.close = append(st.close, pool.Close)

	consultations := repo.NewConsultationStore(db, pool)
	consultations.SetLogger(log.WithField("component", "repo"))
	if cfg.DataEncryptionKeys != "" {
		fc, err := FieldCipher(cfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		consultations.SetCipher(fc)
		log.WithField("key_version", cfg.DataEncryptionKeyVersion).Info("cifra de documento ativa")
	}
	st.Consultations = consultations
	st.Users = repo.NewUserStore(pool)
	st.Audit = repo.NewAuditStore(pool)
	st.ready = pool.Ping
	log.WithField("max_conns", poolConfig.MaxConns).Info("postgres conectado")
	return st, nil
}

func openFirestore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Stores, error) {
	client, err := docstore.NewClient(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsPath)
	if err != nil {
		return nil, err
	}
	log.WithField("project_id", cfg.FirebaseProjectID).Info("firestore conectado")
	return &Stores{
		Kind:          cfg.StoreKind,
		Consultations: docstore.NewConsultations(client).SetLogger(log.WithField("component", "docstore")),
		Users:         docstore.NewUsers(client),
		Audit:         docstore.NewAudit(client),
		ready:         func(ctx context.Context) error { return docstore.Ping(ctx, client) },
		close:         []func(){func() { _ = client.Close() }},
	}, nil
}

// FieldCipher monta a cifra a partir de DATA_ENCRYPTION_KEYS e DATA_ENCRYPTION_KEY_VERSION.
func FieldCipher(cfg *config.Config) (*crypto.FieldCipher, error) {
	keys, err := crypto.ParseKeysEnv(cfg.DataEncryptionKeys)
	if err != nil {
		return nil, fmt.Errorf("DATA_ENCRYPTION_KEYS: %w", err)
	}
	fc, err := crypto.NewFieldCipher(cfg.DataEncryptionKeyVersion, keys)
	if err != nil {
		return nil, fmt.Errorf("DATA_ENCRYPTION_KEY_VERSION: %w", err)
	}
	return fc, nil
}

// WhatsAppClient monta o cliente a partir da config. Sem relay nem Twilio o envio fica desativado.
func WhatsAppClient(cfg *config.Config) *whatsapp.Client {
	return whatsapp.NewClient(whatsapp.Config{
		RelayURL:    cfg.WhatsAppRelayURL,
		RelaySecret: cfg.WhatsAppRelaySecret,
		AccountSid:  cfg.TwilioAccountSid,
		AuthToken:   cfg.TwilioAuthToken,
		From:        cfg.TwilioWhatsAppFrom,
	})
}

// MailConfig devolve nil quando SMTP não está configurado.
func MailConfig(cfg *config.Config, log *logger.Logger) *email.Config {
	mc := &email.Config{
		Host:     cfg.SMTPHost,
		Port:     email.PortFromString(cfg.SMTPPort),
		User:     cfg.SMTPUser,
		Pass:     cfg.SMTPPass,
		FromName: cfg.SMTPFromName,
		FromAddr: cfg.SMTPFromEmail,
		Log:      log.WithComponent("email"),
	}
	if !mc.Enabled() {
		return nil
	}
	return mc
}

// Dispatcher monta o notify.Dispatcher com os canais configurados.
func Dispatcher(cfg *config.Config, log *logger.Logger) *notify.Dispatcher {
	entry := log.WithComponent("notify")
	wa := WhatsAppClient(cfg)
	if wa.Enabled() {
		entry.WithField("channel", wa.Channel()).Info("[whatsapp] envio configurado")
	} else {
		entry.Warn("[whatsapp] envio desativado: defina WHATSAPP_RELAY_URL ou as credenciais do Twilio")
	}
	var mail notify.EmailSender
	if mc := MailConfig(cfg, log); mc != nil {
		mc.LogConfigSummary()
		mail = mc
	} else {
		entry.Info("[email] envio de e-mail desativado: SMTP_HOST ou SMTP_FROM_EMAIL vazio")
	}
	return notify.NewDispatcher(cfg.AppPublicURL, wa, mail, cfg.Location(), entry)
}
