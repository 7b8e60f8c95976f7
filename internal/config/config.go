package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

type Config struct {
	Port      string `mapstructure:"PORT"`
	Env       string `mapstructure:"ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	StoreKind string `mapstructure:"STORE_BACKEND"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`

	// Cifra do CPF no postgres: "v1:<base64>,v2:<base64>"; vazio desliga
	DataEncryptionKeys       string `mapstructure:"DATA_ENCRYPTION_KEYS"`
	DataEncryptionKeyVersion string `mapstructure:"DATA_ENCRYPTION_KEY_VERSION"`

	FirebaseProjectID       string `mapstructure:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsPath string `mapstructure:"FIREBASE_CREDENTIALS_PATH"`

	JWTSecret       []byte   `mapstructure:"-"`
	SessionTTLHours int      `mapstructure:"SESSION_TTL_HOURS"`
	CORSOrigins     []string `mapstructure:"-"`
	AppPublicURL    string   `mapstructure:"APP_PUBLIC_URL"`

	// Sem isso, /api/signup exige sessão ADMIN
	AllowPublicSignup bool `mapstructure:"ALLOW_PUBLIC_SIGNUP"`

	// WhatsApp: relay tem prioridade; Twilio como alternativa
	WhatsAppRelayURL     string `mapstructure:"WHATSAPP_RELAY_URL"`
	WhatsAppRelaySecret  string `mapstructure:"WHATSAPP_RELAY_SECRET"`
	WhatsAppDeepLinkHost string `mapstructure:"WHATSAPP_DEEPLINK_HOST"`
	TwilioAccountSid     string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppFrom   string `mapstructure:"TWILIO_WHATSAPP_FROM"`

	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      string `mapstructure:"SMTP_PORT"`
	SMTPUser      string `mapstructure:"SMTP_USER"`
	SMTPPass      string `mapstructure:"SMTP_PASS"`
	SMTPFromName  string `mapstructure:"SMTP_FROM_NAME"`
	SMTPFromEmail string `mapstructure:"SMTP_FROM_EMAIL"`

	NotifyTimeoutSec  int    `mapstructure:"NOTIFY_TIMEOUT_SEC"`
	RequestTimeoutSec int    `mapstructure:"REQUEST_TIMEOUT_SEC"`
	Timezone          string `mapstructure:"TIMEZONE"`
	ReminderDaysAhead int    `mapstructure:"REMINDER_DAYS_AHEAD"`

	// Admin criado pelo seed quando a tabela de usuários está vazia
	SeedAdminEmail    string `mapstructure:"SEED_ADMIN_EMAIL"`
	SeedAdminPassword string `mapstructure:"SEED_ADMIN_PASSWORD"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_BACKEND",
	"DATABASE_URL", "DB_MAX_CONNS", "DATA_ENCRYPTION_KEYS", "DATA_ENCRYPTION_KEY_VERSION",
	"FIREBASE_PROJECT_ID", "FIREBASE_CREDENTIALS_PATH",
	"JWT_SECRET", "SESSION_TTL_HOURS", "CORS_ORIGINS", "APP_PUBLIC_URL", "ALLOW_PUBLIC_SIGNUP",
	"WHATSAPP_RELAY_URL", "WHATSAPP_RELAY_SECRET", "WHATSAPP_DEEPLINK_HOST",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_WHATSAPP_FROM",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_FROM_NAME", "SMTP_FROM_EMAIL",
	"NOTIFY_TIMEOUT_SEC", "REQUEST_TIMEOUT_SEC", "TIMEZONE", "REMINDER_DAYS_AHEAD",
	"SEED_ADMIN_EMAIL", "SEED_ADMIN_PASSWORD",
}

// Load lê .env (se existir) e as variáveis de ambiente.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DATA_ENCRYPTION_KEY_VERSION", "v1")
	v.SetDefault("SESSION_TTL_HOURS", 24)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("APP_PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("ALLOW_PUBLIC_SIGNUP", false)
	v.SetDefault("WHATSAPP_DEEPLINK_HOST", "api.whatsapp.com")
	v.SetDefault("SMTP_PORT", "1025")
	v.SetDefault("SMTP_FROM_NAME", "Heal.app")
	v.SetDefault("SMTP_FROM_EMAIL", "noreply@localhost")
	v.SetDefault("NOTIFY_TIMEOUT_SEC", 10)
	v.SetDefault("REQUEST_TIMEOUT_SEC", 30)
	v.SetDefault("TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("REMINDER_DAYS_AHEAD", 1)
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	jwtSecret := v.GetString("JWT_SECRET")
	if len(jwtSecret) < 32 {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("JWT_SECRET deve ter pelo menos 32 caracteres")
		}
		jwtSecret = "default-secret-min-32-chars-required!!"
	}
	cfg.JWTSecret = []byte(jwtSecret)

	for _, o := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		if t := strings.TrimSpace(o); t != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, t)
		}
	}
	cfg.StoreKind = strings.ToLower(strings.TrimSpace(cfg.StoreKind))
	return cfg, cfg.Validate()
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate verifica se o backend escolhido tem o que precisa.
func (c *Config) Validate() error {
	switch c.StoreKind {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL é obrigatório com STORE_BACKEND=postgres")
		}
	case BackendFirestore:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID é obrigatório com STORE_BACKEND=firestore")
		}
	default:
		return fmt.Errorf("STORE_BACKEND inválido: %q (memory|postgres|firestore)", c.StoreKind)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE inválido: %w", err)
	}
	return nil
}

// Location retorna o fuso da clínica. Validate garante que carrega.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
