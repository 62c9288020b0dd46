package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/doutoragenda/backend/internal/email"
	"github.com/doutoragenda/backend/internal/whatsapp"
	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	DBMaxOpenConns  int
	JWTSecret       []byte
	CORSOrigins     []string
	RequestTimeout  time.Duration
	LogLevel        string
	AppPublicURL    string
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPass        string
	SMTPFromName    string
	SMTPFromEmail   string
	SendReceiptMail bool
	// External workflow webhook, called when a payment becomes "paid"
	WorkflowWebhookURL     string
	WorkflowWebhookSecret  string
	WorkflowWebhookTimeout time.Duration
	IdempotencyDBPath      string
	IdempotencyTTL         time.Duration
	PaymentCacheTTL        time.Duration
	// WhatsApp (Twilio) for pending balance reminders
	TwilioAccountSid   string
	TwilioAuthToken    string
	TwilioWhatsAppFrom string
	ReminderTZ         string
	ReminderAPIKey     string
	ReminderDaysAhead  int
	SeedDemo           bool
}

// Load reads .env (if present) and then the environment. Values already set
// in the environment win over .env.
func Load() *Config {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the config from any key lookup (os.LookupEnv in production, a map in tests).
func FromLookup(lookup func(string) (string, bool)) *Config {
	getEnv := func(k, d string) string {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return d
	}
	getInt := func(k string, d int) int {
		if n, err := strconv.Atoi(getEnv(k, "")); err == nil {
			return n
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if b, err := strconv.ParseBool(getEnv(k, "")); err == nil {
			return b
		}
		return d
	}
	seconds := func(k string, d int) time.Duration {
		n := getInt(k, d)
		if n <= 0 {
			n = d
		}
		return time.Duration(n) * time.Second
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if len(jwtSecret) < 32 {
		jwtSecret = "default-secret-min-32-chars-required!!"
	}
	var origins []string
	for _, o := range strings.Split(getEnv("CORS_ORIGINS", "http://localhost:5173"), ",") {
		if t := strings.TrimSpace(o); t != "" {
			origins = append(origins, t)
		}
	}
	return &Config{
		Port:                   getEnv("PORT", "8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		DBMaxOpenConns:         getInt("DB_MAX_OPEN_CONNS", 20),
		JWTSecret:              []byte(jwtSecret),
		CORSOrigins:            origins,
		RequestTimeout:         seconds("REQUEST_TIMEOUT_SEC", 30),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		AppPublicURL:           strings.TrimRight(getEnv("APP_PUBLIC_URL", "http://localhost:5173"), "/"),
		SMTPHost:               getEnv("SMTP_HOST", "localhost"),
		SMTPPort:               getInt("SMTP_PORT", 1025),
		SMTPUser:               getEnv("SMTP_USER", ""),
		SMTPPass:               getEnv("SMTP_PASS", ""),
		SMTPFromName:           getEnv("SMTP_FROM_NAME", "DoutorAgenda"),
		SMTPFromEmail:          getEnv("SMTP_FROM_EMAIL", "noreply@localhost"),
		SendReceiptMail:        getBool("SEND_RECEIPT_EMAIL", false),
		WorkflowWebhookURL:     getEnv("WORKFLOW_WEBHOOK_URL", ""),
		WorkflowWebhookSecret:  getEnv("WORKFLOW_WEBHOOK_SECRET", ""),
		WorkflowWebhookTimeout: seconds("WORKFLOW_WEBHOOK_TIMEOUT_SEC", 10),
		IdempotencyDBPath:      getEnv("IDEMPOTENCY_DB_PATH", "idempotency.db"),
		IdempotencyTTL:         time.Duration(getInt("IDEMPOTENCY_TTL_HOURS", 24)) * time.Hour,
		PaymentCacheTTL:        seconds("PAYMENT_CACHE_TTL_SEC", 30),
		TwilioAccountSid:       getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:        getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppFrom:     getEnv("TWILIO_WHATSAPP_FROM", ""),
		ReminderTZ:             getEnv("REMINDER_CRON_TZ", "America/Sao_Paulo"),
		ReminderAPIKey:         getEnv("REMINDER_API_KEY", ""),
		ReminderDaysAhead:      max(1, getInt("REMINDER_DAYS_AHEAD", 1)),
		SeedDemo:               getBool("SEED_DEMO", false),
	}
}

// Email returns the SMTP settings as a value for the email package.
func (c *Config) Email() email.Config {
	return email.Config{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		User:     c.SMTPUser,
		Pass:     c.SMTPPass,
		FromName: c.SMTPFromName,
		FromAddr: c.SMTPFromEmail,
	}
}

func (c *Config) WhatsApp() whatsapp.Config {
	return whatsapp.Config{AccountSid: c.TwilioAccountSid, AuthToken: c.TwilioAuthToken, From: c.TwilioWhatsAppFrom}
}

// ReminderLocation falls back to UTC when REMINDER_CRON_TZ is unknown.
func (c *Config) ReminderLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReminderTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
