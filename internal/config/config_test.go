package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func lookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	c := FromLookup(lookup(nil))
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, 30*time.Second, c.RequestTimeout)
	assert.Equal(t, 10*time.Second, c.WorkflowWebhookTimeout)
	assert.Equal(t, 24*time.Hour, c.IdempotencyTTL)
	assert.Equal(t, []string{"http://localhost:5173"}, c.CORSOrigins)
	assert.GreaterOrEqual(t, len(c.JWTSecret), 32)
	assert.Empty(t, c.WorkflowWebhookURL)
	assert.False(t, c.SeedDemo)
	assert.Equal(t, 1, c.ReminderDaysAhead)
}

func TestFromLookup_Overrides(t *testing.T) {
	c := FromLookup(lookup(map[string]string{
		"PORT":                         "9000",
		"CORS_ORIGINS":                 "https://a.test, https://b.test ,",
		"JWT_SECRET":                   "short",
		"SMTP_PORT":                    "587",
		"SMTP_USER":                    "mailer",
		"WORKFLOW_WEBHOOK_URL":         "https://n8n.test/webhook/paid",
		"WORKFLOW_WEBHOOK_TIMEOUT_SEC": "-3",
		"APP_PUBLIC_URL":               "https://app.test/",
		"SEED_DEMO":                    "true",
		"REMINDER_CRON_TZ":             "Nowhere/Invalid",
		"REMINDER_DAYS_AHEAD":          "0",
	}))
	assert.Equal(t, "9000", c.Port)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, c.CORSOrigins)
	assert.Equal(t, "default-secret-min-32-chars-required!!", string(c.JWTSecret))
	assert.Equal(t, 10*time.Second, c.WorkflowWebhookTimeout)
	assert.Equal(t, "https://app.test", c.AppPublicURL)
	assert.True(t, c.SeedDemo)
	assert.Equal(t, time.UTC, c.ReminderLocation())
	assert.Equal(t, 1, c.ReminderDaysAhead)

	e := c.Email()
	assert.Equal(t, 587, e.Port)
	assert.Equal(t, "mailer", e.User)
	assert.Equal(t, "localhost", e.Host)
}

func TestWhatsAppConfig(t *testing.T) {
	c := FromLookup(lookup(map[string]string{
		"TWILIO_ACCOUNT_SID":   "AC123",
		"TWILIO_AUTH_TOKEN":    "tok",
		"TWILIO_WHATSAPP_FROM": "whatsapp:+14155238886",
	}))
	w := c.WhatsApp()
	assert.True(t, w.Configured())
	assert.Equal(t, "AC123", w.AccountSid)

	assert.False(t, FromLookup(lookup(nil)).WhatsApp().Configured())
}
