package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com"

// Config holds Twilio credentials. Phone numbers are E.164; From is the
// Twilio WhatsApp sender (e.g. whatsapp:+14155238886).
type Config struct {
	AccountSid string
	AuthToken  string
	From       string
	// BaseURL overrides the Twilio API host (tests).
	BaseURL string
}

func (c Config) Configured() bool {
	return c.AccountSid != "" && c.AuthToken != "" && c.From != ""
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

// BalanceReminder is the content of a pending balance message.
type BalanceReminder struct {
	Phone       string
	PatientName string
	ClinicName  string
	Date        string // dd/mm/yyyy
	Time        string // HH:MM
	Amount      string // formatted, e.g. "R$ 75,00"
}

func (r BalanceReminder) text() string {
	return fmt.Sprintf("Olá! A consulta de %s em %s no dia %s às %s tem saldo pendente de %s. "+
		"Você pode quitar na recepção ou por PIX.", r.PatientName, r.ClinicName, r.Date, r.Time, r.Amount)
}

// SendBalanceReminder sends the message. Without credentials it is a no-op returning nil.
func (c *Client) SendBalanceReminder(ctx context.Context, r BalanceReminder) error {
	if !c.cfg.Configured() {
		return nil
	}
	return c.send(ctx, r.Phone, r.text())
}

func (c *Client) send(ctx context.Context, to, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("whatsapp: destinatário vazio")
	}
	if !strings.HasPrefix(to, "whatsapp:+") {
		to = "whatsapp:+" + strings.TrimLeft(to, "+")
	}
	from := c.cfg.From
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)
	reqURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.AccountSid))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSid, c.cfg.AuthToken)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	slurp, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("whatsapp: %s: read body: %w", resp.Status, err)
	}
	return fmt.Errorf("whatsapp: %s: %s", resp.Status, string(slurp))
}
