package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"text/template"
	"time"
)

// Transport delivers a raw message; smtp.SendMail has this signature.
type Transport func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Config is passed by value everywhere; sending never reads or writes process state.
type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	FromName string
	FromAddr string
	// Transport defaults to smtp.SendMail.
	Transport Transport
}

// Stage tells where a send failed.
type Stage string

const (
	StageConfig   Stage = "config"
	StageTemplate Stage = "template"
	StageSMTP     Stage = "smtp"
)

type SendError struct {
	Stage Stage
	Err   error
}

func (e *SendError) Error() string { return fmt.Sprintf("email %s: %v", e.Stage, e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Enabled reports whether the config has enough to attempt delivery.
func (c Config) Enabled() bool { return c.Host != "" && c.FromAddr != "" }

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 25
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

func (c Config) from() string {
	if c.FromName != "" {
		return mime.QEncoding.Encode("utf-8", c.FromName) + " <" + c.FromAddr + ">"
	}
	return c.FromAddr
}

// authForSend returns nil when User is empty (e.g. MailHog), so no AUTH is sent.
func (c Config) authForSend() smtp.Auth {
	if c.User != "" {
		return smtp.PlainAuth("", c.User, c.Pass, c.Host)
	}
	return nil
}

func (c Config) check(to string) error {
	switch {
	case strings.TrimSpace(to) == "":
		return &SendError{Stage: StageConfig, Err: errors.New("destinatário de e-mail vazio")}
	case c.Host == "":
		return &SendError{Stage: StageConfig, Err: errors.New("SMTP host não configurado")}
	case c.FromAddr == "":
		return &SendError{Stage: StageConfig, Err: errors.New("SMTP remetente (From) não configurado")}
	case strings.ContainsAny(to, "\r\n"):
		return &SendError{Stage: StageConfig, Err: errors.New("destinatário inválido")}
	}
	return nil
}

func (c Config) deliver(to string, msg []byte) error {
	send := c.Transport
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(c.addr(), c.authForSend(), c.FromAddr, []string{to}, msg); err != nil {
		return &SendError{Stage: StageSMTP, Err: err}
	}
	return nil
}

func (c Config) header(buf *bytes.Buffer, to, subject string) {
	buf.WriteString("From: " + c.from() + "\r\n")
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	buf.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
}

// Send delivers a plain-text message.
func (c Config) Send(to, subject, body string) error {
	log := slog.With("component", "email", "subject", subject)
	if err := c.check(to); err != nil {
		log.Warn("email not sent", "err", err)
		return err
	}
	var buf bytes.Buffer
	c.header(&buf, to, subject)
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(body)
	if err := c.deliver(to, buf.Bytes()); err != nil {
		log.Error("email send failed", "addr", c.addr(), "err", err)
		return err
	}
	log.Info("email sent", "addr", c.addr())
	return nil
}

// SendWithAttachment delivers body plus one PDF attachment (multipart/mixed).
func (c Config) SendWithAttachment(to, subject, body, attachmentName string, attachmentPDF []byte) error {
	log := slog.With("component", "email", "subject", subject, "attachment", attachmentName)
	if err := c.check(to); err != nil {
		log.Warn("email not sent", "err", err)
		return err
	}
	boundary := "boundary-doutoragenda-pdf"
	var buf bytes.Buffer
	c.header(&buf, to, subject)
	buf.WriteString("Content-Type: multipart/mixed; boundary=" + boundary + "\r\n\r\n")
	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n--" + boundary + "\r\n")
	buf.WriteString("Content-Type: application/pdf; name=\"" + attachmentName + "\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString("Content-Disposition: attachment; filename=\"" + attachmentName + "\"\r\n\r\n")
	// RFC 2045: at most 76 characters per line
	encoded := base64.StdEncoding.EncodeToString(attachmentPDF)
	const lineLen = 76
	for i := 0; i < len(encoded); i += lineLen {
		end := min(i+lineLen, len(encoded))
		buf.WriteString(encoded[i:end] + "\r\n")
	}
	buf.WriteString("\r\n--" + boundary + "--\r\n")
	if err := c.deliver(to, buf.Bytes()); err != nil {
		log.Error("email send failed", "addr", c.addr(), "err", err)
		return err
	}
	log.Info("email sent", "addr", c.addr(), "bytes", len(attachmentPDF))
	return nil
}

func render(tpl string, data any) (string, error) {
	t, err := template.New("").Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", &SendError{Stage: StageTemplate, Err: err}
	}
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", &SendError{Stage: StageTemplate, Err: err}
	}
	return b.String(), nil
}

const testTemplate = `Olá,

Este é um e-mail de teste enviado por {{.FromName}} em {{.SentAt}}.

Servidor: {{.Addr}}
Autenticação: {{.Auth}}

Se você recebeu esta mensagem, a configuração de e-mail está correta.`

// SendTest sends a one-off diagnostic message using exactly cfg. It has no
// side effect other than the delivery itself.
func SendTest(cfg Config, to string) error {
	auth := "não"
	if cfg.User != "" {
		auth = "sim"
	}
	fromName := cfg.FromName
	if fromName == "" {
		fromName = cfg.FromAddr
	}
	body, err := render(testTemplate, map[string]string{
		"FromName": fromName,
		"SentAt":   time.Now().Format("02/01/2006 15:04"),
		"Addr":     cfg.addr(),
		"Auth":     auth,
	})
	if err != nil {
		return err
	}
	return cfg.Send(to, "Teste de e-mail - DoutorAgenda", body)
}

const receiptTemplate = `Olá, {{.PatientName}},

Confirmamos o pagamento da sua consulta em {{.ClinicName}} no dia {{.Date}}.

Valor: {{.Amount}}
{{- if .Change}}
Troco: {{.Change}}
{{- end}}

O recibo segue em anexo.`

// Receipt is what the payment receipt e-mail shows.
type Receipt struct {
	PatientName string
	ClinicName  string
	Date        string
	Amount      string
	Change      string
	FileName    string
	PDF         []byte
}

func (c Config) SendPaymentReceipt(to string, r Receipt) error {
	body, err := render(receiptTemplate, r)
	if err != nil {
		return err
	}
	return c.SendWithAttachment(to, "Recibo de pagamento - "+r.ClinicName, body, r.FileName, r.PDF)
}

// LogConfigSummary logs the SMTP config without the password.
func (c Config) LogConfigSummary() {
	log := slog.With("component", "email")
	log.Info("smtp config", "host", c.Host, "port", c.Port, "from", c.FromAddr, "auth", c.User != "")
	if !c.Enabled() {
		log.Warn("smtp host or from empty; sends will fail")
	}
}
