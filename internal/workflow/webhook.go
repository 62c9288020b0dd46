// Package workflow notifies the external workflow engine (an n8n-style webhook)
// that an appointment became fully paid.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doutoragenda/backend/internal/crypto"
)

// EventStatusChange is the only event type sent.
const EventStatusChange = "appointment_status_change"

// ErrDisabled is returned by Send when no webhook URL is configured.
var ErrDisabled = errors.New("workflow: webhook not configured")

// Event is the webhook body. Price is in cents.
type Event struct {
	Event           string `json:"event"`
	Status          string `json:"status"`
	AppointmentID   string `json:"appointmentId"`
	PatientName     string `json:"patientName"`
	DoctorName      string `json:"doctorName"`
	ClinicName      string `json:"clinicName"`
	Price           int64  `json:"price"`
	AppointmentDate string `json:"appointmentDate"` // YYYY-MM-DD
	AppointmentTime string `json:"appointmentTime"` // HH:MM
}

type Kind string

const (
	KindTransport Kind = "transport"
	KindStatus    Kind = "status"
)

// NotificationError is every failure of Send except ErrDisabled.
type NotificationError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *NotificationError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("workflow: webhook returned %d", e.StatusCode)
	}
	return fmt.Sprintf("workflow: %s: %v", e.Kind, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Notifier is what the payments service depends on.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

type Client struct {
	URL     string
	Secret  string
	Timeout time.Duration
	HTTP    *http.Client
}

func NewClient(url, secret string, timeout time.Duration) *Client {
	return &Client{URL: url, Secret: secret, Timeout: timeout, HTTP: &http.Client{}}
}

// Send posts ev once. Any 2xx is success; it never retries.
func (c *Client) Send(ctx context.Context, ev Event) error {
	if c == nil || c.URL == "" {
		return ErrDisabled
	}
	if ev.Event == "" {
		ev.Event = EventStatusChange
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return &NotificationError{Kind: KindTransport, Err: err}
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return &NotificationError{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Secret != "" {
		req.Header.Set(crypto.SignatureHeader, crypto.Sign([]byte(c.Secret), body))
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &NotificationError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NotificationError{Kind: KindStatus, StatusCode: resp.StatusCode}
	}
	return nil
}
