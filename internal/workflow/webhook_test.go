package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/doutoragenda/backend/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paidEvent = Event{
	Status:          "paid",
	AppointmentID:   "a-1",
	PatientName:     "Maria Silva",
	DoctorName:      "Dra. Ana",
	ClinicName:      "Clínica Centro",
	Price:           15000,
	AppointmentDate: "2026-03-10",
	AppointmentTime: "14:30",
}

func TestSend_PostsSignedJSON(t *testing.T) {
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(crypto.SignatureHeader)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "hook-secret", time.Second)
	require.NoError(t, c.Send(context.Background(), paidEvent))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "appointment_status_change", got["event"])
	assert.Equal(t, "paid", got["status"])
	assert.Equal(t, float64(15000), got["price"])
	assert.Equal(t, "14:30", got["appointmentTime"])
	assert.True(t, crypto.Verify([]byte("hook-secret"), body, sig))
}

func TestSend_NoSecretNoSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(crypto.SignatureHeader))
	}))
	defer srv.Close()
	require.NoError(t, NewClient(srv.URL, "", time.Second).Send(context.Background(), paidEvent))
}

func TestSend_StatusErrors(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusMovedPermanently} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if code == http.StatusMovedPermanently {
				w.Header().Set("Location", "/elsewhere")
			}
			w.WriteHeader(code)
		}))
		c := NewClient(srv.URL, "", time.Second)
		c.HTTP.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		err := c.Send(context.Background(), paidEvent)
		srv.Close()

		var ne *NotificationError
		require.True(t, errors.As(err, &ne), "code %d", code)
		assert.Equal(t, KindStatus, ne.Kind)
		assert.Equal(t, code, ne.StatusCode)
	}
}

func TestSend_TransportErrorAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", 50*time.Millisecond).Send(context.Background(), paidEvent)
	var ne *NotificationError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, KindTransport, ne.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSend_Disabled(t *testing.T) {
	assert.ErrorIs(t, NewClient("", "", 0).Send(context.Background(), paidEvent), ErrDisabled)
	var c *Client
	assert.ErrorIs(t, c.Send(context.Background(), paidEvent), ErrDisabled)
}
