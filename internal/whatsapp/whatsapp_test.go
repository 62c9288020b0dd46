package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reminder = BalanceReminder{
	Phone:       "+5511999990000",
	PatientName: "Maria",
	ClinicName:  "Clínica Centro",
	Date:        "12/02/2025",
	Time:        "14:30",
	Amount:      "R$ 75,00",
}

func TestSendBalanceReminder_NotConfigured_ReturnsNil(t *testing.T) {
	// Without credentials the client is a no-op and returns nil.
	for _, cfg := range []Config{{}, {AuthToken: "t", From: "f"}, {AccountSid: "s", AuthToken: "t"}} {
		assert.NoError(t, NewClient(cfg).SendBalanceReminder(context.Background(), reminder))
	}
}

func TestSendBalanceReminder_PostsToTwilio(t *testing.T) {
	var got struct {
		path, user, pass, to, from, body string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.user, got.pass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		got.to, got.from, got.body = r.PostForm.Get("To"), r.PostForm.Get("From"), r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(Config{AccountSid: "AC1", AuthToken: "tok", From: "+15551234567", BaseURL: srv.URL})
	require.NoError(t, c.SendBalanceReminder(context.Background(), reminder))
	assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", got.path)
	assert.Equal(t, "AC1", got.user)
	assert.Equal(t, "tok", got.pass)
	assert.Equal(t, "whatsapp:+5511999990000", got.to)
	assert.Equal(t, "whatsapp:+15551234567", got.from)
	assert.Contains(t, got.body, "R$ 75,00")
	assert.Contains(t, got.body, "14:30")
}

func TestSendBalanceReminder_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid To"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	c := NewClient(Config{AccountSid: "AC1", AuthToken: "tok", From: "whatsapp:+1555", BaseURL: srv.URL})
	err := c.SendBalanceReminder(context.Background(), reminder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid To")
}

func TestSend_EmptyPhone(t *testing.T) {
	c := NewClient(Config{AccountSid: "AC1", AuthToken: "tok", From: "whatsapp:+1555", BaseURL: "http://127.0.0.1:0"})
	r := reminder
	r.Phone = "  "
	assert.Error(t, c.SendBalanceReminder(context.Background(), r))
}
