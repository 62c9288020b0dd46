package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/doutoragenda/backend/internal/billing"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/doutoragenda/backend/internal/testutil"
	"github.com/doutoragenda/backend/internal/whatsapp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockLister struct {
	rows []repo.PendingBalanceRow
	err  error
}

func (m *mockLister) ListPendingBalances(context.Context, *gorm.DB, time.Time, *uuid.UUID) ([]repo.PendingBalanceRow, error) {
	return m.rows, m.err
}

type mockSender struct {
	mu        sync.Mutex
	calls     []whatsapp.BalanceReminder
	failIndex int
}

func (m *mockSender) SendBalanceReminder(_ context.Context, r whatsapp.BalanceReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.calls)
	m.calls = append(m.calls, r)
	if idx == m.failIndex {
		return errors.New("twilio 400")
	}
	return nil
}

var date = time.Date(2025, 2, 12, 0, 0, 0, 0, time.UTC)

func rows(n int) []repo.PendingBalanceRow {
	out := make([]repo.PendingBalanceRow, n)
	for i := range out {
		out[i] = repo.PendingBalanceRow{
			AppointmentID:   uuid.New(),
			PatientName:     "Paciente",
			PatientPhone:    "+551199999000" + string(rune('0'+i)),
			ClinicName:      "Clínica",
			StartTime:       "10:00:00",
			RemainingAmount: 7500,
		}
	}
	return out
}

func TestRun_NoDBNoLister(t *testing.T) {
	sum, err := (&Job{}).Run(context.Background(), date, nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{Date: "2025-02-12"}, sum)
}

func TestRun_ListerError(t *testing.T) {
	j := &Job{Lister: &mockLister{err: errors.New("db error")}, Sender: &mockSender{failIndex: -1}}
	_, err := j.Run(context.Background(), date, nil)
	assert.Error(t, err)
}

func TestRun_SenderNilCountsSkipped(t *testing.T) {
	j := &Job{Lister: &mockLister{rows: rows(2)}}
	sum, err := j.Run(context.Background(), date, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Pending)
	assert.Equal(t, 0, sum.Sent)
	assert.Equal(t, 2, sum.Skipped)
}

func TestRun_AllSent(t *testing.T) {
	sender := &mockSender{failIndex: -1}
	j := &Job{Lister: &mockLister{rows: rows(2)}, Sender: sender}
	sum, err := j.Run(context.Background(), date, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sent)
	require.Len(t, sender.calls, 2)
	// reminder date format: 02/01/2006
	assert.Equal(t, "12/02/2025", sender.calls[0].Date)
	assert.Equal(t, "10:00", sender.calls[0].Time)
	assert.Equal(t, "R$ 75,00", sender.calls[0].Amount)
}

func TestRun_PartialFail(t *testing.T) {
	j := &Job{Lister: &mockLister{rows: rows(3)}, Sender: &mockSender{failIndex: 1}}
	sum, err := j.Run(context.Background(), date, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 1, sum.Skipped)
}

func TestRun_WithDatabaseWritesAudit(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLite(t)
	f := testutil.NewFixture(t, db, 15000, date)
	res, err := billing.Reconcile(15000, []billing.Tender{{Method: billing.MethodCash, Amount: 5000}})
	require.NoError(t, err)
	_, _, err = repo.ReplacePayment(ctx, db, f.Clinic.ID, f.Appointment.ID, nil, res)
	require.NoError(t, err)

	sender := &mockSender{failIndex: -1}
	sum, err := (&Job{DB: db, Sender: sender}).Run(ctx, date, &f.Clinic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "R$ 100,00", sender.calls[0].Amount)

	events, err := repo.AuditEventsByResource(ctx, db, f.Clinic.ID, f.Appointment.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, repo.AuditPaymentReminderSent, events[0].Action)
}

func TestDefaultSender(t *testing.T) {
	assert.Nil(t, DefaultSender(whatsapp.Config{AccountSid: "sid", AuthToken: "token"}))
	assert.NotNil(t, DefaultSender(whatsapp.Config{AccountSid: "sid", AuthToken: "token", From: "whatsapp:+15551234567"}))
}
