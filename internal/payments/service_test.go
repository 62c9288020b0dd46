package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/doutoragenda/backend/internal/billing"
	"github.com/doutoragenda/backend/internal/cache"
	"github.com/doutoragenda/backend/internal/email"
	"github.com/doutoragenda/backend/internal/metrics"
	"github.com/doutoragenda/backend/internal/repo"
	"github.com/doutoragenda/backend/internal/testutil"
	"github.com/doutoragenda/backend/internal/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []workflow.Event
	err    error
}

func (f *fakeNotifier) Send(_ context.Context, ev workflow.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeNotifier) sent() []workflow.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workflow.Event(nil), f.events...)
}

type fakeMailer struct {
	mu       sync.Mutex
	to       []string
	receipts []email.Receipt
}

func (f *fakeMailer) SendPaymentReceipt(to string, r email.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	f.receipts = append(f.receipts, r)
	return nil
}

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

type env struct {
	db       *gorm.DB
	svc      *Service
	notifier *fakeNotifier
	mailer   *fakeMailer
	metrics  *metrics.Metrics
	fx       testutil.Fixture
}

func newEnv(t *testing.T, price int64) *env {
	t.Helper()
	db := testutil.OpenSQLite(t)
	e := &env{db: db, notifier: &fakeNotifier{}, mailer: &fakeMailer{}, metrics: metrics.New()}
	e.fx = testutil.NewFixture(t, db, price, day)
	e.svc = NewService(db, Options{
		Notifier:      e.notifier,
		Mailer:        e.mailer,
		Metrics:       e.metrics,
		AppPublicURL:  "https://app.test",
		NotifyTimeout: time.Second,
	})
	t.Cleanup(e.svc.Wait)
	return e
}

func (e *env) submit(tenders ...billing.Tender) Submission {
	return Submission{
		ClinicID:      e.fx.Clinic.ID,
		AppointmentID: e.fx.Appointment.ID,
		ActorID:       uuid.New(),
		ActorRole:     "FRONT_DESK",
		RequestID:     "req-" + uuid.NewString()[:8],
		Tenders:       tenders,
	}
}

func counter(t *testing.T, m *metrics.Metrics, name, labelValue string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, mt := range f.GetMetric() {
			if labelValue == "" || (len(mt.GetLabel()) > 0 && mt.GetLabel()[0].GetValue() == labelValue) {
				return mt.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestProcess_PaidWithChangeNotifiesWorkflow(t *testing.T) {
	e := newEnv(t, 15000)
	out, err := e.svc.Process(context.Background(), e.submit(billing.Tender{Method: billing.MethodCash, Amount: 20000}))
	require.NoError(t, err)
	e.svc.Wait()

	assert.Equal(t, billing.StatusPaid, out.Result.Status)
	assert.Equal(t, int64(5000), out.Result.ChangeAmount)
	assert.Nil(t, out.Replaced)

	events := e.notifier.sent()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "appointment_status_change", ev.Event)
	assert.Equal(t, "paid", ev.Status)
	assert.Equal(t, int64(15000), ev.Price)
	assert.Equal(t, "Maria Silva", ev.PatientName)
	assert.Equal(t, "2026-03-10", ev.AppointmentDate)
	assert.Equal(t, "14:30", ev.AppointmentTime)

	require.Len(t, e.mailer.to, 1)
	assert.Equal(t, "paciente@example.com", e.mailer.to[0])
	assert.Equal(t, "R$ 50,00", e.mailer.receipts[0].Change)

	assert.Equal(t, 1.0, counter(t, e.metrics, metrics.MetricPaymentsReconciled, "paid"))
	assert.Equal(t, 5000.0, counter(t, e.metrics, metrics.MetricChangeCents, ""))
	assert.Equal(t, 1.0, counter(t, e.metrics, metrics.MetricWorkflowNotifications, metrics.ResultSent))
}

func TestProcess_PartialDoesNotNotify(t *testing.T) {
	e := newEnv(t, 15000)
	out, err := e.svc.Process(context.Background(), e.submit(billing.Tender{Method: billing.MethodCash, Amount: 5000}))
	require.NoError(t, err)
	e.svc.Wait()
	assert.Equal(t, billing.StatusPartial, out.Result.Status)
	assert.Equal(t, int64(10000), out.Result.RemainingAmount)
	assert.Empty(t, e.notifier.sent())
	assert.Empty(t, e.mailer.to)
}

func TestProcess_NotificationFailureIsSwallowed(t *testing.T) {
	e := newEnv(t, 15000)
	e.notifier.err = &workflow.NotificationError{Kind: workflow.KindStatus, StatusCode: 404}
	out, err := e.svc.Process(context.Background(), e.submit(billing.Tender{Method: billing.MethodPix, Amount: 15000}))
	require.NoError(t, err)
	e.svc.Wait()
	assert.Equal(t, billing.StatusPaid, out.Result.Status)

	stored, err := e.svc.Get(context.Background(), e.fx.Clinic.ID, e.fx.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, "paid", stored.Status)
	assert.Equal(t, 1.0, counter(t, e.metrics, metrics.MetricWorkflowNotifications, metrics.ResultFailed))
}

func TestProcess_NotificationOutlivesRequestContext(t *testing.T) {
	e := newEnv(t, 15000)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := e.svc.Process(ctx, e.submit(billing.Tender{Method: billing.MethodCash, Amount: 15000}))
	require.NoError(t, err)
	cancel()
	e.svc.Wait()
	assert.Len(t, e.notifier.sent(), 1)
}

func TestProcess_OverwriteIsAudited(t *testing.T) {
	e := newEnv(t, 15000)
	ctx := context.Background()
	_, err := e.svc.Process(ctx, e.submit(billing.Tender{Method: billing.MethodCash, Amount: 5000, Note: "sinal"}))
	require.NoError(t, err)
	out, err := e.svc.Process(ctx, e.submit(
		billing.Tender{Method: billing.MethodPix, Amount: 10000},
		billing.Tender{Method: billing.MethodCash, Amount: 10000},
	))
	require.NoError(t, err)
	e.svc.Wait()
	require.NotNil(t, out.Replaced)
	assert.Equal(t, int64(5000), out.Replaced.AppliedAmount)

	stored, err := e.svc.Get(ctx, e.fx.Clinic.ID, e.fx.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{7500, 7500}, []int64{stored.Lines[0].Amount, stored.Lines[1].Amount})

	events, err := repo.AuditEventsByResource(ctx, e.db, e.fx.Clinic.ID, e.fx.Appointment.ID)
	require.NoError(t, err)
	var processed []repo.AuditRecord
	for _, ev := range events {
		if ev.Action == repo.AuditPaymentProcessed {
			processed = append(processed, ev)
		}
	}
	require.Len(t, processed, 2)
	var meta struct {
		Status   string `json:"status"`
		Replaced *struct {
			Status  string           `json:"status"`
			Tenders []billing.Tender `json:"tenders"`
		} `json:"replaced"`
	}
	require.NoError(t, json.Unmarshal([]byte(*processed[1].Metadata), &meta))
	assert.Equal(t, "paid", meta.Status)
	require.NotNil(t, meta.Replaced)
	assert.Equal(t, "partial", meta.Replaced.Status)
	assert.Equal(t, []billing.Tender{{Method: billing.MethodCash, Amount: 5000, Note: "sinal"}}, meta.Replaced.Tenders)
}

func TestProcess_Errors(t *testing.T) {
	e := newEnv(t, 15000)
	ctx := context.Background()

	sub := e.submit(billing.Tender{Method: billing.MethodCash, Amount: 100})
	sub.AppointmentID = uuid.New()
	_, err := e.svc.Process(ctx, sub)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	sub = e.submit(billing.Tender{Method: billing.MethodCash, Amount: 100})
	sub.ClinicID = uuid.New()
	_, err = e.svc.Process(ctx, sub)
	assert.ErrorIs(t, err, ErrAppointmentNotFound, "other clinic cannot see the appointment")

	_, err = e.svc.Process(ctx, e.submit())
	assert.ErrorIs(t, err, billing.ErrInvalidInput)

	_, err = e.svc.Process(ctx, e.submit(billing.Tender{Method: billing.MethodCash, Amount: 0}))
	var ie *billing.InvalidInputError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "tenders", ie.Field)

	free := e.fx.AddAppointment(t, e.db, 0, day, "09:00:00")
	sub = e.submit(billing.Tender{Method: billing.MethodCash, Amount: 100})
	sub.AppointmentID = free.ID
	_, err = e.svc.Process(ctx, sub)
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "target_amount", ie.Field)

	_, err = e.svc.Get(ctx, e.fx.Clinic.ID, e.fx.Appointment.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound, "failed submissions store nothing")
}

func TestProcess_CancelledAppointment(t *testing.T) {
	e := newEnv(t, 15000)
	require.NoError(t, e.db.Model(&repo.Appointment{}).Where("id = ?", e.fx.Appointment.ID).
		Update("status", repo.AppointmentCancelled).Error)
	_, err := e.svc.Process(context.Background(), e.submit(billing.Tender{Method: billing.MethodCash, Amount: 15000}))
	var ie *billing.InvalidInputError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "appointment", ie.Field)
}

func TestProcess_PersistenceFailureIsCounted(t *testing.T) {
	e := newEnv(t, 15000)
	require.NoError(t, e.db.Migrator().DropTable(&repo.PaymentTransaction{}))
	_, err := e.svc.Process(context.Background(), e.submit(billing.Tender{Method: billing.MethodCash, Amount: 15000}))
	var pe *repo.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1.0, counter(t, e.metrics, metrics.MetricPersistenceFailures, ""))
	assert.Empty(t, e.notifier.sent())

	var n int64
	require.NoError(t, e.db.Model(&repo.Payment{}).Count(&n).Error)
	assert.Zero(t, n, "transaction rolled back")
}

func TestProcess_ConcurrentSameAppointment(t *testing.T) {
	e := newEnv(t, 10000)
	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := e.svc.Process(context.Background(), e.submit(billing.Tender{Method: billing.MethodCash, Amount: amount}))
			assert.NoError(t, err)
		}(int64(i * 1000))
	}
	wg.Wait()
	e.svc.Wait()

	stored, err := e.svc.Get(context.Background(), e.fx.Clinic.ID, e.fx.Appointment.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, stored.AppliedAmount, stored.Lines[0].Amount)
	assert.Equal(t, stored.TargetAmount, stored.AppliedAmount+stored.RemainingAmount)
}

func TestProcess_InvalidatesCachedPayment(t *testing.T) {
	e := newEnv(t, 15000)
	c := cache.New(time.Minute)
	defer c.Stop()
	e.svc.cache = c
	key := cache.PaymentKey(e.fx.Clinic.ID.String(), e.fx.Appointment.ID.String())
	c.Set(key, []byte(`{"stale":true}`))

	_, err := e.svc.Process(context.Background(), e.submit(billing.Tender{Method: billing.MethodCash, Amount: 100}))
	require.NoError(t, err)
	assert.Nil(t, c.Get(key))
}

func TestReceiptAndList(t *testing.T) {
	e := newEnv(t, 15000)
	ctx := context.Background()
	_, _, err := e.svc.Receipt(ctx, e.fx.Clinic.ID, e.fx.Appointment.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = e.svc.Process(ctx, e.submit(billing.Tender{Method: billing.MethodDebitCard, Amount: 15000}))
	require.NoError(t, err)
	doc, name, err := e.svc.Receipt(ctx, e.fx.Clinic.ID, e.fx.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(doc[:5]))
	assert.Contains(t, name, "recibo-")

	out, err := e.svc.Get(ctx, e.fx.Clinic.ID, e.fx.Appointment.ID)
	require.NoError(t, err)
	v, err := e.svc.Verify(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, e.fx.Clinic.Name, v.ClinicName)
	assert.Equal(t, billing.StatusPaid, v.Status)
	assert.Equal(t, e.svc.receiptFor(&repo.AppointmentPaymentContext{
		ClinicName:      e.fx.Clinic.Name,
		PatientName:     e.fx.Patient.Name,
		DoctorName:      e.fx.Doctor.Name,
		AppointmentDate: e.fx.Appointment.AppointmentDate,
		StartTime:       e.fx.Appointment.StartTime,
	}, out).Digest(), v.Digest)
	_, err = e.svc.Verify(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	list, err := e.svc.List(ctx, e.fx.Clinic.ID, repo.PaymentFilter{Status: "paid"})
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)
	assert.Equal(t, int64(15000), list.Totals.Applied)

	_, err = e.svc.List(ctx, e.fx.Clinic.ID, repo.PaymentFilter{Status: "refunded"})
	assert.ErrorIs(t, err, billing.ErrInvalidInput)
	from, to := day, day.AddDate(0, 0, -1)
	_, err = e.svc.List(ctx, e.fx.Clinic.ID, repo.PaymentFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, billing.ErrInvalidInput)
}
