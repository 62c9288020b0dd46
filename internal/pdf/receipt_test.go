package pdf

import (
	"bytes"
	"testing"

	"github.com/doutoragenda/backend/internal/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReceipt(t *testing.T) Receipt {
	t.Helper()
	res, err := billing.Reconcile(15000, []billing.Tender{
		{Method: billing.MethodPix, Amount: 10000, Reference: "E2E123"},
		{Method: billing.MethodCash, Amount: 10000},
	})
	require.NoError(t, err)
	return Receipt{
		PaymentID:       "7d3c1c2e-1111-2222-3333-444455556666",
		ClinicName:      "Clínica São João",
		PatientName:     "Maria Conceição",
		DoctorName:      "Dra. Ana",
		AppointmentDate: "10/03/2026",
		AppointmentTime: "14:30",
		Result:          res,
		VerificationURL: "https://app.test/payments/verify/7d3c1c2e-1111-2222-3333-444455556666",
	}
}

func TestBuildReceiptPDF(t *testing.T) {
	out, err := BuildReceiptPDF(sampleReceipt(t))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Greater(t, len(out), 1000)
}

func TestBuildReceiptPDF_WithoutQR(t *testing.T) {
	r := sampleReceipt(t)
	r.VerificationURL = ""
	out, err := BuildReceiptPDF(r)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestDigest_ChangesWithContent(t *testing.T) {
	r := sampleReceipt(t)
	d1 := r.Digest()
	assert.Len(t, d1, 64)
	assert.Equal(t, d1, r.Digest())
	r.Result.AdjustedTenders[0].Amount++
	assert.NotEqual(t, d1, r.Digest())
	assert.Contains(t, r.CanonicalText(), "tender[1]=cash:7500:")
}

func TestReceiptFileName(t *testing.T) {
	assert.Equal(t, "recibo-7d3c1c2e.pdf", ReceiptFileName("7d3c1c2e-1111"))
	assert.Equal(t, "recibo-abc.pdf", ReceiptFileName("abc"))
}
