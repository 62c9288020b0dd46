package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/doutoragenda/backend/internal/billing"
	"github.com/doutoragenda/backend/internal/crypto"
	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"
)

// Receipt is everything printed on a payment receipt. Amounts are cents.
type Receipt struct {
	PaymentID       string
	ClinicName      string
	PatientName     string
	DoctorName      string
	AppointmentDate string // dd/mm/yyyy
	AppointmentTime string // HH:MM
	ProcessedAt     string
	Result          billing.Result
	VerificationURL string
}

func statusLabel(s billing.Status) string {
	switch s {
	case billing.StatusPaid:
		return "Pago"
	case billing.StatusPartial:
		return "Parcial"
	default:
		return "Em aberto"
	}
}

// CanonicalText is the plain-text form whose SHA-256 is printed on the receipt.
func (r Receipt) CanonicalText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "payment=%s\nclinic=%s\npatient=%s\ndoctor=%s\ndate=%s %s\n",
		r.PaymentID, r.ClinicName, r.PatientName, r.DoctorName, r.AppointmentDate, r.AppointmentTime)
	for i, t := range r.Result.AdjustedTenders {
		fmt.Fprintf(&b, "tender[%d]=%s:%d:%s\n", i, t.Method, t.Amount, t.Reference)
	}
	fmt.Fprintf(&b, "target=%d\napplied=%d\nchange=%d\nremaining=%d\nstatus=%s\n",
		r.Result.TargetAmount, r.Result.AppliedAmount, r.Result.ChangeAmount, r.Result.RemainingAmount, r.Result.Status)
	return b.String()
}

// Digest is the SHA-256 (hex) of CanonicalText.
func (r Receipt) Digest() string { return crypto.SHA256Hex([]byte(r.CanonicalText())) }

// BuildReceiptPDF renders an A5 receipt with the tender breakdown and a QR code to VerificationURL.
func BuildReceiptPDF(r Receipt) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A5", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(12, 12, 12)
	pdf.SetAutoPageBreak(true, 12)
	pdf.SetTitle("Recibo "+r.PaymentID, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, tr(r.ClinicName), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, tr("Recibo de pagamento"), "B", 1, "C", false, 0, "")
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "", 9)
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(32, 5, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.CellFormat(0, 5, tr(value), "", 1, "L", false, 0, "")
	}
	line("Paciente:", r.PatientName)
	line("Profissional:", r.DoctorName)
	line("Consulta:", r.AppointmentDate+" "+r.AppointmentTime)
	if r.ProcessedAt != "" {
		line("Registrado em:", r.ProcessedAt)
	}
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(50, 6, tr("Forma de pagamento"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 6, tr("Referência"), "1", 0, "L", true, 0, "")
	pdf.CellFormat(0, 6, "Valor", "1", 1, "R", true, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, t := range r.Result.AdjustedTenders {
		pdf.CellFormat(50, 6, tr(t.Method.Label()), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, tr(t.Reference), "1", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(billing.FormatBRL(t.Amount)), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(3)

	total := func(label string, cents int64) {
		pdf.CellFormat(90, 5, tr(label), "", 0, "R", false, 0, "")
		pdf.CellFormat(0, 5, tr(billing.FormatBRL(cents)), "", 1, "R", false, 0, "")
	}
	total("Valor da consulta:", r.Result.TargetAmount)
	total("Valor recebido:", r.Result.TotalTendered)
	total("Valor aplicado:", r.Result.AppliedAmount)
	if r.Result.ChangeAmount > 0 {
		total("Troco:", r.Result.ChangeAmount)
	}
	total("Saldo restante:", r.Result.RemainingAmount)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 7, tr("Situação: "+statusLabel(r.Result.Status)), "", 1, "R", false, 0, "")
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "", 7)
	pdf.MultiCell(0, 4, "SHA-256: "+r.Digest(), "", "L", false)
	if r.VerificationURL != "" {
		qrPNG, err := qrcode.Encode(r.VerificationURL, qrcode.Medium, 128)
		if err != nil {
			return nil, fmt.Errorf("qrcode: %w", err)
		}
		opt := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("qr", opt, bytes.NewReader(qrPNG))
		pdf.ImageOptions("qr", 12, pdf.GetY()+2, 25, 25, false, opt, 0, "")
		pdf.SetY(pdf.GetY() + 28)
		pdf.MultiCell(0, 4, tr("Verificação: "+r.VerificationURL), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReceiptFileName is the download/attachment name for a payment receipt.
func ReceiptFileName(paymentID string) string {
	if len(paymentID) > 8 {
		paymentID = paymentID[:8]
	}
	return "recibo-" + paymentID + ".pdf"
}
