package billing

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// MaxTenderAmount is the largest single tender accepted, in cents (R$ 10.000.000,00).
const MaxTenderAmount int64 = 1_000_000_000

// Method is the payment instrument of a tender.
type Method string

const (
	MethodCash         Method = "cash"
	MethodCreditCard   Method = "credit_card"
	MethodDebitCard    Method = "debit_card"
	MethodPix          Method = "pix"
	MethodCheck        Method = "check"
	MethodWireTransfer Method = "wire_transfer"
)

// Methods lists every accepted instrument, in display order.
var Methods = []Method{MethodCash, MethodCreditCard, MethodDebitCard, MethodPix, MethodCheck, MethodWireTransfer}

func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCreditCard, MethodDebitCard, MethodPix, MethodCheck, MethodWireTransfer:
		return true
	}
	return false
}

// Label is the pt-BR name shown on receipts.
func (m Method) Label() string {
	switch m {
	case MethodCash:
		return "Dinheiro"
	case MethodCreditCard:
		return "Cartão de crédito"
	case MethodDebitCard:
		return "Cartão de débito"
	case MethodPix:
		return "PIX"
	case MethodCheck:
		return "Cheque"
	case MethodWireTransfer:
		return "Transferência"
	}
	return string(m)
}

// Status is the settlement state of a debt after reconciliation.
type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

func (s Status) Valid() bool {
	return s == StatusUnpaid || s == StatusPartial || s == StatusPaid
}

// Tender is one instrument handed over by the payer. Amount is in cents.
type Tender struct {
	Method    Method `json:"method"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Result is the accounting projection of a set of tenders against a debt.
// AppliedAmount never exceeds TargetAmount: any excess is ChangeAmount.
type Result struct {
	TargetAmount    int64    `json:"target_amount"`
	TotalTendered   int64    `json:"total_tendered"`
	AppliedAmount   int64    `json:"applied_amount"`
	ChangeAmount    int64    `json:"change_amount"`
	RemainingAmount int64    `json:"remaining_amount"`
	Status          Status   `json:"status"`
	AdjustedTenders []Tender `json:"tenders"`
}

// Reconcile matches the tendered funds against targetAmount (cents).
//
// When the payer hands over more than is owed, each tender is rescaled to
// round(target * amount / total) so the recorded breakdown keeps the
// proportion of every instrument. Rounding is half-up per tender and the
// residual (at most one cent per tender) is not redistributed.
func Reconcile(targetAmount int64, tenders []Tender) (Result, error) {
	if targetAmount <= 0 {
		return Result{}, invalid("target_amount", "must be greater than zero")
	}
	if len(tenders) == 0 {
		return Result{}, invalid("tenders", "at least one tender is required")
	}
	var total int64
	for i, t := range tenders {
		if !t.Method.Valid() {
			return Result{}, invalidAt(i, "method", "unknown payment method "+string(t.Method))
		}
		if t.Amount < 0 {
			return Result{}, invalidAt(i, "amount", "must not be negative")
		}
		if t.Amount > MaxTenderAmount || t.Amount > math.MaxInt64-total {
			return Result{}, invalidAt(i, "amount", "too large (max "+strconv.FormatInt(MaxTenderAmount, 10)+" cents)")
		}
		total += t.Amount
	}
	if total <= 0 {
		return Result{}, invalid("tenders", "sum of tender amounts must be greater than zero")
	}

	applied := min(total, targetAmount)
	res := Result{
		TargetAmount:    targetAmount,
		TotalTendered:   total,
		AppliedAmount:   applied,
		RemainingAmount: max(0, targetAmount-applied),
		ChangeAmount:    max(0, total-targetAmount),
		Status:          statusFor(applied, targetAmount),
		AdjustedTenders: make([]Tender, len(tenders)),
	}
	copy(res.AdjustedTenders, tenders)
	if total > targetAmount {
		target := decimal.NewFromInt(targetAmount)
		totalD := decimal.NewFromInt(total)
		for i := range res.AdjustedTenders {
			share := target.Mul(decimal.NewFromInt(res.AdjustedTenders[i].Amount)).DivRound(totalD, 0)
			res.AdjustedTenders[i].Amount = share.IntPart()
		}
	}
	return res, nil
}

func statusFor(applied, target int64) Status {
	switch {
	case applied >= target:
		return StatusPaid
	case applied > 0:
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// SumTenders returns the total of the tender amounts.
func SumTenders(tenders []Tender) int64 {
	var s int64
	for _, t := range tenders {
		s += t.Amount
	}
	return s
}
