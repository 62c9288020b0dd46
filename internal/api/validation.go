package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/doutoragenda/backend/internal/billing"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// error field names follow the json tag
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// TenderRequest is one instrument sent by the front desk: amount (cents)
// or amount_decimal ("150,00"), never both.
type TenderRequest struct {
	Method        string `json:"method" validate:"required,oneof=cash credit_card debit_card pix check wire_transfer"`
	Amount        *int64 `json:"amount" validate:"required_without=AmountDecimal,omitempty,gte=0,lte=1000000000"`
	AmountDecimal string `json:"amount_decimal" validate:"required_without=Amount,omitempty,max=20"`
	Reference     string `json:"reference" validate:"max=120"`
	Note          string `json:"note" validate:"max=500"`
}

type ProcessPaymentRequest struct {
	Tenders []TenderRequest `json:"tenders" validate:"required,min=1,max=20,dive"`
}

type TestEmailRequest struct {
	To string `json:"to" validate:"required,email,max=254"`
}

// validateRequest runs the struct tags and turns the first violation into a
// billing.InvalidInputError, so the HTTP layer has one shape for 400s.
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return err
	}
	fe := ves[0]
	return billing.NewInvalidInput(fieldPath(fe), validationMessage(fe))
}

// fieldPath drops the root struct name: "ProcessPaymentRequest.tenders[0].amount" -> "tenders[0].amount".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "amount or amount_decimal is required"
	case "email":
		return "invalid email"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must not be negative"
	case "lte":
		return "too large (max " + fe.Param() + " cents)"
	default:
		return "invalid value"
	}
}

// toTenders converts validated requests into billing tenders.
func (req *ProcessPaymentRequest) toTenders() ([]billing.Tender, error) {
	out := make([]billing.Tender, len(req.Tenders))
	for i, t := range req.Tenders {
		tender := billing.Tender{
			Method:    billing.Method(t.Method),
			Reference: strings.TrimSpace(t.Reference),
			Note:      strings.TrimSpace(t.Note),
		}
		switch {
		case t.Amount != nil && t.AmountDecimal != "":
			return nil, billing.NewInvalidInput(fmt.Sprintf("tenders[%d].amount", i), "use amount or amount_decimal, not both")
		case t.Amount != nil:
			tender.Amount = *t.Amount
		default:
			cents, err := billing.ParseAmount(t.AmountDecimal)
			if err != nil {
				return nil, billing.NewInvalidInput(fmt.Sprintf("tenders[%d].amount_decimal", i), err.Error())
			}
			tender.Amount = cents
		}
		out[i] = tender
	}
	return out, nil
}
