package httpadapter

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"nexusradar/internal/domain"
	"nexusradar/internal/domain/rules"
)

type reportRequest struct {
	RealmID string `json:"realmId" validate:"required,max=64"`
	Basis   string `json:"basis" validate:"omitempty,oneof=accrual cash"`
	Range   string `json:"range" validate:"omitempty,oneof=last12 ytd lastYear custom"`
	From    string `json:"from" validate:"required_if=Range custom,omitempty,datetime=2006-01-02"`
	To      string `json:"to" validate:"required_if=Range custom,omitempty,datetime=2006-01-02"`
}

type evaluateRequest struct {
	Basis        string               `json:"basis" validate:"omitempty,oneof=accrual cash"`
	Transactions []domain.Transaction `json:"transactions" validate:"required,dive"`
}

type evaluateResponse struct {
	Basis        domain.Basis      `json:"basis"`
	CountedCount int               `json:"countedTransactions"`
	Report       domain.RiskReport `json:"report"`
}

type acceptedResponse struct {
	ID     string           `json:"id"`
	Status domain.RunStatus `json:"status"`
}

type rulesResponse struct {
	Rules []rules.Rule `json:"rules"`
}

type validationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string             `json:"error"`
	Details []validationDetail `json:"details,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report JSON field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationDetails(errs validator.ValidationErrors) []validationDetail {
	out := make([]validationDetail, 0, len(errs))
	for _, e := range errs {
		out = append(out, validationDetail{Field: e.Field(), Message: validationMessage(e)})
	}
	return out
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "This field is required"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "datetime":
		return "Must be a date formatted as YYYY-MM-DD"
	case "max":
		return "Must be at most " + e.Param() + " characters"
	default:
		return "Invalid value"
	}
}
