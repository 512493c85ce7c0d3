package product

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Draft carries client-supplied product fields for create and update.
// ID is only set when the client sent one.
type Draft struct {
	ID             int64            `json:"id"`
	Name           string           `json:"name" validate:"notblank,max=255"`
	Description    string           `json:"description" validate:"max=2000"`
	Price          *decimal.Decimal `json:"price" validate:"required,gte=0,lte=9999999999.99"`
	PresentationID *int64           `json:"presentationId" validate:"omitempty,gt=0"`
}

// PresentationDraft carries client-supplied presentation fields.
type PresentationDraft struct {
	ID          int64  `json:"id"`
	Name        string `json:"name" validate:"notblank,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

// Validator checks drafts and reports every violation at once.
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns a Validator that names fields by their json tag.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Numeric tags operate on the float value of a decimal.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		return d.InexactFloat64()
	}, decimal.Decimal{})

	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &Validator{validate: v}
}

// Draft validates a product draft. The returned error is a *ValidationError
// or nil.
func (v *Validator) Draft(d Draft) error {
	return v.check(d)
}

// PresentationDraft validates a presentation draft.
func (v *Validator) PresentationDraft(d PresentationDraft) error {
	return v.check(d)
}

func (v *Validator) check(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Violations: []Violation{{Field: "body", Message: err.Error()}}}
	}
	var out ValidationError
	for _, fe := range fieldErrs {
		out.Add(fe.Field(), violationMessage(fe))
	}
	return out.OrNil()
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
