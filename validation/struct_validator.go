package validation

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/meshkit/errors"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// FieldError is one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report json names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return strings.ToLower(fld.Name)
			}
			return name
		})
	})
	return validate
}

// Validate validates s using its `validate` struct tags. It returns nil
// or an INVALID_INPUT *errors.AppError.
func Validate(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.Validation("validation failed").WithCause(err)
	}
	return fromFieldErrors(verrs)
}

// Var validates a single value against tag, reporting it under field.
func Var(field string, value any, tag string) error {
	err := getValidator().Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.InvalidInput(field, err.Error())
	}
	fe := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		fe = append(fe, FieldError{Field: field, Message: message(e)})
	}
	return build(fe)
}

func fromFieldErrors(verrs validator.ValidationErrors) *errors.AppError {
	fe := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		fe = append(fe, FieldError{Field: e.Field(), Message: message(e)})
	}
	return build(fe)
}

func build(fe []FieldError) *errors.AppError {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Message
	}
	return errors.Validation(strings.Join(parts, "; ")).WithDetail("fields", fe)
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "hostname_rfc1123|ip", "hostname_rfc1123", "ip":
		return "must be a hostname or IP address"
	default:
		return "is invalid (" + e.Tag() + ")"
	}
}
