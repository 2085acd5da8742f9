package directory

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// report fields by their wire names
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})

		_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
			return types.ParseStatus(fl.Field().String()).Known()
		})

		validate = v
	})
	return validate
}

// Validate checks a draft or patch before it is sent. It returns
// ValidationErrors listing every rejected field.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "status":
		return "must be a known package status"
	case "latitude", "longitude":
		return "must be a valid " + fe.Tag()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
