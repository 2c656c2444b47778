// Package validation wraps go-playground/validator and converts its failures into
// field-level errors of the errorutil taxonomy.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

// RuleTimestamp is the tag for ISO-8601 date-time strings.
const RuleTimestamp = "iso8601"

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared, lazily configured validator.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation(RuleTimestamp, func(fl validator.FieldLevel) bool {
			_, err := ParseTimestamp(fl.Field().String())
			return err == nil
		})
		instance = v
	})
	return instance
}

// Struct validates s and returns a ValidationError listing every failed rule.
func Struct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError("Invalid request", nil)
	}
	fields := make([]apperrors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperrors.FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Param:   fe.Param(),
			Message: describe(fe),
		})
	}
	return apperrors.NewValidationError("Validation failed", fields)
}

// IsEmail reports whether s is a syntactically valid email address.
func IsEmail(s string) bool {
	return Validator().Var(s, "required,email") == nil
}

// ParseTimestamp accepts RFC 3339 date-times with optional fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "uuid", "uuid4":
		return field + " must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Array {
			return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case RuleTimestamp:
		return field + " must be an ISO 8601 date-time"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
