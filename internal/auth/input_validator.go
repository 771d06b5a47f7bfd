package auth

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// usernamePattern allows letters, digits and underscores, 3 to 50 characters
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// InputValidator validates request payloads with struct tags
type InputValidator struct {
	validate *validator.Validate
}

// NewInputValidator registers the username rule and JSON field naming
func NewInputValidator() *InputValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// the tag name is fixed, registration cannot fail
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return IsValidUsername(fl.Field().String())
	})
	return &InputValidator{validate: v}
}

// ValidateStruct returns one ValidationError per failed field rule
func (v *InputValidator) ValidateStruct(payload any) []ValidationError {
	err := v.validate.Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Field: "request", Message: "Invalid request"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "username":
		return "Username must be 3-50 characters of letters, numbers and underscores"
	case "email":
		return "Invalid email format"
	case "min":
		if fe.Field() == "password" {
			return "Password must be at least 8 characters long"
		}
		return fe.Field() + " is too short"
	case "max":
		return fe.Field() + " is too long"
	case "eqfield":
		return "Passwords do not match"
	default:
		return fe.Field() + " is invalid"
	}
}

// IsValidUsername reports whether name satisfies the username rule
func IsValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}
