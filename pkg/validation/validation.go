// Package validation holds the field rules shared by request binding and the services.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{0,15}$`)

	inst *validator.Validate
	once sync.Once
)

// Messages returned to the site for rejected contact fields.
const (
	MsgNameTooShort = "Name must be at least 2 characters"
	MsgNameTooLong  = "Name too long"
	MsgPhone        = "Please enter a valid phone number"
	MsgEmail        = "Please enter a valid email address"
)

// Engine returns gin's validator with the custom tags registered, so
// ShouldBind and Struct apply the same rules.
func Engine() *validator.Validate {
	once.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			inst = v
		} else {
			inst = validator.New()
			inst.SetTagName("binding")
		}
		_ = inst.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return ValidatePhone(fl.Field().String())
		})
		_ = inst.RegisterValidation("person_name", func(fl validator.FieldLevel) bool {
			return ValidateName(fl.Field().String()) == ""
		})
	})
	return inst
}

// Struct validates s against its binding tags.
func Struct(s interface{}) error {
	return Engine().Struct(s)
}

// FieldError is one rejected field in a form the site can display.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// FormatErrors converts validator errors into field messages. Other errors yield nil.
func FormatErrors(err error) []FieldError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]FieldError, len(ve))
	for i, fe := range ve {
		out[i] = FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: message(fe)}
	}
	return out
}

// FirstMessage returns the message of the first rejected field, or fallback.
func FirstMessage(err error, fallback string) string {
	if errs := FormatErrors(err); len(errs) > 0 {
		return errs[0].Message
	}
	return fallback
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "phone":
		return MsgPhone
	case "email":
		return MsgEmail
	case "person_name":
		if msg := ValidateName(fmt.Sprintf("%v", fe.Value())); msg != "" {
			return msg
		}
		return MsgNameTooShort
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	return emailRegex.MatchString(email)
}

// ValidatePhone accepts an optional leading + and up to 16 digits, no leading zero.
func ValidatePhone(phone string) bool {
	return phoneRegex.MatchString(strings.TrimSpace(phone))
}

// ValidateName returns the problem with a contact name, or "" when it is fine.
func ValidateName(name string) string {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	switch {
	case n < 2:
		return MsgNameTooShort
	case n > 50:
		return MsgNameTooLong
	}
	return ""
}

// SanitizeString removes potentially harmful characters
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
