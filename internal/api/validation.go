package api

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var (
	userNameRe = regexp.MustCompile(`^[a-z][a-z_]+[a-z]$`)
	nameWordRe = regexp.MustCompile(`^[a-zA-Z]+$`)
)

func init() {
	// username: lowercase letters with optional inner underscores, must start
	// and end with a letter. This same shape is what the session layer treats
	// as the only possible username in a signed token.
	validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return userNameRe.MatchString(fl.Field().String())
	})
	// fullname: letter-only words separated by single spaces.
	validate.RegisterValidation("fullname", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		if strings.Contains(v, "  ") || strings.TrimSpace(v) != v {
			return false
		}
		for _, word := range strings.Split(v, " ") {
			if !nameWordRe.MatchString(word) {
				return false
			}
		}
		return true
	})
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func validateRequest(obj any) []ValidationError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var validationErrors []ValidationError
	for _, err := range err.(validator.ValidationErrors) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: validationMsg(err),
			Type:    err.Tag(),
		})
	}
	return validationErrors
}

func validationMsg(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "username":
		return "Username must start and end with a letter and may contain underscores in between"
	case "fullname":
		return "Full name must only contain letters with a single space between names"
	default:
		return "Invalid value"
	}
}
