package utils

import (
	"errors"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"

	"productflow/phase"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mailbox", func(fl validator.FieldLevel) bool {
		return checkmail.ValidateFormat(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("work_item_type", func(fl validator.FieldLevel) bool {
		return phase.WorkItemType(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("team_role", func(fl validator.FieldLevel) bool {
		return phase.Role(fl.Field().String()).IsValid()
	})
	return v
}

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	// Format validation errors
	var messages []string
	for _, err := range validationErrors {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required":
			messages = append(messages, field+" is required")
		case "min":
			messages = append(messages, field+" must be at least "+param+" characters")
		case "max":
			messages = append(messages, field+" must be at most "+param+" characters")
		case "email", "mailbox":
			messages = append(messages, field+" must be a valid email")
		case "oneof":
			messages = append(messages, field+" must be one of: "+strings.ReplaceAll(param, " ", ", "))
		case "work_item_type":
			messages = append(messages, field+" must be a known work item type")
		case "team_role":
			messages = append(messages, field+" must be owner, admin or member")
		case "gtefield":
			messages = append(messages, field+" must not be before "+strings.ToLower(param))
		default:
			messages = append(messages, field+" is invalid")
		}
	}

	return errors.New(strings.Join(messages, ", "))
}
