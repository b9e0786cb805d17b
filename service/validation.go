package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/zlnvch/learnlink/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their json names so clients can match them to inputs
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// validateStruct runs the struct's validate tags and turns failures into a
// ValidationError.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must have at least %s items", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must have at most %s items", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid":
		return "must be a valid id"
	default:
		return "is invalid"
	}
}

func ValidateSessionId(sessionId string) error {
	if err := validate.Var(sessionId, "required,uuid"); err != nil {
		return newValidationError("sessionId", "must be a valid id")
	}
	return nil
}

const (
	maxStrokePoints = 1000
	maxGestureIdLen = 64
)

// ValidateStroke checks the shape of a client stroke. Style fields are
// checked by ResolveStyle.
func ValidateStroke(stroke models.Stroke) error {
	if err := validate.Var(stroke.GestureId, fmt.Sprintf("required,max=%d", maxGestureIdLen)); err != nil {
		return newValidationError("gestureId", "is required and at most 64 characters")
	}
	if len(stroke.Points) == 0 {
		return newValidationError("points", "is required")
	}
	if len(stroke.Points) > maxStrokePoints {
		return newValidationError("points", fmt.Sprintf("must have at most %d items", maxStrokePoints))
	}
	return nil
}
