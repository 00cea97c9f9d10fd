package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	notBlankTag          = "notblank"
	imagesField          = "images"
	emptyImagesMessage   = "images must contain at least one image"
	requiredFormat       = "%s is required"
	emptyElementFormat   = "%s is empty"
	invalidFieldFormat   = "%s is invalid"
	malformedBodyMessage = "request body must be a JSON object"
)

var registerOnce sync.Once

// registerValidators adds the notblank rule to gin's validator and makes field
// errors report JSON names.
func registerValidators() {
	registerOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
		_ = engine.RegisterValidation(notBlankTag, notBlank)
	})
}

func notBlank(fieldLevel validator.FieldLevel) bool {
	field := fieldLevel.Field()
	if field.Kind() != reflect.String {
		return true
	}
	return strings.TrimSpace(field.String()) != ""
}

// bindingMessage turns a binding failure into the message returned to the caller.
func bindingMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		return fieldMessage(validationErrors[0])
	}
	return malformedBodyMessage
}

func fieldMessage(fieldErr validator.FieldError) string {
	field := fieldErr.Field()
	if field == imagesField && (fieldErr.Tag() == "required" || fieldErr.Tag() == "min") {
		return emptyImagesMessage
	}
	switch fieldErr.Tag() {
	case "required":
		return fmt.Sprintf(requiredFormat, field)
	case notBlankTag:
		if strings.Contains(field, "[") {
			return fmt.Sprintf(emptyElementFormat, field)
		}
		return fmt.Sprintf(requiredFormat, field)
	default:
		return fmt.Sprintf(invalidFieldFormat, field)
	}
}
