package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	app_errors "arena-ai/backend/internal/errors"

	"github.com/go-playground/validator/v10"
)

// This file provides a singleton validation helper for API request bodies.
// The validator caches struct metadata, so one instance serves every request.

var (
	validate *validator.Validate
	once     sync.Once
)

// getInstance lazily builds the validator. Field errors are reported under
// their JSON names so clients can match them to the body they sent.
func getInstance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// validateRequest checks a payload against its `validate` tags and returns a
// wrapped app_errors.ErrValidation describing every failed field.
func validateRequest(payload interface{}) error {
	err := getInstance().Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: an unexpected error occurred during validation: %s", app_errors.ErrValidation, err.Error())
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		// e.g. "field 'context[0].role' failed on the 'oneof' tag"
		path := fieldErr.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		messages = append(messages, fmt.Sprintf("field '%s' failed on the '%s' tag", path, fieldErr.Tag()))
	}

	return fmt.Errorf("%w: %s", app_errors.ErrValidation, strings.Join(messages, "; "))
}
