// Package validate wraps go-playground/validator for configuration structs.
package validate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError describes the first invalid field of a configuration.
type ValidationError struct {
	Struct  string
	Field   string
	Tag     string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s.%s: %s", e.Struct, e.Field, e.Message)
}

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
	})
	return instance
}

// Struct validates s using its `validate` struct tags.
func Struct(s any) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return &ValidationError{
			Struct:  structName(e.StructNamespace()),
			Field:   e.Field(),
			Tag:     e.Tag(),
			Value:   e.Value(),
			Message: fmt.Sprintf("validation failed on tag '%s' (param %q) with value '%v'", e.Tag(), e.Param(), e.Value()),
		}
	}
	return err
}

func structName(ns string) string {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[:i]
		}
	}
	return ns
}
