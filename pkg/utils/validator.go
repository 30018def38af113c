package utils

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	validate *validator.Validate
}

func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}

var (
	once     sync.Once
	instance *Validator
)

// GetValidator returns the shared validator instance.
func GetValidator() *Validator {
	once.Do(func() {
		instance = &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
	})
	return instance
}
