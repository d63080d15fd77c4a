// /internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

// Базовые ошибки системы
var (
	// ErrNotFound - сущность не найдена у провайдера (аккаунт, токен)
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable - провайдер недоступен (сеть, 5xx)
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ValidationError - ошибка валидации входных данных.
// Отклоняется до любого сетевого вызова.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError создает ошибку валидации
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation проверяет, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
