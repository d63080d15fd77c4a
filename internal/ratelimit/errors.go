// internal/ratelimit/errors.go
package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrRateLimited - маркерная ошибка превышения квоты провайдера
var ErrRateLimited = errors.New("rate limited")

// RateLimitError - превышение квоты конкретного эндпоинта.
// Несет имя эндпоинта и, если провайдер сообщил, время сброса квоты.
type RateLimitError struct {
	Endpoint string
	ResetAt  time.Time // нулевое значение - провайдер время не сообщил
	Err      error     // исходная ошибка провайдера
}

func (e *RateLimitError) Error() string {
	if !e.ResetAt.IsZero() {
		return fmt.Sprintf("rate limit exceeded for %s (reset at %s)",
			e.Endpoint, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Endpoint)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Is позволяет errors.Is(err, ErrRateLimited) для типизированной ошибки
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// statusCoder - ошибка, несущая HTTP-статус ответа провайдера
type statusCoder interface {
	StatusCode() int
}

// IsRateLimited классифицирует ошибку как rate-limit отказ провайдера.
// Распознаются: наша типизированная ошибка, маркер ErrRateLimited,
// HTTP 429 и характерные подстроки в тексте ошибки.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "code: 88") // код rate limit в списке ошибок Twitter API
}

// ResetTime извлекает заявленное провайдером время сброса квоты, если есть
func ResetTime(err error) time.Time {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.ResetAt
	}

	var rt interface{ RateLimitReset() time.Time }
	if errors.As(err, &rt) {
		return rt.RateLimitReset()
	}
	return time.Time{}
}
