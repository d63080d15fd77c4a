// internal/ratelimit/types.go
package ratelimit

import (
	"sync"
	"time"
)

// EndpointLimit - статичная конфигурация квоты одного эндпоинта.
// Неизменяема на все время жизни процесса.
type EndpointLimit struct {
	// RequestsPerWindow - квота провайдера на окно
	RequestsPerWindow int

	// WindowSize - размер учетного окна
	WindowSize time.Duration

	// MaxBatchSize - максимум элементов в одном батч-запросе (0 - не батч)
	MaxBatchSize int

	// MaxAccountsPerBatch - максимум аккаунтов в одном батч-запросе
	MaxAccountsPerBatch int

	// Batch - правила батч-режима; nil для обычных эндпоинтов
	Batch *BatchConfig
}

// BatchConfig - правила троттлинга батч-эндпоинта
type BatchConfig struct {
	// MinInterval - минимальный интервал между батчами
	MinInterval time.Duration

	// MaxRetries - максимум повторов при rate-limit ошибке в рамках одного окна
	MaxRetries int

	// RetryDelay - фиксированная задержка перед повтором
	RetryDelay time.Duration
}

// RateWindow - одно скользящее учетное окно эндпоинта.
// Создается лениво при первом запросе, живет только в памяти:
// перезапуск процесса легитимно сбрасывает состояние квот.
type RateWindow struct {
	Endpoint     string
	StartTime    time.Time
	RequestCount int
}

// Expired сообщает, истекло ли окно к моменту now
func (w RateWindow) Expired(now time.Time, size time.Duration) bool {
	return now.Sub(w.StartTime) >= size
}

// BatchState - состояние троттлинга батч-эндпоинта, отдельное от окна
type BatchState struct {
	// LastBatchTime - момент отправки последнего батча
	LastBatchTime time.Time

	// RetryCount - счетчики повторов по эпохам окна (UnixNano начала окна)
	RetryCount map[int64]int
}

// endpointState - все изменяемое состояние одного эндпоинта.
// Доступ только под mu: проверка-и-инкремент это критическая секция,
// иначе два конкурентных вызова могут вдвоем превысить безопасный лимит.
type endpointState struct {
	mu     sync.Mutex
	window RateWindow
	batch  BatchState
}
