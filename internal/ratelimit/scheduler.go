// internal/ratelimit/scheduler.go
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

const (
	// DefaultSafetyMargin - доля квоты провайдера, которую реально используем
	DefaultSafetyMargin = 0.9

	// warningThreshold - доля безопасного лимита, после которой публикуем предупреждение
	warningThreshold = 0.8
)

// RequestFunc - единица работы, выполняемая под контролем планировщика
type RequestFunc func(ctx context.Context) (interface{}, error)

// Scheduler - планировщик исходящих запросов с пооконным контролем квот.
// Один экземпляр обслуживает несколько независимых эндпоинтов; вся
// координация явная, через состояние экземпляра (никаких глобалов).
type Scheduler struct {
	limits       map[string]EndpointLimit
	defaultLimit EndpointLimit
	safetyMargin float64
	bus          types.EventBus // опционально; nil - события не публикуются

	mu     sync.Mutex
	states map[string]*endpointState
}

// Config - конфигурация планировщика
type Config struct {
	// Limits - таблица квот по именам эндпоинтов
	Limits map[string]EndpointLimit

	// DefaultLimit - квота для эндпоинтов без явной записи
	DefaultLimit EndpointLimit

	// SafetyMargin - доля квоты провайдера (0..1]; 0 означает DefaultSafetyMargin
	SafetyMargin float64

	// Bus - шина для событий жизненного цикла (может быть nil)
	Bus types.EventBus
}

// NewScheduler создает планировщик с заданной таблицей квот
func NewScheduler(cfg Config) *Scheduler {
	margin := cfg.SafetyMargin
	if margin <= 0 || margin > 1 {
		margin = DefaultSafetyMargin
	}

	limits := make(map[string]EndpointLimit, len(cfg.Limits))
	for name, l := range cfg.Limits {
		limits[name] = l
	}

	def := cfg.DefaultLimit
	if def.RequestsPerWindow <= 0 {
		def = EndpointLimit{RequestsPerWindow: 15, WindowSize: 15 * time.Minute}
	}

	return &Scheduler{
		limits:       limits,
		defaultLimit: def,
		safetyMargin: margin,
		bus:          cfg.Bus,
		states:       make(map[string]*endpointState),
	}
}

// Schedule выполняет fn под контролем квоты эндпоинта.
// Вызов может быть приостановлен до конца окна или до истечения
// минимального интервала между батчами. Rate-limit отказ провайдера
// сбрасывает окно и возвращается как *RateLimitError; прочие ошибки
// проходят без изменений.
func (s *Scheduler) Schedule(ctx context.Context, endpoint string, fn RequestFunc) (interface{}, error) {
	if endpoint == "" {
		return nil, types.NewValidationError("endpoint", "must not be empty")
	}

	limit := s.limitFor(endpoint)
	st := s.state(endpoint)

	if limit.Batch != nil {
		return s.scheduleBatch(ctx, endpoint, limit, st, fn)
	}

	if err := s.admit(ctx, endpoint, limit, st); err != nil {
		return nil, err
	}

	s.publish(types.EventRequestScheduled, endpoint, nil)

	result, err := fn(ctx)
	if err != nil {
		return nil, s.handleRequestError(endpoint, st, err)
	}

	s.publish(types.EventRequestCompleted, endpoint, nil)
	return result, nil
}

// limitFor возвращает квоту эндпоинта или дефолтную
func (s *Scheduler) limitFor(endpoint string) EndpointLimit {
	if l, ok := s.limits[endpoint]; ok {
		return l
	}
	return s.defaultLimit
}

// state возвращает (лениво создавая) состояние эндпоинта
func (s *Scheduler) state(endpoint string) *endpointState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[endpoint]
	if !ok {
		st = &endpointState{
			batch: BatchState{RetryCount: make(map[int64]int)},
		}
		s.states[endpoint] = st
	}
	return st
}

// safeLimit вычисляет безопасный лимит окна с учетом запаса
func (s *Scheduler) safeLimit(limit EndpointLimit) int {
	return int(math.Floor(float64(limit.RequestsPerWindow) * s.safetyMargin))
}

// admit допускает один запрос в окно эндпоинта, при необходимости
// дожидаясь конца окна. Проверка и инкремент происходят под мьютексом
// эндпоинта; ожидание - вне его, с перепроверкой после пробуждения.
func (s *Scheduler) admit(ctx context.Context, endpoint string, limit EndpointLimit, st *endpointState) error {
	safe := s.safeLimit(limit)

	for {
		st.mu.Lock()
		now := time.Now()

		// Ленивое создание и естественное истечение окна.
		// Publish не блокируется (переполненный буфер события отбрасывает),
		// поэтому публикация под мьютексом эндпоинта безопасна.
		if st.window.StartTime.IsZero() {
			st.window = RateWindow{Endpoint: endpoint, StartTime: now}
		} else if st.window.Expired(now, limit.WindowSize) {
			st.window = RateWindow{Endpoint: endpoint, StartTime: now}
			s.publish(types.EventRateLimitReset, endpoint, map[string]interface{}{"reason": "window_expired"})
		}

		if st.window.RequestCount < safe {
			st.window.RequestCount++
			count := st.window.RequestCount
			st.mu.Unlock()

			if float64(count) >= float64(safe)*warningThreshold {
				s.publish(types.EventRateLimitWarning, endpoint, map[string]interface{}{
					"count":      count,
					"safe_limit": safe,
				})
			}
			return nil
		}

		// Квота окна выбрана: ждем остаток окна
		windowStart := st.window.StartTime
		waitTime := limit.WindowSize - now.Sub(windowStart)
		st.mu.Unlock()

		s.publish(types.EventRateLimitExceeded, endpoint, map[string]interface{}{
			"wait_ms": waitTime.Milliseconds(),
		})
		logger.Warn("⏳ Квота %s выбрана (%d/%d), ожидание %v", endpoint, safe, limit.RequestsPerWindow, waitTime)

		if err := sleep(ctx, waitTime); err != nil {
			return err
		}

		// Принудительный сброс после ожидания: следующий допуск гарантированно
		// стартует свежее окно, даже если дрейф часов его еще не истек.
		// Сбрасываем только если окно за время сна не сбросил кто-то другой.
		st.mu.Lock()
		if st.window.StartTime.Equal(windowStart) {
			st.window = RateWindow{Endpoint: endpoint, StartTime: time.Now()}
			st.mu.Unlock()
			s.publish(types.EventRateLimitReset, endpoint, map[string]interface{}{"reason": "wait_elapsed"})
		} else {
			st.mu.Unlock()
		}
	}
}

// scheduleBatch - путь батч-эндпоинтов: минимальный интервал между батчами
// плюс ограниченные повторы с фиксированной задержкой в рамках эпохи окна.
func (s *Scheduler) scheduleBatch(ctx context.Context, endpoint string, limit EndpointLimit, st *endpointState, fn RequestFunc) (interface{}, error) {
	bc := limit.Batch

	for {
		// Шаг 1: минимальный интервал с момента последнего батча
		st.mu.Lock()
		if !st.batch.LastBatchTime.IsZero() {
			if remaining := bc.MinInterval - time.Since(st.batch.LastBatchTime); remaining > 0 {
				st.mu.Unlock()
				logger.Debug("⏱ Батч %s: пауза %v до следующего батча", endpoint, remaining)
				if err := sleep(ctx, remaining); err != nil {
					return nil, err
				}
				continue // перепроверяем интервал после пробуждения
			}
		}
		st.mu.Unlock()

		// Шаги 2-3: обычный пооконный контроль и фиксация времени батча
		if err := s.admit(ctx, endpoint, limit, st); err != nil {
			return nil, err
		}

		st.mu.Lock()
		st.batch.LastBatchTime = time.Now()
		epoch := st.window.StartTime.UnixNano()
		st.mu.Unlock()

		s.publish(types.EventRequestScheduled, endpoint, map[string]interface{}{"batch": true})

		result, err := fn(ctx)
		if err == nil {
			s.publish(types.EventRequestCompleted, endpoint, map[string]interface{}{"batch": true})
			return result, nil
		}

		if !IsRateLimited(err) {
			s.publish(types.EventRequestFailed, endpoint, map[string]interface{}{"error": err.Error()})
			return nil, err
		}

		// Шаг 4: ограниченный повтор, счетчик ключуется эпохой окна
		st.mu.Lock()
		attempts := st.batch.RetryCount[epoch]
		if attempts >= bc.MaxRetries {
			st.mu.Unlock()
			s.forceReset(endpoint, st, "batch_retries_exhausted")
			logger.Error("🚫 Батч %s: повторы исчерпаны (%d), отказ", endpoint, bc.MaxRetries)
			return nil, s.wrapRateLimit(endpoint, err)
		}
		st.batch.RetryCount[epoch] = attempts + 1
		s.pruneRetryCounters(st, epoch)
		st.mu.Unlock()

		logger.Warn("🔁 Батч %s: rate limit, повтор %d/%d через %v",
			endpoint, attempts+1, bc.MaxRetries, bc.RetryDelay)

		if err := sleep(ctx, bc.RetryDelay); err != nil {
			return nil, err
		}
	}
}

// handleRequestError классифицирует ошибку запроса обычного эндпоинта.
// Rate-limit отказ немедленно сбрасывает окно, чтобы следующий вызов
// стартовал начисто; прочие ошибки не трогают состояние окна.
func (s *Scheduler) handleRequestError(endpoint string, st *endpointState, err error) error {
	if !IsRateLimited(err) {
		s.publish(types.EventRequestFailed, endpoint, map[string]interface{}{"error": err.Error()})
		return err
	}

	s.forceReset(endpoint, st, "provider_rejection")
	return s.wrapRateLimit(endpoint, err)
}

// forceReset немедленно открывает свежее окно эндпоинта
func (s *Scheduler) forceReset(endpoint string, st *endpointState, reason string) {
	st.mu.Lock()
	st.window = RateWindow{Endpoint: endpoint, StartTime: time.Now()}
	st.mu.Unlock()

	s.publish(types.EventRateLimitReset, endpoint, map[string]interface{}{"reason": reason})
	logger.Warn("♻️ Окно %s сброшено: %s", endpoint, reason)
}

// wrapRateLimit оборачивает ошибку провайдера в типизированную,
// сохраняя имя эндпоинта и заявленное время сброса
func (s *Scheduler) wrapRateLimit(endpoint string, err error) error {
	s.publish(types.EventRateLimitExceeded, endpoint, map[string]interface{}{"provider": true})
	return &RateLimitError{
		Endpoint: endpoint,
		ResetAt:  ResetTime(err),
		Err:      err,
	}
}

// pruneRetryCounters выкидывает счетчики устаревших эпох окна.
// Вызывается под st.mu.
func (s *Scheduler) pruneRetryCounters(st *endpointState, currentEpoch int64) {
	if len(st.batch.RetryCount) <= 8 {
		return
	}
	for epoch := range st.batch.RetryCount {
		if epoch != currentEpoch {
			delete(st.batch.RetryCount, epoch)
		}
	}
}

// WindowSnapshot возвращает копию текущего окна эндпоинта (для статуса)
func (s *Scheduler) WindowSnapshot(endpoint string) (RateWindow, bool) {
	s.mu.Lock()
	st, ok := s.states[endpoint]
	s.mu.Unlock()
	if !ok {
		return RateWindow{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.window, true
}

// Stats возвращает сводку по всем эндпоинтам
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.Lock()
	endpoints := make(map[string]*endpointState, len(s.states))
	for name, st := range s.states {
		endpoints[name] = st
	}
	s.mu.Unlock()

	stats := make(map[string]interface{}, len(endpoints))
	for name, st := range endpoints {
		st.mu.Lock()
		stats[name] = map[string]interface{}{
			"request_count": st.window.RequestCount,
			"window_start":  st.window.StartTime,
			"safe_limit":    s.safeLimit(s.limitFor(name)),
		}
		st.mu.Unlock()
	}
	return stats
}

// publish публикует событие жизненного цикла, если шина подключена.
// События только наблюдательные: их потеря не влияет на корректность.
func (s *Scheduler) publish(eventType types.EventType, endpoint string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if data == nil {
		data = make(map[string]interface{}, 1)
	}
	data["endpoint"] = endpoint

	_ = s.bus.Publish(types.Event{
		Type:   eventType,
		Source: "rate_scheduler",
		Data:   data,
	})
}

// sleep приостанавливает вызов на d с учетом отмены контекста
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
