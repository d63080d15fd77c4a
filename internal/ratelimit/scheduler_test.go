// internal/ratelimit/scheduler_test.go
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
)

// recordingBus - тестовая шина, собирающая опубликованные события
type recordingBus struct {
	mu     sync.Mutex
	events []types.Event
}

func (b *recordingBus) Publish(event types.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) PublishSync(event types.Event) error { return b.Publish(event) }
func (b *recordingBus) Subscribe(types.EventType, types.EventSubscriber)   {}
func (b *recordingBus) Unsubscribe(types.EventType, types.EventSubscriber) {}
func (b *recordingBus) Start()                                             {}
func (b *recordingBus) Stop()                                              {}
func (b *recordingBus) GetMetrics() *types.EventBusMetrics                 { return nil }

func (b *recordingBus) count(t types.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// providerError - ошибка провайдера с HTTP-статусом
type providerError struct {
	status int
}

func (e *providerError) Error() string   { return fmt.Sprintf("provider returned %d", e.status) }
func (e *providerError) StatusCode() int { return e.status }

func okFn(result interface{}) RequestFunc {
	return func(ctx context.Context) (interface{}, error) { return result, nil }
}

func TestSafeLimitFloor(t *testing.T) {
	s := NewScheduler(Config{SafetyMargin: 0.9})

	// Сценарий из продакшена: 180 запросов на 15-минутное окно
	assert.Equal(t, 162, s.safeLimit(EndpointLimit{RequestsPerWindow: 180, WindowSize: 15 * time.Minute}))
	assert.Equal(t, 4, s.safeLimit(EndpointLimit{RequestsPerWindow: 5, WindowSize: time.Minute}))
	assert.Equal(t, 13, s.safeLimit(EndpointLimit{RequestsPerWindow: 15, WindowSize: time.Minute}))
}

func TestScheduleReturnsResult(t *testing.T) {
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"users/tweets": {RequestsPerWindow: 10, WindowSize: time.Minute},
		},
	})

	result, err := s.Schedule(context.Background(), "users/tweets", okFn("payload"))
	require.NoError(t, err)
	assert.Equal(t, "payload", result)

	window, ok := s.WindowSnapshot("users/tweets")
	require.True(t, ok)
	assert.Equal(t, 1, window.RequestCount)
}

func TestScheduleRejectsEmptyEndpoint(t *testing.T) {
	s := NewScheduler(Config{})

	_, err := s.Schedule(context.Background(), "", okFn(nil))
	assert.True(t, types.IsValidation(err))
}

func TestUnknownEndpointFallsBackToDefault(t *testing.T) {
	s := NewScheduler(Config{
		DefaultLimit: EndpointLimit{RequestsPerWindow: 3, WindowSize: time.Minute},
		SafetyMargin: 1.0,
	})

	for i := 0; i < 3; i++ {
		_, err := s.Schedule(context.Background(), "never/configured", okFn(i))
		require.NoError(t, err)
	}

	window, ok := s.WindowSnapshot("never/configured")
	require.True(t, ok)
	assert.Equal(t, 3, window.RequestCount)
}

// Инвариант: в момент допуска счетчик окна никогда не превышает
// floor(requestsPerWindow * safetyMargin), даже под конкурентной нагрузкой.
func TestAdmissionNeverExceedsSafeLimit(t *testing.T) {
	const window = 150 * time.Millisecond
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"users/tweets": {RequestsPerWindow: 5, WindowSize: window},
		},
		SafetyMargin: 0.9, // safe = 4
	})

	var inFlight, maxSeen int64
	fn := func(ctx context.Context) (interface{}, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxSeen)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Schedule(context.Background(), "users/tweets", fn)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Не больше 4 одновременно допущенных в одном окне
	assert.LessOrEqual(t, atomic.LoadInt64(&maxSeen), int64(4))
}

// Сценарий: при квоте 5 и запасе 0.9 четвертый вызов проходит сразу,
// пятый приостанавливается до конца окна и стартует в свежем окне со счетом 1.
func TestExhaustedWindowSuspendsThenResets(t *testing.T) {
	const window = 120 * time.Millisecond
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"users/tweets": {RequestsPerWindow: 5, WindowSize: window},
		},
		SafetyMargin: 0.9, // safe = 4
	})

	ctx := context.Background()
	started := time.Now()
	for i := 0; i < 4; i++ {
		_, err := s.Schedule(ctx, "users/tweets", okFn(i))
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(started), window/2, "первые 4 вызова должны пройти без ожидания")

	// Пятый вызов ждет конца окна
	fifthStart := time.Now()
	_, err := s.Schedule(ctx, "users/tweets", okFn(4))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(fifthStart), window/2, "пятый вызов должен был ждать")

	snapshot, ok := s.WindowSnapshot("users/tweets")
	require.True(t, ok)
	assert.Equal(t, 1, snapshot.RequestCount, "после сброса счет начинается заново")
	assert.GreaterOrEqual(t, snapshot.StartTime.Sub(started), window/2, "окно должно быть свежим")
}

// Повторные вызовы после естественного истечения окна дают ровно один сброс
func TestWindowResetIdempotentOnExpiry(t *testing.T) {
	bus := &recordingBus{}
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"users/tweets": {RequestsPerWindow: 10, WindowSize: 40 * time.Millisecond},
		},
		Bus: bus,
	})

	ctx := context.Background()
	_, err := s.Schedule(ctx, "users/tweets", okFn(nil))
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond) // окно истекло

	for i := 0; i < 3; i++ {
		_, err := s.Schedule(ctx, "users/tweets", okFn(i))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, bus.count(types.EventRateLimitReset), "сброс происходит один раз на истечение, не на каждый вызов")

	snapshot, _ := s.WindowSnapshot("users/tweets")
	assert.Equal(t, 3, snapshot.RequestCount)
}

// Rate-limit отказ провайдера: окно сброшено, ошибка несет имя эндпоинта
func TestRateLimitRejectionResetsWindow(t *testing.T) {
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"tweets/search/recent": {RequestsPerWindow: 10, WindowSize: time.Minute},
		},
	})

	ctx := context.Background()
	_, err := s.Schedule(ctx, "tweets/search/recent", okFn(nil))
	require.NoError(t, err)

	_, err = s.Schedule(ctx, "tweets/search/recent", func(ctx context.Context) (interface{}, error) {
		return nil, &providerError{status: http.StatusTooManyRequests}
	})
	require.Error(t, err)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "tweets/search/recent", rle.Endpoint)
	assert.True(t, errors.Is(err, ErrRateLimited))

	snapshot, ok := s.WindowSnapshot("tweets/search/recent")
	require.True(t, ok)
	assert.Equal(t, 0, snapshot.RequestCount, "следующий вызов стартует начисто")
}

// Прочие ошибки проходят без изменений и не трогают окно
func TestOtherErrorsPassThrough(t *testing.T) {
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"users/tweets": {RequestsPerWindow: 10, WindowSize: time.Minute},
		},
	})

	boom := errors.New("connection refused")
	_, err := s.Schedule(context.Background(), "users/tweets", func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrRateLimited))

	snapshot, _ := s.WindowSnapshot("users/tweets")
	assert.Equal(t, 1, snapshot.RequestCount, "окно не сбрасывается на обычной ошибке")
}

// Батч: при вечном rate-limit выполняется ровно maxRetries+1 попыток
func TestBatchRetryBound(t *testing.T) {
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"tweets/search/recent": {
				RequestsPerWindow: 100,
				WindowSize:        time.Minute,
				MaxBatchSize:      100,
				Batch: &BatchConfig{
					MinInterval: time.Millisecond,
					MaxRetries:  3,
					RetryDelay:  time.Millisecond,
				},
			},
		},
	})

	var executions int32
	_, err := s.Schedule(context.Background(), "tweets/search/recent", func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&executions, 1)
		return nil, ErrRateLimited
	})

	require.Error(t, err)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, int32(4), atomic.LoadInt32(&executions), "maxRetries+1 выполнений")
}

// Батч: успешный повтор после временного rate-limit
func TestBatchRetryRecovers(t *testing.T) {
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"tweets/search/recent": {
				RequestsPerWindow: 100,
				WindowSize:        time.Minute,
				Batch: &BatchConfig{
					MinInterval: time.Millisecond,
					MaxRetries:  3,
					RetryDelay:  time.Millisecond,
				},
			},
		},
	})

	var executions int32
	result, err := s.Schedule(context.Background(), "tweets/search/recent", func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&executions, 1) < 3 {
			return nil, &providerError{status: http.StatusTooManyRequests}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(3), atomic.LoadInt32(&executions))
}

// Батч: соблюдается минимальный интервал между батчами
func TestBatchMinInterval(t *testing.T) {
	const interval = 60 * time.Millisecond
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"tweets/search/recent": {
				RequestsPerWindow: 100,
				WindowSize:        time.Minute,
				Batch: &BatchConfig{
					MinInterval: interval,
					MaxRetries:  1,
					RetryDelay:  time.Millisecond,
				},
			},
		},
	})

	ctx := context.Background()
	_, err := s.Schedule(ctx, "tweets/search/recent", okFn(nil))
	require.NoError(t, err)

	started := time.Now()
	_, err = s.Schedule(ctx, "tweets/search/recent", okFn(nil))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), interval-5*time.Millisecond)
}

// Отмена контекста прерывает ожидание окна
func TestContextCancelDuringWait(t *testing.T) {
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"users/tweets": {RequestsPerWindow: 1, WindowSize: time.Hour},
		},
		SafetyMargin: 1.0,
	})

	ctx := context.Background()
	_, err := s.Schedule(ctx, "users/tweets", okFn(nil))
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := s.Schedule(cancelCtx, "users/tweets", okFn(nil))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("ожидание не прервалось по отмене контекста")
	}
}

// События жизненного цикла публикуются, но их отсутствие ничего не ломает
func TestLifecycleEvents(t *testing.T) {
	bus := &recordingBus{}
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"users/tweets": {RequestsPerWindow: 10, WindowSize: time.Minute},
		},
		Bus: bus,
	})

	ctx := context.Background()
	_, err := s.Schedule(ctx, "users/tweets", okFn(nil))
	require.NoError(t, err)

	assert.Equal(t, 1, bus.count(types.EventRequestScheduled))
	assert.Equal(t, 1, bus.count(types.EventRequestCompleted))

	// Без шины планировщик работает так же
	silent := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"users/tweets": {RequestsPerWindow: 10, WindowSize: time.Minute},
		},
	})
	_, err = silent.Schedule(ctx, "users/tweets", okFn(nil))
	assert.NoError(t, err)
}

// Эндпоинты независимы: исчерпание одного не задерживает другой
func TestEndpointsIndependent(t *testing.T) {
	s := NewScheduler(Config{
		Limits: map[string]EndpointLimit{
			"slow/endpoint": {RequestsPerWindow: 1, WindowSize: time.Hour},
			"fast/endpoint": {RequestsPerWindow: 100, WindowSize: time.Minute},
		},
		SafetyMargin: 1.0,
	})

	ctx := context.Background()
	_, err := s.Schedule(ctx, "slow/endpoint", okFn(nil))
	require.NoError(t, err)

	// slow исчерпан, fast должен проходить мгновенно
	started := time.Now()
	_, err = s.Schedule(ctx, "fast/endpoint", okFn(nil))
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 50*time.Millisecond)
}
