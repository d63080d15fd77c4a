// internal/events/event_bus.go
package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// EventBus - центральная шина событий
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[types.EventType][]types.EventSubscriber
	eventBuffer chan types.Event
	metrics     *types.EventBusMetrics
	config      EventBusConfig
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// EventBusConfig - конфигурация EventBus
type EventBusConfig struct {
	BufferSize    int  `json:"buffer_size"`
	WorkerCount   int  `json:"worker_count"`
	EnableLogging bool `json:"enable_logging"`
}

// DefaultConfig - конфигурация по умолчанию
var DefaultConfig = EventBusConfig{
	BufferSize:    1000,
	WorkerCount:   4,
	EnableLogging: true,
}

// NewEventBus создает новую шину событий
func NewEventBus(config ...EventBusConfig) *EventBus {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &EventBus{
		subscribers: make(map[types.EventType][]types.EventSubscriber),
		eventBuffer: make(chan types.Event, cfg.BufferSize),
		metrics: &types.EventBusMetrics{
			SubscribersCount: make(map[types.EventType]int),
		},
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Start запускает EventBus
func (b *EventBus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	// Запускаем обработчиков событий
	for i := 0; i < b.config.WorkerCount; i++ {
		b.wg.Add(1)
		go b.eventWorker(i)
	}

	if b.config.EnableLogging {
		logger.Info("🚀 EventBus запущен с %d обработчиками", b.config.WorkerCount)
	}
}

// Stop останавливает EventBus. Буфер не закрывается: поздние Publish из
// фоновых горутин (обработка webhook может пережить остановку) получают
// ошибку "not running" вместо паники на закрытом канале.
func (b *EventBus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopChan)
	b.wg.Wait()

	if b.config.EnableLogging {
		logger.Info("🛑 EventBus остановлен")
	}
}

// Subscribe подписывает обработчик на тип события
func (b *EventBus) Subscribe(eventType types.EventType, subscriber types.EventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Проверяем, что подписчик заявил этот тип события
	found := false
	for _, et := range subscriber.GetSubscribedEvents() {
		if et == eventType {
			found = true
			break
		}
	}

	if !found {
		logger.Warn("⚠️ Подписчик %s не заявил событие %s", subscriber.GetName(), eventType)
		return
	}

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
	b.metrics.SubscribersCount[eventType] = len(b.subscribers[eventType])

	if b.config.EnableLogging {
		logger.Debug("✅ %s подписался на %s", subscriber.GetName(), eventType)
	}
}

// Unsubscribe отписывает обработчик от типа события
func (b *EventBus) Unsubscribe(eventType types.EventType, subscriber types.EventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, exists := b.subscribers[eventType]
	if !exists {
		return
	}

	for i, sub := range subscribers {
		if sub == subscriber {
			b.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			b.metrics.SubscribersCount[eventType] = len(b.subscribers[eventType])
			return
		}
	}
}

// Publish публикует событие асинхронно. При переполненном буфере
// событие отбрасывается: события наблюдательные, терять их допустимо.
func (b *EventBus) Publish(event types.Event) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return fmt.Errorf("event bus is not running")
	}

	// Устанавливаем ID и временную метку если они не установлены
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventBuffer <- event:
		b.metrics.Mu.Lock()
		b.metrics.EventsPublished++
		b.metrics.Mu.Unlock()
		return nil
	default:
		if b.config.EnableLogging {
			logger.Warn("⚠️ Буфер событий полон, событие отброшено: %s", event.Type)
		}
		return fmt.Errorf("event buffer is full")
	}
}

// PublishSync публикует событие синхронно
func (b *EventBus) PublishSync(event types.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return b.processEvent(event)
}

// GetMetrics возвращает метрики шины
func (b *EventBus) GetMetrics() *types.EventBusMetrics {
	return b.metrics
}

// eventWorker - горутина-обработчик буфера событий
func (b *EventBus) eventWorker(id int) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopChan:
			// Дорабатываем оставшиеся события
			for {
				select {
				case event := <-b.eventBuffer:
					b.processEvent(event)
				default:
					return
				}
			}
		case event := <-b.eventBuffer:
			b.processEvent(event)
		}
	}
}

// processEvent доставляет событие всем подписчикам его типа.
// Паника одного подписчика не валит воркера и других подписчиков.
func (b *EventBus) processEvent(event types.Event) error {
	b.mu.RLock()
	subscribers := append([]types.EventSubscriber(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	var firstErr error
	for _, sub := range subscribers {
		if err := b.deliver(sub, event); err != nil {
			b.metrics.Mu.Lock()
			b.metrics.EventsFailed++
			b.metrics.Mu.Unlock()

			logger.Error("❌ Подписчик %s не обработал %s: %v", sub.GetName(), event.Type, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	b.metrics.Mu.Lock()
	b.metrics.EventsProcessed++
	b.metrics.Mu.Unlock()
	return firstErr
}

func (b *EventBus) deliver(sub types.EventSubscriber, event types.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v\n%s", r, debug.Stack())
		}
	}()
	return sub.HandleEvent(event)
}
