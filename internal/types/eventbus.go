// /internal/types/eventbus.go
package types

import (
	"sync"
	"time"
)

// EventBus - интерфейс шины событий
type EventBus interface {
	// Publish публикует событие
	Publish(event Event) error

	// PublishSync публикует событие синхронно
	PublishSync(event Event) error

	// Subscribe подписывает обработчик на тип события
	Subscribe(eventType EventType, subscriber EventSubscriber)

	// Unsubscribe отписывает обработчика от типа события
	Unsubscribe(eventType EventType, subscriber EventSubscriber)

	// Start запускает EventBus
	Start()

	// Stop останавливает EventBus
	Stop()

	// GetMetrics возвращает метрики
	GetMetrics() *EventBusMetrics
}

// Event - структура события
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventType - тип события
type EventType string

// EventSubscriber - интерфейс подписчика
type EventSubscriber interface {
	HandleEvent(event Event) error
	GetName() string
	GetSubscribedEvents() []EventType
}

// EventBusMetrics - метрики EventBus
type EventBusMetrics struct {
	Mu               sync.RWMutex
	EventsPublished  int64             `json:"events_published"`
	EventsProcessed  int64             `json:"events_processed"`
	EventsFailed     int64             `json:"events_failed"`
	SubscribersCount map[EventType]int `json:"subscribers_count"`
}

// Константы типов событий
const (
	EventServiceStarted EventType = "service_started"
	EventServiceStopped EventType = "service_stopped"
	EventServiceError   EventType = "service_error"

	// Жизненный цикл планировщика запросов
	EventRequestScheduled  EventType = "request_scheduled"
	EventRequestCompleted  EventType = "request_completed"
	EventRequestFailed     EventType = "request_failed"
	EventRateLimitWarning  EventType = "rate_limit_warning"
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventRateLimitReset    EventType = "rate_limit_reset"

	// События мониторинга
	EventWatchAdded       EventType = "watch_added"
	EventWatchRemoved     EventType = "watch_removed"
	EventWalletActivity   EventType = "wallet_activity"
	EventNotificationSent EventType = "notification_sent"
)
