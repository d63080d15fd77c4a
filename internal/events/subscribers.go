// internal/events/subscribers.go
package events

import (
	"sync"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// RateLimitLogSubscriber логирует события планировщика запросов.
// Чисто наблюдательный: ошибок не возвращает, на поток управления не влияет.
type RateLimitLogSubscriber struct {
	mu       sync.Mutex
	warnings map[string]int64 // счетчик предупреждений по эндпоинтам
}

// NewRateLimitLogSubscriber создает подписчика логирования квот
func NewRateLimitLogSubscriber() *RateLimitLogSubscriber {
	return &RateLimitLogSubscriber{
		warnings: make(map[string]int64),
	}
}

func (s *RateLimitLogSubscriber) GetName() string {
	return "rate_limit_log"
}

func (s *RateLimitLogSubscriber) GetSubscribedEvents() []types.EventType {
	return []types.EventType{
		types.EventRateLimitWarning,
		types.EventRateLimitExceeded,
		types.EventRateLimitReset,
	}
}

func (s *RateLimitLogSubscriber) HandleEvent(event types.Event) error {
	data, _ := event.Data.(map[string]interface{})
	endpoint, _ := data["endpoint"].(string)

	switch event.Type {
	case types.EventRateLimitWarning:
		s.mu.Lock()
		s.warnings[endpoint]++
		total := s.warnings[endpoint]
		s.mu.Unlock()
		logger.Debug("📉 Квота %s близка к исчерпанию (%v/%v), всего предупреждений: %d",
			endpoint, data["count"], data["safe_limit"], total)

	case types.EventRateLimitExceeded:
		logger.Warn("🔴 Квота %s исчерпана", endpoint)

	case types.EventRateLimitReset:
		logger.Debug("🟢 Окно %s открыто заново (%v)", endpoint, data["reason"])
	}

	return nil
}

// Warnings возвращает количество предупреждений по эндпоинту
func (s *RateLimitLogSubscriber) Warnings(endpoint string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warnings[endpoint]
}
