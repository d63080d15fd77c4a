// internal/storage/memory/memory_store.go
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
)

// WatchStore - in-memory реализация хранилища watch-листов.
// Используется при отключенной БД и в тестах. Все операции под мьютексом,
// что дает read-your-writes между мутацией и следующим циклом опроса.
type WatchStore struct {
	mu          sync.RWMutex
	watches     map[string]*types.WatchEntry
	subscribers map[string]*types.SmsSubscriber
}

// NewWatchStore создает пустое in-memory хранилище
func NewWatchStore() *WatchStore {
	return &WatchStore{
		watches:     make(map[string]*types.WatchEntry),
		subscribers: make(map[string]*types.SmsSubscriber),
	}
}

// UpsertWatch создает или обновляет запись наблюдения
func (s *WatchStore) UpsertWatch(ctx context.Context, entry *types.WatchEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	clone := *entry
	clone.UpdatedAt = now

	if existing, ok := s.watches[entry.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
		// Курсор не регрессирует при повторном upsert
		if clone.LastSeenID == "" {
			clone.LastSeenID = existing.LastSeenID
		}
	} else {
		clone.CreatedAt = now
	}

	s.watches[entry.ID] = &clone
	return nil
}

// GetWatch возвращает запись по идентификатору
func (s *WatchStore) GetWatch(ctx context.Context, id string) (*types.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.watches[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

// ListWatches возвращает все записи заданного вида
func (s *WatchStore) ListWatches(ctx context.Context, kind types.WatchKind) ([]*types.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.WatchEntry
	for _, entry := range s.watches {
		if entry.Kind == kind {
			clone := *entry
			result = append(result, &clone)
		}
	}
	return result, nil
}

// DeleteWatch удаляет запись; отсутствие записи не ошибка
func (s *WatchStore) DeleteWatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, id)
	return nil
}

// UpdateCursor продвигает курсор записи
func (s *WatchStore) UpdateCursor(ctx context.Context, id string, lastSeenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.watches[id]
	if !ok {
		return types.ErrNotFound
	}
	entry.LastSeenID = lastSeenID
	entry.UpdatedAt = time.Now()
	return nil
}

// UpsertSmsSubscriber регистрирует подписчика SMS
func (s *WatchStore) UpsertSmsSubscriber(ctx context.Context, sub *types.SmsSubscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *sub
	if existing, ok := s.subscribers[sub.Phone]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.subscribers[sub.Phone] = &clone
	return nil
}

// DeleteSmsSubscriber удаляет подписчика; отсутствие не ошибка
func (s *WatchStore) DeleteSmsSubscriber(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, phone)
	return nil
}

// ListSmsSubscribers возвращает всех подписчиков SMS
func (s *WatchStore) ListSmsSubscribers(ctx context.Context) ([]*types.SmsSubscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.SmsSubscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		clone := *sub
		result = append(result, &clone)
	}
	return result, nil
}
