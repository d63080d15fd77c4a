// /internal/types/storage.go
package types

import "context"

// WatchStore - хранилище watch-листов и подписчиков SMS.
// Контракт: upsert идемпотентен, delete несуществующей записи не ошибка,
// чтение после записи видит запись (read-your-writes).
type WatchStore interface {
	// UpsertWatch создает или обновляет запись наблюдения
	UpsertWatch(ctx context.Context, entry *WatchEntry) error

	// GetWatch возвращает запись по идентификатору (nil, ErrNotFound если нет)
	GetWatch(ctx context.Context, id string) (*WatchEntry, error)

	// ListWatches возвращает все активные записи заданного вида
	ListWatches(ctx context.Context, kind WatchKind) ([]*WatchEntry, error)

	// DeleteWatch удаляет запись; отсутствие записи не ошибка
	DeleteWatch(ctx context.Context, id string) error

	// UpdateCursor продвигает курсор последнего обработанного элемента
	UpdateCursor(ctx context.Context, id string, lastSeenID string) error

	// UpsertSmsSubscriber регистрирует подписчика SMS
	UpsertSmsSubscriber(ctx context.Context, sub *SmsSubscriber) error

	// DeleteSmsSubscriber удаляет подписчика; отсутствие не ошибка
	DeleteSmsSubscriber(ctx context.Context, phone string) error

	// ListSmsSubscribers возвращает всех подписчиков SMS
	ListSmsSubscribers(ctx context.Context) ([]*SmsSubscriber, error)
}
