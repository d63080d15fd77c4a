// internal/storage/postgres/watch_repository.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// schema - таблицы хранилища. Выполняется при EnsureSchema;
// полноценные миграции вне зоны ответственности сервиса.
const schema = `
CREATE TABLE IF NOT EXISTS watches (
    id           TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    upstream_id  TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    monitor      TEXT NOT NULL DEFAULT 'all',
    priority     BOOLEAN NOT NULL DEFAULT FALSE,
    last_seen_id TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_watches_kind ON watches (kind);

CREATE TABLE IF NOT EXISTS sms_subscribers (
    phone      TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// WatchRepository - Postgres реализация types.WatchStore
type WatchRepository struct {
	db *sqlx.DB
}

// NewWatchRepository открывает подключение и проверяет его
func NewWatchRepository(dsn string) (*WatchRepository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("🗄 Postgres подключен")
	return &WatchRepository{db: db}, nil
}

// EnsureSchema создает таблицы, если их нет
func (r *WatchRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close закрывает подключение
func (r *WatchRepository) Close() error {
	return r.db.Close()
}

// UpsertWatch создает или обновляет запись наблюдения.
// Повторный upsert существующей записи не регрессирует курсор.
func (r *WatchRepository) UpsertWatch(ctx context.Context, entry *types.WatchEntry) error {
	query := `
    INSERT INTO watches (id, kind, upstream_id, display_name, monitor, priority, last_seen_id, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
    ON CONFLICT (id) DO UPDATE SET
        upstream_id  = EXCLUDED.upstream_id,
        display_name = EXCLUDED.display_name,
        monitor      = EXCLUDED.monitor,
        priority     = EXCLUDED.priority,
        updated_at   = NOW()
    `
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Kind, entry.UpstreamID, entry.DisplayName, entry.Monitor, entry.Priority, entry.LastSeenID)
	if err != nil {
		return fmt.Errorf("upsert watch %s: %w", entry.ID, err)
	}
	return nil
}

// GetWatch возвращает запись по идентификатору
func (r *WatchRepository) GetWatch(ctx context.Context, id string) (*types.WatchEntry, error) {
	var entry types.WatchEntry
	query := `
    SELECT id, kind, upstream_id, display_name, monitor, priority, last_seen_id, created_at, updated_at
    FROM watches
    WHERE id = $1
    `
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("get watch %s: %w", id, err)
	}
	return &entry, nil
}

// ListWatches возвращает все записи заданного вида
func (r *WatchRepository) ListWatches(ctx context.Context, kind types.WatchKind) ([]*types.WatchEntry, error) {
	var entries []*types.WatchEntry
	query := `
    SELECT id, kind, upstream_id, display_name, monitor, priority, last_seen_id, created_at, updated_at
    FROM watches
    WHERE kind = $1
    ORDER BY created_at
    `
	if err := r.db.SelectContext(ctx, &entries, query, kind); err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	return entries, nil
}

// DeleteWatch удаляет запись; отсутствие записи не ошибка
func (r *WatchRepository) DeleteWatch(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM watches WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete watch %s: %w", id, err)
	}
	return nil
}

// UpdateCursor продвигает курсор записи
func (r *WatchRepository) UpdateCursor(ctx context.Context, id string, lastSeenID string) error {
	query := `UPDATE watches SET last_seen_id = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, lastSeenID)
	if err != nil {
		return fmt.Errorf("update cursor %s: %w", id, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// UpsertSmsSubscriber регистрирует подписчика SMS
func (r *WatchRepository) UpsertSmsSubscriber(ctx context.Context, sub *types.SmsSubscriber) error {
	query := `
    INSERT INTO sms_subscribers (phone, created_at)
    VALUES ($1, NOW())
    ON CONFLICT (phone) DO NOTHING
    `
	if _, err := r.db.ExecContext(ctx, query, sub.Phone); err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

// DeleteSmsSubscriber удаляет подписчика; отсутствие не ошибка
func (r *WatchRepository) DeleteSmsSubscriber(ctx context.Context, phone string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sms_subscribers WHERE phone = $1`, phone); err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	return nil
}

// ListSmsSubscribers возвращает всех подписчиков SMS
func (r *WatchRepository) ListSmsSubscribers(ctx context.Context) ([]*types.SmsSubscriber, error) {
	var subs []*types.SmsSubscriber
	query := `SELECT phone, created_at FROM sms_subscribers ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return subs, nil
}
