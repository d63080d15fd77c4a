// internal/storage/rediscache/dedup.go
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

const keyPrefix = "monitor:"

// Deduplicator - Redis-маркеры обработанных транзакций.
// Webhook и websocket-поток могут доставить одну транзакцию дважды;
// SETNX с TTL гарантирует однократную обработку.
type Deduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeduplicator создает дедупликатор и проверяет подключение
func NewDeduplicator(addr, password string, db int, ttl time.Duration) (*Deduplicator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("🧰 Redis подключен (%s)", addr)
	return &Deduplicator{client: client, ttl: ttl}, nil
}

// Seen атомарно отмечает подпись обработанной.
// Возвращает true, если подпись уже встречалась.
func (d *Deduplicator) Seen(ctx context.Context, signature string) (bool, error) {
	key := keyPrefix + "tx:" + signature
	created, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !created, nil
}

// Forget снимает маркер (для тестов и ручного переигрывания)
func (d *Deduplicator) Forget(ctx context.Context, signature string) error {
	return d.client.Del(ctx, keyPrefix+"tx:"+signature).Err()
}

// Close закрывает подключение
func (d *Deduplicator) Close() error {
	return d.client.Close()
}
