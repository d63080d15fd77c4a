// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/BlockchainHB/twitter-monitor/internal/api/helius"
	"github.com/BlockchainHB/twitter-monitor/internal/api/twitter"
	"github.com/BlockchainHB/twitter-monitor/internal/config"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
	"github.com/BlockchainHB/twitter-monitor/pkg/utils"
)

// ContentAPI - контракт контент-провайдера (Twitter)
type ContentAPI interface {
	GetUserByUsername(ctx context.Context, username string) (*twitter.User, error)
	GetUserTweets(ctx context.Context, userID, sinceID string) ([]twitter.Tweet, error)
	SearchRecent(ctx context.Context, usernames []string, sinceID string) ([]twitter.Tweet, error)
}

// ChainAPI - контракт провайдера данных блокчейна (webhook CRUD)
type ChainAPI interface {
	RegisterWebhook(ctx context.Context, webhookURL, authHeader string, addresses []string) (string, error)
	ListWebhooks(ctx context.Context) ([]helius.Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// PriceAPI - контракт API обогащения цен токенов
type PriceAPI interface {
	GetTokenInfo(ctx context.Context, address string) (*types.TokenInfo, error)
}

// TxDeduplicator - маркеры обработанных транзакций (опционально)
type TxDeduplicator interface {
	Seen(ctx context.Context, signature string) (bool, error)
}

// StreamRefresher - потребитель изменений состава кошельков
// (websocket-поток переподписывается на актуальный набор)
type StreamRefresher interface {
	Resubscribe()
}

// Dispatcher - оркестратор: владеет watch-листами, опрашивает и принимает
// события, классифицирует, обогащает через планировщик квот и маршрутизирует
// уведомления с эскалацией по порогам стоимости.
type Dispatcher struct {
	cfg     *config.Config
	store   types.WatchStore
	content ContentAPI
	chain   ChainAPI
	prices  PriceAPI
	sink    types.NotificationSink
	sms     types.SmsSender   // nil - SMS отключены
	dedup   TxDeduplicator    // nil - дедупликация отключена
	bus     types.EventBus    // nil - события не публикуются
	stream  StreamRefresher   // nil - поток не подключен
}

// Deps - зависимости диспетчера
type Deps struct {
	Store   types.WatchStore
	Content ContentAPI
	Chain   ChainAPI
	Prices  PriceAPI
	Sink    types.NotificationSink
	Sms     types.SmsSender
	Dedup   TxDeduplicator
	Bus     types.EventBus
}

// NewDispatcher создает диспетчер событий
func NewDispatcher(cfg *config.Config, deps Deps) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		store:   deps.Store,
		content: deps.Content,
		chain:   deps.Chain,
		prices:  deps.Prices,
		sink:    deps.Sink,
		sms:     deps.Sms,
		dedup:   deps.Dedup,
		bus:     deps.Bus,
	}
}

// SetStreamRefresher подключает websocket-поток к мутациям watch-листа.
// Поток создается после диспетчера (он же его WalletProvider), поэтому
// связь устанавливается отдельным шагом при сборке приложения.
func (d *Dispatcher) SetStreamRefresher(stream StreamRefresher) {
	d.stream = stream
}

// notifyWalletSetChanged сообщает потоку об изменении состава кошельков
func (d *Dispatcher) notifyWalletSetChanged() {
	if d.stream != nil {
		d.stream.Resubscribe()
	}
}

// AddWatch добавляет сущность в watch-лист. Для аккаунтов сущность сперва
// проверяется у провайдера (один вызов под планировщиком). Повторное
// добавление уже отслеживаемой сущности - успешный no-op.
func (d *Dispatcher) AddWatch(ctx context.Context, id string, kind types.WatchKind, monitor types.MonitorType, priority bool) (*types.WatchEntry, error) {
	id = strings.TrimSpace(id)
	if kind == types.WatchKindTwitter {
		id = utils.NormalizeHandle(id)
	}

	if err := validateWatchID(id, kind); err != nil {
		return nil, err
	}
	if monitor == "" {
		monitor = types.MonitorAll
	}

	// Идемпотентность: уже отслеживаемая сущность возвращается как есть
	if existing, err := d.store.GetWatch(ctx, id); err == nil {
		logger.Debug("👀 %s уже отслеживается", id)
		return existing, nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	entry := &types.WatchEntry{
		ID:          id,
		Kind:        kind,
		Monitor:     monitor,
		Priority:    priority,
		DisplayName: id,
	}

	if kind == types.WatchKindTwitter {
		user, err := d.content.GetUserByUsername(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil, fmt.Errorf("account @%s: %w", id, types.ErrNotFound)
			}
			return nil, err
		}
		entry.UpstreamID = user.ID
		entry.DisplayName = user.Name
	}

	if err := d.store.UpsertWatch(ctx, entry); err != nil {
		return nil, err
	}

	d.publish(types.EventWatchAdded, map[string]interface{}{"id": id, "kind": string(kind)})
	logger.Info("✅ Добавлено наблюдение: %s (%s)", entry.DisplayName, kind)

	// Для кошельков пересобираем набор адресов webhook и переподписываем поток
	if kind == types.WatchKindWallet {
		if err := d.SyncWebhook(ctx); err != nil {
			logger.Warn("⚠️ Не удалось синхронизировать webhook: %v", err)
		}
		d.notifyWalletSetChanged()
	}
	return entry, nil
}

// RemoveWatch удаляет сущность из watch-листа.
// Удаление несуществующей записи - успех (идемпотентность).
func (d *Dispatcher) RemoveWatch(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if !types.ValidWalletAddress(id) {
		id = utils.NormalizeHandle(id)
	}

	entry, err := d.store.GetWatch(ctx, id)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}

	if err := d.store.DeleteWatch(ctx, id); err != nil {
		return err
	}

	d.publish(types.EventWatchRemoved, map[string]interface{}{"id": id})
	logger.Info("🗑 Наблюдение снято: %s", id)

	if entry != nil && entry.Kind == types.WatchKindWallet {
		if err := d.SyncWebhook(ctx); err != nil {
			logger.Warn("⚠️ Не удалось синхронизировать webhook: %v", err)
		}
		d.notifyWalletSetChanged()
	}
	return nil
}

// AddSmsSubscriber регистрирует подписчика SMS (идемпотентно)
func (d *Dispatcher) AddSmsSubscriber(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if !types.ValidPhone(phone) {
		return types.NewValidationError("phone", "must be E.164, e.g. +15551234567")
	}
	return d.store.UpsertSmsSubscriber(ctx, &types.SmsSubscriber{Phone: phone})
}

// RemoveSmsSubscriber удаляет подписчика SMS (идемпотентно)
func (d *Dispatcher) RemoveSmsSubscriber(ctx context.Context, phone string) error {
	return d.store.DeleteSmsSubscriber(ctx, strings.TrimSpace(phone))
}

// SyncWebhook приводит зарегистрированный у провайдера webhook в
// соответствие с текущим набором отслеживаемых кошельков
func (d *Dispatcher) SyncWebhook(ctx context.Context) error {
	if d.chain == nil || d.cfg.WebhookURL == "" {
		return nil
	}

	entries, err := d.store.ListWatches(ctx, types.WatchKindWallet)
	if err != nil {
		return err
	}
	addresses := make([]string, 0, len(entries))
	for _, e := range entries {
		addresses = append(addresses, e.ID)
	}

	hooks, err := d.chain.ListWebhooks(ctx)
	if err != nil {
		return err
	}

	var existing *helius.Webhook
	for i := range hooks {
		if hooks[i].WebhookURL == d.cfg.WebhookURL {
			existing = &hooks[i]
			break
		}
	}

	if existing != nil {
		if sameAddressSet(existing.AccountAddresses, addresses) {
			return nil // набор не изменился
		}
		if err := d.chain.DeleteWebhook(ctx, existing.WebhookID); err != nil {
			return err
		}
	}

	if len(addresses) == 0 {
		return nil
	}

	webhookID, err := d.chain.RegisterWebhook(ctx, d.cfg.WebhookURL, d.cfg.WebhookAuthToken, addresses)
	if err != nil {
		return err
	}
	logger.Info("🔗 Webhook %s зарегистрирован на %d адресов", webhookID, len(addresses))
	return nil
}

// WatchedWallets возвращает адреса отслеживаемых кошельков
// (для подписки websocket-потока)
func (d *Dispatcher) WatchedWallets() []string {
	entries, err := d.store.ListWatches(context.Background(), types.WatchKindWallet)
	if err != nil {
		logger.Error("❌ Не удалось получить список кошельков: %v", err)
		return nil
	}
	wallets := make([]string, 0, len(entries))
	for _, e := range entries {
		wallets = append(wallets, e.ID)
	}
	return wallets
}

// validateWatchID отклоняет некорректные идентификаторы до сетевых вызовов
func validateWatchID(id string, kind types.WatchKind) error {
	if id == "" {
		return types.NewValidationError("id", "must not be empty")
	}
	switch kind {
	case types.WatchKindTwitter:
		if !types.ValidHandle(id) {
			return types.NewValidationError("id", "invalid account handle")
		}
	case types.WatchKindWallet:
		if !types.ValidWalletAddress(id) {
			return types.NewValidationError("id", "invalid wallet address")
		}
	default:
		return types.NewValidationError("kind", "unknown watch kind")
	}
	return nil
}

// sameAddressSet сравнивает наборы адресов без учета порядка
func sameAddressSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, addr := range a {
		set[addr] = struct{}{}
	}
	for _, addr := range b {
		if _, ok := set[addr]; !ok {
			return false
		}
	}
	return true
}

// publish публикует событие мониторинга, если шина подключена
func (d *Dispatcher) publish(eventType types.EventType, data map[string]interface{}) {
	if d.bus == nil {
		return
	}
	_ = d.bus.Publish(types.Event{
		ID:     uuid.New().String(),
		Type:   eventType,
		Source: "dispatcher",
		Data:   data,
	})
}
