// /internal/types/watch.go
package types

import "time"

// WatchKind - вид отслеживаемой сущности
type WatchKind string

const (
	WatchKindTwitter WatchKind = "twitter" // аккаунт в Twitter/X
	WatchKindWallet  WatchKind = "wallet"  // кошелек Solana
)

// MonitorType - режим мониторинга аккаунта
type MonitorType string

const (
	MonitorAll         MonitorType = "all"          // все посты
	MonitorAddressOnly MonitorType = "address_only" // только посты с адресами токенов
)

// WatchEntry - одна отслеживаемая сущность (аккаунт или кошелек).
// Жизненный цикл: created → active → (removed). Состояния "paused" нет,
// режим мониторинга и приоритет меняются на месте.
type WatchEntry struct {
	ID          string      `db:"id" json:"id"`                 // ник аккаунта или адрес кошелька
	Kind        WatchKind   `db:"kind" json:"kind"`             // twitter | wallet
	UpstreamID  string      `db:"upstream_id" json:"upstream_id"` // внутренний ID у провайдера (user id)
	DisplayName string      `db:"display_name" json:"display_name"`
	Monitor     MonitorType `db:"monitor" json:"monitor"`
	Priority    bool        `db:"priority" json:"priority"`
	LastSeenID  string      `db:"last_seen_id" json:"last_seen_id"` // курсор последнего обработанного элемента
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// SmsSubscriber - подписчик SMS-уведомлений
type SmsSubscriber struct {
	Phone     string    `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TxKind - классификация транзакции кошелька
type TxKind string

const (
	TxKindSwap     TxKind = "swap"
	TxKindTransfer TxKind = "transfer"
)

// TokenInfo - данные токена из API обогащения.
// Nil означает "токен не найден" - это валидный пустой результат, не ошибка.
type TokenInfo struct {
	Address   string  `json:"address"`
	Symbol    string  `json:"symbol"`
	PriceUsd  float64 `json:"price_usd"`
	MarketCap float64 `json:"market_cap"`
	Liquidity float64 `json:"liquidity"`
	Volume24h float64 `json:"volume_24h"`
}

// ContentItem - один элемент контента из ленты аккаунта
type ContentItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationEvent - результат классификации одного события.
// Живет только в рамках одного цикла диспетчеризации, не персистится.
type NotificationEvent struct {
	ID             string     `json:"id"`
	Source         WatchEntry `json:"source"`
	Text           string     `json:"text"`
	Addresses      []string   `json:"addresses"` // найденные адреса токенов
	TxKind         TxKind     `json:"tx_kind,omitempty"`
	Signature      string     `json:"signature,omitempty"` // подпись транзакции (для кошельков)
	TokenInfo      *TokenInfo `json:"token_info,omitempty"`
	UsdValue       float64    `json:"usd_value"`
	HighVisibility bool       `json:"high_visibility"` // превышен порог broadcast
	CreatedAt      time.Time  `json:"created_at"`
}

// ChannelKind - канал доставки уведомления
type ChannelKind string

const (
	ChannelContent      ChannelKind = "content"
	ChannelAddressAlert ChannelKind = "address_alert"
	ChannelPriority     ChannelKind = "priority"
	ChannelWalletAlert  ChannelKind = "wallet_alert"
)

// NotificationSink - приемник уведомлений (Telegram, консоль)
type NotificationSink interface {
	Send(kind ChannelKind, message string) error
}

// SmsSender - отправитель SMS
type SmsSender interface {
	SendSms(message, phone string) error
}
