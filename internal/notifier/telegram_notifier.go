// internal/notifier/telegram_notifier.go
package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/config"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// TelegramNotifier - приемник уведомлений поверх Telegram Bot API.
// Каждый вид канала приходит в свой чат; между отправками в один чат
// выдерживается минимальный интервал.
type TelegramNotifier struct {
	httpClient  *http.Client
	baseURL     string
	chats       map[types.ChannelKind]string
	minInterval time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time // по chat_id
}

// telegramMessage - тело запроса sendMessage
type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// telegramResponse - ответ от Telegram API
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewTelegramNotifier создает нотификатор. Возвращает nil, если Telegram
// отключен или не задан токен.
func NewTelegramNotifier(cfg *config.Config) *TelegramNotifier {
	if !cfg.TelegramEnabled || cfg.TelegramToken == "" {
		logger.Warn("⚠️ TelegramNotifier: Telegram отключен или токен не задан")
		return nil
	}

	chats := map[types.ChannelKind]string{
		types.ChannelContent:      cfg.TelegramContentChat,
		types.ChannelAddressAlert: cfg.TelegramAddressChat,
		types.ChannelPriority:     cfg.TelegramPriorityChat,
		types.ChannelWalletAlert:  cfg.TelegramWalletChat,
	}

	return &TelegramNotifier{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     "https://api.telegram.org/bot" + cfg.TelegramToken,
		chats:       chats,
		minInterval: cfg.TelegramMinInterval,
		lastSent:    make(map[string]time.Time),
	}
}

// Send отправляет сообщение в чат, соответствующий виду канала
func (tn *TelegramNotifier) Send(kind types.ChannelKind, message string) error {
	chatID := tn.chats[kind]
	if chatID == "" {
		// Канал не сконфигурирован - падаем на чат контента
		chatID = tn.chats[types.ChannelContent]
	}
	if chatID == "" {
		return fmt.Errorf("telegram: no chat configured for channel %s", kind)
	}

	tn.waitMinInterval(chatID)

	payload := telegramMessage{
		ChatID:    chatID,
		Text:      message,
		ParseMode: "HTML",
	}
	return tn.sendTelegramRequest("sendMessage", payload)
}

// waitMinInterval выдерживает минимальный интервал отправки в один чат
func (tn *TelegramNotifier) waitMinInterval(chatID string) {
	tn.mu.Lock()
	last := tn.lastSent[chatID]
	wait := tn.minInterval - time.Since(last)
	if wait > 0 {
		// Резервируем слот до сна, чтобы конкурентные отправки выстроились
		tn.lastSent[chatID] = last.Add(tn.minInterval)
	} else {
		tn.lastSent[chatID] = time.Now()
	}
	tn.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}

// sendTelegramRequest выполняет вызов метода Bot API
func (tn *TelegramNotifier) sendTelegramRequest(method string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s", tn.baseURL, method)
	resp, err := tn.httpClient.Post(endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	var parsed telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&parsed); err != nil {
		return fmt.Errorf("telegram: decode response: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram: %s failed: %s", method, parsed.Description)
	}

	logger.Debug("📨 Telegram: сообщение отправлено (%s)", method)
	return nil
}
