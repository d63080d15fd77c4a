// internal/api/solana/ws/wallet_watcher.go
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

const (
	pingInterval  = 20 * time.Second
	maxRetryDelay = 60 * time.Second
)

// ActivityHandler вызывается на каждую замеченную транзакцию кошелька
type ActivityHandler func(wallet, signature string)

// WalletProvider узкий интерфейс для получения списка отслеживаемых кошельков
type WalletProvider interface {
	// WatchedWallets возвращает адреса кошельков для подписки
	WatchedWallets() []string
}

// WalletWatcher подписывается на логи транзакций отслеживаемых кошельков
// через Solana RPC websocket. Дополняет webhook-доставку: webhook может
// опаздывать или теряться, поток дает быстрый сигнал активности.
type WalletWatcher struct {
	wsURL    string
	wallets  WalletProvider
	handler  ActivityHandler

	stopCh    chan struct{}
	refreshCh chan struct{}
	wg        sync.WaitGroup

	// соответствие id подписки -> адрес кошелька
	subsMu sync.RWMutex
	subs   map[int64]string
}

// NewWalletWatcher создает наблюдатель кошельков
func NewWalletWatcher(wsURL string, wallets WalletProvider, handler ActivityHandler) *WalletWatcher {
	return &WalletWatcher{
		wsURL:     wsURL,
		wallets:   wallets,
		handler:   handler,
		stopCh:    make(chan struct{}),
		refreshCh: make(chan struct{}, 1),
		subs:      make(map[int64]string),
	}
}

// Resubscribe роняет текущее WS-соединение, чтобы следующее подключение
// подписалось на актуальный набор кошельков. Вызывается диспетчером
// после мутаций watch-листа; без активного соединения - no-op.
func (w *WalletWatcher) Resubscribe() {
	select {
	case w.refreshCh <- struct{}{}:
		logger.Debug("🔄 WalletWatcher: запрошена переподписка")
	default:
	}
}

// Start запускает горутину WS-соединения с авто-переподключением
func (w *WalletWatcher) Start() {
	w.wg.Add(1)
	go w.connectLoop()
	logger.Info("🌊 WalletWatcher: запущен")
}

// Stop останавливает все горутины и ждет их завершения
func (w *WalletWatcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	logger.Info("🛑 WalletWatcher: остановлен")
}

// connectLoop — WS-соединение с экспоненциальным backoff при переподключении
func (w *WalletWatcher) connectLoop() {
	defer w.wg.Done()

	retryDelay := 2 * time.Second

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		// Залежавшийся запрос переподписки сбрасывается до чтения списка:
		// все, что пришло раньше, свежий список уже учитывает
		select {
		case <-w.refreshCh:
		default:
		}

		wallets := w.wallets.WatchedWallets()
		if len(wallets) == 0 {
			logger.Debug("WalletWatcher: нет отслеживаемых кошельков, повтор через %v", retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-w.refreshCh: // первый кошелек добавлен - не ждем таймер
			case <-w.stopCh:
				return
			}
			continue
		}

		logger.Info("🔌 WalletWatcher: подключение к Solana WS (%d кошельков)", len(wallets))
		err := w.runConnection(wallets)
		if err != nil {
			select {
			case <-w.stopCh:
				return
			default:
			}
			logger.Warn("⚠️ WalletWatcher: WS-соединение прервано: %v, повтор через %v", err, retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-w.stopCh:
				return
			}
			retryDelay = minDuration(retryDelay*2, maxRetryDelay)
		} else {
			retryDelay = 2 * time.Second // сброс задержки при успешном закрытии
		}
	}
}

// runConnection устанавливает одно WS-соединение, подписывается и читает события
func (w *WalletWatcher) runConnection(wallets []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Закрываем ctx при остановке или запросе переподписки:
	// connectLoop переподключится со свежим списком кошельков
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-w.refreshCh:
			logger.Info("🔄 WalletWatcher: состав кошельков изменился, переподключение")
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, _, err := websocket.Dial(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("ошибка подключения: %w", err)
	}
	defer conn.CloseNow()

	logger.Info("✅ WalletWatcher: WS-соединение установлено")

	if err := w.subscribeWallets(ctx, conn, wallets); err != nil {
		return fmt.Errorf("ошибка подписки: %w", err)
	}

	// Пинг-горутина
	pingStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(ctx); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer close(pingStop)

	// Читаем сообщения
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			select {
			case <-ctx.Done():
				return nil // нормальная остановка
			default:
				return fmt.Errorf("ошибка чтения: %w", err)
			}
		}

		w.handleMessage(raw)
	}
}

// subscribeWallets отправляет logsSubscribe на каждый кошелек.
// Запросы нумеруются: id запроса привязывает ответ к адресу.
func (w *WalletWatcher) subscribeWallets(ctx context.Context, conn *websocket.Conn, wallets []string) error {
	w.subsMu.Lock()
	w.subs = make(map[int64]string, len(wallets))
	w.subsMu.Unlock()

	for i, wallet := range wallets {
		msg := rpcRequest{
			Jsonrpc: "2.0",
			ID:      int64(i + 1),
			Method:  "logsSubscribe",
			Params: []interface{}{
				map[string]interface{}{"mentions": []string{wallet}},
				map[string]interface{}{"commitment": "confirmed"},
			},
		}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			return err
		}

		w.subsMu.Lock()
		w.subs[int64(i+1)] = wallet
		w.subsMu.Unlock()

		// Небольшая пауза между подписками
		time.Sleep(50 * time.Millisecond)
	}

	logger.Info("📡 WalletWatcher: подписка на %d кошельков отправлена", len(wallets))
	return nil
}

// handleMessage обрабатывает входящее сообщение
func (w *WalletWatcher) handleMessage(raw json.RawMessage) {
	// Сначала пробуем декодировать как подтверждение подписки
	var resp subscribeResponse
	if err := json.Unmarshal(raw, &resp); err == nil && resp.ID != 0 {
		w.subsMu.Lock()
		if wallet, ok := w.subs[resp.ID]; ok {
			// Перевешиваем соответствие на id подписки
			delete(w.subs, resp.ID)
			w.subs[resp.Result] = wallet
			logger.Debug("✅ WalletWatcher: подписка %d подтверждена для %s", resp.Result, wallet)
		}
		w.subsMu.Unlock()
		return
	}

	// Пробуем декодировать как уведомление о логах
	var note logsNotification
	if err := json.Unmarshal(raw, &note); err != nil || note.Method != "logsNotification" {
		return
	}

	signature := note.Params.Result.Value.Signature
	if signature == "" || note.Params.Result.Value.Err != nil {
		return // пустая или провалившаяся транзакция
	}

	w.subsMu.RLock()
	wallet := w.subs[note.Params.Subscription]
	w.subsMu.RUnlock()
	if wallet == "" {
		return
	}

	logger.Debug("🌊 WalletWatcher: активность %s, подпись %s", wallet, signature)
	if w.handler != nil {
		w.handler(wallet, signature)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
