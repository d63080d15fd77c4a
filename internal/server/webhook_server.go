// internal/server/webhook_server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/api/helius"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

// WebhookHandler - потребитель входящих пачек транзакций
type WebhookHandler interface {
	HandleWebhookBatch(ctx context.Context, txs []helius.EnhancedTransaction) error
}

// WebhookServer - HTTP-слушатель входящих webhook от провайдера блокчейна
type WebhookServer struct {
	srv       *http.Server
	handler   WebhookHandler
	authToken string
}

// NewWebhookServer создает слушатель webhook на заданном порту
func NewWebhookServer(port int, authToken string, handler WebhookHandler) *WebhookServer {
	ws := &WebhookServer{
		handler:   handler,
		authToken: authToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", ws.handleWebhook)
	mux.HandleFunc("/health", ws.handleHealth)

	ws.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return ws
}

// Start запускает слушатель (блокирует до остановки)
func (ws *WebhookServer) Start() error {
	logger.Info("🌐 Webhook-слушатель запущен на %s", ws.srv.Addr)
	if err := ws.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop останавливает слушатель с дожиданием активных запросов
func (ws *WebhookServer) Stop(ctx context.Context) error {
	return ws.srv.Shutdown(ctx)
}

// handleWebhook принимает POST с пачкой транзакций.
// Ответ отдается сразу, обработка идет в фоне - провайдер не должен
// ждать паузы между группами.
func (ws *WebhookServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ws.authToken != "" && r.Header.Get("Authorization") != ws.authToken {
		logger.Warn("⚠️ Webhook с неверным заголовком авторизации от %s", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var txs []helius.EnhancedTransaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := ws.handler.HandleWebhookBatch(ctx, txs); err != nil {
			logger.Error("❌ Обработка webhook-пачки не удалась: %v", err)
		}
	}()

	w.WriteHeader(http.StatusOK)
}

// handleHealth отвечает на проверки живости
func (ws *WebhookServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","time":"%s"}`, time.Now().Format(time.RFC3339))
}
