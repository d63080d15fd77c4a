// cmd/monitor/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BlockchainHB/twitter-monitor/internal/api/dexscreener"
	"github.com/BlockchainHB/twitter-monitor/internal/api/helius"
	solanaws "github.com/BlockchainHB/twitter-monitor/internal/api/solana/ws"
	"github.com/BlockchainHB/twitter-monitor/internal/api/twitter"
	"github.com/BlockchainHB/twitter-monitor/internal/config"
	"github.com/BlockchainHB/twitter-monitor/internal/dispatcher"
	"github.com/BlockchainHB/twitter-monitor/internal/events"
	"github.com/BlockchainHB/twitter-monitor/internal/notifier"
	"github.com/BlockchainHB/twitter-monitor/internal/ratelimit"
	"github.com/BlockchainHB/twitter-monitor/internal/server"
	"github.com/BlockchainHB/twitter-monitor/internal/storage/memory"
	"github.com/BlockchainHB/twitter-monitor/internal/storage/postgres"
	"github.com/BlockchainHB/twitter-monitor/internal/storage/rediscache"
	"github.com/BlockchainHB/twitter-monitor/internal/types"
	"github.com/BlockchainHB/twitter-monitor/pkg/logger"
)

var version = "1.0.0"

func main() {
	var (
		cfgPath     string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&cfgPath, "config", ".env", "Путь к файлу конфигурации")
	flag.StringVar(&logLevel, "log-level", "", "Уровень логирования: debug, info, warn, error (переопределяет .env)")
	flag.BoolVar(&showVersion, "version", false, "Показать версию")
	flag.Parse()

	if showVersion {
		fmt.Printf("twitter-monitor v%s\n", version)
		return
	}

	// 1. Загружаем конфигурацию
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Printf("❌ Не удалось загрузить конфигурацию: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// 2. Инициализируем логгер
	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Printf("❌ Не удалось создать директорию логов %s: %v\n", dir, err)
			os.Exit(1)
		}
	}
	if err := logger.InitGlobal(cfg.LogFile, cfg.LogLevel, cfg.Debug); err != nil {
		fmt.Printf("❌ Не удалось инициализировать файловый логгер: %v. Переход на консольный...\n", err)
		if err := logger.InitGlobal("", cfg.LogLevel, cfg.Debug); err != nil {
			fmt.Printf("❌ Не удалось инициализировать логгер: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Close()

	// Выводим информацию о конфигурации
	logger.Warn("📋 Конфигурация приложения:")
	logger.Warn("   • Интервал опроса: %s", cfg.PollInterval)
	logger.Warn("   • Запас квоты: %.0f%%", cfg.SafetyMargin*100)
	logger.Warn("   • Порог broadcast: $%.0f, порог SMS: $%.0f", cfg.BroadcastThresholdUsd, cfg.SmsThresholdUsd)
	logger.Warn("   • Telegram включен: %v, SMS включены: %v", cfg.TelegramEnabled, cfg.SmsEnabled)
	logger.Warn("   • PostgreSQL: %v, Redis: %v, поток Solana: %v", cfg.DbEnabled, cfg.RedisEnabled, cfg.StreamEnabled)

	if err := run(cfg); err != nil {
		logger.Error("❌ Фатальная ошибка: %v", err)
		os.Exit(1)
	}
}

// run собирает зависимости и ведет главный цикл до сигнала остановки
func run(cfg *config.Config) error {
	// 3. Шина событий и подписчики
	bus := events.NewEventBus()
	bus.Start()
	defer bus.Stop()

	rlSub := events.NewRateLimitLogSubscriber()
	for _, eventType := range rlSub.GetSubscribedEvents() {
		bus.Subscribe(eventType, rlSub)
	}

	// 4. Планировщик квот
	scheduler := ratelimit.NewScheduler(ratelimit.Config{
		Limits:       cfg.EndpointLimits(),
		DefaultLimit: cfg.DefaultEndpointLimit(),
		SafetyMargin: cfg.SafetyMargin,
		Bus:          bus,
	})

	// 5. Хранилище watch-листов
	var store types.WatchStore
	if cfg.DbEnabled {
		repo, err := postgres.NewWatchRepository(cfg.PostgresDSN())
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer repo.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = repo.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		store = repo
		logger.Info("🗄 Хранилище: PostgreSQL %s:%d/%s", cfg.DbHost, cfg.DbPort, cfg.DbName)
	} else {
		store = memory.NewWatchStore()
		logger.Warn("🗄 Хранилище: in-memory (записи не переживут перезапуск)")
	}

	// 6. Дедупликация транзакций через Redis
	var dedup dispatcher.TxDeduplicator
	if cfg.RedisEnabled {
		rd, err := rediscache.NewDeduplicator(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.RedisDedupTTL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rd.Close()
		dedup = rd
		logger.Info("🧹 Дедупликация: Redis %s", cfg.RedisAddr())
	}

	// 7. Клиенты внешних API (все ходят через планировщик)
	twitterClient := twitter.NewClient(cfg, scheduler)
	heliusClient := helius.NewClient(cfg, scheduler)
	dexClient := dexscreener.NewClient(cfg, scheduler)

	// 8. Приемник уведомлений
	var sink types.NotificationSink
	if tg := notifier.NewTelegramNotifier(cfg); tg != nil {
		sink = tg
		logger.Info("📨 Уведомления: Telegram")
	} else {
		sink = notifier.NewConsoleNotifier()
		logger.Warn("📨 Уведомления: консоль")
	}

	var sms types.SmsSender
	if sn := notifier.NewSmsNotifier(cfg); sn != nil {
		sms = sn
	}

	// 9. Диспетчер событий
	disp := dispatcher.NewDispatcher(cfg, dispatcher.Deps{
		Store:   store,
		Content: twitterClient,
		Chain:   heliusClient,
		Prices:  dexClient,
		Sink:    sink,
		Sms:     sms,
		Dedup:   dedup,
		Bus:     bus,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Выравниваем webhook у провайдера с текущим watch-листом
	if err := disp.SyncWebhook(ctx); err != nil {
		logger.Warn("⚠️ Синхронизация webhook при старте не удалась: %v", err)
	}

	// 10. Webhook-слушатель
	webhookServer := server.NewWebhookServer(cfg.HttpPort, cfg.WebhookAuthToken, disp)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- webhookServer.Start()
	}()

	// 11. Поток логов Solana (опционально)
	var watcher *solanaws.WalletWatcher
	if cfg.StreamEnabled {
		watcher = solanaws.NewWalletWatcher(cfg.SolanaWsURL, disp, disp.HandleStreamActivity)
		disp.SetStreamRefresher(watcher)
		watcher.Start()
		defer watcher.Stop()
	}

	// 12. Цикл опроса аккаунтов
	go pollLoop(ctx, cfg, disp)

	logger.Info("🚀 Twitter Monitor v%s запущен", version)

	// Ждем сигнала завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Warn("🛑 Получен сигнал %s, завершаем работу...", sig)
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("webhook server: %w", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := webhookServer.Stop(shutdownCtx); err != nil {
		logger.Error("❌ Остановка webhook-слушателя: %v", err)
	}

	logger.Info("👋 Twitter Monitor остановлен")
	return nil
}

// pollLoop периодически запускает цикл опроса аккаунтов
func pollLoop(ctx context.Context, cfg *config.Config, disp *dispatcher.Dispatcher) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := disp.PollCycle(ctx); err != nil && ctx.Err() == nil {
				logger.Error("❌ Цикл опроса завершился с ошибкой: %v", err)
			}
		}
	}
}
