// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BlockchainHB/twitter-monitor/internal/ratelimit"
)

// Имена эндпоинтов для планировщика квот
const (
	EndpointUserLookup   = "users/by/username"
	EndpointUserTweets   = "users/tweets"
	EndpointSearchRecent = "tweets/search/recent"
	EndpointTokenInfo    = "token/info"
	EndpointWebhooks     = "webhooks"
)

// Config - структура конфигурации приложения
type Config struct {
	// Twitter API
	TwitterBearerToken string
	TwitterBaseURL     string
	PollInterval       time.Duration

	// Helius API (данные блокчейна)
	HeliusApiKey     string
	HeliusBaseURL    string
	WebhookURL       string // публичный URL для регистрации webhook
	WebhookAuthToken string // секрет, проверяемый на входящих POST

	// DexScreener API (обогащение цен)
	DexScreenerBaseURL string

	// Планировщик квот
	SafetyMargin        float64
	UserLookupLimit     int
	UserTweetsLimit     int
	SearchLimit         int
	LimitWindowMinutes  int
	SearchMinInterval   time.Duration
	SearchMaxRetries    int
	SearchRetryDelay    time.Duration
	MaxAccountsPerBatch int

	// Пороги маршрутизации уведомлений (в USD).
	// Оба значения конфигурируемы, канонических констант нет.
	BroadcastThresholdUsd float64
	SmsThresholdUsd       float64

	// Обработка webhook-батчей
	WebhookBatchSize  int
	WebhookBatchPause time.Duration

	// Telegram
	TelegramEnabled      bool
	TelegramToken        string
	TelegramContentChat  string
	TelegramAddressChat  string
	TelegramPriorityChat string
	TelegramWalletChat   string
	TelegramMinInterval  time.Duration

	// SMS (Twilio-совместимый REST API)
	SmsEnabled    bool
	SmsAccountSid string
	SmsAuthToken  string
	SmsFromNumber string
	SmsBaseURL    string

	// База данных
	DbEnabled  bool
	DbHost     string
	DbPort     int
	DbUser     string
	DbPassword string
	DbName     string
	DbSSLMode  string

	// Redis (дедупликация обработанных транзакций)
	RedisEnabled  bool
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisDedupTTL time.Duration

	// Поток логов Solana (websocket)
	StreamEnabled bool
	SolanaWsURL   string

	// HTTP сервер
	HttpPort int

	// Logging
	LogLevel string
	LogFile  string
	Debug    bool
}

// LoadConfig загружает конфигурацию из .env файла и окружения
func LoadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		// .env опционален: в проде конфигурация приходит из окружения
		log.Printf("⚠️ Файл %s не найден, используем переменные окружения", envPath)
	}

	cfg := &Config{
		TwitterBearerToken: getEnvString("TWITTER_BEARER_TOKEN", ""),
		TwitterBaseURL:     getEnvString("TWITTER_API_URL", "https://api.twitter.com/2"),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 60*time.Second),

		HeliusApiKey:     getEnvString("HELIUS_API_KEY", ""),
		HeliusBaseURL:    getEnvString("HELIUS_API_URL", "https://api.helius.xyz/v0"),
		WebhookURL:       getEnvString("WEBHOOK_URL", ""),
		WebhookAuthToken: getEnvString("WEBHOOK_AUTH_TOKEN", ""),

		DexScreenerBaseURL: getEnvString("DEXSCREENER_API_URL", "https://api.dexscreener.com/latest"),

		SafetyMargin:        getEnvFloat("RATE_SAFETY_MARGIN", 0.9),
		UserLookupLimit:     getEnvInt("RATE_USER_LOOKUP_LIMIT", 300),
		UserTweetsLimit:     getEnvInt("RATE_USER_TWEETS_LIMIT", 900),
		SearchLimit:         getEnvInt("RATE_SEARCH_LIMIT", 180),
		LimitWindowMinutes:  getEnvInt("RATE_WINDOW_MINUTES", 15),
		SearchMinInterval:   getEnvDuration("SEARCH_MIN_INTERVAL", 2*time.Second),
		SearchMaxRetries:    getEnvInt("SEARCH_MAX_RETRIES", 3),
		SearchRetryDelay:    getEnvDuration("SEARCH_RETRY_DELAY", 5*time.Second),
		MaxAccountsPerBatch: getEnvInt("MAX_ACCOUNTS_PER_BATCH", 25),

		BroadcastThresholdUsd: getEnvFloat("BROADCAST_THRESHOLD_USD", 1000),
		SmsThresholdUsd:       getEnvFloat("SMS_THRESHOLD_USD", 500),

		WebhookBatchSize:  getEnvInt("WEBHOOK_BATCH_SIZE", 3),
		WebhookBatchPause: getEnvDuration("WEBHOOK_BATCH_PAUSE", time.Second),

		TelegramEnabled:      getEnvBool("TELEGRAM_ENABLED", true),
		TelegramToken:        getEnvString("TELEGRAM_BOT_TOKEN", ""),
		TelegramContentChat:  getEnvString("TELEGRAM_CONTENT_CHAT_ID", ""),
		TelegramAddressChat:  getEnvString("TELEGRAM_ADDRESS_CHAT_ID", ""),
		TelegramPriorityChat: getEnvString("TELEGRAM_PRIORITY_CHAT_ID", ""),
		TelegramWalletChat:   getEnvString("TELEGRAM_WALLET_CHAT_ID", ""),
		TelegramMinInterval:  getEnvDuration("TELEGRAM_MIN_INTERVAL", time.Second),

		SmsEnabled:    getEnvBool("SMS_ENABLED", false),
		SmsAccountSid: getEnvString("SMS_ACCOUNT_SID", ""),
		SmsAuthToken:  getEnvString("SMS_AUTH_TOKEN", ""),
		SmsFromNumber: getEnvString("SMS_FROM_NUMBER", ""),
		SmsBaseURL:    getEnvString("SMS_API_URL", "https://api.twilio.com/2010-04-01"),

		DbEnabled:  getEnvBool("DB_ENABLED", false),
		DbHost:     getEnvString("DB_HOST", "localhost"),
		DbPort:     getEnvInt("DB_PORT", 5432),
		DbUser:     getEnvString("DB_USER", "monitor"),
		DbPassword: getEnvString("DB_PASSWORD", ""),
		DbName:     getEnvString("DB_NAME", "twitter_monitor"),
		DbSSLMode:  getEnvString("DB_SSLMODE", "disable"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnvString("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisDedupTTL: getEnvDuration("REDIS_DEDUP_TTL", 24*time.Hour),

		StreamEnabled: getEnvBool("STREAM_ENABLED", false),
		SolanaWsURL:   getEnvString("SOLANA_WS_URL", "wss://api.mainnet-beta.solana.com"),

		HttpPort: getEnvInt("HTTP_PORT", 8080),

		LogLevel: getEnvString("LOG_LEVEL", "INFO"),
		LogFile:  getEnvString("LOG_FILE", "logs/monitor.log"),
		Debug:    getEnvBool("DEBUG", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate проверяет обязательные и согласованные параметры
func (c *Config) validate() error {
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		return fmt.Errorf("RATE_SAFETY_MARGIN must be in (0, 1], got %v", c.SafetyMargin)
	}
	if c.WebhookBatchSize <= 0 {
		return fmt.Errorf("WEBHOOK_BATCH_SIZE must be positive, got %d", c.WebhookBatchSize)
	}
	if c.TelegramEnabled && c.TelegramToken == "" {
		log.Printf("⚠️ TELEGRAM_BOT_TOKEN не задан, Telegram уведомления отключены")
		c.TelegramEnabled = false
	}
	if c.SmsEnabled && (c.SmsAccountSid == "" || c.SmsAuthToken == "") {
		log.Printf("⚠️ SMS учетные данные не заданы, SMS отключены")
		c.SmsEnabled = false
	}
	return nil
}

// EndpointLimits строит таблицу квот для планировщика запросов
func (c *Config) EndpointLimits() map[string]ratelimit.EndpointLimit {
	window := time.Duration(c.LimitWindowMinutes) * time.Minute

	return map[string]ratelimit.EndpointLimit{
		EndpointUserLookup: {
			RequestsPerWindow: c.UserLookupLimit,
			WindowSize:        window,
		},
		EndpointUserTweets: {
			RequestsPerWindow: c.UserTweetsLimit,
			WindowSize:        window,
		},
		// Поисковый эндпоинт батчевый: несколько аккаунтов на один запрос,
		// минимальный интервал между батчами и ограниченные повторы.
		EndpointSearchRecent: {
			RequestsPerWindow:   c.SearchLimit,
			WindowSize:          window,
			MaxBatchSize:        100,
			MaxAccountsPerBatch: c.MaxAccountsPerBatch,
			Batch: &ratelimit.BatchConfig{
				MinInterval: c.SearchMinInterval,
				MaxRetries:  c.SearchMaxRetries,
				RetryDelay:  c.SearchRetryDelay,
			},
		},
		EndpointTokenInfo: {
			RequestsPerWindow: getEnvInt("RATE_TOKEN_INFO_LIMIT", 300),
			WindowSize:        time.Minute,
		},
		EndpointWebhooks: {
			RequestsPerWindow: getEnvInt("RATE_WEBHOOKS_LIMIT", 60),
			WindowSize:        time.Minute,
		},
	}
}

// DefaultEndpointLimit - квота для эндпоинтов без явной записи
func (c *Config) DefaultEndpointLimit() ratelimit.EndpointLimit {
	return ratelimit.EndpointLimit{
		RequestsPerWindow: 15,
		WindowSize:        time.Duration(c.LimitWindowMinutes) * time.Minute,
	}
}

// PostgresDSN собирает строку подключения к Postgres
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DbHost, c.DbPort, c.DbUser, c.DbPassword, c.DbName, c.DbSSLMode)
}

// RedisAddr возвращает адрес Redis
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Голое число трактуем как секунды
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
