package config

import (
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var once sync.Once

const (
	ProviderCoinMarketCap = "coinmarketcap"
	ProviderCoinPaprika   = "coinpaprika"
)

func InitConfig() {
	once.Do(func() {
		// a missing .env file is fine, the environment wins anyway
		_ = godotenv.Load()

		viper.AutomaticEnv()

		viper.BindEnv("api_base_url", "COINMARKETCAP_BASE_URL")
		viper.BindEnv("api_key", "COINMARKETCAP_API_KEY")
		viper.BindEnv("price_provider", "PRICE_PROVIDER")
		viper.BindEnv("paprika_api_key", "API_PRO_KEY")
		viper.BindEnv("cache_ttl_seconds", "CACHE_TTL_SECONDS")
		viper.BindEnv("upstream_timeout_seconds", "UPSTREAM_TIMEOUT_SECONDS")
		viper.BindEnv("alert_check_interval_seconds", "ALERT_CHECK_INTERVAL_SECONDS")
		viper.BindEnv("notification_queue_size", "NOTIFICATION_QUEUE_SIZE")
		viper.BindEnv("history_retention_days", "HISTORY_RETENTION_DAYS")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("http_port", "HTTP_PORT")
		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("telegram_chat_id", "TELEGRAM_CHAT_ID")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")

		viper.SetDefault("api_base_url", "https://pro-api.coinmarketcap.com/v1")
		viper.SetDefault("price_provider", ProviderCoinMarketCap)
		viper.SetDefault("cache_ttl_seconds", 300)
		viper.SetDefault("upstream_timeout_seconds", 10)
		viper.SetDefault("alert_check_interval_seconds", 60)
		viper.SetDefault("notification_queue_size", 64)
		viper.SetDefault("history_retention_days", 30)
		viper.SetDefault("db_path", "./crypto_tracker.db")
		viper.SetDefault("http_port", 8000)
		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	InitConfig()
	return viper.GetInt64(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

// Settings is the startup snapshot of every key the process uses.
type Settings struct {
	APIBaseURL       string
	APIKey           string
	PriceProvider    string
	PaprikaAPIKey    string
	CacheTTL         time.Duration
	UpstreamTimeout  time.Duration
	CheckInterval    time.Duration
	QueueSize        int
	HistoryRetention time.Duration
	DBPath           string
	HTTPPort         int
	MetricsPort      int
	TelegramToken    string
	TelegramChatID   int64
	Debug            bool
	Lang             string
}

// Load reads all settings once and validates them.
func Load() (Settings, error) {
	s := Settings{
		APIBaseURL:       strings.TrimRight(GetString("api_base_url"), "/"),
		APIKey:           GetString("api_key"),
		PriceProvider:    strings.ToLower(GetString("price_provider")),
		PaprikaAPIKey:    GetString("paprika_api_key"),
		CacheTTL:         time.Duration(GetInt("cache_ttl_seconds")) * time.Second,
		UpstreamTimeout:  time.Duration(GetInt("upstream_timeout_seconds")) * time.Second,
		CheckInterval:    time.Duration(GetInt("alert_check_interval_seconds")) * time.Second,
		QueueSize:        GetInt("notification_queue_size"),
		HistoryRetention: time.Duration(GetInt("history_retention_days")) * 24 * time.Hour,
		DBPath:           GetString("db_path"),
		HTTPPort:         GetInt("http_port"),
		MetricsPort:      GetInt("metrics_port"),
		TelegramToken:    GetString("telegram_bot_token"),
		TelegramChatID:   GetInt64("telegram_chat_id"),
		Debug:            GetBool("debug"),
		Lang:             GetString("lang"),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, errors.Wrap(err, "config validation failed")
	}
	return s, nil
}

// Validate checks that values are usable.
func (s Settings) Validate() error {
	switch s.PriceProvider {
	case ProviderCoinMarketCap:
		if s.APIBaseURL == "" {
			return errors.New("COINMARKETCAP_BASE_URL is required")
		}
	case ProviderCoinPaprika:
	default:
		return errors.Errorf("unknown PRICE_PROVIDER %q", s.PriceProvider)
	}

	if s.CacheTTL <= 0 {
		return errors.New("CACHE_TTL_SECONDS must be positive")
	}
	if s.UpstreamTimeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT_SECONDS must be positive")
	}
	if s.CheckInterval <= 0 {
		return errors.New("ALERT_CHECK_INTERVAL_SECONDS must be positive")
	}
	if s.QueueSize < 1 {
		return errors.New("NOTIFICATION_QUEUE_SIZE must be at least 1")
	}
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return errors.New("HTTP_PORT must be between 1 and 65535")
	}
	if s.MetricsPort < 1 || s.MetricsPort > 65535 {
		return errors.New("METRICS_PORT must be between 1 and 65535")
	}
	if s.TelegramToken != "" && s.TelegramChatID == 0 {
		return errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// MaskedAPIKey hides all but the edges of the provider key for logging.
func (s Settings) MaskedAPIKey() string {
	k := s.APIKey
	if len(k) <= 8 {
		if len(k) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return k[:4] + "****" + k[len(k)-4:]
}
