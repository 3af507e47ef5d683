// Package config предоставляет структуры и функцию для парсинга и загрузки конфига.
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек бота.
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	Discord                 `yaml:"discord"`
	MercadoPago             `yaml:"mercadopago"`
	Plans                   `yaml:"plans"`
	Audit                   `yaml:"audit"`
}

// HTTPServer структура для настройки сервера вебхуков.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// Discord идентификаторы сервера, ролей, каналов и категорий,
// которыми управляет бот.
type Discord struct {
	Token                 string `yaml:"token" env:"DISCORD_TOKEN"`
	GuildID               string `yaml:"guild_id"`
	VIPRoleID             string `yaml:"vip_role_id"`
	RegisteredRoleID      string `yaml:"registered_role_id"`
	AwaitingRoleID        string `yaml:"awaiting_payment_role_id"`
	PanelChannelID        string `yaml:"panel_channel_id"`
	RegisterChannelID     string `yaml:"register_channel_id"`
	NotifyChannelID       string `yaml:"notifications_channel_id"`
	PaymentsLogChannelID  string `yaml:"payments_log_channel_id"`
	BotLogChannelID       string `yaml:"bot_log_channel_id"`
	CouponLogChannelID    string `yaml:"coupon_log_channel_id"`
	RemovalsChannelID     string `yaml:"removals_channel_id"`
	WhatsappChannelID     string `yaml:"whatsapp_channel_id"`
	PaymentsCategoryID    string `yaml:"payments_category_id"`
	ExpirationsCategoryID string `yaml:"expirations_category_id"`
}

// MercadoPago настройки платёжного провайдера.
type MercadoPago struct {
	AccessToken   string `yaml:"access_token" env:"MERCADOPAGO_ACCESS_TOKEN"`
	WebhookSecret string `yaml:"webhook_secret" env:"MERCADOPAGO_WEBHOOK_SECRET"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Plans тарифы и купон; суммы в сентаво.
type Plans struct {
	WeeklyPriceCents   int64  `yaml:"weekly_price_cents" env-default:"7500"`
	WeeklyDurationDays int    `yaml:"weekly_duration_days" env-default:"7"`
	CouponCode         string `yaml:"coupon_code" env-default:"BASKMONEY"`
	CouponBonusCents   int64  `yaml:"coupon_bonus_cents" env-default:"3750"`
}

// Audit настройки сверки ролей; по умолчанию выключена.
type Audit struct {
	Enabled  bool          `yaml:"enabled" env-default:"false"`
	Interval time.Duration `yaml:"interval" env-default:"6h"`
}

// MustLoad загружает конфиг из файла, указанного в CONFIG_PATH,
// и завершает процесс при любой ошибке.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}
