package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "prepaidgrid/backend/libs/config"
)

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Port         string        `yaml:"port" env:"CONTROL_HTTP_PORT"`
	WriteTimeout time.Duration `yaml:"wsWriteTimeout" env:"CONTROL_WS_WRITE_TIMEOUT"`
}

// DatabaseConfig configures Postgres.
type DatabaseConfig struct {
	DSN          string        `yaml:"dsn" env:"CONTROL_POSTGRES_DSN"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"CONTROL_DB_WRITE_TIMEOUT"`
	Migrate      bool          `yaml:"migrate" env:"CONTROL_DB_MIGRATE"`
}

// RedisConfig configures the shared alert dedup set. An empty address keeps dedup in memory.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"CONTROL_REDIS_ADDR"`
	Password  string `yaml:"password" env:"CONTROL_REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"CONTROL_REDIS_DB"`
	KeyPrefix string `yaml:"keyPrefix" env:"CONTROL_REDIS_KEY_PREFIX"`
}

// MQTTConfig configures optional telemetry ingestion over MQTT. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"CONTROL_MQTT_BROKER"`
	ClientID string `yaml:"clientID" env:"CONTROL_MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"CONTROL_MQTT_USERNAME"`
	Password string `yaml:"password" env:"CONTROL_MQTT_PASSWORD"`
	Topic    string `yaml:"topic" env:"CONTROL_MQTT_TOPIC"`
	QoS      int    `yaml:"qos" env:"CONTROL_MQTT_QOS"`
}

// AuthConfig configures operator tokens and device keys.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwtSecret" env:"CONTROL_JWT_SECRET"`
	TokenTTL      time.Duration `yaml:"tokenTTL" env:"CONTROL_TOKEN_TTL"`
	DeviceAPIKeys []string      `yaml:"deviceAPIKeys" env:"CONTROL_DEVICE_API_KEYS"`
	AdminEmail    string        `yaml:"adminEmail" env:"CONTROL_ADMIN_EMAIL"`
	AdminPassword string        `yaml:"adminPassword" env:"CONTROL_ADMIN_PASSWORD"`
}

// TariffConfig holds recharge pricing.
type TariffConfig struct {
	PricePerKWh   float64 `yaml:"pricePerKWh" env:"CONTROL_PRICE_PER_KWH"`
	GarbageFeeMZN float64 `yaml:"garbageFee" env:"CONTROL_GARBAGE_FEE"`
	RadioFeeMZN   float64 `yaml:"radioFee" env:"CONTROL_RADIO_FEE"`
	VATPercent    float64 `yaml:"vatPercent" env:"CONTROL_VAT_PERCENT"`
}

// ControlConfig tunes the control core.
type ControlConfig struct {
	ProtectWindow  time.Duration `yaml:"protectWindow" env:"CONTROL_PROTECT_WINDOW"`
	LivenessWindow time.Duration `yaml:"livenessWindow" env:"CONTROL_LIVENESS_WINDOW"`
	EpsilonKWh     float64       `yaml:"epsilonKWh" env:"CONTROL_EPSILON_KWH"`
}

// AlertsConfig holds alert thresholds.
type AlertsConfig struct {
	LowBalanceKWh    float64       `yaml:"lowBalanceKWh" env:"CONTROL_ALERT_LOW_BALANCE_KWH"`
	PeakRatio        float64       `yaml:"peakRatio" env:"CONTROL_ALERT_PEAK_RATIO"`
	MeterPowerLimitW float64       `yaml:"meterPowerLimitW" env:"CONTROL_ALERT_METER_POWER_LIMIT_W"`
	OfflineAfter     time.Duration `yaml:"offlineAfter" env:"CONTROL_ALERT_OFFLINE_AFTER"`
	SweepInterval    time.Duration `yaml:"sweepInterval" env:"CONTROL_ALERT_SWEEP_INTERVAL"`
	DedupTimeout     time.Duration `yaml:"dedupTimeout" env:"CONTROL_ALERT_DEDUP_TIMEOUT"`
}

// TelegramConfig configures the chat transport. Empty token or chat disables it.
type TelegramConfig struct {
	BotToken string        `yaml:"botToken" env:"CONTROL_TELEGRAM_BOT_TOKEN"`
	ChatID   string        `yaml:"chatID" env:"CONTROL_TELEGRAM_CHAT_ID"`
	BaseURL  string        `yaml:"baseURL" env:"CONTROL_TELEGRAM_BASE_URL"`
	Timeout  time.Duration `yaml:"timeout" env:"CONTROL_TELEGRAM_TIMEOUT"`
}

// Config defines control service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Auth     AuthConfig     `yaml:"auth"`
	Tariff   TariffConfig   `yaml:"tariff"`
	Control  ControlConfig  `yaml:"control"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// Default returns the shipped defaults.
func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Port: "8090", WriteTimeout: 10 * time.Second},
		Database: DatabaseConfig{WriteTimeout: 3 * time.Second, Migrate: true},
		Redis:    RedisConfig{KeyPrefix: "prepaidgrid:alerts:"},
		MQTT:     MQTTConfig{ClientID: "control-service", Topic: "meters/telemetry", QoS: 1},
		Auth:     AuthConfig{TokenTTL: 12 * time.Hour},
		Tariff:   TariffConfig{PricePerKWh: 0.75, GarbageFeeMZN: 5, RadioFeeMZN: 3, VATPercent: 16},
		Control:  ControlConfig{ProtectWindow: 30 * time.Second, LivenessWindow: time.Minute, EpsilonKWh: 0.001},
		Alerts: AlertsConfig{
			LowBalanceKWh:    5,
			PeakRatio:        0.8,
			MeterPowerLimitW: 1000,
			OfflineAfter:     2 * time.Minute,
			SweepInterval:    time.Minute,
			DedupTimeout:     250 * time.Millisecond,
		},
		Telegram: TelegramConfig{Timeout: 10 * time.Second},
	}
}

// Load reads CONFIG_FILE and CONTROL_* variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: jwt secret required")
	}
	if c.Tariff.PricePerKWh <= 0 {
		return fmt.Errorf("config: tariff price must be positive, got %v", c.Tariff.PricePerKWh)
	}
	if c.Tariff.VATPercent < 0 || c.Tariff.VATPercent >= 100 {
		return fmt.Errorf("config: vat percent must be within [0, 100), got %v", c.Tariff.VATPercent)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
