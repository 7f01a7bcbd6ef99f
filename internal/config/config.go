package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Ops       OpsConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Retention RetentionConfig
	Webhook   WebhookConfig
	Media     MediaConfig
	Relay     RelayConfig
	Alert     AlertConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Driver  string // "mysql", "postgres"
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
	SSLMode string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

// OpsConfig maps API tokens to operator names.
type OpsConfig struct {
	APIKeys map[string]string
}

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Count        int
	StaleAfter   time.Duration
}

type RateLimitConfig struct {
	DefaultWindowSeconds int
	DefaultMaxActions    int
}

type RetentionConfig struct {
	UsageDays int
	AuditDays int
}

type WebhookConfig struct {
	Secret string
}

type MediaConfig struct {
	MaxBytes    int64
	HeadTTL     time.Duration
	HeadTimeout time.Duration
}

type RelayConfig struct {
	URL       string
	Token     string
	Platforms []string
}

type AlertConfig struct {
	TelegramToken  string
	TelegramChatID string
}

func setDefaults() {
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_DRIVER", "mysql")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("SOCIAL_WORKER_POLL_MS", 5000)
	viper.SetDefault("SOCIAL_WORKER_BATCH", 10)
	viper.SetDefault("SOCIAL_WORKER_COUNT", 1)
	viper.SetDefault("SOCIAL_POSTING_STALE_AFTER", "15m")
	viper.SetDefault("SOCIAL_RL_DEFAULT_WINDOW_SECONDS", 60)
	viper.SetDefault("SOCIAL_RL_DEFAULT_MAX_ACTIONS", 60)
	viper.SetDefault("SOCIAL_USAGE_RETENTION_DAYS", 30)
	viper.SetDefault("AUDIT_RETENTION_DAYS", 90)
	viper.SetDefault("SOCIAL_MEDIA_MAX_BYTES", 10*1024*1024)
	viper.SetDefault("MEDIA_HEAD_TTL", "6h")
	viper.SetDefault("MEDIA_HEAD_TIMEOUT", "5s")
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()
	setDefaults()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Ops: OpsConfig{
			APIKeys: ParseAPIKeys(viper.GetString("OPS_API_KEYS")),
		},
		Worker: WorkerConfig{
			PollInterval: time.Duration(viper.GetInt("SOCIAL_WORKER_POLL_MS")) * time.Millisecond,
			BatchSize:    viper.GetInt("SOCIAL_WORKER_BATCH"),
			Count:        viper.GetInt("SOCIAL_WORKER_COUNT"),
			StaleAfter:   durationOr("SOCIAL_POSTING_STALE_AFTER", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			DefaultWindowSeconds: viper.GetInt("SOCIAL_RL_DEFAULT_WINDOW_SECONDS"),
			DefaultMaxActions:    viper.GetInt("SOCIAL_RL_DEFAULT_MAX_ACTIONS"),
		},
		Retention: RetentionConfig{
			UsageDays: viper.GetInt("SOCIAL_USAGE_RETENTION_DAYS"),
			AuditDays: viper.GetInt("AUDIT_RETENTION_DAYS"),
		},
		Webhook: WebhookConfig{
			Secret: viper.GetString("ICADENCE_WEBHOOK_SECRET"),
		},
		Media: MediaConfig{
			MaxBytes:    viper.GetInt64("SOCIAL_MEDIA_MAX_BYTES"),
			HeadTTL:     durationOr("MEDIA_HEAD_TTL", 6*time.Hour),
			HeadTimeout: durationOr("MEDIA_HEAD_TIMEOUT", 5*time.Second),
		},
		Relay: RelayConfig{
			URL:       strings.TrimRight(viper.GetString("SOCIAL_RELAY_URL"), "/"),
			Token:     viper.GetString("SOCIAL_RELAY_TOKEN"),
			Platforms: splitList(viper.GetString("SOCIAL_RELAY_PLATFORMS")),
		},
		Alert: AlertConfig{
			TelegramToken:  viper.GetString("ALERT_TELEGRAM_TOKEN"),
			TelegramChatID: viper.GetString("ALERT_TELEGRAM_CHAT_ID"),
		},
	}

	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 5 * time.Second
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 10
	}
	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = 1
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if len(cfg.Ops.APIKeys) == 0 {
		log.Println("WARNING: OPS_API_KEYS is not set, ops endpoints will reject every request")
	}
	if cfg.Webhook.Secret == "" {
		log.Println("WARNING: ICADENCE_WEBHOOK_SECRET is not set, webhook deliveries will be rejected")
	}

	return cfg, nil
}

func databaseFromEnv() DatabaseConfig {
	driver := strings.ToLower(strings.TrimSpace(viper.GetString("DB_DRIVER")))
	port := viper.GetString("DB_PORT")
	if port == "" {
		port = "3306"
		if driver == "postgres" {
			port = "5432"
		}
	}
	return DatabaseConfig{
		Driver:  driver,
		Host:    viper.GetString("DB_HOST"),
		Port:    port,
		Name:    viper.GetString("DB_NAME"),
		User:    viper.GetString("DB_USER"),
		Pass:    viper.GetString("DB_PASS"),
		Charset: viper.GetString("DB_CHARSET"),
		SSLMode: viper.GetString("DB_SSLMODE"),
	}
}

// DSN returns the driver-specific DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return "host=" + d.Host + " port=" + d.Port + " user=" + d.User + " password=" + d.Pass +
			" dbname=" + d.Name + " sslmode=" + d.SSLMode + " TimeZone=UTC"
	}
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=UTC"
}

// ParseAPIKeys parses "operator:token,operator2:token2" into a token → operator map.
// A bare token is accepted and maps to the operator name "ops".
func ParseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, entry := range splitList(raw) {
		name, token, ok := strings.Cut(entry, ":")
		if !ok {
			keys[entry] = "ops"
			continue
		}
		name = strings.TrimSpace(name)
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if name == "" {
			name = "ops"
		}
		keys[token] = name
	}
	return keys
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
