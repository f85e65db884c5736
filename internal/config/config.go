package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

const (
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

// Config holds notifier configuration loaded from the environment.
type Config struct {
	AppName   string
	LogLevel  string
	LogFormat string
	HTTPPort  string

	BrokerType    string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
	RabbitURL     string
	EventQueue    string
	EventExchange string
	PrefetchCount int
	WorkerCount   int

	DatabaseURL  string
	TokenTable   string
	StoreTimeout time.Duration

	RedisURL         string
	TokenSuppressTTL time.Duration

	FCMServerKey string
	FCMEndpoint  string
	SendTimeout  time.Duration

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string
	MailTo   []string

	JWTPublicKeyFile string
	JWTRequiredRole  string

	ConnectMaxAttempts    int
	ConnectInitialBackoff time.Duration
	ConnectMaxBackoff     time.Duration
}

// Load loads configuration and performs basic validation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:   getEnv("APP_NAME", "intimation_notifier"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		HTTPPort:  getEnv("HTTP_PORT", "3000"),

		BrokerType:    strings.ToLower(getEnv("BROKER_TYPE", BrokerKafka)),
		KafkaBrokers:  getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "employee"),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "intimation-notifier"),
		RabbitURL:     getEnv("RABBITMQ_URL", ""),
		EventQueue:    getEnv("EVENT_QUEUE", "notifier.employee.events"),
		EventExchange: getEnv("EVENT_EXCHANGE", "employee"),
		PrefetchCount: getEnvAsInt("PREFETCH", 50),
		WorkerCount:   getEnvAsInt("WORKER_COUNT", 5),

		DatabaseURL:  getEnv("DATABASE_URL", ""),
		TokenTable:   getEnv("TOKEN_TABLE", "tokens"),
		StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),

		RedisURL:         getEnv("REDIS_URL", ""),
		TokenSuppressTTL: getEnvAsDuration("TOKEN_SUPPRESS_TTL", 24*time.Hour),

		FCMServerKey: getEnv("FCM_SERVER_KEY", ""),
		FCMEndpoint:  getEnv("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		SendTimeout:  getEnvAsDuration("SEND_TIMEOUT", 10*time.Second),

		SMTPHost: getEnv("SMTP_HOST", ""),
		SMTPPort: getEnvAsInt("SMTP_PORT", 587),
		SMTPUser: getEnv("SMTP_USER", ""),
		SMTPPass: getEnv("SMTP_PASS", ""),
		MailFrom: getEnv("MAIL_FROM", ""),
		MailTo:   getEnvAsList("MAIL_TO", nil),

		JWTPublicKeyFile: getEnv("JWT_PUBLIC_KEY_FILE", ""),
		JWTRequiredRole:  getEnv("JWT_REQUIRED_ROLE", ""),

		ConnectMaxAttempts:    getEnvAsInt("CONNECT_MAX_ATTEMPTS", 5),
		ConnectInitialBackoff: getEnvAsDuration("CONNECT_INITIAL_BACKOFF", time.Second),
		ConnectMaxBackoff:     getEnvAsDuration("CONNECT_MAX_BACKOFF", 15*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MailEnabled reports whether an SMTP relay and at least one recipient are set.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && len(c.MailTo) > 0
}

// RedisOptions parses REDIS_URL. Both redis:// URLs and a bare host:port
// are accepted.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if !strings.Contains(c.RedisURL, "://") {
		return &redis.Options{Addr: c.RedisURL}, nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return opts, nil
}

func (c *Config) validate() error {
	var missing []string
	switch c.BrokerType {
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			missing = append(missing, "KAFKA_BROKERS")
		}
		if c.KafkaGroupID == "" {
			missing = append(missing, "KAFKA_GROUP_ID")
		}
	case BrokerRabbitMQ:
		if c.RabbitURL == "" {
			missing = append(missing, "RABBITMQ_URL")
		}
	default:
		return fmt.Errorf("unsupported BROKER_TYPE %q", c.BrokerType)
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.FCMServerKey == "" {
		missing = append(missing, "FCM_SERVER_KEY")
	}
	if c.RedisURL != "" {
		if _, err := c.RedisOptions(); err != nil {
			return err
		}
	}
	if c.SMTPHost != "" && c.MailFrom == "" {
		missing = append(missing, "MAIL_FROM")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}

// getEnvAsList splits a comma separated value, dropping blank entries.
func getEnvAsList(key string, def []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
