package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	strutil "pmhub/pkg/platform/strings"
)

// StoreBackend selects the record and audit persistence.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreSQLite   StoreBackend = "sqlite"
	StoreRedis    StoreBackend = "redis"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	Store           StoreBackend
	DatabaseURL     string
	SQLitePath      string
	TxTimeout       time.Duration
	JWTSigningKey   string
	JWTIssuer       string
	PolicyFile      string
	BulkConcurrency int
	LogLevel        string
	LogFormat       string
	Redis           RedisConfig
	Kafka           KafkaConfig
}

// RedisConfig configures the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay. An empty broker list disables it.
type KafkaConfig struct {
	Brokers        []string
	AuditTopic     string
	NotifyTopic    string
	OutboxInterval time.Duration
	OutboxBatch    int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:            envOr("PMHUB_ADDR", ":8080"),
		Store:           StoreBackend(strings.ToLower(envOr("PMHUB_STORE", string(StoreMemory)))),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      envOr("PMHUB_SQLITE_PATH", "pmhub.db"),
		TxTimeout:       envDuration("PMHUB_TX_TIMEOUT", 5*time.Second),
		JWTSigningKey:   jwtSigningKey,
		JWTIssuer:       envOr("JWT_ISSUER", "pmhub"),
		PolicyFile:      os.Getenv("PMHUB_POLICY_FILE"),
		BulkConcurrency: envInt("PMHUB_BULK_CONCURRENCY", 8),
		LogLevel:        envOr("PMHUB_LOG_LEVEL", "info"),
		LogFormat:       envOr("PMHUB_LOG_FORMAT", "json"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        strutil.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:     envOr("PMHUB_AUDIT_TOPIC", "pmhub.audit"),
			NotifyTopic:    envOr("PMHUB_NOTIFY_TOPIC", "pmhub.status-changes"),
			OutboxInterval: envDuration("PMHUB_OUTBOX_INTERVAL", 2*time.Second),
			OutboxBatch:    envInt("PMHUB_OUTBOX_BATCH", 100),
		},
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
