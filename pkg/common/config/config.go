package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// REDCap upstream
	REDCapBaseURL      string
	REDCapToken        string
	REDCapTimeout      time.Duration
	REDCapRetries      int
	REDCapRetryBackoff time.Duration

	// Caching
	DatasetCacheTTL  time.Duration
	AnalysisCacheTTL time.Duration
	CacheBackend     string // memory or redis

	// Instrument policy
	PolicyFile string

	// Redis (shared cache backend)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Postgres (refresh audit trail)
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	AuditEnabled     bool

	// Kafka (cross-instance invalidation events)
	KafkaBrokers []string
	KafkaGroupID string
	KafkaEnabled bool

	// Gateway
	RateLimitRPS   int
	RateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1*1024*1024)),

		REDCapBaseURL:      getEnv("REDCAP_BASE_URL", "https://redcap.example.org/api/"),
		REDCapToken:        getEnv("REDCAP_TOKEN", ""),
		REDCapTimeout:      getDuration("REDCAP_TIMEOUT", 15*time.Second),
		REDCapRetries:      getIntEnv("REDCAP_RETRIES", 3),
		REDCapRetryBackoff: getDuration("REDCAP_RETRY_BACKOFF", 250*time.Millisecond),

		DatasetCacheTTL:  getDuration("DATASET_CACHE_TTL", 5*time.Minute),
		AnalysisCacheTTL: getDuration("ANALYSIS_CACHE_TTL", 5*time.Minute),
		CacheBackend:     getEnv("CACHE_BACKEND", "memory"),

		PolicyFile: getEnv("INSTRUMENT_POLICY_FILE", ""),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "rm4health"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "rm4health123"),
		PostgresDB:       getEnv("POSTGRES_DB", "rm4health"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		AuditEnabled:     getBoolEnv("AUDIT_ENABLED", false),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "rm4health-dashboard"),
		KafkaEnabled: getBoolEnv("KAFKA_ENABLED", false),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
