package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			TLSPort:        getEnvInt("TLS_PORT", 8443),
			EnableTLS:      getEnvBool("ENABLE_TLS", false),
			AutoCert:       getEnvBool("AUTO_CERT", false),
			Domain:         getEnv("DOMAIN", ""),
			CertFile:       getEnv("TLS_CERT_FILE", ""),
			KeyFile:        getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:    getEnv("AUTO_CERT_DIR", "./certs"),
			Email:          getEnv("AUTO_CERT_EMAIL", ""),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			DataBackend:    getEnv("DATA_BACKEND", "memory"),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:                  getEnv("LOG_LEVEL", "info"),
			Format:                 getEnv("LOG_FORMAT", "console"),
			AuditDir:               getEnv("AUDIT_LOG_DIR", "./logs"),
			AuditMinLevel:          "",
			AuditConsole:           getEnvBool("AUDIT_CONSOLE", false),
			AuditQueueSize:         getEnvInt("AUDIT_QUEUE_SIZE", 4096),
			AuditMaxFileSize:       getEnvInt64("AUDIT_MAX_FILE_SIZE", 10*1024*1024),
			AuditMaxFiles:          getEnvInt("AUDIT_MAX_FILES", 10),
			AuditRetentionDays:     getEnvInt("AUDIT_RETENTION_DAYS", 30),
			AuditRetentionSchedule: getEnv("AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
		},
		Security: SecurityConfig{
			WindowDuration:        getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			GeneralMaxRequests:    getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
			SensitiveWindow:       getEnvDuration("RATE_LIMIT_SENSITIVE_WINDOW", 15*time.Minute),
			SensitiveMaxRequests:  getEnvInt("RATE_LIMIT_SENSITIVE_MAX_REQUESTS", 10),
			SensitivePrefixes:     getEnvList("SENSITIVE_PATH_PREFIXES", []string{"/api/auth/login", "/api/auth/register", "/api/users", "/api/admin"}),
			LoginAttemptThreshold: getEnvInt("LOGIN_ATTEMPT_THRESHOLD", 5),
			LockoutDuration:       getEnvDuration("LOCKOUT_DURATION", 30*time.Minute),
			ExtraSignatures:       getEnvList("EXTRA_PATTERN_SIGNATURES", nil),
			BlockOnPayloadMatch:   getEnvBool("BLOCK_ON_PAYLOAD_MATCH", false),
			MaxInspectBytes:       getEnvInt64("MAX_INSPECT_BYTES", 1<<20),
			TrustProxyHeaders:     getEnvBool("TRUST_PROXY_HEADERS", true),
			SharedState:           getEnvBool("SHARED_RATE_STATE", false),
			AdminAPIKey:           getEnv("ADMIN_API_KEY", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Enabled:    getEnvBool("AUDIT_KAFKA_ENABLED", false),
			Brokers:    getEnvList("KAFKA_BROKERS", nil),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "school.audit"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:    getEnvBool("AUDIT_ELASTICSEARCH_ENABLED", false),
			URL:        getEnv("ELASTICSEARCH_URL", ""),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "school-audit"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:    getEnvBool("AUDIT_CLICKHOUSE_ENABLED", false),
			URL:        getEnv("CLICKHOUSE_URL", ""),
			Username:   getEnv("CLICKHOUSE_USERNAME", "default"),
			Password:   getEnv("CLICKHOUSE_PASSWORD", ""),
			Database:   getEnv("CLICKHOUSE_DATABASE", "school"),
			AuditTable: getEnv("CLICKHOUSE_AUDIT_TABLE", "audit_events"),
			BatchSize:  getEnvInt("CLICKHOUSE_BATCH_SIZE", 200),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", nil),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "school"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),

			RecordBuckets: getEnvInt("SCYLLA_RECORD_BUCKETS", 16),
		},
		Postgres: PostgresConfig{
			URL:          getEnv("POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("POSTGRES_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
		},
		Storage: StorageConfig{
			Backend:           getEnv("STORAGE_BACKEND", "local"),
			UploadDir:         getEnv("UPLOAD_DIR", "./uploads"),
			S3Bucket:          getEnv("S3_BUCKET", ""),
			S3Prefix:          getEnv("S3_PREFIX", "uploads/"),
			AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
			MaxFileSize:       getEnvInt64("MAX_FILE_SIZE", 5*1024*1024),
			AllowedExtensions: getEnvList("ALLOWED_FILE_TYPES", []string{".pdf", ".doc", ".docx", ".jpg", ".png"}),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:            getEnv("PASSWORD_PEPPER", ""),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	// production keeps DEBUG out of the audit trail unless asked for
	defaultAuditLevel := "DEBUG"
	if cfg.IsProduction() {
		defaultAuditLevel = "INFO"
	}
	cfg.Logging.AuditMinLevel = strings.ToUpper(getEnv("AUDIT_MIN_LEVEL", defaultAuditLevel))
	if _, ok := os.LookupEnv("AUDIT_CONSOLE"); !ok {
		cfg.Logging.AuditConsole = !cfg.IsProduction()
	}

	currentMu.Lock()
	current = cfg
	currentMu.Unlock()

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := getEnv(key, ""); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
