package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Config holds every setting the service reads at startup. It is built once by
// LoadConfig and treated as read-only afterwards.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Security      SecurityConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Scylla        ScyllaConfig
	Postgres      PostgresConfig
	Storage       StorageConfig
	Hashing       HashingConfig
	Metrics       MetricsConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// DataBackend selects the record store: memory, postgres or scylla.
	DataBackend    string
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string

	AuditDir           string
	AuditMinLevel      string
	AuditConsole       bool
	AuditQueueSize     int
	AuditMaxFileSize   int64
	AuditMaxFiles      int
	AuditRetentionDays int
	// AuditRetentionSchedule is a cron expression for the retention job.
	AuditRetentionSchedule string
}

// SecurityConfig is the admission pipeline configuration surface.
type SecurityConfig struct {
	WindowDuration       time.Duration
	GeneralMaxRequests   int
	SensitiveWindow      time.Duration
	SensitiveMaxRequests int
	SensitivePrefixes    []string

	LoginAttemptThreshold int
	LockoutDuration       time.Duration

	// ExtraSignatures are regular expressions appended to the built-in
	// payload signatures.
	ExtraSignatures     []string
	BlockOnPayloadMatch bool
	MaxInspectBytes     int64
	TrustProxyHeaders   bool

	// SharedState backs rate windows and lockouts with Redis instead of
	// process memory.
	SharedState bool

	// AdminAPIKey is the operator credential for /api/admin. Empty disables
	// the admin routes.
	AdminAPIKey string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	AuditTopic string
}

type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type ClickhouseConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	Database   string
	AuditTable string
	BatchSize  int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	// RecordBuckets is fixed for the life of a keyspace.
	RecordBuckets int
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type StorageConfig struct {
	Backend           string
	UploadDir         string
	S3Bucket          string
	S3Prefix          string
	AWSRegion         string
	MaxFileSize       int64
	AllowedExtensions []string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// MinAdminKeyLength is the shortest accepted ADMIN_API_KEY.
const MinAdminKeyLength = 16

var (
	current   *Config
	currentMu sync.RWMutex
)

// Get returns the most recently loaded configuration, loading it on first use.
func Get() *Config {
	currentMu.RLock()
	cfg := current
	currentMu.RUnlock()
	if cfg != nil {
		return cfg
	}
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == ""
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate reports every invalid setting at once. An invalid configuration is
// fatal at startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}

	s := c.Security
	if s.WindowDuration <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if s.GeneralMaxRequests <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX_REQUESTS must be positive"))
	}
	if s.SensitiveWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SENSITIVE_WINDOW must be positive"))
	}
	if s.SensitiveMaxRequests <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SENSITIVE_MAX_REQUESTS must be positive"))
	}
	if s.LoginAttemptThreshold <= 0 {
		errs = append(errs, errors.New("LOGIN_ATTEMPT_THRESHOLD must be positive"))
	}
	if s.LockoutDuration <= 0 {
		errs = append(errs, errors.New("LOCKOUT_DURATION must be positive"))
	}
	if s.MaxInspectBytes <= 0 {
		errs = append(errs, errors.New("MAX_INSPECT_BYTES must be positive"))
	}
	for _, p := range s.SensitivePrefixes {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("sensitive prefix %q must start with /", p))
		}
	}
	if s.AdminAPIKey != "" && len(s.AdminAPIKey) < MinAdminKeyLength {
		errs = append(errs, fmt.Errorf("ADMIN_API_KEY must be at least %d characters", MinAdminKeyLength))
	}
	if s.SharedState && c.Redis.URL == "" {
		errs = append(errs, errors.New("SHARED_RATE_STATE requires REDIS_URL"))
	}

	switch strings.ToUpper(c.Logging.AuditMinLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "SECURITY", "AUDIT":
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIT_MIN_LEVEL %q", c.Logging.AuditMinLevel))
	}
	if c.Logging.AuditQueueSize <= 0 {
		errs = append(errs, errors.New("AUDIT_QUEUE_SIZE must be positive"))
	}

	switch c.Server.DataBackend {
	case "memory":
	case "postgres":
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("DATA_BACKEND=postgres requires POSTGRES_URL"))
		}
	case "scylla":
		if len(c.Scylla.Nodes) == 0 {
			errs = append(errs, errors.New("DATA_BACKEND=scylla requires SCYLLA_NODES"))
		}
		if c.Scylla.RecordBuckets <= 0 {
			errs = append(errs, errors.New("SCYLLA_RECORD_BUCKETS must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATA_BACKEND %q", c.Server.DataBackend))
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("STORAGE_BACKEND=s3 requires S3_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("AUDIT_KAFKA_ENABLED requires KAFKA_BROKERS"))
	}
	if c.Elasticsearch.Enabled && c.Elasticsearch.URL == "" {
		errs = append(errs, errors.New("AUDIT_ELASTICSEARCH_ENABLED requires ELASTICSEARCH_URL"))
	}
	if c.Clickhouse.Enabled && c.Clickhouse.URL == "" {
		errs = append(errs, errors.New("AUDIT_CLICKHOUSE_ENABLED requires CLICKHOUSE_URL"))
	}
	if c.IsProduction() && c.Hashing.Pepper == "" {
		errs = append(errs, errors.New("PASSWORD_PEPPER is required in production"))
	}

	return errors.Join(errs...)
}
