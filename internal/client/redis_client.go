package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"school-service/internal/config"
	"school-service/internal/util"
)

const healthKey = "healthcheck:school-service"

// RedisClient backs shared rate windows and lockouts. Every call sits on the
// request path, so timeouts are short and callers fail open on errors.
type RedisClient struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisClient connects to cfg.Redis.URL. rediss:// URLs enable TLS with the
// files named by REDIS_TLS_CA_FILE, REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE.
func NewRedisClient(cfg *config.Config, logger *zap.Logger) (*RedisClient, error) {
	redisConfig := cfg.Redis

	opts, err := redis.ParseURL(redisConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.Password == "" {
		opts.Password = redisConfig.Password
	}
	if redisConfig.DB != 0 {
		opts.DB = redisConfig.DB
	}
	opts.PoolSize = redisConfig.PoolSize
	opts.MinIdleConns = redisConfig.PoolSize / 4
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond
	opts.PoolTimeout = time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	if opts.TLSConfig != nil {
		host, _, _ := splitHostPort(opts.Addr)
		tlsConfig, err := backendTLS("Redis", host,
			util.GetEnv("REDIS_TLS_CA_FILE", ""),
			util.GetEnv("REDIS_TLS_CERT_FILE", ""),
			util.GetEnv("REDIS_TLS_KEY_FILE", ""))
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsConfig
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize),
		zap.Bool("tls", opts.TLSConfig != nil))

	return &RedisClient{
		Client: rdb,
		config: &redisConfig,
	}, nil
}

func (r *RedisClient) Close() error {
	if r.Client == nil {
		return nil
	}
	if err := r.Client.Close(); err != nil {
		util.Error("Failed to close Redis client", util.ErrorField(err))
		return err
	}
	util.Info("Redis client closed")
	return nil
}

// HealthCheck writes and reads back a short-lived key in one round trip, so a
// read-only replica or a full instance fails the probe.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	want := strconv.FormatInt(time.Now().UnixNano(), 10)

	var get *redis.StringCmd
	_, err := r.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, healthKey, want, 10*time.Second)
		get = p.Get(ctx, healthKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	if got := get.Val(); got != want {
		return fmt.Errorf("redis health check read %q, wrote %q", got, want)
	}
	return nil
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.Client.HGetAll(ctx, key).Result()
}

// RunScript evaluates s, loading it into the script cache on first use.
func (r *RedisClient) RunScript(ctx context.Context, s *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	return s.Run(ctx, r.Client, keys, args...).Result()
}
