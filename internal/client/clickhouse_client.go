package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"school-service/internal/config"
	"school-service/internal/util"
)

const (
	nativePort       = "9000"
	nativeSecurePort = "9440"
)

// ClickHouseClient stores audit events for analytics over the native protocol.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
	mu     sync.RWMutex
}

// NewClickHouseClient opens a native connection to cfg.Clickhouse.URL. TLS is
// used for https:// and clickhouses:// URLs and always in production;
// CLICKHOUSE_CA_FILE adds a private root.
func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	addr, host, secure, err := clickhouseAddr(chConfig.URL)
	if err != nil {
		return nil, err
	}
	secure = secure || cfg.IsProduction()

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
		Compression:      &ch.Compression{Method: ch.CompressionLZ4},
	}
	if secure {
		opts.TLS, err = backendTLS("ClickHouse", host, util.GetEnv("CLICKHOUSE_CA_FILE", ""), "", "")
		if err != nil {
			return nil, err
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s: %w", addr, err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("addr", addr),
		zap.String("database", chConfig.Database),
		zap.Bool("tls", secure))

	return &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Exec(ctx, query, args...)
}

// BatchInsert sends rows in one native batch.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range data {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	return batch.Send()
}

// CountByCategory returns audit event counts per category since from.
func (c *ClickHouseClient) CountByCategory(ctx context.Context, table string, from time.Time) (map[string]uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows, err := c.conn.Query(ctx,
		"SELECT category, count() FROM "+table+" WHERE timestamp >= ? GROUP BY category", from)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var (
			category string
			n        uint64
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		out[category] = n
	}
	return out, rows.Err()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		util.Error("Failed to close ClickHouse connection", util.ErrorField(err))
		return err
	}
	util.Info("ClickHouse connection closed")
	return nil
}

// clickhouseAddr turns CLICKHOUSE_URL into a native host:port. A bare host is
// accepted. Secure schemes default to 9440, everything else to 9000.
func clickhouseAddr(raw string) (addr, host string, secure bool, err error) {
	if raw == "" {
		return "", "", false, fmt.Errorf("empty ClickHouse URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, fmt.Errorf("invalid ClickHouse URL: %w", err)
	}
	secure = u.Scheme == "https" || u.Scheme == "clickhouses"

	host, port, _ := splitHostPort(u.Host)
	if host == "" {
		return "", "", false, fmt.Errorf("invalid ClickHouse URL %q: no host", raw)
	}
	if port == "" {
		port = nativePort
		if secure {
			port = nativeSecurePort
		}
	}
	return net.JoinHostPort(host, port), host, secure, nil
}

// splitHostPort is net.SplitHostPort that tolerates a missing port.
func splitHostPort(hostport string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(hostport)
	if err != nil {
		return hostport, "", err
	}
	return host, port, nil
}
