package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"school-service/internal/bucketing"
	"school-service/internal/config"
	"school-service/internal/util"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id text PRIMARY KEY,
		identification text,
		email text,
		name text,
		role text,
		password_hash text,
		is_active boolean,
		created_at timestamp,
		updated_at timestamp,
		last_login timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_identification (
		identification text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_email (
		email text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		collection text,
		bucket int,
		id text,
		fields text,
		is_active boolean,
		created_at timestamp,
		updated_at timestamp,
		PRIMARY KEY ((collection, bucket), id)
	)`,
}

// Statements holds the CQL used by the repositories. gocql prepares and
// caches each one on first use.
type Statements struct {
	CreateUser            string
	ClaimIdentification   string
	ReleaseIdentification string
	ClaimEmail            string
	GetUserByID           string
	GetUserIDByIdent      string
	UpdateUserLastLogin   string

	InsertRecord     string
	GetRecord        string
	UpdateRecord     string
	DeactivateRecord string
	ListRecords      string
}

var statements = Statements{
	CreateUser: `INSERT INTO users (user_id, identification, email, name, role, password_hash,
		is_active, created_at, updated_at, last_login) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	ClaimIdentification:   `INSERT INTO users_by_identification (identification, user_id) VALUES (?, ?) IF NOT EXISTS`,
	ReleaseIdentification: `DELETE FROM users_by_identification WHERE identification = ?`,
	ClaimEmail:            `INSERT INTO users_by_email (email, user_id) VALUES (?, ?) IF NOT EXISTS`,
	GetUserByID: `SELECT user_id, identification, email, name, role, password_hash, is_active,
		created_at, updated_at, last_login FROM users WHERE user_id = ?`,
	GetUserIDByIdent:    `SELECT user_id FROM users_by_identification WHERE identification = ?`,
	UpdateUserLastLogin: `UPDATE users SET last_login = ?, updated_at = ? WHERE user_id = ? IF EXISTS`,

	InsertRecord: `INSERT INTO records (collection, bucket, id, fields, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
	GetRecord: `SELECT collection, id, fields, is_active, created_at, updated_at
		FROM records WHERE collection = ? AND bucket = ? AND id = ?`,
	UpdateRecord: `UPDATE records SET fields = ?, updated_at = ?
		WHERE collection = ? AND bucket = ? AND id = ? IF is_active = true`,
	DeactivateRecord: `UPDATE records SET is_active = false, updated_at = ?
		WHERE collection = ? AND bucket = ? AND id = ? IF is_active = true`,
	ListRecords: `SELECT collection, id, fields, is_active, created_at, updated_at
		FROM records WHERE collection = ? AND bucket = ?`,
}

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
	Stmts   Statements
	// Buckets splits each record collection over several partitions.
	Buckets *bucketing.Buckets
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/app/certs/scylla.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/app/certs/scylla.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
		Stmts:   statements,
		Buckets: bucketing.New(scyllaConfig.RecordBuckets),
	}

	if err := client.ensureSchema(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace),
		zap.Int("record_buckets", client.Buckets.Count()))

	return client, nil
}

func (s *ScyllaClient) ensureSchema() error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ScanWithRetry retries reads that fail for reasons other than a missing row.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil || err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
