package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"school-service/internal/admission"
	"school-service/internal/audit"
	"school-service/internal/client"
	"school-service/internal/config"
	"school-service/internal/handler"
	"school-service/internal/hashing"
	"school-service/internal/inspect"
	"school-service/internal/ratelimit"
	"school-service/internal/repository"
	"school-service/internal/repository/memory"
	"school-service/internal/repository/postgres"
	redisrepo "school-service/internal/repository/redis"
	"school-service/internal/repository/scylla"
	"school-service/internal/service"
	"school-service/internal/storage"
	"school-service/internal/tls"
	"school-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	postgresDB       *postgres.DB
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Audit trail
	auditFile  *audit.FileWriter
	dispatcher *audit.Dispatcher
	retention  *audit.RetentionJob

	// Admission
	limiter  *ratelimit.Limiter
	tracker  *ratelimit.Tracker
	pipeline *admission.Pipeline

	users          repository.UserRepository
	records        repository.RecordRepository
	files          storage.FileStore
	hasher         *hashing.Hasher
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory connects every backend cfg enables and builds the admission
// pipeline, audit trail and services on top of them.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		m, err := tls.NewManager(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize TLS: %w", err)
		}
		f.tlsManager = m
	}

	if err := f.initializeClients(ctx); err != nil {
		f.Close(ctx)
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeAudit(); err != nil {
		f.Close(ctx)
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}
	if err := f.initializeAdmission(); err != nil {
		f.Close(ctx)
		return nil, fmt.Errorf("failed to initialize admission: %w", err)
	}
	if err := f.initializeRepositories(ctx); err != nil {
		f.Close(ctx)
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	f.hasher = hashing.NewHasher(cfg)
	f.serviceFactory = service.NewServiceFactory(service.Dependencies{
		Users:   f.users,
		Records: f.records,
		Files:   f.files,
		Policy:  storage.PolicyFromConfig(cfg.Storage),
		Hasher:  f.hasher,
		Tracker: f.tracker,
		Sink:    f.dispatcher,
		Logger:  util.Get(),
	})

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("data_backend", cfg.Server.DataBackend),
		util.String("storage_backend", cfg.Storage.Backend),
		util.Bool("shared_rate_state", cfg.Security.SharedState),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
	)
	return f, nil
}

// initializeClients connects the enabled backends concurrently. A backend the
// data path depends on fails startup; an optional audit sink only does so in
// production.
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cfg := f.config
	logger := util.Get()
	g, ctx := errgroup.WithContext(ctx)

	optional := func(name string, err error) error {
		if cfg.IsProduction() {
			return fmt.Errorf("%s: %w", name, err)
		}
		util.Warn("Optional client unavailable, continuing without it",
			util.String("client", name),
			util.ErrorField(err))
		return nil
	}

	if cfg.Redis.URL != "" {
		g.Go(func() error {
			c, err := client.NewRedisClient(cfg, logger)
			if err == nil {
				if err = c.HealthCheck(ctx); err != nil {
					c.Close()
				}
			}
			if err != nil {
				if cfg.Security.SharedState {
					return fmt.Errorf("redis: %w", err)
				}
				return optional("redis", err)
			}
			f.redisClient = c
			util.Info("Redis client initialized and healthy")
			return nil
		})
	}

	switch cfg.Server.DataBackend {
	case "scylla":
		g.Go(func() error {
			c, err := scylla.NewScyllaClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("scylla: %w", err)
			}
			f.scyllaClient = c
			if err := c.HealthCheck(ctx); err != nil {
				return fmt.Errorf("scylla health check: %w", err)
			}
			util.Info("ScyllaDB client initialized and healthy")
			return nil
		})
	case "postgres":
		g.Go(func() error {
			db, err := postgres.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			f.postgresDB = db
			util.Info("PostgreSQL initialized and healthy")
			return nil
		})
	}

	if cfg.Kafka.Enabled {
		g.Go(func() error {
			p, err := client.NewKafkaProducer(cfg, logger)
			if err != nil {
				return optional("kafka", err)
			}
			f.kafkaProducer = p
			util.Info("Kafka producer initialized")
			return nil
		})
	}

	if cfg.Elasticsearch.Enabled {
		g.Go(func() error {
			c, err := client.NewElasticsearchClient(cfg, logger)
			if err == nil {
				f.esClient = c
				err = c.HealthCheck(ctx)
			}
			if err != nil {
				f.esClient = nil
				return optional("elasticsearch", err)
			}
			util.Info("Elasticsearch client initialized and healthy")
			return nil
		})
	}

	if cfg.Clickhouse.Enabled {
		g.Go(func() error {
			c, err := client.NewClickHouseClient(cfg, logger)
			if err == nil {
				f.clickhouseClient = c
				err = c.Exec(ctx, fmt.Sprintf(audit.ClickHouseSchema, cfg.Clickhouse.AuditTable))
			}
			if err != nil {
				if c != nil {
					c.Close()
				}
				f.clickhouseClient = nil
				return optional("clickhouse", err)
			}
			util.Info("ClickHouse client initialized and audit table ready")
			return nil
		})
	}

	return g.Wait()
}

func (f *Factory) initializeAudit() error {
	cfg := f.config.Logging

	minLevel, err := audit.ParseLevel(cfg.AuditMinLevel)
	if err != nil {
		return err
	}

	fw, err := audit.NewFileWriter(audit.FileWriterOptions{
		Dir:         cfg.AuditDir,
		MaxFileSize: cfg.AuditMaxFileSize,
		MaxFiles:    cfg.AuditMaxFiles,
		Logger:      util.Get(),
	})
	if err != nil {
		return err
	}
	f.auditFile = fw

	writers := []audit.Writer{fw}
	if cfg.AuditConsole {
		writers = append(writers, audit.NewConsoleWriter(util.Get()))
	}
	if f.kafkaProducer != nil {
		writers = append(writers, audit.NewKafkaWriter(f.kafkaProducer, f.config.Kafka.AuditTopic))
	}
	if f.esClient != nil {
		writers = append(writers, audit.NewElasticWriter(f.esClient, f.config.Elasticsearch.AuditIndex))
	}
	if f.clickhouseClient != nil {
		writers = append(writers, audit.NewClickHouseWriter(f.clickhouseClient, f.config.Clickhouse.AuditTable, f.config.Clickhouse.BatchSize))
	}

	f.dispatcher = audit.NewDispatcher(audit.DispatcherOptions{
		QueueSize: cfg.AuditQueueSize,
		MinLevel:  minLevel,
		Logger:    util.Get(),
	}, writers...)

	if cfg.AuditRetentionDays > 0 {
		f.retention = audit.NewRetentionJob(fw, time.Duration(cfg.AuditRetentionDays)*24*time.Hour, util.Get())
		if err := f.retention.Start(cfg.AuditRetentionSchedule); err != nil {
			return err
		}
	}

	names := make([]string, len(writers))
	for i, w := range writers {
		names[i] = w.Name()
	}
	util.Info("Audit trail initialized",
		util.String("min_level", string(minLevel)),
		util.Any("writers", names))
	return nil
}

func (f *Factory) initializeAdmission() error {
	sec := f.config.Security

	inspector, err := inspect.New(sec.ExtraSignatures...)
	if err != nil {
		return err
	}

	var windows ratelimit.WindowStore = ratelimit.NewMemoryStore(0)
	var lockouts ratelimit.LockoutStore = ratelimit.NewMemoryLockoutStore()
	if sec.SharedState {
		windows = redisrepo.NewRateLimitCache(f.redisClient)
		lockouts = redisrepo.NewLockoutCache(f.redisClient)
	}

	f.limiter, err = ratelimit.NewLimiter(windows, map[ratelimit.Scope]ratelimit.Rule{
		ratelimit.ScopeGeneral:   {MaxRequests: sec.GeneralMaxRequests, Window: sec.WindowDuration},
		ratelimit.ScopeSensitive: {MaxRequests: sec.SensitiveMaxRequests, Window: sec.SensitiveWindow},
	})
	if err != nil {
		return err
	}
	f.tracker = ratelimit.NewTracker(lockouts, sec.LoginAttemptThreshold, sec.LockoutDuration)
	f.pipeline = admission.New(inspector, f.limiter, f.dispatcher, admission.OptionsFromConfig(f.config),
		admission.WithLogger(util.Get()))
	return nil
}

func (f *Factory) initializeRepositories(ctx context.Context) error {
	switch f.config.Server.DataBackend {
	case "postgres":
		f.users = postgres.NewUserRepository(f.postgresDB)
		f.records = postgres.NewRecordRepository(f.postgresDB)
	case "scylla":
		f.users = scylla.NewUserRepository(f.scyllaClient)
		f.records = scylla.NewRecordRepository(f.scyllaClient)
	default:
		util.Warn("Using in-memory repositories; data is lost on restart")
		f.users = memory.NewUserRepository()
		f.records = memory.NewRecordRepository()
	}

	files, err := storage.New(ctx, f.config, util.Get())
	if err != nil {
		return err
	}
	f.files = files
	return nil
}

// HealthChecks returns a probe per connected backend.
func (f *Factory) HealthChecks() map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck)
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.scyllaClient != nil {
		checks["scylla"] = f.scyllaClient.HealthCheck
	}
	if f.postgresDB != nil {
		checks["postgres"] = f.postgresDB.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	return checks
}

// Router builds the HTTP handler for the server.
func (f *Factory) Router() chi.Router {
	return handler.NewRouter(handler.RouterDeps{
		Config:   f.config,
		Pipeline: f.pipeline,
		Limiter:  f.limiter,
		Services: f.serviceFactory,
		Events:   f.auditFile,
		Audit:    f.dispatcher,
		Health:   f.HealthChecks(),
		Logger:   util.Get(),
	})
}

// Close drains the audit queue and releases every client. It is safe to call
// more than once and on a partially initialised factory.
func (f *Factory) Close(ctx context.Context) error {
	var errs []error
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.retention != nil {
			f.retention.Stop()
		}
		// writers may still use the clients below, so the queue goes first
		if f.dispatcher != nil {
			if err := f.dispatcher.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("audit dispatcher: %w", err))
			} else {
				util.Info("Audit dispatcher drained",
					util.Int64("written", f.dispatcher.Written()),
					util.Int64("dropped", f.dispatcher.Dropped()))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("clickhouse: %w", err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("kafka: %w", err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.postgresDB != nil {
			if err := f.postgresDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("postgres: %w", err))
			}
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}

		for _, err := range errs {
			util.Error("Shutdown error", util.ErrorField(err))
		}
		util.Info("Factory shutdown completed")
	})
	return errors.Join(errs...)
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) Pipeline() *admission.Pipeline {
	return f.pipeline
}

func (f *Factory) Services() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) AuditLog() *audit.FileWriter {
	return f.auditFile
}
