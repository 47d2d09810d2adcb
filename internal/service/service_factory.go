package service

import (
	"time"

	"go.uber.org/zap"

	"school-service/internal/audit"
	"school-service/internal/hashing"
	"school-service/internal/ratelimit"
	"school-service/internal/repository"
	"school-service/internal/storage"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	users       repository.UserRepository
	records     repository.RecordRepository
	files       storage.FileStore
	policy      storage.Policy
	hasher      *hashing.Hasher
	tracker     *ratelimit.Tracker
	sink        audit.Sink
	validator   *Validator
	now         func() time.Time
	logger      *zap.Logger
	authService *AuthService
	recordSvc   *RecordService
	fileSvc     *FileService
}

// Dependencies are the collaborators shared by every service.
type Dependencies struct {
	Users   repository.UserRepository
	Records repository.RecordRepository
	Files   storage.FileStore
	Policy  storage.Policy
	Hasher  *hashing.Hasher
	Tracker *ratelimit.Tracker
	Sink    audit.Sink
	Clock   func() time.Time
	Logger  *zap.Logger
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(deps Dependencies) *ServiceFactory {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sink == nil {
		deps.Sink = audit.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &ServiceFactory{
		users:     deps.Users,
		records:   deps.Records,
		files:     deps.Files,
		policy:    deps.Policy,
		hasher:    deps.Hasher,
		tracker:   deps.Tracker,
		sink:      deps.Sink,
		validator: NewValidator(),
		now:       deps.Clock,
		logger:    deps.Logger,
	}
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(f.users, f.hasher, f.tracker, f.sink, f.validator, f.now, f.logger)
	}
	return f.authService
}

func (f *ServiceFactory) RecordService() *RecordService {
	if f.recordSvc == nil {
		f.recordSvc = NewRecordService(f.records, f.sink, f.now, f.logger)
	}
	return f.recordSvc
}

func (f *ServiceFactory) FileService() *FileService {
	if f.fileSvc == nil {
		f.fileSvc = NewFileService(f.files, f.policy, f.sink, f.validator, f.now, f.logger)
	}
	return f.fileSvc
}

func (f *ServiceFactory) Validator() *Validator { return f.validator }
