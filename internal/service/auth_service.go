package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"school-service/internal/audit"
	"school-service/internal/hashing"
	"school-service/internal/models"
	"school-service/internal/ratelimit"
	"school-service/internal/repository"
	"school-service/internal/util"
)

// Client describes the caller of an operation for audit purposes.
type Client struct {
	Address   string
	UserAgent string
	RequestID string
}

type LoginRequest struct {
	Identification string `json:"identification" validate:"required,max=64"`
	Password       string `json:"password" validate:"required,max=128"`
}

type RegisterRequest struct {
	Identification string      `json:"identification" validate:"required,identification"`
	Email          string      `json:"email" validate:"required,email,max=254"`
	Name           string      `json:"name" validate:"required,person_name"`
	Password       string      `json:"password" validate:"required,password"`
	Role           models.Role `json:"role" validate:"omitempty,oneof=ADMIN TEACHER STUDENT"`
}

type LoginResult struct {
	User *models.User `json:"user"`
}

// AuthService checks credentials against the user repository and applies the
// lockout policy of the Tracker. Every outcome is recorded on the audit sink.
type AuthService struct {
	users     repository.UserRepository
	hasher    *hashing.Hasher
	tracker   *ratelimit.Tracker
	sink      audit.Sink
	validator *Validator
	now       func() time.Time
	logger    *zap.Logger
}

func NewAuthService(users repository.UserRepository, hasher *hashing.Hasher, tracker *ratelimit.Tracker, sink audit.Sink, v *Validator, now func() time.Time, logger *zap.Logger) *AuthService {
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		tracker:   tracker,
		sink:      sink,
		validator: v,
		now:       now,
		logger:    logger,
	}
}

// Login verifies the credentials of req. A locked identification is refused
// with a *LockedError before the password is checked. Unknown identifications
// and wrong passwords both count as failures and return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest, client Client) (*LoginResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	identification := ratelimit.NormalizeIdentifier(req.Identification)

	status, err := s.tracker.CheckStatus(ctx, identification, now)
	if err != nil {
		return nil, fmt.Errorf("failed to check lockout: %w", err)
	}
	if !status.Allowed {
		s.record(client, now, audit.SecurityEvent("locked_account_login_attempt", audit.SeverityHigh, client.Address, map[string]any{
			"identification": identification,
			"lockedUntil":    status.LockedUntil.Format(time.RFC3339),
		}))
		return nil, &LockedError{LockedUntil: *status.LockedUntil}
	}

	user, err := s.users.GetUserByIdentification(ctx, identification)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, s.fail(ctx, identification, client, now, "unknown_identification")
	case err != nil:
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	ok, err := s.hasher.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("Stored password hash is unreadable",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
	}
	if !ok {
		return nil, s.fail(ctx, identification, client, now, "invalid_password")
	}
	if !user.IsActive {
		s.record(client, now, withMetadata(audit.LoginAttempt(identification, client.Address, client.UserAgent, false, user.UserID, string(user.Role)), "reason", "inactive"))
		return nil, ErrAccountInactive
	}

	if err := s.tracker.RecordSuccess(ctx, identification); err != nil {
		s.logger.Warn("Failed to clear lockout record",
			util.String("identification", identification),
			util.ErrorField(err))
	}
	if err := s.users.UpdateLastLogin(ctx, user.UserID, now); err != nil {
		s.logger.Warn("Failed to update last login",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
	} else {
		user.LastLogin = &now
	}

	s.record(client, now, audit.LoginAttempt(identification, client.Address, client.UserAgent, true, user.UserID, string(user.Role)))
	return &LoginResult{User: user}, nil
}

// fail records a failed attempt. The attempt that reaches the threshold also
// raises a SECURITY event.
func (s *AuthService) fail(ctx context.Context, identification string, client Client, now time.Time, reason string) error {
	status, err := s.tracker.RecordFailure(ctx, identification, now)
	if err != nil {
		s.logger.Warn("Failed to record login failure",
			util.String("identification", identification),
			util.ErrorField(err))
	}

	ev := audit.LoginAttempt(identification, client.Address, client.UserAgent, false, "", "")
	ev = withMetadata(ev, "reason", reason)
	ev.Metadata["remainingAttempts"] = status.RemainingAttempts
	s.record(client, now, ev)

	if err == nil && !status.Allowed {
		s.record(client, now, audit.SecurityEvent("account_locked", audit.SeverityHigh, client.Address, map[string]any{
			"identification": identification,
			"threshold":      s.tracker.Threshold(),
			"lockedUntil":    status.LockedUntil.Format(time.RFC3339),
		}))
	}
	return ErrInvalidCredentials
}

// Register creates an active account. Identification and email are stored
// lower-cased.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest, client Client) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}
	now := s.now().UTC()
	user := &models.User{
		UserID:         uuid.NewString(),
		Identification: ratelimit.NormalizeIdentifier(req.Identification),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Name:           util.SanitizeInput(req.Name),
		Role:           role,
		PasswordHash:   hash,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: identification or email taken", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered",
		util.String("user_id", user.UserID),
		util.String("role", string(user.Role)))
	s.record(client, now, audit.UserAction("REGISTER", user.UserID, user.Email, string(user.Role), client.Address, map[string]any{
		"identification": user.Identification,
	}))
	return user, nil
}

// LockoutStatus reports the lockout state of identification for operators.
func (s *AuthService) LockoutStatus(ctx context.Context, identification string) (ratelimit.LockoutStatus, *ratelimit.LockoutRecord, error) {
	now := s.now().UTC()
	rec, ok, err := s.tracker.Record(ctx, identification, now)
	if err != nil {
		return ratelimit.LockoutStatus{}, nil, err
	}
	status, err := s.tracker.CheckStatus(ctx, identification, now)
	if err != nil {
		return ratelimit.LockoutStatus{}, nil, err
	}
	if !ok {
		return status, nil, nil
	}
	return status, &rec, nil
}

// ClearLockout removes the lockout record of identification.
func (s *AuthService) ClearLockout(ctx context.Context, identification, actorID string, client Client) error {
	if err := s.tracker.RecordSuccess(ctx, identification); err != nil {
		return err
	}
	s.record(client, s.now().UTC(), audit.UserAction("CLEAR_LOCKOUT", actorID, "", "", client.Address, map[string]any{
		"identification": ratelimit.NormalizeIdentifier(identification),
	}))
	return nil
}

func (s *AuthService) record(client Client, now time.Time, ev audit.Event) {
	ev.Timestamp = now
	if ev.ClientAddress == "" {
		ev.ClientAddress = client.Address
	}
	if ev.UserAgent == "" {
		ev.UserAgent = client.UserAgent
	}
	ev.RequestID = client.RequestID
	s.sink.Record(ev)
}

func withMetadata(ev audit.Event, key string, value any) audit.Event {
	md := make(map[string]any, len(ev.Metadata)+1)
	for k, v := range ev.Metadata {
		md[k] = v
	}
	md[key] = value
	ev.Metadata = md
	return ev
}
