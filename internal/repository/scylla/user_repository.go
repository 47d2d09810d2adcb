package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"school-service/internal/models"
	"school-service/internal/repository"
	"school-service/internal/util"
)

// UserRepository keeps users plus two lookup tables. Uniqueness of
// identification and email is enforced with lightweight transactions.
type UserRepository struct {
	client *ScyllaClient
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository(client *ScyllaClient) *UserRepository {
	return &UserRepository{client: client}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	ident := strings.ToLower(user.Identification)
	email := strings.ToLower(user.Email)

	applied, err := r.client.Query(ctx, r.client.Stmts.ClaimIdentification, ident, user.UserID).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to claim identification: %w", err)
	}
	if !applied {
		return fmt.Errorf("identification %q: %w", user.Identification, repository.ErrDuplicate)
	}

	applied, err = r.client.Query(ctx, r.client.Stmts.ClaimEmail, email, user.UserID).
		MapScanCAS(map[string]interface{}{})
	if err != nil || !applied {
		if relErr := r.client.Query(ctx, r.client.Stmts.ReleaseIdentification, ident).Exec(); relErr != nil {
			util.Warn("Failed to release identification claim",
				zap.String("identification", ident), zap.Error(relErr))
		}
		if err != nil {
			return fmt.Errorf("failed to claim email: %w", err)
		}
		return fmt.Errorf("email %q: %w", user.Email, repository.ErrDuplicate)
	}

	err = r.client.Query(ctx, r.client.Stmts.CreateUser,
		user.UserID, user.Identification, user.Email, user.Name, string(user.Role), user.PasswordHash,
		user.IsActive, user.CreatedAt, user.UpdatedAt, user.LastLogin).Exec()
	if err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("user_id", user.UserID),
		zap.String("role", string(user.Role)))
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var (
		u         models.User
		role      string
		lastLogin time.Time
	)
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Stmts.GetUserByID, userID),
		&u.UserID, &u.Identification, &u.Email, &u.Name, &role, &u.PasswordHash,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Role = models.Role(role)
	if !lastLogin.IsZero() {
		u.LastLogin = &lastLogin
	}
	return &u, nil
}

func (r *UserRepository) GetUserByIdentification(ctx context.Context, identification string) (*models.User, error) {
	var userID string
	err := r.client.ScanWithRetry(
		r.client.Query(ctx, r.client.Stmts.GetUserIDByIdent, strings.ToLower(identification)), &userID)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identification: %w", err)
	}
	return r.GetUserByID(ctx, userID)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	applied, err := r.client.Query(ctx, r.client.Stmts.UpdateUserLastLogin, at, at, userID).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}
