// Package memory holds process-local repositories for development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"school-service/internal/models"
	"school-service/internal/repository"
)

type UserRepository struct {
	mu               sync.RWMutex
	byID             map[string]*models.User
	byIdentification map[string]string
	byEmail          map[string]string
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:             make(map[string]*models.User),
		byIdentification: make(map[string]string),
		byEmail:          make(map[string]string),
	}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ident := strings.ToLower(user.Identification)
	email := strings.ToLower(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byIdentification[ident]; ok {
		return fmt.Errorf("identification %q: %w", user.Identification, repository.ErrDuplicate)
	}
	if _, ok := r.byEmail[email]; ok && email != "" {
		return fmt.Errorf("email %q: %w", user.Email, repository.ErrDuplicate)
	}

	u := *user
	r.byID[u.UserID] = &u
	r.byIdentification[ident] = u.UserID
	if email != "" {
		r.byEmail[email] = u.UserID
	}
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r *UserRepository) GetUserByIdentification(ctx context.Context, identification string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentification[strings.ToLower(identification)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *r.byID[id]
	return &out, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLogin = &at
	u.UpdatedAt = at
	return nil
}
