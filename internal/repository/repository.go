// Package repository defines the storage contracts for users and records.
// Implementations live in the memory, postgres and scylla subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"school-service/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// UserRepository stores accounts used by the authentication collaborator.
// Identification and email are unique.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByIdentification(ctx context.Context, identification string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// RecordRepository stores documents of every collection. Delete is soft:
// the record stays stored with IsActive false and no longer matches queries.
type RecordRepository interface {
	Insert(ctx context.Context, record *models.Record) error
	Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error)
	Update(ctx context.Context, record *models.Record) error
	Delete(ctx context.Context, collection models.Collection, id string) error
	// Query returns the page selected by filter and the total number of
	// matching records.
	Query(ctx context.Context, filter models.RecordFilter) ([]*models.Record, int, error)
}
