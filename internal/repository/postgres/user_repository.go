package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"school-service/internal/models"
	"school-service/internal/repository"
)

const userColumns = `user_id, identification, email, name, role, password_hash, is_active, created_at, updated_at, last_login`

type UserRepository struct {
	db *DB
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, u *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.UserID, u.Identification, u.Email, u.Name, string(u.Role), u.PasswordHash,
		u.IsActive, u.CreatedAt, u.UpdatedAt, nullTime(u.LastLogin))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", u.Identification, repository.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
	return scanUser(row)
}

func (r *UserRepository) GetUserByIdentification(ctx context.Context, identification string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(identification) = lower($1)`, identification)
	return scanUser(row)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = $2, updated_at = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		u         models.User
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.UserID, &u.Identification, &u.Email, &u.Name, &role, &u.PasswordHash,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Role = models.Role(role)
	u.LastLogin = nullTimeValue(lastLogin)
	return &u, nil
}
