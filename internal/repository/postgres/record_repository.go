package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"school-service/internal/models"
	"school-service/internal/repository"
)

type RecordRepository struct {
	db *DB
}

var _ repository.RecordRepository = (*RecordRepository)(nil)

func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Insert(ctx context.Context, rec *models.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, fields, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(rec.Collection), rec.ID, fields, rec.IsActive, rec.CreatedAt, rec.UpdatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (r *RecordRepository) Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT collection, id, fields, is_active, created_at, updated_at
		 FROM records WHERE collection = $1 AND id = $2 AND is_active`, string(collection), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return rec, err
}

func (r *RecordRepository) Update(ctx context.Context, rec *models.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET fields = $3, updated_at = $4
		 WHERE collection = $1 AND id = $2 AND is_active`,
		string(rec.Collection), rec.ID, fields, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *RecordRepository) Delete(ctx context.Context, collection models.Collection, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET is_active = FALSE, updated_at = now()
		 WHERE collection = $1 AND id = $2 AND is_active`, string(collection), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *RecordRepository) Query(ctx context.Context, f models.RecordFilter) ([]*models.Record, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM records WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	query := `SELECT collection, id, fields, is_active, created_at, updated_at FROM records WHERE ` +
		where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	out := []*models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// buildWhere renders the filter as parameterised SQL. Field names are bound
// as parameters too, so no client text is spliced into the statement.
func buildWhere(f models.RecordFilter) (string, []any) {
	clauses := []string{"collection = $1", "is_active"}
	args := []any{string(f.Collection)}

	keys := make([]string, 0, len(f.Equals))
	for k := range f.Equals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, f.Equals[k])
		clauses = append(clauses, fmt.Sprintf("fields ->> $%d = $%d", len(args)-1, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		rec        models.Record
		collection string
		fields     []byte
	)
	if err := s.Scan(&collection, &rec.ID, &fields, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Collection = models.Collection(collection)
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return &rec, nil
}
