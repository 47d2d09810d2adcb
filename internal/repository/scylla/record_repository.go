package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"school-service/internal/models"
	"school-service/internal/repository"
)

// RecordRepository stores each collection across the client's buckets with
// fields encoded as JSON text. Queries read every bucket of the collection
// and filter in process.
type RecordRepository struct {
	client *ScyllaClient
}

var _ repository.RecordRepository = (*RecordRepository)(nil)

func NewRecordRepository(client *ScyllaClient) *RecordRepository {
	return &RecordRepository{client: client}
}

func (r *RecordRepository) Insert(ctx context.Context, rec *models.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	applied, err := r.client.Query(ctx, r.client.Stmts.InsertRecord,
		string(rec.Collection), r.bucket(rec.ID), rec.ID, string(fields), rec.IsActive, rec.CreatedAt, rec.UpdatedAt).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	if !applied {
		return repository.ErrDuplicate
	}
	return nil
}

func (r *RecordRepository) Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error) {
	var (
		rec    models.Record
		coll   string
		fields string
	)
	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Stmts.GetRecord, string(collection), r.bucket(id), id),
		&coll, &rec.ID, &fields, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if !rec.IsActive {
		return nil, repository.ErrNotFound
	}
	rec.Collection = models.Collection(coll)
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return &rec, nil
}

func (r *RecordRepository) Update(ctx context.Context, rec *models.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	applied, err := r.client.Query(ctx, r.client.Stmts.UpdateRecord,
		string(fields), rec.UpdatedAt, string(rec.Collection), r.bucket(rec.ID), rec.ID).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func (r *RecordRepository) Delete(ctx context.Context, collection models.Collection, id string) error {
	applied, err := r.client.Query(ctx, r.client.Stmts.DeactivateRecord,
		time.Now().UTC(), string(collection), r.bucket(id), id).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func (r *RecordRepository) Query(ctx context.Context, f models.RecordFilter) ([]*models.Record, int, error) {
	var matched []*models.Record
	for _, bucket := range r.client.Buckets.All() {
		scanner := r.client.Query(ctx, r.client.Stmts.ListRecords, string(f.Collection), bucket).Iter().Scanner()
		for {
			rec, err := scanRecord(scanner)
			if err != nil {
				return nil, 0, err
			}
			if rec == nil {
				break
			}
			if f.Matches(rec) {
				matched = append(matched, rec)
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []*models.Record{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (r *RecordRepository) bucket(id string) int {
	return r.client.Buckets.For(id)
}

// scanRecord reads the next row. It returns nil, nil when the scanner is
// exhausted.
func scanRecord(s gocql.Scanner) (*models.Record, error) {
	if !s.Next() {
		if err := s.Err(); err != nil && !errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("failed to read records: %w", err)
		}
		return nil, nil
	}

	var (
		rec        models.Record
		collection string
		fields     string
	)
	if err := s.Scan(&collection, &rec.ID, &fields, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.Collection = models.Collection(collection)
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return &rec, nil
}
