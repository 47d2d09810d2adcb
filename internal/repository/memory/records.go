package memory

import (
	"context"
	"sort"
	"sync"

	"school-service/internal/models"
	"school-service/internal/repository"
)

type RecordRepository struct {
	mu      sync.RWMutex
	records map[models.Collection]map[string]*models.Record
}

var _ repository.RecordRepository = (*RecordRepository)(nil)

func NewRecordRepository() *RecordRepository {
	return &RecordRepository{records: make(map[models.Collection]map[string]*models.Record)}
}

func (r *RecordRepository) Insert(ctx context.Context, record *models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	coll := r.records[record.Collection]
	if coll == nil {
		coll = make(map[string]*models.Record)
		r.records[record.Collection] = coll
	}
	if _, ok := coll[record.ID]; ok {
		return repository.ErrDuplicate
	}
	coll[record.ID] = clone(record)
	return nil
}

func (r *RecordRepository) Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[collection][id]
	if !ok || !rec.IsActive {
		return nil, repository.ErrNotFound
	}
	return clone(rec), nil
}

func (r *RecordRepository) Update(ctx context.Context, record *models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[record.Collection][record.ID]
	if !ok || !cur.IsActive {
		return repository.ErrNotFound
	}
	r.records[record.Collection][record.ID] = clone(record)
	return nil
}

func (r *RecordRepository) Delete(ctx context.Context, collection models.Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[collection][id]
	if !ok || !rec.IsActive {
		return repository.ErrNotFound
	}
	rec.IsActive = false
	return nil
}

// Query returns matches newest first.
func (r *RecordRepository) Query(ctx context.Context, filter models.RecordFilter) ([]*models.Record, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	var matched []*models.Record
	for _, rec := range r.records[filter.Collection] {
		if filter.Matches(rec) {
			matched = append(matched, clone(rec))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

func page(recs []*models.Record, offset, limit int) []*models.Record {
	if offset >= len(recs) {
		return []*models.Record{}
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

// clone copies the record and its top-level field map.
func clone(rec *models.Record) *models.Record {
	out := *rec
	out.Fields = make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		out.Fields[k] = v
	}
	return &out
}
