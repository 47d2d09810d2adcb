package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"school-service/internal/audit"
	"school-service/internal/models"
	"school-service/internal/repository"
	"school-service/internal/util"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	maxFields       = 64
	maxStringLen    = 4096
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// requiredFields lists the fields each collection must carry on create.
var requiredFields = map[models.Collection][]string{
	models.CollectionCourses:    {"name", "code", "teacherId"},
	models.CollectionStudents:   {"name", "email", "identification"},
	models.CollectionGrades:     {"studentId", "courseId", "score", "maxScore", "gradingPeriod"},
	models.CollectionTasks:      {"title", "courseId", "teacherId"},
	models.CollectionAttendance: {"studentId", "courseId", "status"},
}

// Grades are on a 1 to 5 scale.
const (
	minGradeScore = 1
	maxGradeScore = 5
)

// Actor is the authenticated or claimed caller of a record operation.
type Actor struct {
	ID   string
	Role string
	Client
}

type ListResult struct {
	Records []*models.Record `json:"records"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// RecordService validates and stores documents of every collection.
type RecordService struct {
	repo   repository.RecordRepository
	sink   audit.Sink
	now    func() time.Time
	logger *zap.Logger
}

func NewRecordService(repo repository.RecordRepository, sink audit.Sink, now func() time.Time, logger *zap.Logger) *RecordService {
	if now == nil {
		now = time.Now
	}
	return &RecordService{repo: repo, sink: sink, now: now, logger: logger}
}

// List returns one page of active records matching equals. limit is clamped to
// MaxPageSize and defaults to DefaultPageSize.
func (s *RecordService) List(ctx context.Context, collection models.Collection, equals map[string]string, limit, offset int) (*ListResult, error) {
	if !models.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	for k := range equals {
		if !fieldNamePattern.MatchString(k) {
			return nil, ValidationErrors{{Field: k, Message: "is not a valid field name"}}
		}
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.repo.Query(ctx, models.RecordFilter{
		Collection: collection,
		Equals:     equals,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	return &ListResult{Records: records, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *RecordService) Get(ctx context.Context, collection models.Collection, id string) (*models.Record, error) {
	if !models.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	rec, err := s.repo.Get(ctx, collection, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !rec.IsActive) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

// Create validates fields against the collection rules and stores a new
// active record.
func (s *RecordService) Create(ctx context.Context, collection models.Collection, fields map[string]any, actor Actor) (*models.Record, error) {
	if !models.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	clean, err := normalizeFields(collection, fields)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &models.Record{
		ID:         uuid.NewString(),
		Collection: collection,
		Fields:     clean,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", collection, err)
	}

	s.audit(actor, now, "CREATE", rec)
	return rec, nil
}

// Update merges fields into the stored record and validates the result as a
// whole. A null value removes the field.
func (s *RecordService) Update(ctx context.Context, collection models.Collection, id string, fields map[string]any, actor Actor) (*models.Record, error) {
	rec, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(rec.Fields)+len(fields))
	for k, v := range rec.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	clean, err := normalizeFields(collection, merged)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec.Fields = clean
	rec.UpdatedAt = now
	if err := s.repo.Update(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		return nil, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	s.audit(actor, now, "UPDATE", rec)
	return rec, nil
}

// Delete deactivates the record.
func (s *RecordService) Delete(ctx context.Context, collection models.Collection, id string, actor Actor) error {
	rec, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, collection, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}

	s.audit(actor, s.now().UTC(), "DELETE", rec)
	return nil
}

func (s *RecordService) audit(actor Actor, now time.Time, verb string, rec *models.Record) {
	action := verb + "_" + strings.ToUpper(string(rec.Collection))
	ev := audit.UserAction(action, actor.ID, "", actor.Role, actor.Address, map[string]any{
		"collection": string(rec.Collection),
		"recordId":   rec.ID,
	})
	ev.Timestamp = now
	ev.UserAgent = actor.UserAgent
	ev.RequestID = actor.RequestID
	s.sink.Record(ev)

	s.logger.Debug("Record changed",
		util.String("action", action),
		util.String("record_id", rec.ID))
}

// normalizeFields drops server-owned keys, sanitises strings and applies the
// collection rules. The input map is not modified.
func normalizeFields(collection models.Collection, fields map[string]any) (map[string]any, error) {
	if len(fields) > maxFields {
		return nil, ValidationErrors{{Field: "fields", Message: fmt.Sprintf("at most %d fields are allowed", maxFields)}}
	}

	var errs ValidationErrors
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "id", "collection", "isActive", "createdAt", "updatedAt":
			continue
		}
		if !fieldNamePattern.MatchString(k) {
			errs = append(errs, ValidationError{Field: k, Message: "is not a valid field name"})
			continue
		}
		if str, ok := v.(string); ok {
			v = util.SanitizeInput(util.Truncate(str, maxStringLen))
		}
		clean[k] = v
	}

	for _, name := range requiredFields[collection] {
		if isBlank(clean[name]) {
			errs = append(errs, ValidationError{Field: name, Message: "is required"})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	switch collection {
	case models.CollectionGrades:
		if err := gradeRules(clean); err != nil {
			return nil, err
		}
	case models.CollectionStudents:
		email := strings.ToLower(fmt.Sprint(clean["email"]))
		if !ValidateEmail(email) {
			return nil, ValidationErrors{{Field: "email", Message: "must be a valid email address"}}
		}
		clean["email"] = email
	}
	return clean, nil
}

// gradeRules checks the 1 to 5 score scale and derives percentage.
func gradeRules(fields map[string]any) error {
	score, ok := number(fields["score"])
	if !ok || score < minGradeScore || score > maxGradeScore {
		return ValidationErrors{{Field: "score", Message: fmt.Sprintf("must be a number from %d to %d", minGradeScore, maxGradeScore)}}
	}
	maxScore, ok := number(fields["maxScore"])
	if !ok || maxScore != maxGradeScore {
		return ValidationErrors{{Field: "maxScore", Message: fmt.Sprintf("must be %d", maxGradeScore)}}
	}
	fields["score"] = score
	fields["maxScore"] = maxScore
	fields["percentage"] = math.Round(score/maxScore*10000) / 100
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
