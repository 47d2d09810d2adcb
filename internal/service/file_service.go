package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"school-service/internal/audit"
	"school-service/internal/storage"
	"school-service/internal/util"
)

// UploadRequest carries the metadata fields sent with a multipart upload.
type UploadRequest struct {
	FileName    string `validate:"required"`
	Size        int64
	ContentType string
	UploadedBy  string `json:"uploadedBy" validate:"required,max=64"`
	TaskID      string `json:"taskId" validate:"omitempty,max=64"`
	StudentID   string `json:"studentId" validate:"omitempty,max=64"`
}

// FileService accepts uploads that pass the storage policy and serves them
// back by stored name.
type FileService struct {
	store     storage.FileStore
	policy    storage.Policy
	sink      audit.Sink
	validator *Validator
	now       func() time.Time
	logger    *zap.Logger
}

func NewFileService(store storage.FileStore, policy storage.Policy, sink audit.Sink, v *Validator, now func() time.Time, logger *zap.Logger) *FileService {
	if now == nil {
		now = time.Now
	}
	return &FileService{store: store, policy: policy, sink: sink, validator: v, now: now, logger: logger}
}

func (s *FileService) Upload(ctx context.Context, req *UploadRequest, body io.Reader, client Client) (storage.FileInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return storage.FileInfo{}, err
	}
	if err := s.policy.Validate(req.FileName, req.Size); err != nil {
		return storage.FileInfo{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// the declared size is client controlled, so the body is measured too
	if s.policy.MaxSize > 0 {
		body = io.LimitReader(body, s.policy.MaxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.FileInfo{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := s.policy.Validate(req.FileName, int64(len(data))); err != nil {
		return storage.FileInfo{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now().UTC()
	name := storage.StoredName(req.FileName, now)
	info, err := s.store.Put(ctx, name, bytes.NewReader(data), int64(len(data)), req.ContentType)
	if err != nil {
		return storage.FileInfo{}, fmt.Errorf("failed to store upload: %w", err)
	}
	info.OriginalName = req.FileName

	s.logger.Info("File uploaded",
		util.String("name", name),
		util.Int64("size", info.Size),
		util.String("uploaded_by", req.UploadedBy))

	ev := audit.UserAction("UPLOAD_FILE", req.UploadedBy, "", "", client.Address, map[string]any{
		"fileName":     name,
		"originalName": req.FileName,
		"size":         info.Size,
		"taskId":       req.TaskID,
		"studentId":    req.StudentID,
	})
	ev.Timestamp = now
	ev.UserAgent = client.UserAgent
	ev.RequestID = client.RequestID
	s.sink.Record(ev)

	return info, nil
}

// Open returns the stored file. The caller closes the reader.
func (s *FileService) Open(ctx context.Context, name string) (io.ReadCloser, storage.FileInfo, error) {
	rc, info, err := s.store.Get(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, storage.FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	case errors.Is(err, storage.ErrInvalidName):
		return nil, storage.FileInfo{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case err != nil:
		return nil, storage.FileInfo{}, err
	}
	return rc, info, nil
}
