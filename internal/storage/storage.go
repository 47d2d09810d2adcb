// Package storage keeps uploaded files on local disk or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"school-service/internal/config"
)

var (
	ErrNotFound            = errors.New("file not found")
	ErrInvalidName         = errors.New("invalid file name")
	ErrTooLarge            = errors.New("file too large")
	ErrExtensionNotAllowed = errors.New("file type not allowed")
)

// FileInfo describes a stored object.
type FileInfo struct {
	Name         string    `json:"name"`
	OriginalName string    `json:"original_name,omitempty"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// FileStore stores objects by flat name.
type FileStore interface {
	Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) (FileInfo, error)
	Get(ctx context.Context, name string) (io.ReadCloser, FileInfo, error)
}

// New returns the store selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (FileStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return NewLocalStore(cfg.Storage.UploadDir)
	case "s3":
		return NewS3Store(ctx, cfg.Storage, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Policy is the upload acceptance rule.
type Policy struct {
	MaxSize           int64
	AllowedExtensions []string
}

func PolicyFromConfig(cfg config.StorageConfig) Policy {
	return Policy{MaxSize: cfg.MaxFileSize, AllowedExtensions: cfg.AllowedExtensions}
}

// Validate checks a client supplied name and size against the policy.
func (p Policy) Validate(name string, size int64) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, p.MaxSize)
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range p.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
}

// ValidateName rejects empty names and anything that could leave the upload
// directory.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// StoredName derives the stored object name: the upload time in unix
// milliseconds, then the original name with unsafe characters replaced.
func StoredName(original string, at time.Time) string {
	return fmt.Sprintf("%d_%s", at.UnixMilli(), unsafeNameChars.ReplaceAllString(original, "_"))
}
