package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxFileSize = 10 * 1024 * 1024
	defaultMaxFiles    = 10
	dateLayout         = "2006-01-02"
)

type FileWriterOptions struct {
	Dir         string
	MaxFileSize int64
	// MaxFiles is how many .log files survive a rotation, newest first.
	MaxFiles int
	Clock    func() time.Time
	// Logger receives rotation warnings.
	Logger *zap.Logger
}

// FileWriter appends formatted lines to per-category daily files named
// <category>-YYYY-MM-DD.log. A file larger than MaxFileSize is renamed with a
// timestamp suffix before the next append, after which only the MaxFiles
// newest logs are kept.
type FileWriter struct {
	opts FileWriterOptions

	mu      sync.Mutex
	handles map[Category]*openFile
	remove  func(name string) error
}

type openFile struct {
	path string
	f    *os.File
	size int64
}

func NewFileWriter(opts FileWriterOptions) (*FileWriter, error) {
	if opts.Dir == "" {
		opts.Dir = "./logs"
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultMaxFiles
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	return &FileWriter{opts: opts, handles: make(map[Category]*openFile), remove: os.Remove}, nil
}

func (w *FileWriter) Name() string { return "file" }

func (w *FileWriter) Dir() string { return w.opts.Dir }

func (w *FileWriter) Write(_ context.Context, e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.opts.Dir, FileName(e.Category, e.Timestamp))

	h := w.handles[e.Category]
	if h != nil && h.path != path {
		_ = h.f.Close()
		h = nil
		delete(w.handles, e.Category)
	}
	if h != nil && h.size > w.opts.MaxFileSize {
		// the handle is closed by rotate whatever the outcome
		delete(w.handles, e.Category)
		if err := w.rotate(h); err != nil {
			return err
		}
		h = nil
	}
	if h == nil {
		opened, err := openAppend(path)
		if err != nil {
			return err
		}
		if opened.size > w.opts.MaxFileSize {
			if err := w.rotate(opened); err != nil {
				return err
			}
			if opened, err = openAppend(path); err != nil {
				return err
			}
		}
		h = opened
		w.handles[e.Category] = h
	}

	n, err := h.f.WriteString(FormatLine(e) + "\n")
	h.size += int64(n)
	if err != nil {
		return fmt.Errorf("append audit line: %w", err)
	}
	return nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for c, h := range w.handles {
		if err := h.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.handles, c)
	}
	return firstErr
}

// Recent returns up to limit events of category between from and to, oldest
// first, reading the daily files (rotated parts included) that cover the range.
func (w *FileWriter) Recent(category Category, limit int, from, to time.Time) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if to.IsZero() {
		to = w.opts.Clock()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	w.mu.Lock()
	for _, h := range w.handles {
		_ = h.f.Sync()
	}
	w.mu.Unlock()

	var events []Event
	day := time.Date(from.UTC().Year(), from.UTC().Month(), from.UTC().Day(), 0, 0, 0, 0, time.UTC)
	for !day.After(to.UTC()) {
		paths, err := w.dayFiles(category, day)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			got, err := readEvents(p, from, to)
			if err != nil {
				return nil, err
			}
			events = append(events, got...)
		}
		day = day.AddDate(0, 0, 1)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// RemoveOlderThan deletes .log files last modified before cutoff and returns
// how many were removed.
func (w *FileWriter) RemoveOlderThan(cutoff time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := logFiles(w.opts.Dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if !f.modTime.Before(cutoff) || w.isOpen(f.path) {
			continue
		}
		if err := w.remove(f.path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", f.path, err)
		}
		removed++
	}
	return removed, nil
}

// FileName is the daily log name for category on the UTC date of t.
func FileName(category Category, t time.Time) string {
	return strings.ToLower(string(category)) + "-" + t.UTC().Format(dateLayout) + ".log"
}

func (w *FileWriter) rotate(h *openFile) error {
	_ = h.f.Close()

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(w.opts.Clock().UTC().Format(TimeLayout))
	rotated := strings.TrimSuffix(h.path, ".log") + "-" + stamp + ".log"
	if err := os.Rename(h.path, rotated); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	// a failed prune leaves extra files behind but must not stop writes
	if err := w.pruneOldFiles(); err != nil {
		w.opts.Logger.Warn("Failed to prune audit logs", zap.String("dir", w.opts.Dir), zap.Error(err))
	}
	return nil
}

// pruneOldFiles keeps the MaxFiles most recently modified logs.
func (w *FileWriter) pruneOldFiles() error {
	files, err := logFiles(w.opts.Dir)
	if err != nil {
		return err
	}
	if len(files) <= w.opts.MaxFiles {
		return nil
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	for _, f := range files[w.opts.MaxFiles:] {
		if w.isOpen(f.path) {
			continue
		}
		if err := w.remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old audit log: %w", err)
		}
	}
	return nil
}

func (w *FileWriter) isOpen(path string) bool {
	for _, h := range w.handles {
		if h.path == path {
			return true
		}
	}
	return false
}

func (w *FileWriter) dayFiles(category Category, day time.Time) ([]string, error) {
	base := strings.TrimSuffix(FileName(category, day), ".log")
	rotated, err := filepath.Glob(filepath.Join(w.opts.Dir, base+"-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(rotated)

	current := filepath.Join(w.opts.Dir, base+".log")
	if _, err := os.Stat(current); err == nil {
		rotated = append(rotated, current)
	}
	return rotated, nil
}

type logFile struct {
	path    string
	modTime time.Time
}

func logFiles(dir string) ([]logFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read audit log dir: %w", err)
	}
	var out []logFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, logFile{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	return out, nil
}

func openAppend(path string) (*openFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	return &openFile{path: path, f: f, size: info.Size()}, nil
}

func readEvents(path string, from, to time.Time) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		e, err := ParseLine(scanner.Text())
		if err != nil {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}
