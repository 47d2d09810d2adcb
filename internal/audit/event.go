package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownLevel    = errors.New("unknown audit level")
	ErrUnknownCategory = errors.New("unknown audit category")
	ErrMalformedLine   = errors.New("malformed audit line")
)

type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelSecurity Level = "SECURITY"
	LevelAudit    Level = "AUDIT"
)

var levelRank = map[Level]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarn:     2,
	LevelError:    3,
	LevelSecurity: 4,
	LevelAudit:    5,
}

// Rank orders levels from DEBUG (0) to AUDIT (5). Unknown levels rank -1.
func (l Level) Rank() int {
	if r, ok := levelRank[l]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether l is at or above min.
func (l Level) AtLeast(min Level) bool {
	return l.Rank() >= min.Rank()
}

func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
	return l, nil
}

type Category string

const (
	CategoryAuth     Category = "AUTH"
	CategoryAccess   Category = "ACCESS"
	CategorySystem   Category = "SYSTEM"
	CategorySecurity Category = "SECURITY"
	CategoryDatabase Category = "DATABASE"
	CategoryAPI      Category = "API"
	CategoryUser     Category = "USER"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryAuth, CategoryAccess, CategorySystem, CategorySecurity,
	CategoryDatabase, CategoryAPI, CategoryUser,
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one immutable audit record. Metadata must not be modified after
// the event has been handed to a Sink.
type Event struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Level         Level          `json:"level"`
	Category      Category       `json:"category"`
	Message       string         `json:"message"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActorEmail    string         `json:"actor_email,omitempty"`
	ActorRole     string         `json:"actor_role,omitempty"`
	ClientAddress string         `json:"client_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	Endpoint      string         `json:"endpoint,omitempty"`
	Method        string         `json:"method,omitempty"`
	StatusCode    int            `json:"status_code,omitempty"`
	DurationMs    int64          `json:"duration_ms,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Sink accepts audit events. Record must not block the caller or report
// storage failures back to it.
type Sink interface {
	Record(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Record(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
