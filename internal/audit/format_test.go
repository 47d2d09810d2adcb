package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2025, 3, 10, 8, 30, 15, 123_000_000, time.UTC)

func TestFormatLine_FieldOrder(t *testing.T) {
	e := Event{
		Timestamp:     ts,
		Level:         LevelWarn,
		Category:      CategoryAPI,
		Message:       "GET /api/courses - 404",
		DurationMs:    12,
		StatusCode:    404,
		ActorID:       "u1",
		ActorEmail:    "ana@school.test",
		ActorRole:     "teacher",
		ClientAddress: "1.2.3.4",
		Method:        "GET",
		Endpoint:      "/api/courses",
		SessionID:     "s1",
		Metadata:      map[string]any{"k": "v"},
		UserAgent:     "curl/8.0",
	}

	want := `2025-03-10T08:30:15.123Z [WARN] [API] GET /api/courses - 404 [12ms] [404]` +
		` [User:u1] [Email:ana@school.test] [Role:teacher] [IP:1.2.3.4]` +
		` [Endpoint:GET /api/courses] [Session:s1] {"k":"v"} [UA:curl/8.0]`
	assert.Equal(t, want, FormatLine(e))
}

func TestFormatLine_OmitsEmptyAndTruncatesAgent(t *testing.T) {
	e := Event{
		Timestamp: ts.In(time.FixedZone("COT", -5*3600)),
		Level:     LevelInfo,
		Category:  CategorySystem,
		Message:   "started\nagain",
		UserAgent: strings.Repeat("a", 150),
	}

	line := FormatLine(e)
	assert.True(t, strings.HasPrefix(line, "2025-03-10T08:30:15.123Z [INFO] [SYSTEM] started again [UA:"))
	assert.Contains(t, line, "[UA:"+strings.Repeat("a", 100)+"]")
	assert.NotContains(t, line, "[IP:")
	assert.NotContains(t, line, "{")
}

func TestParseLine_RoundTripsFields(t *testing.T) {
	e := Event{
		Timestamp:     ts,
		Level:         LevelSecurity,
		Category:      CategorySecurity,
		Message:       "Security event: Rate limit exceeded [MEDIUM]",
		StatusCode:    429,
		ClientAddress: "1.2.3.4",
		Method:        "POST",
		Endpoint:      "/api/auth/login",
		Metadata:      map[string]any{"scope": "sensitive"},
		UserAgent:     "Mozilla/5.0 [test]",
	}

	got, err := ParseLine(FormatLine(e))
	require.NoError(t, err)
	assert.Equal(t, e.Timestamp, got.Timestamp)
	assert.Equal(t, e.Level, got.Level)
	assert.Equal(t, e.Category, got.Category)
	assert.Equal(t, e.Message, got.Message)
	assert.Equal(t, 429, got.StatusCode)
	assert.Equal(t, "1.2.3.4", got.ClientAddress)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/api/auth/login", got.Endpoint)
	assert.Equal(t, "sensitive", got.Metadata["scope"])
	assert.Equal(t, "Mozilla/5.0 [test]", got.UserAgent)
}

func TestParseLine_MessageOnly(t *testing.T) {
	got, err := ParseLine("2025-03-10T08:30:15.123Z [INFO] [SYSTEM] audit started")
	require.NoError(t, err)
	assert.Equal(t, "audit started", got.Message)
	assert.Zero(t, got.StatusCode)
}

func TestParseLine_Malformed(t *testing.T) {
	_, err := ParseLine("not a log line")
	assert.ErrorIs(t, err, ErrMalformedLine)
}

func TestLevelRank(t *testing.T) {
	order := []Level{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelSecurity, LevelAudit}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank())
	}
	assert.True(t, LevelAudit.AtLeast(LevelWarn))
	assert.False(t, LevelDebug.AtLeast(LevelInfo))

	l, err := ParseLevel(" security ")
	require.NoError(t, err)
	assert.Equal(t, LevelSecurity, l)
	_, err = ParseLevel("loud")
	assert.ErrorIs(t, err, ErrUnknownLevel)

	c, err := ParseCategory("api")
	require.NoError(t, err)
	assert.Equal(t, CategoryAPI, c)
	_, err = ParseCategory("billing")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
