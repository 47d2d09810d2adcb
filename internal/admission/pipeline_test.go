package admission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"school-service/internal/audit"
	"school-service/internal/config"
	"school-service/internal/inspect"
	"school-service/internal/ratelimit"
)

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Record(e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func (s *captureSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	pipeline *Pipeline
	limiter  *ratelimit.Limiter
	sink     *captureSink
	now      time.Time
}

func newFixture(t *testing.T, opts Options, rules map[ratelimit.Scope]ratelimit.Rule) *fixture {
	t.Helper()
	if rules == nil {
		rules = ratelimit.DefaultRules()
	}
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(4), rules)
	require.NoError(t, err)

	f := &fixture{limiter: limiter, sink: &captureSink{}, now: testNow}
	f.pipeline = New(inspect.Default(), limiter, f.sink, opts,
		WithClock(func() time.Time { return f.now }),
		WithLogger(zap.NewNop()))
	return f
}

func defaultOptions() Options {
	return Options{
		SensitivePrefixes: []string{"/api/auth/login", "/api/admin"},
		MaxInspectBytes:   1 << 20,
	}
}

func newRequest(method, target, remote string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	r.RemoteAddr = remote
	return r
}

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestMiddleware_RateLimitScenario(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	h := f.pipeline.Middleware(okHandler(http.StatusOK))

	for i := 1; i <= 100; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newRequest(http.MethodGet, "/api/courses", "1.2.3.4:40000", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, strconv.Itoa(100-i), rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
		assert.Empty(t, rec.Header().Get("Retry-After"))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/api/courses", "1.2.3.4:40000", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(testNow.Add(15*time.Minute).Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))
	assert.Contains(t, rec.Body.String(), `"error":"rate_limited"`)

	events := f.sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, audit.LevelWarn, last.Level)
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, "general", last.Metadata["scope"])
	assert.Equal(t, "1.2.3.4", last.ClientAddress)

	// a different client is unaffected
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/api/courses", "5.6.7.8:40000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_PathTraversalScenario(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	called := false
	h := f.pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/api/anything?path=../../etc/passwd", "1.2.3.4:1", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"error":"suspicious_url"`)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.LevelSecurity, events[0].Level)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, "path_traversal", events[0].Metadata["threat"])
	assert.Equal(t, http.StatusForbidden, events[0].StatusCode)

	// the pattern stage runs before the limiter and consumes nothing
	_, found, err := f.limiter.Peek(context.Background(), "1.2.3.4", ratelimit.ScopeGeneral, f.now)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMiddleware_PayloadScenario(t *testing.T) {
	body := `{"name": "Robert'); DROP TABLE Students;--"}`

	t.Run("detect and admit", func(t *testing.T) {
		f := newFixture(t, defaultOptions(), nil)
		var seen []byte
		h := f.pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
		}))

		r := newRequest(http.MethodPost, "/api/students", "1.2.3.4:1", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, body, string(seen))

		events := f.sink.Events()
		require.Len(t, events, 2)
		assert.Equal(t, audit.LevelSecurity, events[0].Level)
		assert.Equal(t, "name", events[0].Metadata["suspiciousField"])
		assert.Equal(t, "critical", events[0].Metadata["severity"])
		assert.Equal(t, false, events[0].Metadata["blocked"])
		assert.Equal(t, audit.CategoryAPI, events[1].Category)
		assert.Equal(t, http.StatusCreated, events[1].StatusCode)
	})

	t.Run("block", func(t *testing.T) {
		opts := defaultOptions()
		opts.BlockOnPayloadMatch = true
		f := newFixture(t, opts, nil)
		h := f.pipeline.Middleware(okHandler(http.StatusCreated))

		r := newRequest(http.MethodPost, "/api/students", "1.2.3.4:1", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), `"error":"suspicious_payload"`)
		assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))

		events := f.sink.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "name", events[0].Metadata["suspiciousField"])
		assert.Equal(t, true, events[0].Metadata["blocked"])
	})
}

func TestEvaluate_MalformedJSONContinues(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	r := newRequest(http.MethodPost, "/api/courses", "1.2.3.4:1", strings.NewReader(`{"title": "Algebra"`))
	r.Header.Set("Content-Type", "application/json")

	d := f.pipeline.Evaluate(r)

	assert.True(t, d.Admitted())
	require.Len(t, f.sink.Events(), 1)
	e := f.sink.Events()[0]
	assert.Equal(t, audit.LevelWarn, e.Level)
	assert.Contains(t, e.Metadata["payload_error"], "malformed JSON")

	rest, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"title": "Algebra"`, string(rest))
}

func TestEvaluate_ExactlyOneEventPerDecision(t *testing.T) {
	f := newFixture(t, defaultOptions(), map[ratelimit.Scope]ratelimit.Rule{
		ratelimit.ScopeGeneral:   {MaxRequests: 2, Window: time.Minute},
		ratelimit.ScopeSensitive: {MaxRequests: 1, Window: time.Minute},
	})

	reqs := []*http.Request{
		newRequest(http.MethodGet, "/api/courses", "10.0.0.1:1", nil),
		newRequest(http.MethodGet, "/api/courses?q=%3Cscript%3Ealert(1)%3C%2Fscript%3E", "10.0.0.1:1", nil),
		newRequest(http.MethodGet, "/api/courses", "10.0.0.1:1", nil),
		newRequest(http.MethodGet, "/api/courses", "10.0.0.1:1", nil),
	}
	wantStates := []State{StateAdmitted, StateRejected, StateAdmitted, StateRejected}

	for i, r := range reqs {
		f.sink.Reset()
		d := f.pipeline.Evaluate(r)
		assert.Equal(t, wantStates[i], d.State, "request %d", i)
		assert.Len(t, f.sink.Events(), 1, "request %d", i)
		assert.Equal(t, d.Event, f.sink.Events()[0])
	}
}

func TestEvaluate_SensitivePathConsumesBothScopes(t *testing.T) {
	f := newFixture(t, defaultOptions(), map[ratelimit.Scope]ratelimit.Rule{
		ratelimit.ScopeGeneral:   {MaxRequests: 100, Window: 15 * time.Minute},
		ratelimit.ScopeSensitive: {MaxRequests: 2, Window: 15 * time.Minute},
	})

	for i := 0; i < 2; i++ {
		d := f.pipeline.Evaluate(newRequest(http.MethodGet, "/api/admin/stats", "1.2.3.4:1", nil))
		require.True(t, d.Admitted())
		assert.Equal(t, 2, d.Rate.Limit)
	}
	d := f.pipeline.Evaluate(newRequest(http.MethodGet, "/api/admin/stats", "1.2.3.4:1", nil))
	assert.Equal(t, StateRejected, d.State)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, "sensitive", d.Event.Metadata["scope"])

	w, found, err := f.limiter.Peek(context.Background(), "1.2.3.4", ratelimit.ScopeGeneral, f.now)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, w.Count)

	// ordinary paths only see the general scope
	d = f.pipeline.Evaluate(newRequest(http.MethodGet, "/api/courses", "1.2.3.4:1", nil))
	assert.True(t, d.Admitted())
	assert.Equal(t, 100, d.Rate.Limit)
}

func TestEvaluate_AbandonedClient(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRequest(http.MethodGet, "/api/courses", "1.2.3.4:1", nil).WithContext(ctx)
	d := f.pipeline.Evaluate(r)

	assert.Equal(t, StateAbandoned, d.State)
	assert.Equal(t, ReasonClientAbandoned, d.Reason)
	assert.Empty(t, f.sink.Events())

	_, found, err := f.limiter.Peek(context.Background(), "1.2.3.4", ratelimit.ScopeGeneral, f.now)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEvaluate_MultipartFields(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Homework 3"))
	require.NoError(t, mw.WriteField("notes", "1' OR '1'='1"))
	fw, err := mw.CreateFormFile("file", "essay.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.4 select * from anything"))
	require.NoError(t, mw.Close())

	r := newRequest(http.MethodPost, "/api/files", "1.2.3.4:1", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())

	d := f.pipeline.Evaluate(r)
	assert.True(t, d.Admitted())
	assert.Equal(t, "notes", d.Field)
	assert.Equal(t, inspect.CategorySQLInjection, d.Match.Signature.Category)
}

func TestEvaluate_TruncatedBodyIsRestored(t *testing.T) {
	opts := defaultOptions()
	opts.MaxInspectBytes = 16
	f := newFixture(t, opts, nil)

	body := `{"description": "` + strings.Repeat("a", 64) + `"}`
	r := newRequest(http.MethodPut, "/api/courses/1", "1.2.3.4:1", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	d := f.pipeline.Evaluate(r)
	require.True(t, d.Admitted())
	assert.Equal(t, true, d.Event.Metadata["payload_truncated"])

	got, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestEvaluate_BodyReadErrorKeepsConsumedBytes(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)

	sent := `{"name": "Alg`
	reset := errors.New("connection reset by peer")
	r := newRequest(http.MethodPost, "/api/courses", "1.2.3.4:1",
		io.MultiReader(strings.NewReader(sent), iotest.ErrReader(reset)))
	r.Header.Set("Content-Type", "application/json")

	d := f.pipeline.Evaluate(r)
	require.True(t, d.Admitted())
	assert.Equal(t, audit.LevelWarn, d.Event.Level)
	assert.Contains(t, d.Event.Metadata["payload_error"], "connection reset")

	got, err := io.ReadAll(r.Body)
	assert.ErrorIs(t, err, reset)
	assert.Equal(t, sent, string(got))
}

func TestEvaluate_AdmittedEventPassesProductionThreshold(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUDIT_MIN_LEVEL", "")
	threshold, err := audit.ParseLevel(config.LoadConfig().Logging.AuditMinLevel)
	require.NoError(t, err)

	f := newFixture(t, defaultOptions(), nil)
	d := f.pipeline.Evaluate(newRequest(http.MethodGet, "/api/courses", "1.2.3.4:1", nil))
	require.True(t, d.Admitted())
	assert.Equal(t, audit.LevelInfo, d.Event.Level)
	assert.True(t, d.Event.Level.AtLeast(threshold), "admitted event filtered at %s", threshold)
}

func TestEvaluate_SuspiciousUserAgentOutsideAPI(t *testing.T) {
	f := newFixture(t, defaultOptions(), nil)

	r := newRequest(http.MethodGet, "/health", "1.2.3.4:1", nil)
	r.Header.Set("User-Agent", "sqlmap/1.7")
	d := f.pipeline.Evaluate(r)
	assert.True(t, d.Admitted())
	assert.Equal(t, audit.LevelWarn, d.Event.Level)
	assert.Equal(t, true, d.Event.Metadata["suspicious_user_agent"])

	r = newRequest(http.MethodGet, "/api/courses", "1.2.3.4:1", nil)
	r.Header.Set("User-Agent", "sqlmap/1.7")
	d = f.pipeline.Evaluate(r)
	assert.Equal(t, audit.LevelInfo, d.Event.Level)
	assert.Nil(t, d.Event.Metadata)
}

func TestMiddleware_SecurityHeaders(t *testing.T) {
	dev := newFixture(t, defaultOptions(), nil)
	rec := httptest.NewRecorder()
	dev.pipeline.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, newRequest(http.MethodGet, "/api/courses", "1.2.3.4:1", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("X-Frame-Options"))

	opts := defaultOptions()
	opts.Production = true
	opts.TLS = true
	prod := newFixture(t, opts, nil)
	rec = httptest.NewRecorder()
	prod.pipeline.Middleware(okHandler(http.StatusOK)).ServeHTTP(rec, newRequest(http.MethodGet, "/api/x?f=../x", "1.2.3.4:1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'self'")
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
