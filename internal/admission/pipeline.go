// Package admission decides, per inbound request, whether it reaches a
// handler: URL pattern inspection, then fixed-window rate limits, then payload
// inspection. Each decision is handed to an audit sink.
package admission

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"school-service/internal/audit"
	"school-service/internal/config"
	"school-service/internal/inspect"
	"school-service/internal/metrics"
	"school-service/internal/ratelimit"
	"school-service/internal/util"
)

// Options controls the pipeline stages.
type Options struct {
	// SensitivePrefixes are path prefixes that also consume the sensitive
	// rate limit scope.
	SensitivePrefixes   []string
	BlockOnPayloadMatch bool
	MaxInspectBytes     int64
	TrustProxyHeaders   bool
	Production          bool
	TLS                 bool
}

// OptionsFromConfig maps the security section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SensitivePrefixes:   cfg.Security.SensitivePrefixes,
		BlockOnPayloadMatch: cfg.Security.BlockOnPayloadMatch,
		MaxInspectBytes:     cfg.Security.MaxInspectBytes,
		TrustProxyHeaders:   cfg.Security.TrustProxyHeaders,
		Production:          cfg.IsProduction(),
		TLS:                 cfg.Server.EnableTLS,
	}
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now for window and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger used for limiter store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Decision is the outcome of one evaluation.
type Decision struct {
	State     State
	Reason    Reason
	Status    int
	ClientKey string
	// Rate is the most specific limiter decision consulted. Its Limit is
	// zero when the rate stage did not run.
	Rate  ratelimit.Decision
	Match inspect.MatchResult
	// Field is the offending payload field, if any.
	Field string
	// Event is the audit event recorded for the decision. It is the zero
	// value for an abandoned evaluation.
	Event audit.Event
}

// Admitted reports whether the request may reach the handler.
func (d Decision) Admitted() bool { return d.State == StateAdmitted }

// Pipeline runs every inbound request through pattern, rate and payload
// checks before it reaches a handler. It is safe for concurrent use.
type Pipeline struct {
	inspector *inspect.Inspector
	limiter   *ratelimit.Limiter
	sink      audit.Sink
	opts      Options
	now       func() time.Time
	logger    *zap.Logger
}

func New(inspector *inspect.Inspector, limiter *ratelimit.Limiter, sink audit.Sink, opts Options, options ...Option) *Pipeline {
	if sink == nil {
		sink = audit.Discard
	}
	if opts.MaxInspectBytes <= 0 {
		opts.MaxInspectBytes = 1 << 20
	}
	p := &Pipeline{
		inspector: inspector,
		limiter:   limiter,
		sink:      sink,
		opts:      opts,
		now:       time.Now,
		logger:    util.Get(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// IsSensitive reports whether path falls under a sensitive prefix.
func (p *Pipeline) IsSensitive(path string) bool {
	for _, prefix := range p.opts.SensitivePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Evaluate walks the admission state machine for r. It records exactly one
// audit event for an ADMITTED or REJECTED outcome and none when the client
// abandons the request. For methods with a body, r.Body is replaced with an
// equivalent reader.
func (p *Pipeline) Evaluate(r *http.Request) Decision {
	started := time.Now()
	ev := &evaluation{
		p:   p,
		r:   r,
		ctx: r.Context(),
		now: p.now(),
		d: Decision{
			State:     StateReceived,
			ClientKey: ClientIP(r, p.opts.TrustProxyHeaders),
		},
	}
	ev.run()

	outcome := strings.ToLower(string(ev.d.State))
	metrics.AdmissionDecisionsTotal.WithLabelValues(outcome, string(ev.d.Reason)).Inc()
	metrics.AdmissionDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	return ev.d
}

// evaluation is the mutable state of one Evaluate call.
type evaluation struct {
	p   *Pipeline
	r   *http.Request
	ctx context.Context
	now time.Time
	d   Decision

	// collected for the event of an admitted request
	metadata map[string]any
	level    audit.Level
	message  string
	category audit.Category
}

func (ev *evaluation) run() {
	stages := []func() bool{ev.checkPattern, ev.checkRate, ev.checkPayload}
	for _, stage := range stages {
		if ev.abandoned() {
			return
		}
		if !stage() {
			return
		}
	}
	if ev.abandoned() {
		return
	}
	ev.admit()
}

// abandoned moves the evaluation to ABANDONED when the request context is done.
func (ev *evaluation) abandoned() bool {
	if ev.ctx.Err() == nil {
		return false
	}
	ev.d.State = StateAbandoned
	ev.d.Reason = ReasonClientAbandoned
	return true
}

func (ev *evaluation) checkPattern() bool {
	m := ev.p.inspector.InspectURL(ev.r.URL.Path, ev.r.URL.RawQuery)
	if m.Suspicious {
		ev.d.Match = m
		e := audit.SecurityEvent(string(ReasonSuspiciousURL), audit.SeverityHigh, ev.d.ClientKey, map[string]any{
			"threat":    string(m.Signature.Category),
			"signature": m.Signature.Name,
			"url":       ev.r.URL.RequestURI(),
		})
		ev.reject(ReasonSuspiciousURL, http.StatusForbidden, e)
		return false
	}

	ev.level = audit.LevelInfo
	if !strings.HasPrefix(ev.r.URL.Path, "/api/") && ev.p.inspector.InspectUserAgent(ev.r.UserAgent()) {
		ev.raise(audit.LevelWarn, "suspicious_user_agent", true)
	}
	ev.d.State = StatePatternChecked
	return true
}

func (ev *evaluation) checkRate() bool {
	scopes := []ratelimit.Scope{ratelimit.ScopeGeneral}
	if ev.p.IsSensitive(ev.r.URL.Path) {
		scopes = append(scopes, ratelimit.ScopeSensitive)
	}

	for _, scope := range scopes {
		if ev.abandoned() {
			return false
		}
		rd, err := ev.p.limiter.CheckAndConsume(ev.ctx, ev.d.ClientKey, scope, ev.now)
		if err != nil {
			// shared state unavailable: admit rather than fail every request
			ev.p.logger.Warn("Rate limit check failed",
				zap.String("scope", string(scope)),
				zap.String("client", ev.d.ClientKey),
				zap.Error(err))
			ev.raise(audit.LevelWarn, "rate_limit_error", err.Error())
			continue
		}
		ev.d.Rate = rd
		if !rd.Allowed {
			e := audit.Event{
				Level:    audit.LevelWarn,
				Category: audit.CategorySecurity,
				Message:  fmt.Sprintf("Rate limit exceeded for %s", ev.d.ClientKey),
				Metadata: map[string]any{
					"reason":     string(ReasonRateLimited),
					"scope":      string(scope),
					"limit":      rd.Limit,
					"retryAfter": rd.RetryAfterSeconds(),
				},
			}
			ev.reject(ReasonRateLimited, http.StatusTooManyRequests, e)
			return false
		}
	}

	ev.d.State = StateRateChecked
	return true
}

func (ev *evaluation) checkPayload() bool {
	if !hasBody(ev.r.Method) {
		ev.d.State = StatePayloadChecked
		return true
	}

	pl, err := readPayload(ev.r, ev.p.opts.MaxInspectBytes)
	if err != nil {
		if ev.abandoned() {
			return false
		}
		ev.raise(audit.LevelWarn, "payload_error", err.Error())
	}
	if pl.parseErr != nil {
		ev.raise(audit.LevelWarn, "payload_error", pl.parseErr.Error())
	}
	if pl.truncated {
		ev.raise(audit.LevelInfo, "payload_truncated", true)
	}

	if fm, ok := ev.p.inspector.InspectFields(pl.fields); ok {
		ev.d.Match = fm.MatchResult
		ev.d.Field = fm.Field
		blocked := ev.p.opts.BlockOnPayloadMatch
		metrics.PayloadMatchesTotal.WithLabelValues(string(fm.Signature.Category), fmt.Sprint(blocked)).Inc()

		details := map[string]any{
			"suspiciousField": fm.Field,
			"threat":          string(fm.Signature.Category),
			"signature":       fm.Signature.Name,
			"blocked":         blocked,
		}
		for k, v := range ev.metadata {
			if _, taken := details[k]; !taken {
				details[k] = v
			}
		}
		e := audit.SecurityEvent(string(ReasonSuspiciousPayload), audit.SeverityCritical, ev.d.ClientKey, details)
		if blocked {
			ev.reject(ReasonSuspiciousPayload, http.StatusForbidden, e)
			return false
		}
		// detection without blocking admits with a SECURITY event
		ev.level = audit.LevelSecurity
		ev.metadata = e.Metadata
		ev.message = e.Message
		ev.category = e.Category
	}

	ev.d.State = StatePayloadChecked
	return true
}

func (ev *evaluation) admit() {
	ev.d.State = StateAdmitted
	ev.d.Status = http.StatusOK

	e := audit.Event{
		Level:    ev.level,
		Category: audit.CategoryAccess,
		Message:  fmt.Sprintf("Request admitted: %s %s", ev.r.Method, ev.r.URL.Path),
		Metadata: ev.metadata,
	}
	if ev.message != "" {
		e.Message = ev.message
		e.Category = ev.category
	}
	ev.record(e)
}

func (ev *evaluation) reject(reason Reason, status int, e audit.Event) {
	ev.d.State = StateRejected
	ev.d.Reason = reason
	ev.d.Status = status
	e.StatusCode = status
	ev.record(e)
}

// raise adds a metadata entry and lifts the admitted event's level.
func (ev *evaluation) raise(level audit.Level, key string, value any) {
	if ev.metadata == nil {
		ev.metadata = make(map[string]any)
	}
	ev.metadata[key] = value
	if level.Rank() > ev.level.Rank() {
		ev.level = level
	}
}

func (ev *evaluation) record(e audit.Event) {
	e.Timestamp = ev.now
	e.ClientAddress = ev.d.ClientKey
	e.UserAgent = ev.r.UserAgent()
	e.Endpoint = ev.r.URL.Path
	e.Method = ev.r.Method
	e.RequestID = middleware.GetReqID(ev.ctx)
	ev.d.Event = e
	ev.p.sink.Record(e)
}

// Middleware rejects requests that fail evaluation and forwards the rest.
// After the handler returns it records an API access event carrying the
// response status and duration.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := p.now()
		applySecurityHeaders(w.Header(), p.opts.Production, p.opts.TLS)

		d := p.Evaluate(r)
		switch d.State {
		case StateAbandoned:
			return
		case StateRejected:
			applyRateHeaders(w.Header(), d.Rate)
			resp := util.ErrorResponse(string(d.Reason), d.Reason.Message())
			if d.Reason == ReasonRateLimited {
				resp.Data = map[string]any{"retryAfter": d.Rate.RetryAfterSeconds()}
			}
			util.RespondJSON(w, d.Status, resp)
			return
		}

		applyRateHeaders(w.Header(), d.Rate)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), clientKeyCtx{}, d.ClientKey)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		e := audit.APIAccess(r.Method, r.URL.Path, status, p.now().Sub(start), d.ClientKey, r.UserAgent(), "")
		e.RequestID = middleware.GetReqID(r.Context())
		p.sink.Record(e)
	})
}

type clientKeyCtx struct{}

// ClientKeyFromContext returns the client key the admitting pipeline derived
// for the request, or "" outside the middleware.
func ClientKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(clientKeyCtx{}).(string)
	return key
}
