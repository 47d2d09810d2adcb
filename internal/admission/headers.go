package admission

import (
	"net/http"
	"strconv"
	"strings"

	"school-service/internal/ratelimit"
)

var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self'",
	"style-src 'self' 'unsafe-inline'",
	"img-src 'self' data: https:",
	"font-src 'self'",
	"connect-src 'self'",
	"frame-ancestors 'none'",
	"base-uri 'self'",
	"form-action 'self'",
}, "; ")

// SecurityHeaders returns the header set for the environment. Development
// gets a minimal set so local tooling can frame the app; production adds
// framing, CSP and permissions policies, and HSTS when served over TLS.
func SecurityHeaders(production, tls bool) map[string]string {
	h := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	if !production {
		return h
	}
	h["X-Frame-Options"] = "DENY"
	h["Content-Security-Policy"] = contentSecurityPolicy
	h["Permissions-Policy"] = "camera=(), microphone=(), geolocation=()"
	if tls {
		h["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}
	return h
}

func applySecurityHeaders(h http.Header, production, tls bool) {
	for k, v := range SecurityHeaders(production, tls) {
		h.Set(k, v)
	}
}

// applyRateHeaders writes the X-RateLimit-* headers for d and Retry-After
// when d is a rejection.
func applyRateHeaders(h http.Header, d ratelimit.Decision) {
	if d.Limit == 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.FormatInt(d.RetryAfterSeconds(), 10))
	}
}
