package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trust   bool
		want    string
	}{
		{"remote addr", "203.0.113.9:5555", nil, true, "203.0.113.9"},
		{"first public forwarded", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "192.168.1.4, 198.51.100.7, 203.0.113.1"}, true, "198.51.100.7"},
		{"real ip fallback", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "10.1.1.1", "X-Real-IP": "198.51.100.8"}, true, "198.51.100.8"},
		{"untrusted ignores headers", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "198.51.100.7"}, false, "10.0.0.1"},
		{"ipv6", "[2001:db8::1]:443", nil, false, "2001:db8::1"},
		{"no port", "198.51.100.2", nil, false, "198.51.100.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r, tt.trust))
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	dev := SecurityHeaders(false, true)
	assert.Equal(t, "nosniff", dev["X-Content-Type-Options"])
	assert.NotContains(t, dev, "X-Frame-Options")
	assert.NotContains(t, dev, "Strict-Transport-Security")

	prod := SecurityHeaders(true, false)
	assert.Equal(t, "DENY", prod["X-Frame-Options"])
	assert.NotContains(t, prod, "Strict-Transport-Security")
	assert.Contains(t, SecurityHeaders(true, true), "Strict-Transport-Security")
}
