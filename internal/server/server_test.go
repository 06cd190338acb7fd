package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blackjacktable/server/internal/config"
)

func TestSecurityHeadersAddsHSTSOnlyOverTLS(t *testing.T) {
	cfg := &config.Config{}
	rec := httptest.NewRecorder()
	securityHeaders(cfg, rec)
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	cfg.TLSCert, cfg.TLSKey = "cert.pem", "key.pem"
	rec = httptest.NewRecorder()
	securityHeaders(cfg, rec)
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestRealIPPrefersForwardedHeaderOverRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/healthz", nil)
	r.RemoteAddr = "10.0.0.5:54321"

	assert.Equal(t, "10.0.0.5:54321", realIP(r))

	r.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9:54321", realIP(r))

	r.Header.Set("CF-Connecting-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2:54321", realIP(r))
}
