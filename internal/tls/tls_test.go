package tls

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-service/internal/config"
)

func TestDevCertGenerator_ReusesValidCert(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)
	hosts := []string{"localhost", "127.0.0.1"}

	first, err := gen.GenerateCert(hosts)
	require.NoError(t, err)
	second, err := gen.GenerateCert(hosts)
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])

	third, err := gen.GenerateCert([]string{"school.example"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], third.Certificate[0])
}

func TestManager_ProductionRequiresCertificate(t *testing.T) {
	cfg := &config.Config{Environment: "production", Server: config.ServerConfig{AutoCertDir: t.TempDir()}}
	m, err := NewManager(cfg)
	require.NoError(t, err)

	_, err = m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestManager_DevelopmentFallsBackToSelfSigned(t *testing.T) {
	cfg := &config.Config{Environment: "development", Server: config.ServerConfig{AutoCertDir: t.TempDir()}}
	m, err := NewManager(cfg)
	require.NoError(t, err)

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	again, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, cert, again)
	assert.Equal(t, uint16(tls.VersionTLS12), m.TLSConfig().MinVersion)
}

func TestNewManager_AutoCertNeedsDomain(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{AutoCert: true, AutoCertDir: t.TempDir()}}
	_, err := NewManager(cfg)
	assert.Error(t, err)
}
