// Package tls selects the server certificate: ACME through autocert, a key
// pair from disk, or a self-signed development certificate.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"school-service/internal/config"
	"school-service/internal/util"
)

var ErrNoCertificate = errors.New("no TLS certificate available")

// Manager serves certificates for the TLS listener. The file or self-signed
// certificate is loaded once and reused for every handshake.
type Manager struct {
	cfg         config.ServerConfig
	allowDevGen bool
	autoCert    *autocert.Manager

	once   sync.Once
	static *tls.Certificate
	err    error
}

// NewManager returns a manager for cfg. Self-signed certificates are only
// generated outside production.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{cfg: cfg.Server, allowDevGen: !cfg.IsProduction()}
	if cfg.Server.AutoCert {
		if cfg.Server.Domain == "" {
			return nil, errors.New("AUTO_CERT requires DOMAIN")
		}
		if err := os.MkdirAll(cfg.Server.AutoCertDir, 0o700); err != nil {
			return nil, fmt.Errorf("create autocert dir: %w", err)
		}
		m.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.Domain),
			Cache:      autocert.DirCache(cfg.Server.AutoCertDir),
			Email:      cfg.Server.Email,
		}
		util.Info("AutoCert configured",
			zap.String("domain", cfg.Server.Domain),
			zap.String("cache_dir", cfg.Server.AutoCertDir))
	}
	return m, nil
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert failed, falling back", zap.String("server_name", hello.ServerName), zap.Error(err))
	}

	m.once.Do(m.loadStatic)
	return m.static, m.err
}

func (m *Manager) loadStatic() {
	if m.cfg.CertFile != "" && m.cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
		if err == nil {
			m.static = &cert
			return
		}
		if !m.allowDevGen {
			m.err = fmt.Errorf("load key pair: %w", err)
			return
		}
		util.Warn("Could not load TLS key pair, generating a development certificate", zap.Error(err))
	}
	if !m.allowDevGen {
		m.err = ErrNoCertificate
		return
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.cfg.Domain != "" {
		hosts = append([]string{m.cfg.Domain}, hosts...)
	}
	cert, err := NewDevCertGenerator(m.cfg.AutoCertDir).GenerateCert(hosts)
	if err != nil {
		m.err = fmt.Errorf("generate development certificate: %w", err)
		return
	}
	m.static = &cert
}

func (m *Manager) TLSConfig() *tls.Config {
	protos := []string{"h2", "http/1.1"}
	if m.autoCert != nil {
		protos = append(protos, "acme-tls/1")
	}
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     protos,
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// HTTPHandler answers ACME HTTP-01 challenges and hands everything else to
// fallback. Without autocert it returns fallback unchanged.
func (m *Manager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}
