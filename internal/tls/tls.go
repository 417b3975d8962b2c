package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/rigwatch/internal/config"
)

const (
	CertName = "tls.crt"
	KeyName  = "tls.key"
)

var ErrNoCertificate = errors.New("tls enabled but no certificate configured")

// ParseVersion maps "1.2"/"1.3" (with or without a "TLS" prefix) to the
// crypto/tls constant. Empty means TLS 1.3.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "", "default", "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported tls version %q", v)
}

// Setup builds the server TLS config, or returns nil when TLS is disabled.
// Explicit cert/key files win over Dir; with AutoGenerate a missing pair in
// Dir is created as a self-signed localhost certificate.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, err := ParseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" || keyPath == "" {
		if cfg.Dir == "" {
			return nil, ErrNoCertificate
		}
		certPath, keyPath = filepath.Join(cfg.Dir, CertName), filepath.Join(cfg.Dir, KeyName)
		if cfg.AutoGenerate && !exists(certPath, keyPath) {
			if err := GenerateSelfSigned(certPath, keyPath, cfg.Hosts, 0); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}
	// Fail at startup rather than on the first handshake.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			c, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				return nil, err
			}
			return &c, nil
		},
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
