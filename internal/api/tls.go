package api

import (
	"crypto/tls"
	"fmt"
	"os"
)

// TLSConfig holds the certificate and key paths.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// tlsConfig is the package-level TLS configuration, set by InitTLS.
var tlsConfig *TLSConfig

// InitTLS reads PROPMODEL_TLS_CERT and PROPMODEL_TLS_KEY. TLS is enabled
// only when both are set.
func InitTLS() {
	certFile := os.Getenv("PROPMODEL_TLS_CERT")
	keyFile := os.Getenv("PROPMODEL_TLS_KEY")

	tlsConfig = nil
	if certFile != "" && keyFile != "" {
		tlsConfig = &TLSConfig{
			CertFile: certFile,
			KeyFile:  keyFile,
		}
	}
}

// IsTLSEnabled returns true if TLS is configured.
func IsTLSEnabled() bool {
	return tlsConfig != nil && tlsConfig.CertFile != "" && tlsConfig.KeyFile != ""
}

// GetTLSConfig returns the current TLS configuration (may be nil).
func GetTLSConfig() *TLSConfig {
	return tlsConfig
}

// LoadTLSConfig loads the key pair. It returns nil, nil when TLS is not
// configured.
func LoadTLSConfig() (*tls.Config, error) {
	if !IsTLSEnabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// SetTLSConfigForTest allows tests to set TLS config directly.
func SetTLSConfigForTest(cfg *TLSConfig) {
	tlsConfig = cfg
}
