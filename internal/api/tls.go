package api

import (
	"crypto/tls"
	"log"
	"os"
)

// TLSConfig holds the certificate pair the control plane serves with.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// tlsConfig is the package-level TLS configuration, set by InitTLS.
var tlsConfig *TLSConfig

// InitTLS picks the certificate pair for the API listener. The desk.yaml
// api section supplies the paths; DESK_TLS_CERT and DESK_TLS_KEY
// override them so a deployment can rotate certificates without editing
// the config. Half a pair leaves TLS off.
func InitTLS(certFile, keyFile string) {
	if env := os.Getenv("DESK_TLS_CERT"); env != "" {
		certFile = env
	}
	if env := os.Getenv("DESK_TLS_KEY"); env != "" {
		keyFile = env
	}

	if certFile == "" || keyFile == "" {
		tlsConfig = nil
		return
	}
	tlsConfig = &TLSConfig{
		CertFile: certFile,
		KeyFile:  keyFile,
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

// LoadTLSConfig loads a tls.Config from the cert and key files.
// Returns nil and logs an error if loading fails.
func LoadTLSConfig() *tls.Config {
	if !IsTLSEnabled() {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
	if err != nil {
		log.Printf("Failed to load TLS certificate: %v", err)
		return nil
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// SetTLSConfigForTest allows tests to set TLS config directly.
func SetTLSConfigForTest(cfg *TLSConfig) {
	tlsConfig = cfg
}
