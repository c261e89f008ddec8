// Package tls loads the server certificate. Certificate generation and
// rotation are provisioning concerns handled outside the daemon.
package tls

import (
	"crypto/tls"
	"fmt"
)

// LoadCertificate loads a certificate pair from files.
func LoadCertificate(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &cert, nil
}

// ServerConfig returns a tls.Config for the API listener.
func ServerConfig(cert *tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}
}
