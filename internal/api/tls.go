package api

import (
	"crypto/tls"
	"fmt"
	"os"
)

// tlsPaths holds the dashboard certificate paths; both empty means the
// dashboard serves plain HTTP on the home network.
var tlsPaths struct {
	certFile string
	keyFile  string
}

// InitTLS reads the dashboard certificate paths from the environment.
// Call before ListenAndServe.
func InitTLS() {
	tlsPaths.certFile = os.Getenv("HOMELINK_TLS_CERT")
	tlsPaths.keyFile = os.Getenv("HOMELINK_TLS_KEY")
}

// IsTLSEnabled reports whether the dashboard is configured for HTTPS.
// Both the certificate and the key must be set.
func IsTLSEnabled() bool {
	return tlsPaths.certFile != "" && tlsPaths.keyFile != ""
}

// LoadTLSConfig builds the listener's tls.Config from the configured
// certificate. Returns nil with no error when TLS is off; a configured
// but unloadable certificate is an error, never a silent fallback to
// plain HTTP.
func LoadTLSConfig() (*tls.Config, error) {
	if !IsTLSEnabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(tlsPaths.certFile, tlsPaths.keyFile)
	if err != nil {
		return nil, fmt.Errorf("load dashboard certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func setTLSPathsForTest(cert, key string) {
	tlsPaths.certFile = cert
	tlsPaths.keyFile = key
}
