package api

import (
	"testing"
)

func TestInitTLS_NoEnvVars(t *testing.T) {
	t.Setenv("HOMELINK_TLS_CERT", "")
	t.Setenv("HOMELINK_TLS_KEY", "")

	InitTLS()

	if IsTLSEnabled() {
		t.Error("TLS enabled with no certificate paths")
	}
}

func TestInitTLS_OnlyCert(t *testing.T) {
	t.Setenv("HOMELINK_TLS_CERT", "/path/to/cert.pem")
	t.Setenv("HOMELINK_TLS_KEY", "")

	InitTLS()

	if IsTLSEnabled() {
		t.Error("TLS enabled with the key path missing")
	}
}

func TestInitTLS_BothSet(t *testing.T) {
	t.Setenv("HOMELINK_TLS_CERT", "/path/to/cert.pem")
	t.Setenv("HOMELINK_TLS_KEY", "/path/to/key.pem")

	InitTLS()
	t.Cleanup(func() { setTLSPathsForTest("", "") })

	if !IsTLSEnabled() {
		t.Error("TLS not enabled with both paths set")
	}
}

func TestLoadTLSConfig_NotEnabled(t *testing.T) {
	setTLSPathsForTest("", "")

	cfg, err := LoadTLSConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Error("got a tls.Config with TLS off")
	}
}

func TestLoadTLSConfig_UnreadableCertificateIsAnError(t *testing.T) {
	setTLSPathsForTest("/nonexistent/cert.pem", "/nonexistent/key.pem")
	t.Cleanup(func() { setTLSPathsForTest("", "") })

	// The server must refuse to start rather than quietly serve plain
	// HTTP with a broken certificate.
	if _, err := LoadTLSConfig(); err == nil {
		t.Error("expected error for an unreadable certificate")
	}
}
