package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret value using the *_FILE convention common to
// container deployments: if envName+"_FILE" is set, the secret is read from
// that file path (trailing whitespace trimmed); otherwise the plain env var
// is used. Returns empty string if neither is set.
func ResolveSecret(envName string) (string, error) {
	fileVar := envName + "_FILE"
	if path := os.Getenv(fileVar); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading secret from %s=%s: %w", fileVar, path, err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	return os.Getenv(envName), nil
}
