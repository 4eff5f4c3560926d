package config

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// ResolveSecret reads a secret value using the *_FILE convention. When
// envName+"_FILE" is set (e.g. DESK_ADMIN_PASS_FILE), the secret is the
// trimmed content of that file; otherwise the value of envName itself.
// With neither set it resolves to the empty string. The error is
// non-nil only when the referenced file cannot be read.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	return os.Getenv(envName), nil
}

// MustResolveSecret is ResolveSecret for values the daemon cannot start
// without; a broken *_FILE reference is fatal.
func MustResolveSecret(envName string) string {
	value, err := ResolveSecret(envName)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return value
}
