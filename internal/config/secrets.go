package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret returns the secret named envName. envName+"_FILE", when set,
// names a file holding the value and wins over envName itself. Surrounding
// whitespace in the file is trimmed. Neither set yields "".
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if path := os.Getenv(fileEnv); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, path, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// ResolveCredentials resolves a user/password pair. ok is false unless both
// are non-empty.
func ResolveCredentials(userEnv, passEnv string) (user, pass string, ok bool, err error) {
	if user, err = ResolveSecret(userEnv); err != nil {
		return "", "", false, err
	}
	if pass, err = ResolveSecret(passEnv); err != nil {
		return "", "", false, err
	}
	return user, pass, user != "" && pass != "", nil
}
