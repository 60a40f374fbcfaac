package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotConfigured is returned when a credential has neither a value nor a file.
var ErrNotConfigured = errors.New("not configured")

// Source tells where a credential comes from. Both fields are usually filled
// from the config file or from JOBBOT_<NAME> and JOBBOT_<NAME>_FILE.
type Source struct {
	// Name only appears in errors.
	Name string
	// Value is the credential itself.
	Value string
	// File holds the credential, e.g. a mounted docker or k8s secret.
	// It wins over Value.
	File string
}

// EnvNames returns the variables a credential is read from: the value one
// and the one naming a file. adzuna-app-key with prefix JOBBOT gives
// JOBBOT_ADZUNA_APP_KEY and JOBBOT_ADZUNA_APP_KEY_FILE.
func EnvNames(prefix, name string) (value, file string) {
	value = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	if prefix != "" {
		value = strings.ToUpper(prefix) + "_" + value
	}
	return value, value + "_FILE"
}

// Load resolves src to a trimmed credential.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "credential"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", fmt.Errorf("reading %s from %q: %w", name, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		return "", fmt.Errorf("%s is %w", name, ErrNotConfigured)
	}
	return secret, nil
}
