package validator

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var fingerprintRe = regexp.MustCompile(`^(?:[0-9A-Fa-f]{40}|[0-9A-Fa-f]{64})$`)

// ValidateFingerprint checks that fpr looks like an OpenPGP fingerprint
// (40 hex characters for v4 keys, 64 for v6).
func ValidateFingerprint(fpr string) error {
	if !fingerprintRe.MatchString(fpr) {
		return fmt.Errorf("invalid fingerprint %q: expected 40 or 64 hex characters", fpr)
	}
	return nil
}

// ValidateByExt validates content based on file extension. Unknown
// extensions are accepted.
func ValidateByExt(filename string, content string) error {
	base := strings.ToLower(filepath.Base(filename))
	if base == ".env" || strings.HasPrefix(base, ".env.") || strings.HasSuffix(base, ".env") {
		return validateDotEnv(content)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return validateYAML(content)
	case ".toml":
		return validateTOML(content)
	default:
		return nil
	}
}

func validateYAML(content string) error {
	var v any
	if err := yaml.Unmarshal([]byte(content), &v); err != nil {
		return fmt.Errorf("YAML parse error: %w", err)
	}
	return nil
}

func validateTOML(content string) error {
	var v any
	if err := toml.Unmarshal([]byte(content), &v); err != nil {
		return fmt.Errorf("TOML parse error: %w", err)
	}
	return nil
}

func validateDotEnv(content string) error {
	if _, err := godotenv.Unmarshal(content); err != nil {
		return fmt.Errorf(".env parse error: %w", err)
	}
	return nil
}
