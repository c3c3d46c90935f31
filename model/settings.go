package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/andreweick/sops-gitops/validator"
	"github.com/pelletier/go-toml/v2"
)

// DefaultSettingsFile is read from the working directory when present.
const DefaultSettingsFile = ".sops-gitops.toml"

// Settings are the repository defaults kept in DefaultSettingsFile.
type Settings struct {
	Workspace   string       `toml:"workspace"`
	SecretFiles []string     `toml:"secret_files"`
	GPG         GPGSettings  `toml:"gpg"`
	Sops        SopsSettings `toml:"sops"`
}

type GPGSettings struct {
	Binary string `toml:"binary"`
	Home   string `toml:"home"`
}

type SopsSettings struct {
	Binary string `toml:"binary"`
	Config string `toml:"config"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Workspace: ".",
		GPG:       GPGSettings{Binary: "gpg"},
		Sops:      SopsSettings{Binary: "sops", Config: ".sops.yaml"},
	}
}

// LoadSettings reads path over the defaults. A missing file yields the
// defaults unchanged.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := validator.ValidateByExt(path, string(b)); err != nil {
		return s, fmt.Errorf("settings %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode settings %s: %w", path, err)
	}
	return s, nil
}

// Pick returns the first non-empty value.
func Pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
