package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.GPG.Binary != "gpg" {
		t.Errorf("expected gpg binary default, got %q", s.GPG.Binary)
	}
	if s.Sops.Binary != "sops" {
		t.Errorf("expected sops binary default, got %q", s.Sops.Binary)
	}
	if s.Sops.Config != ".sops.yaml" {
		t.Errorf("expected .sops.yaml default, got %q", s.Sops.Config)
	}
	if s.Workspace != "." {
		t.Errorf("expected workspace '.', got %q", s.Workspace)
	}
}

func TestLoadSettings(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		s, err := LoadSettings(filepath.Join(t.TempDir(), DefaultSettingsFile))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if s.GPG.Binary != "gpg" || s.Sops.Config != ".sops.yaml" {
			t.Errorf("expected defaults, got %+v", s)
		}
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultSettingsFile)
		content := `
workspace = "deploy"
secret_files = ["deploy/secrets/app.yaml", "deploy/secrets/db.yaml"]

[gpg]
home = "/tmp/gnupg"

[sops]
config = "deploy/.sops.yaml"
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		s, err := LoadSettings(path)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if s.Workspace != "deploy" {
			t.Errorf("expected workspace 'deploy', got %q", s.Workspace)
		}
		if len(s.SecretFiles) != 2 {
			t.Errorf("expected 2 secret files, got %v", s.SecretFiles)
		}
		if s.GPG.Home != "/tmp/gnupg" {
			t.Errorf("expected gpg home override, got %q", s.GPG.Home)
		}
		if s.GPG.Binary != "gpg" {
			t.Errorf("expected untouched gpg binary default, got %q", s.GPG.Binary)
		}
		if s.Sops.Config != "deploy/.sops.yaml" || s.Sops.Binary != "sops" {
			t.Errorf("unexpected sops settings: %+v", s.Sops)
		}
	})

	t.Run("invalid TOML is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultSettingsFile)
		if err := os.WriteFile(path, []byte("workspace = \"unterminated\n"), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		_, err := LoadSettings(path)
		if err == nil || !strings.Contains(err.Error(), "TOML parse error") {
			t.Errorf("expected TOML parse error, got %v", err)
		}
	})
}

func TestPick(t *testing.T) {
	if got := Pick("", "settings", "default"); got != "settings" {
		t.Errorf("expected first non-empty value, got %q", got)
	}
	if got := Pick("", ""); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}

func TestConfig(t *testing.T) {
	t.Run("creates valid config with all fields", func(t *testing.T) {
		cfg := Config{
			PrivateKey:  "cHJpdmF0ZQ==",
			PublicKeys:  []string{"cHVibGlj"},
			ConfigPath:  ".sops.yaml",
			SecretFiles: []string{"secrets/app.yaml"},
			DryRun:      true,
		}

		if cfg.ConfigPath != ".sops.yaml" {
			t.Errorf("expected ConfigPath to be '.sops.yaml', got %s", cfg.ConfigPath)
		}
		if len(cfg.PublicKeys) != 1 {
			t.Errorf("expected 1 public key, got %d", len(cfg.PublicKeys))
		}
		if !cfg.DryRun {
			t.Error("expected DryRun to be true")
		}
	})
}
