// Package secrets finds sops-encrypted YAML files and creates or
// re-encrypts them with the sops binary.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andreweick/sops-gitops/execx"
	"github.com/andreweick/sops-gitops/logging"
)

// DefaultBinary is the sops executable looked up on PATH.
const DefaultBinary = "sops"

// Marker is the substring that identifies an already encrypted file. This
// is a cheap text check, not a parse.
const Marker = "sops:"

// Placeholder is the plaintext a new secret file starts from.
const Placeholder = "key: value\n"

// Find returns every .yaml/.yml file under root whose content contains
// Marker, in lexical order.
func Find(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(b, []byte(Marker)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return files, nil
}

// Sops drives the sops binary against one config file.
type Sops struct {
	Runner     execx.Runner
	Binary     string
	ConfigPath string
	// Stdout receives sops' own output for updatekeys; nil discards it.
	Stdout io.Writer
	Log    *logging.Logger
}

func (s *Sops) binary() string {
	if s.Binary == "" {
		return DefaultBinary
	}
	return s.Binary
}

// args prefixes --config when a config path is set; otherwise sops finds
// .sops.yaml on its own.
func (s *Sops) args(args ...string) []string {
	if s.ConfigPath == "" {
		return args
	}
	return append([]string{"--config", s.ConfigPath}, args...)
}

// Create encrypts Placeholder into a new file at path, creating parent
// directories. A partially written file is removed on failure.
func (s *Sops) Create(ctx context.Context, path string) (err error) {
	s.Log.Infof("Creating secret file: %s", path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	err = s.Runner.Run(ctx, execx.Cmd{
		Name:   s.binary(),
		Args:   s.args("--input-type", "yaml", "--output-type", "yaml", "-e", "/dev/stdin"),
		Stdin:  strings.NewReader(Placeholder),
		Stdout: f,
	})
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", path, err)
	}
	return nil
}

// UpdateKeys re-encrypts the data key of path for the current rule set.
func (s *Sops) UpdateKeys(ctx context.Context, path string) error {
	s.Log.Infof("Updating keys of secret file: %s", path)
	err := s.Runner.Run(ctx, execx.Cmd{Name: s.binary(), Args: s.args("updatekeys", path, "--yes"), Stdout: s.Stdout})
	if err != nil {
		return fmt.Errorf("re-encrypt %s: %w", path, err)
	}
	return nil
}

// Sync brings each path up to date: existing files get UpdateKeys, missing
// ones are created. The first failure stops the run.
func (s *Sops) Sync(ctx context.Context, paths []string) error {
	for _, p := range paths {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			if err := s.UpdateKeys(ctx, p); err != nil {
				return err
			}
		case errors.Is(err, fs.ErrNotExist):
			if err := s.Create(ctx, p); err != nil {
				return err
			}
		default:
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return nil
}
