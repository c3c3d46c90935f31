package sopsconfig

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andreweick/sops-gitops/keys"
)

const (
	fprA = "9C243A3FDC4EF1474372915F9C1B6F1F746AF12C"
	fprB = "0A1B2C3D4E5F60718293A4B5C6D7E8F93E4F5A6B"
	fprC = "1111222233334444555566667777888899990000"
)

// mapSource answers with a fingerprint per raw key.
type mapSource map[string]string

func (m mapSource) Fingerprint(_ context.Context, key []byte) (string, error) {
	fpr, ok := m[string(key)]
	if !ok {
		return "", errors.New("unknown key")
	}
	return fpr, nil
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	src := mapSource{"key-a": fprA, "key-b": fprB, "key-c": fprC}

	t.Run("absent file gets one rule with one fingerprint", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)

		c, err := Update(ctx, path, src, []string{encode("key-a")})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if err := c.Save(); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		reloaded, err := Load(path)
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		rules := reloaded.Rules()
		if len(rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rules))
		}
		if len(rules[0].PGP) != 1 || rules[0].PGP[0] != fprA {
			t.Errorf("unexpected pgp list: %v", rules[0].PGP)
		}
	})

	t.Run("existing rules are kept and new ones appended", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		writeFile(t, path, `# managed in CI
creation_rules:
  - path_regex: secrets/.*\.yaml
    pgp: `+fprC+`
  - pgp:
      - `+fprB+`
`)

		c, err := Update(ctx, path, src, []string{encode("key-a"), encode("key-b")})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if c.Len() != 4 {
			t.Fatalf("expected 2+2 rules, got %d", c.Len())
		}
		if err := c.Save(); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if !strings.Contains(string(content), "# managed in CI") {
			t.Error("expected head comment to survive the rewrite")
		}
		if !strings.Contains(string(content), `secrets/.*\.yaml`) {
			t.Error("expected path_regex to survive the rewrite")
		}

		reloaded, err := Load(path)
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		rules := reloaded.Rules()
		if rules[0].PathRegex != `secrets/.*\.yaml` || rules[0].PGP[0] != fprC {
			t.Errorf("first rule changed: %+v", rules[0])
		}
		if rules[2].PGP[0] != fprA || rules[3].PGP[0] != fprB {
			t.Errorf("appended rules out of order: %+v", rules[2:])
		}
	})

	t.Run("repeated runs with the same key keep appending", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		for i := 0; i < 3; i++ {
			c, err := Update(ctx, path, src, []string{encode("key-a")})
			if err != nil {
				t.Fatalf("update %d failed: %v", i, err)
			}
			if err := c.Save(); err != nil {
				t.Fatalf("save %d failed: %v", i, err)
			}
		}
		c, err := Load(path)
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		if c.Len() != 3 {
			t.Errorf("expected 3 rules, got %d", c.Len())
		}
	})

	t.Run("flow style empty list becomes block list", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		writeFile(t, path, "creation_rules: []\n")

		c, err := Update(ctx, path, src, []string{encode("key-a")})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		out, err := c.Marshal()
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		if strings.Contains(string(out), "[") {
			t.Errorf("expected block style output, got:\n%s", out)
		}
	})

	t.Run("fingerprint failure aborts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		_, err := Update(ctx, path, src, []string{encode("key-a"), encode("unknown")})
		if err == nil || !strings.Contains(err.Error(), "public key 2") {
			t.Errorf("expected error naming the second key, got: %v", err)
		}
	})

	t.Run("bad base64 aborts", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		_, err := Update(ctx, path, src, []string{"not base64!"})
		if !errors.Is(err, keys.ErrDecode) {
			t.Errorf("expected decode error, got: %v", err)
		}
	})
}

func TestLoadErrors(t *testing.T) {
	t.Run("malformed YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		writeFile(t, path, "creation_rules: [\n  - pgp: x\n")
		_, err := Load(path)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got: %v", err)
		}
	})

	t.Run("missing creation_rules", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		writeFile(t, path, "stores:\n  yaml:\n    indent: 2\n")
		_, err := Load(path)
		if !errors.Is(err, ErrMissingRules) {
			t.Errorf("expected ErrMissingRules, got: %v", err)
		}
	})

	t.Run("creation_rules is not a list", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		writeFile(t, path, "creation_rules:\n  pgp: abc\n")
		_, err := Load(path)
		if !errors.Is(err, ErrMissingRules) {
			t.Errorf("expected ErrMissingRules, got: %v", err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		writeFile(t, path, "")
		_, err := Load(path)
		if !errors.Is(err, ErrMissingRules) {
			t.Errorf("expected ErrMissingRules, got: %v", err)
		}
	})

	t.Run("multiple documents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		writeFile(t, path, "creation_rules:\n  - age: age1abc\n---\nstores:\n  yaml:\n    indent: 4\n")
		_, err := Load(path)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got: %v", err)
		}
	})

	t.Run("leading document marker is a single document", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultPath)
		writeFile(t, path, "---\ncreation_rules:\n  - age: age1abc\n")
		c, err := Load(path)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if c.Len() != 1 {
			t.Errorf("expected 1 rule, got %d", c.Len())
		}
	})

	t.Run("missing parent directory fails on save", func(t *testing.T) {
		c := New(filepath.Join(t.TempDir(), "nope", DefaultPath))
		if err := c.AppendPGP(fprA); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if err := c.Save(); err == nil {
			t.Error("expected save into missing directory to fail")
		}
	})
}

func TestRules(t *testing.T) {
	c, err := Parse(DefaultPath, []byte(`creation_rules:
  - key_groups:
      - pgp:
          - `+fprA+`
        age:
          - age1abc
  - pgp: "`+fprB+`, `+fprC+`"
    age: age1def,age1ghi
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	rules := c.Rules()
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if len(rules[0].PGP) != 1 || rules[0].PGP[0] != fprA || len(rules[0].Age) != 1 {
		t.Errorf("key_groups not flattened: %+v", rules[0])
	}
	if len(rules[1].PGP) != 2 || rules[1].PGP[1] != fprC {
		t.Errorf("comma separated pgp not split: %+v", rules[1])
	}
	if len(rules[1].Age) != 2 || rules[1].Age[0] != "age1def" {
		t.Errorf("comma separated age not split: %+v", rules[1])
	}
}

func TestAppend(t *testing.T) {
	t.Run("rejects invalid fingerprint", func(t *testing.T) {
		c := New(DefaultPath)
		if err := c.AppendPGP("OUMyNDNB"); err == nil {
			t.Error("expected invalid fingerprint to be rejected")
		}
		if c.Len() != 0 {
			t.Errorf("expected no rule to be added, got %d", c.Len())
		}
	})

	t.Run("normalises fingerprint case", func(t *testing.T) {
		c := New(DefaultPath)
		if err := c.AppendPGP(strings.ToLower(fprA)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if got := c.Rules()[0].PGP[0]; got != fprA {
			t.Errorf("got %s, want %s", got, fprA)
		}
	})

	t.Run("age rule", func(t *testing.T) {
		c := New(DefaultPath)
		if err := c.AppendAge("age1xyz"); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if err := c.AppendAge("ssh-ed25519 AAAA"); err == nil {
			t.Error("expected non-age recipient to be rejected")
		}
		rules := c.Rules()
		if len(rules) != 1 || len(rules[0].Age) != 1 || rules[0].Age[0] != "age1xyz" {
			t.Errorf("unexpected rules: %+v", rules)
		}
	})
}

func TestSavePreservesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	writeFile(t, path, "creation_rules: []\n")
	if err := os.Chmod(path, 0600); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := c.AppendPGP(fprA); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := c.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if fi.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600 to be kept, got %v", fi.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected temp file to be cleaned up, found %d entries", len(entries))
	}
}

func TestDiff(t *testing.T) {
	c := New(DefaultPath)
	before, err := c.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := c.AppendPGP(fprA); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	after, err := c.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	d := Diff(before, after, DefaultPath)
	if !strings.Contains(d, "+++ .sops.yaml (updated)") {
		t.Errorf("missing header in diff:\n%s", d)
	}
	if !strings.Contains(d, "+      - "+fprA) && !strings.Contains(d, "+    - "+fprA) {
		t.Errorf("expected added fingerprint line in diff:\n%s", d)
	}
	if Diff(after, after, DefaultPath) != "" {
		t.Error("expected empty diff for identical input")
	}
}
