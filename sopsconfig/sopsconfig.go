// Package sopsconfig reads and appends creation rules in a .sops.yaml file.
//
// The file is handled as a yaml.v3 node tree so keys and rules this tool
// does not know about survive a rewrite. Rules are only ever appended.
// Files holding more than one YAML document are rejected.
package sopsconfig

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

	"github.com/andreweick/sops-gitops/gpg"
	"github.com/andreweick/sops-gitops/validator"
	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where sops looks for its configuration.
const DefaultPath = ".sops.yaml"

const rulesKey = "creation_rules"

var (
	// ErrMalformed means the file is not valid YAML.
	ErrMalformed = errors.New("malformed sops config")
	// ErrMissingRules means the document has no creation_rules sequence.
	ErrMissingRules = errors.New("sops config has no creation_rules sequence")
)

// Rule is a read-only view of one creation rule.
type Rule struct {
	PathRegex string
	PGP       []string
	Age       []string
}

// Config is a loaded .sops.yaml document.
type Config struct {
	Path  string
	doc   *yaml.Node
	rules *yaml.Node
	raw   []byte
}

// New returns an empty config (`creation_rules: []`) bound to path.
func New(path string) *Config {
	rules := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{scalar(rulesKey), rules}}
	return &Config{
		Path:  path,
		doc:   &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}},
		rules: rules,
	}
}

// Load reads path, or starts an empty config when the file does not exist.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, b)
}

// Parse builds a Config from file content.
func Parse(path string, b []byte) (*Config, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(b))
	err := dec.Decode(&doc)
	if err == nil {
		// Save writes one document back; anything after it would be lost.
		var next yaml.Node
		if err = dec.Decode(&next); err == nil {
			return nil, fmt.Errorf("%w: %s: more than one YAML document", ErrMalformed, path)
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s", ErrMissingRules, path)
	}
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != rulesKey {
			continue
		}
		rules := root.Content[i+1]
		if rules.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("%w: %s: %s is not a list", ErrMissingRules, path, rulesKey)
		}
		return &Config{Path: path, doc: &doc, rules: rules, raw: b}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingRules, path)
}

// Len is the number of creation rules.
func (c *Config) Len() int {
	return len(c.rules.Content)
}

// Original is the file content the config was parsed from; nil for a new
// config.
func (c *Config) Original() []byte {
	return c.raw
}

// AppendPGP adds a rule encrypting to the single PGP fingerprint fpr.
func (c *Config) AppendPGP(fpr string) error {
	if err := validator.ValidateFingerprint(fpr); err != nil {
		return err
	}
	c.appendRule(scalar("pgp"), &yaml.Node{
		Kind:    yaml.SequenceNode,
		Tag:     "!!seq",
		Content: []*yaml.Node{scalar(strings.ToUpper(fpr))},
	})
	return nil
}

// AppendAge adds a rule encrypting to a single age recipient.
func (c *Config) AppendAge(recipient string) error {
	if !strings.HasPrefix(recipient, "age1") {
		return fmt.Errorf("invalid age recipient %q", recipient)
	}
	c.appendRule(scalar("age"), scalar(recipient))
	return nil
}

func (c *Config) appendRule(kv ...*yaml.Node) {
	// a loaded `creation_rules: []` would otherwise keep rendering inline
	c.rules.Style &^= yaml.FlowStyle
	c.rules.Content = append(c.rules.Content, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: kv})
}

// Rules decodes every creation rule. Fingerprints and recipients nested in
// key_groups are flattened into the rule.
func (c *Config) Rules() []Rule {
	out := make([]Rule, 0, len(c.rules.Content))
	for _, n := range c.rules.Content {
		var r Rule
		collectRule(n, &r)
		out = append(out, r)
	}
	return out
}

func collectRule(n *yaml.Node, r *Rule) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i].Value, n.Content[i+1]
		switch k {
		case "path_regex":
			r.PathRegex = v.Value
		case "pgp":
			r.PGP = append(r.PGP, values(v)...)
		case "age":
			r.Age = append(r.Age, values(v)...)
		case "key_groups":
			for _, g := range v.Content {
				collectRule(g, r)
			}
		}
	}
}

// values accepts both the list form and sops' comma-separated string form.
func values(n *yaml.Node) []string {
	switch n.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, s := range strings.Split(n.Value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case yaml.SequenceNode:
		var out []string
		for _, item := range n.Content {
			out = append(out, values(item)...)
		}
		return out
	}
	return nil
}

// Marshal renders the document with two-space indentation.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c.doc); err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Path, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Path, err)
	}
	return buf.Bytes(), nil
}

// Save overwrites Path with the rendered document.
func (c *Config) Save() error {
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := validator.ValidateByExt(c.Path, string(b)); err != nil {
		return fmt.Errorf("refusing to write %s: %w", c.Path, err)
	}
	if err := atomicWrite(c.Path, b, 0644); err != nil {
		return fmt.Errorf("write %s: %w", c.Path, err)
	}
	c.raw = b
	return nil
}

// Update loads path and appends one pgp rule per encoded public key, in
// order. The result is not saved.
func Update(ctx context.Context, path string, src gpg.FingerprintSource, encodedKeys []string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	for i, k := range encodedKeys {
		fpr, err := gpg.FingerprintEncoded(ctx, src, k)
		if err != nil {
			return nil, fmt.Errorf("public key %d: %w", i+1, err)
		}
		if err := c.AppendPGP(fpr); err != nil {
			return nil, fmt.Errorf("public key %d: %w", i+1, err)
		}
	}
	return c, nil
}

// Diff returns a unified diff between two renderings of the file.
func Diff(before, after []byte, filename string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: filename + " (current)",
		ToFile:   filename + " (updated)",
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	return text
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func atomicWrite(dst string, b []byte, perm os.FileMode) error {
	dir := filepath.Dir(dst)
	if fi, err := os.Stat(dst); err == nil {
		perm = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(dir, ".sops-gitops-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	return os.Rename(tmpPath, dst)
}
