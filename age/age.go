// Package age validates age recipients before they are written into
// .sops.yaml creation rules.
package age

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
)

// ParseRecipients parses a comma or whitespace separated list of age
// public keys (age1...).
func ParseRecipients(list string) ([]*age.X25519Recipient, error) {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]*age.X25519Recipient, 0, len(fields))
	for _, f := range fields {
		r, err := age.ParseX25519Recipient(f)
		if err != nil {
			return nil, fmt.Errorf("invalid age recipient %q: %w", f, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadRecipients loads age recipients from the specified file path, one per
// line. Lines starting with # are comments.
func LoadRecipients(path string) ([]*age.X25519Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("\nRecipients file not found: %s\n"+
			"- Create one and commit it to your repo (recommended).\n"+
			"- Example (one public key per line): age1xxxx...\nOriginal error: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read recipients in %s: %w", path, err)
	}
	rs, err := ParseRecipients(b.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipients in %s: %w", path, err)
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("no recipients in %s; add at least one age public key", path)
	}
	return rs, nil
}

// Strings returns the canonical text form of each recipient.
func Strings(rs []*age.X25519Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}
