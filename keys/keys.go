// Package keys decodes the base64 key blobs passed on the command line.
package keys

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrDecode is returned when an encoded key is not valid base64.
var ErrDecode = errors.New("failed to decode base64 key")

// ErrNoKeys is returned when a key list holds no entries.
var ErrNoKeys = errors.New("no keys provided")

// Decode returns the raw key bytes behind a standard base64 string.
func Decode(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}

// Split breaks a comma-separated key list into its entries, dropping blanks.
func Split(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ReadList reads one encoded key per line from path. Blank lines and lines
// starting with # are skipped; a file with no keys left is ErrNoKeys.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key list: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	// armored keys encoded on a single line can be long
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read key list %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoKeys, path)
	}
	return out, nil
}
