package gpg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/andreweick/sops-gitops/execx"
	"github.com/andreweick/sops-gitops/keys"
)

var (
	// ErrNoFingerprint means gpg printed no fpr record.
	ErrNoFingerprint = errors.New("no fingerprint record in gpg output")
	// ErrInvalidOutput means gpg printed something that is not UTF-8.
	ErrInvalidOutput = errors.New("gpg output is not valid UTF-8")
	// ErrNoKey means the key material held no OpenPGP key.
	ErrNoKey = errors.New("no OpenPGP key found")
)

// FingerprintSource derives the primary key fingerprint of raw key bytes.
type FingerprintSource interface {
	Fingerprint(ctx context.Context, key []byte) (string, error)
}

// FingerprintEncoded decodes a base64 key and asks src for its fingerprint.
func FingerprintEncoded(ctx context.Context, src FingerprintSource, encoded string) (string, error) {
	key, err := keys.Decode(encoded)
	if err != nil {
		return "", err
	}
	return src.Fingerprint(ctx, key)
}

// ColonSource asks gpg to parse the key without importing it and reads the
// machine-readable listing.
type ColonSource struct {
	Runner execx.Runner
	Binary string
	Home   string
}

func (s ColonSource) Fingerprint(ctx context.Context, key []byte) (string, error) {
	k := Keyring{Runner: s.Runner, Binary: s.Binary, Home: s.Home}
	if err := ensureHome(k.Home); err != nil {
		return "", err
	}

	var out bytes.Buffer
	err := s.Runner.Run(ctx, execx.Cmd{
		Name:   k.binary(),
		Args:   k.args("--with-colons", "--import-options", "show-only", "--import", "--fingerprint"),
		Stdin:  bytes.NewReader(key),
		Stdout: &out,
	})
	if err != nil {
		return "", fmt.Errorf("gpg show-only: %w", err)
	}
	return ParseColons(out.Bytes())
}

// ParseColons returns field 10 of the first fpr record in gpg
// --with-colons output, which belongs to the primary key.
func ParseColons(out []byte) (string, error) {
	if !utf8.Valid(out) {
		return "", ErrInvalidOutput
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "fpr") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 10 || fields[9] == "" {
			break
		}
		return fields[9], nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("scan gpg output: %w", err)
	}
	return "", ErrNoFingerprint
}

// NativeSource parses the key in-process; no gpg binary is needed.
type NativeSource struct{}

func (NativeSource) Fingerprint(_ context.Context, key []byte) (string, error) {
	var (
		entities openpgp.EntityList
		err      error
	)
	if bytes.HasPrefix(bytes.TrimSpace(key), []byte("-----BEGIN")) {
		entities, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(key))
	} else {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(key))
	}
	if err != nil {
		return "", fmt.Errorf("parse openpgp key: %w", err)
	}
	if len(entities) == 0 || entities[0].PrimaryKey == nil {
		return "", ErrNoKey
	}
	return fmt.Sprintf("%X", entities[0].PrimaryKey.Fingerprint), nil
}
