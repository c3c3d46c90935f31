// Package gpg talks to the local GnuPG installation: importing keys into a
// keyring and reading key fingerprints.
package gpg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/andreweick/sops-gitops/execx"
)

// DefaultBinary is the gpg executable looked up on PATH.
const DefaultBinary = "gpg"

// Importer adds a key to a keyring.
type Importer interface {
	Import(ctx context.Context, key []byte) error
}

// Keyring is a GnuPG keyring reached through the gpg binary. An empty Home
// uses gpg's own default (GNUPGHOME or ~/.gnupg).
type Keyring struct {
	Runner execx.Runner
	Binary string
	Home   string
	// Output receives gpg's own progress messages; nil discards them.
	Output io.Writer
}

// NewKeyring returns a Keyring using the real gpg binary.
func NewKeyring(r execx.Runner, binary, home string) *Keyring {
	return &Keyring{Runner: r, Binary: binary, Home: home}
}

func (k *Keyring) binary() string {
	if k.Binary == "" {
		return DefaultBinary
	}
	return k.Binary
}

func (k *Keyring) args(args ...string) []string {
	if k.Home == "" {
		return args
	}
	return append([]string{"--homedir", k.Home}, args...)
}

// ensureHome creates the keyring directory; gpg refuses a --homedir that
// does not exist.
func ensureHome(home string) error {
	if home == "" {
		return nil
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return fmt.Errorf("create gpg home %s: %w", home, err)
	}
	return nil
}

// Import feeds key to `gpg --import` and waits for it to finish. The keyring
// is modified in place.
func (k *Keyring) Import(ctx context.Context, key []byte) error {
	if err := ensureHome(k.Home); err != nil {
		return err
	}
	err := k.Runner.Run(ctx, execx.Cmd{
		Name:   k.binary(),
		Args:   k.args("--batch", "--import"),
		Stdin:  bytes.NewReader(key),
		Stdout: k.Output,
	})
	if err != nil {
		return fmt.Errorf("gpg import: %w", err)
	}
	return nil
}
