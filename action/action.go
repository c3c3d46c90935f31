// Package action runs the key rotation flow: import keys into the GPG
// keyring, append creation rules to .sops.yaml, and bring secret files up
// to date with sops.
package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andreweick/sops-gitops/gpg"
	"github.com/andreweick/sops-gitops/keys"
	"github.com/andreweick/sops-gitops/logging"
	"github.com/andreweick/sops-gitops/model"
	"github.com/andreweick/sops-gitops/secrets"
	"github.com/andreweick/sops-gitops/sopsconfig"
	"github.com/sethvargo/go-githubactions"
)

// Message is published as the `message` step output, for use as a commit
// message by later workflow steps.
const Message = "encrypt sops secrets and update sops.yaml"

// ErrNoRecipients means neither public keys nor age recipients were given.
var ErrNoRecipients = errors.New("no public keys or age recipients provided")

// ErrNoSecretFiles means a rotate found nothing to re-encrypt.
var ErrNoSecretFiles = errors.New("no sops-encrypted files found")

// SecretSyncer creates missing secret files and re-encrypts existing ones.
type SecretSyncer interface {
	Sync(ctx context.Context, paths []string) error
}

// Action wires the steps together. Output is optional; without it the step
// output is printed.
type Action struct {
	Log          *logging.Logger
	Keyring      gpg.Importer
	Fingerprints gpg.FingerprintSource
	Secrets      SecretSyncer
	Output       *githubactions.Action
	Out          io.Writer
}

func (a *Action) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

// Run performs the full flow for cfg. Any error aborts the remaining steps.
func (a *Action) Run(ctx context.Context, cfg model.Config) error {
	if len(cfg.PublicKeys) == 0 && len(cfg.AgeRecipients) == 0 {
		return ErrNoRecipients
	}
	path := model.Pick(cfg.ConfigPath, sopsconfig.DefaultPath)

	private, err := keys.Decode(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	publics := make([][]byte, 0, len(cfg.PublicKeys))
	for i, k := range cfg.PublicKeys {
		b, err := keys.Decode(k)
		if err != nil {
			return fmt.Errorf("public key %d: %w", i+1, err)
		}
		publics = append(publics, b)
	}

	if cfg.DryRun {
		a.Log.Warnf("dry run: keyring, %s and secret files are left untouched", path)
	} else {
		a.Log.Stepf("Importing private key...")
		if err := a.Keyring.Import(ctx, private); err != nil {
			return fmt.Errorf("private key: %w", err)
		}
		a.Log.Stepf("Importing public keys...")
		for i, b := range publics {
			if err := a.Keyring.Import(ctx, b); err != nil {
				return fmt.Errorf("public key %d: %w", i+1, err)
			}
		}
	}

	a.Log.Stepf("Updating %s...", path)
	c, err := sopsconfig.Update(ctx, path, a.Fingerprints, cfg.PublicKeys)
	if err != nil {
		return err
	}
	for _, r := range cfg.AgeRecipients {
		if err := c.AppendAge(r); err != nil {
			return err
		}
	}
	a.Log.Infof("%s now has %d creation rules", path, c.Len())

	if cfg.DryRun || a.verbose() {
		after, err := c.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprint(a.out(), sopsconfig.Diff(c.Original(), after, path))
	}
	if cfg.DryRun {
		return nil
	}
	if err := c.Save(); err != nil {
		return err
	}

	if len(cfg.SecretFiles) > 0 {
		a.Log.Stepf("Updating secret files...")
		if err := a.Secrets.Sync(ctx, cfg.SecretFiles); err != nil {
			return err
		}
	}

	a.setOutput("message", Message)
	a.Log.Stepf("Action completed!")
	return nil
}

// Rotate re-encrypts every sops file under root for the current rules.
func (a *Action) Rotate(ctx context.Context, root string) (int, error) {
	files, err := secrets.Find(root)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("rotate: %w under %s", ErrNoSecretFiles, root)
	}
	for _, f := range files {
		a.Log.Infof("found %s", f)
	}
	if err := a.Secrets.Sync(ctx, files); err != nil {
		return 0, err
	}
	a.Log.Stepf("rotate complete: %d files", len(files))
	return len(files), nil
}

func (a *Action) verbose() bool {
	return a.Log != nil && a.Log.Verbose
}

func (a *Action) setOutput(k, v string) {
	if a.Output != nil {
		a.Output.SetOutput(k, v)
		return
	}
	fmt.Fprintf(a.out(), "%s=%s\n", k, v)
}
