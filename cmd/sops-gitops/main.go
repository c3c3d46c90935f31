// sops-gitops: keep a repository's .sops.yaml in step with the team's keys.
//
// The default action imports a private key and a set of public keys into
// the local GPG keyring, appends one creation rule per public key to
// .sops.yaml, and optionally creates or re-encrypts secret files with sops.
// It is built to run as a CI step; inside GitHub Actions the `message`
// step output is set for a follow-up commit.
//
// Usage:
//   sops-gitops --private-key "$(base64 -w0 private.asc)" --public-keys "$(base64 -w0 alice.asc),$(base64 -w0 bob.asc)"
//   sops-gitops --private-key ... --public-keys-file public_keys.txt --secret secrets/app.yaml --dry-run
//   sops-gitops fingerprint --key "$(base64 -w0 alice.asc)"
//   sops-gitops scan --root .
//   sops-gitops rotate --root secrets
//
// A .env file in the working directory (or SOPS_GITOPS_ENV_FILE) is loaded
// first; GPG_MOCK_PRIVATE_KEY from it stands in for --private-key.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	agepkg "github.com/andreweick/sops-gitops/age"
	"github.com/andreweick/sops-gitops/action"
	"github.com/andreweick/sops-gitops/execx"
	"github.com/andreweick/sops-gitops/gpg"
	"github.com/andreweick/sops-gitops/keys"
	"github.com/andreweick/sops-gitops/logging"
	"github.com/andreweick/sops-gitops/model"
	"github.com/andreweick/sops-gitops/secrets"
	"github.com/andreweick/sops-gitops/sopsconfig"
	"github.com/andreweick/sops-gitops/validator"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-githubactions"
	"github.com/urfave/cli/v3"
)

const appName = "sops-gitops"

var version = "dev"

func main() {
	if err := loadDotEnv(model.Pick(os.Getenv("SOPS_GITOPS_ENV_FILE"), ".env")); err != nil {
		fail(err)
	}

	cmd := &cli.Command{
		Name:    appName,
		Usage:   "Import GPG keys and maintain .sops.yaml creation rules",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Base64-encoded private GPG key",
				Sources: cli.EnvVars("GPG_MOCK_PRIVATE_KEY", "INPUT_PRIVATE_KEY"),
			},
			&cli.StringFlag{
				Name:    "public-keys",
				Usage:   "Comma-separated list of base64-encoded public GPG keys",
				Sources: cli.EnvVars("INPUT_PUBLIC_KEYS"),
			},
			&cli.StringFlag{
				Name:  "public-keys-file",
				Usage: "File with one base64-encoded public key per line",
			},
			&cli.StringFlag{
				Name:  "age-recipients",
				Usage: "Comma-separated age recipients to add as rules",
			},
			&cli.StringFlag{
				Name:  "age-recipients-file",
				Usage: "File with one age recipient per line",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the sops config (default: .sops.yaml)",
			},
			&cli.StringFlag{
				Name:  "settings",
				Usage: "Path to the tool settings file",
				Value: model.DefaultSettingsFile,
			},
			&cli.StringFlag{
				Name:    "gnupghome",
				Usage:   "GnuPG home directory holding the keyring",
				Sources: cli.EnvVars("GNUPGHOME"),
			},
			&cli.StringFlag{
				Name:  "gpg",
				Usage: "gpg binary (default: gpg)",
			},
			&cli.StringFlag{
				Name:  "sops",
				Usage: "sops binary (default: sops)",
			},
			&cli.BoolFlag{
				Name:  "native-fingerprint",
				Usage: "Read fingerprints in-process instead of asking gpg",
			},
			&cli.StringSliceFlag{
				Name:  "secret",
				Usage: "Secret file to create or re-encrypt (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Show the .sops.yaml diff without changing anything",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Print progress details",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Print every external command",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:  "fingerprint",
				Usage: "Print the fingerprint of a base64-encoded key",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "key",
						Usage:    "Base64-encoded GPG key",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "native",
						Usage: "Read the fingerprint in-process instead of asking gpg",
					},
				},
				Action: runFingerprint,
			},
			{
				Name:  "scan",
				Usage: "List sops-encrypted YAML files under a tree",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "root",
						Usage: "Root directory to scan (default: workspace from settings)",
					},
				},
				Action: runScan,
			},
			{
				Name:  "rotate",
				Usage: "Run sops updatekeys on every encrypted YAML file under a tree",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "root",
						Usage: "Root directory to scan (default: workspace from settings)",
					},
				},
				Action: runRotate,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fail(err)
	}
}

func fail(err error) {
	logging.New(false, false).Errorf("%v", err)
	os.Exit(1)
}

func loadDotEnv(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := validator.ValidateByExt(".env", string(b)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return godotenv.Load(path)
}

func newLogger(cmd *cli.Command) *logging.Logger {
	return logging.New(cmd.Bool("verbose"), cmd.Bool("debug"))
}

func loadSettings(cmd *cli.Command) (model.Settings, error) {
	return model.LoadSettings(model.Pick(cmd.String("settings"), model.DefaultSettingsFile))
}

func fingerprintSource(native bool, r execx.Runner, binary, home string) gpg.FingerprintSource {
	if native {
		return gpg.NativeSource{}
	}
	return gpg.ColonSource{Runner: r, Binary: binary, Home: home}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd)
	runner := execx.Exec{Log: log}

	cfg := model.Config{
		PrivateKey:        cmd.String("private-key"),
		PublicKeys:        keys.Split(cmd.String("public-keys")),
		ConfigPath:        model.Pick(cmd.String("config"), settings.Sops.Config, sopsconfig.DefaultPath),
		GPGBinary:         model.Pick(cmd.String("gpg"), settings.GPG.Binary, gpg.DefaultBinary),
		GPGHome:           model.Pick(cmd.String("gnupghome"), settings.GPG.Home),
		SopsBinary:        model.Pick(cmd.String("sops"), settings.Sops.Binary, secrets.DefaultBinary),
		SecretFiles:       cmd.StringSlice("secret"),
		NativeFingerprint: cmd.Bool("native-fingerprint"),
		DryRun:            cmd.Bool("dry-run"),
	}
	if cfg.PrivateKey == "" {
		return errors.New("--private-key is required (or set GPG_MOCK_PRIVATE_KEY)")
	}
	if len(cfg.SecretFiles) == 0 {
		cfg.SecretFiles = settings.SecretFiles
	}
	if f := cmd.String("public-keys-file"); f != "" {
		more, err := keys.ReadList(f)
		if err != nil {
			return err
		}
		cfg.PublicKeys = append(cfg.PublicKeys, more...)
	}
	if s := cmd.String("age-recipients"); s != "" {
		rs, err := agepkg.ParseRecipients(s)
		if err != nil {
			return err
		}
		cfg.AgeRecipients = append(cfg.AgeRecipients, agepkg.Strings(rs)...)
	}
	if f := cmd.String("age-recipients-file"); f != "" {
		rs, err := agepkg.LoadRecipients(f)
		if err != nil {
			return err
		}
		cfg.AgeRecipients = append(cfg.AgeRecipients, agepkg.Strings(rs)...)
	}

	a := &action.Action{
		Log:          log,
		Keyring:      gpg.NewKeyring(runner, cfg.GPGBinary, cfg.GPGHome),
		Fingerprints: fingerprintSource(cfg.NativeFingerprint, runner, cfg.GPGBinary, cfg.GPGHome),
		Secrets: &secrets.Sops{
			Runner:     runner,
			Binary:     cfg.SopsBinary,
			ConfigPath: cfg.ConfigPath,
			Stdout:     os.Stdout,
			Log:        log,
		},
	}
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		a.Output = githubactions.New()
	}
	return a.Run(ctx, cfg)
}

func runFingerprint(ctx context.Context, cmd *cli.Command) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cfg := model.FingerprintConfig{
		Key:       cmd.String("key"),
		GPGBinary: model.Pick(cmd.String("gpg"), settings.GPG.Binary, gpg.DefaultBinary),
		GPGHome:   model.Pick(cmd.String("gnupghome"), settings.GPG.Home),
		Native:    cmd.Bool("native") || cmd.Bool("native-fingerprint"),
	}
	runner := execx.Exec{Log: newLogger(cmd)}

	fpr, err := gpg.FingerprintEncoded(ctx, fingerprintSource(cfg.Native, runner, cfg.GPGBinary, cfg.GPGHome), cfg.Key)
	if err != nil {
		return err
	}
	fmt.Println(fpr)
	return nil
}

func scanConfig(cmd *cli.Command) (model.ScanConfig, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return model.ScanConfig{}, err
	}
	return model.ScanConfig{
		Root:       model.Pick(cmd.String("root"), settings.Workspace, "."),
		ConfigPath: model.Pick(cmd.String("config"), settings.Sops.Config, sopsconfig.DefaultPath),
		SopsBinary: model.Pick(cmd.String("sops"), settings.Sops.Binary, secrets.DefaultBinary),
	}, nil
}

func runScan(ctx context.Context, cmd *cli.Command) error {
	cfg, err := scanConfig(cmd)
	if err != nil {
		return err
	}
	files, err := secrets.Find(cfg.Root)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}

func runRotate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := scanConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd)
	runner := execx.Exec{Log: log}
	a := &action.Action{
		Log: log,
		Secrets: &secrets.Sops{
			Runner:     runner,
			Binary:     cfg.SopsBinary,
			ConfigPath: cfg.ConfigPath,
			Stdout:     os.Stdout,
			Log:        log,
		},
	}
	_, err = a.Rotate(ctx, cfg.Root)
	return err
}
