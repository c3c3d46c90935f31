// Package execx runs external binaries (gpg, sops) behind a small interface
// so callers can be exercised without them.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/andreweick/sops-gitops/logging"
)

var (
	// ErrSpawn is returned when the process could not be started.
	ErrSpawn = errors.New("failed to start process")
	// ErrExit is returned when the process exited with a non-zero status.
	ErrExit = errors.New("process exited with error")
)

// Cmd describes one invocation. A nil Stdout discards output; a nil Stderr
// is captured and attached to the returned error.
type Cmd struct {
	Name   string
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    []string
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes a command and blocks until it terminates.
type Runner interface {
	Run(ctx context.Context, c Cmd) error
}

// Exec runs commands with os/exec.
type Exec struct {
	Log *logging.Logger
}

func (e Exec) Run(ctx context.Context, c Cmd) error {
	e.Log.Debugf("running %s", c)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	var stderr bytes.Buffer
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSpawn, c.Name, err)
	}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return fmt.Errorf("%w: %s: %v", ErrExit, c.Name, err)
			}
			return fmt.Errorf("%w: %s: %v: %s", ErrExit, c.Name, err, msg)
		}
		return fmt.Errorf("wait for %s: %w", c.Name, err)
	}
	return nil
}
