// Package execxtest provides a recording execx.Runner for tests.
package execxtest

import (
	"context"
	"io"

	"github.com/andreweick/sops-gitops/execx"
)

// Call is one recorded invocation with its stdin fully read.
type Call struct {
	Name  string
	Args  []string
	Stdin []byte
}

// Fake records every command and answers with Handle. A nil Handle
// succeeds with no output.
type Fake struct {
	Calls  []Call
	Handle func(c Call) (stdout string, err error)
}

func (f *Fake) Run(ctx context.Context, c execx.Cmd) error {
	call := Call{Name: c.Name, Args: append([]string(nil), c.Args...)}
	if c.Stdin != nil {
		b, err := io.ReadAll(c.Stdin)
		if err != nil {
			return err
		}
		call.Stdin = b
	}
	f.Calls = append(f.Calls, call)

	if f.Handle == nil {
		return nil
	}
	out, err := f.Handle(call)
	if err != nil {
		return err
	}
	if c.Stdout != nil && out != "" {
		if _, err := io.WriteString(c.Stdout, out); err != nil {
			return err
		}
	}
	return nil
}

// Named returns the calls made to the named binary.
func (f *Fake) Named(name string) []Call {
	var out []Call
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
