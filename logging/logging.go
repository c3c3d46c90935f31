// Package logging prints leveled, coloured progress messages for the CLI.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Logger writes progress to Out and problems to Err. Info lines are only
// printed when Verbose is set, debug lines only when Debug is set.
type Logger struct {
	Verbose bool
	Debug   bool
	Out     io.Writer
	Err     io.Writer
}

// New returns a Logger writing to stdout and stderr.
func New(verbose, debug bool) *Logger {
	return &Logger{Verbose: verbose || debug, Debug: debug, Out: os.Stdout, Err: os.Stderr}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{Out: io.Discard, Err: io.Discard}
}

func (l *Logger) out() io.Writer {
	if l == nil || l.Out == nil {
		return os.Stdout
	}
	return l.Out
}

func (l *Logger) err() io.Writer {
	if l == nil || l.Err == nil {
		return os.Stderr
	}
	return l.Err
}

// Stepf always prints; it marks the top-level stages of a run.
func (l *Logger) Stepf(msg string, args ...any) {
	fmt.Fprintf(l.out(), msg+"\n", args...)
}

func (l *Logger) Infof(msg string, args ...any) {
	if l != nil && l.Verbose {
		fmt.Fprintf(l.out(), color.GreenString("[info] ")+msg+"\n", args...)
	}
}

func (l *Logger) Debugf(msg string, args ...any) {
	if l != nil && l.Debug {
		fmt.Fprintf(l.out(), color.CyanString("[debug] ")+msg+"\n", args...)
	}
}

func (l *Logger) Warnf(msg string, args ...any) {
	fmt.Fprintf(l.err(), color.YellowString("[warn] ")+msg+"\n", args...)
}

// Errorf prints the fatal `error:` line a failed run exits with.
func (l *Logger) Errorf(msg string, args ...any) {
	fmt.Fprintf(l.err(), color.RedString("error: ")+msg+"\n", args...)
}
