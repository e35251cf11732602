// Package shell runs generated commands through the user's shell.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrEmptyCommand is returned instead of starting a shell with nothing to run.
var ErrEmptyCommand = errors.New("empty command")

// Executor runs commands with the given stdio attached. Nil streams fall
// back to the process's own.
type Executor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Dir    string
	Env    []string
}

// New returns an executor attached to the process's stdio.
func New() *Executor {
	return &Executor{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run executes command and waits for it. A non-zero exit is reported as an
// error carrying the exit code.
func (e *Executor) Run(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return ErrEmptyCommand
	}

	path, args := ShellFor(runtime.GOOS, os.Getenv)
	cmd := exec.CommandContext(ctx, path, append(args, command)...) // #nosec G204
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	cmd.Dir = e.Dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s interrupted: %w", filepath.Base(path), ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command exited with status %d: %w", exitErr.ExitCode(), err)
		}
		return fmt.Errorf("failed to start %s: %w", path, err)
	}
	return nil
}

// ShellFor picks the interpreter for goos. On Windows PowerShell is assumed
// when PSModulePath lists at least three entries, cmd.exe otherwise.
func ShellFor(goos string, getenv func(string) string) (string, []string) {
	if goos == "windows" {
		if len(strings.Split(getenv("PSModulePath"), string(os.PathListSeparator))) >= 3 {
			return "powershell.exe", []string{"-NoProfile", "-Command"}
		}
		return "cmd.exe", []string{"/c"}
	}
	if sh := getenv("SHELL"); sh != "" {
		return sh, []string{"-c"}
	}
	return "/bin/sh", []string{"-c"}
}
