package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CLIProvider delegates generation to a local executable which receives the
// rendered conversation as its last argument and answers on stdout.
type CLIProvider struct {
	binaryPath string
	args       []string
	timeout    time.Duration
}

func NewCLIProvider(binaryPath string, args []string) (*CLIProvider, error) {
	if binaryPath == "" {
		return nil, Unavailable("cli", "binary path is required for CLI provider")
	}
	return &CLIProvider{
		binaryPath: binaryPath,
		args:       args,
		timeout:    2 * time.Minute,
	}, nil
}

func (p *CLIProvider) Name() string {
	return "cli-" + p.binaryPath
}

func renderConversation(messages []Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.ToUpper(m.Role))
		sb.WriteString(":\n")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func (p *CLIProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	fullArgs := append(append([]string{}, p.args...), renderConversation(messages))

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.binaryPath, fullArgs...)

	output, err := cmd.Output()
	result := string(output)

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, generationErr(p.Name(), fmt.Errorf("cli agent timed out: %w", err))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, generationErr(p.Name(), fmt.Errorf("cli agent failed: %w\nStderr: %s", err, exitErr.Stderr))
		}
		return nil, generationErr(p.Name(), fmt.Errorf("cli agent failed: %w", err))
	}

	return &Response{
		Content: result,
		Usage: Usage{
			TotalTokens: len(strings.Fields(result)),
		},
	}, nil
}
