package automation

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExecAgent adapts an external computer-use harness invoked as a subprocess:
// prompt on stdin, agent transcript on stdout. The harness owns the browser,
// screenshots, and the sampling loop.
type ExecAgent struct {
	Path string
	Args []string
	Env  []string // extra KEY=VALUE pairs, e.g. the vendor API key
}

func (a *ExecAgent) Run(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, a.Path, a.Args...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = append(os.Environ(), a.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("agent %s: %w: %s", a.Path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (a *ExecAgent) ClearSession(ctx context.Context) error {
	args := append(append([]string{}, a.Args...), "--clear-session")
	cmd := exec.CommandContext(ctx, a.Path, args...)
	cmd.Env = append(os.Environ(), a.Env...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("agent %s --clear-session: %w: %s", a.Path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
