package resolve

import (
	"bytes"
	"context"
	"os/exec"

	"golang.org/x/xerrors"
)

// execRunner is the real Runner, wrapping os/exec.CommandContext:
// capture stdout, let ctx's deadline kill the process rather than
// letting it run past that deadline.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", xerrors.Errorf("%s %v: %w (stderr: %s)", name, args, err, stderr.String())
	}
	return stdout.String(), nil
}
