package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command is one external tool invocation. Stdin, when set, names a file fed
// to the process on standard input.
type Command struct {
	Name  string
	Args  []string
	Env   []string
	Stdin string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes external tools. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command and folds its combined output into the error when
// it exits non-zero.
func (ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)

	if c.Stdin != "" {
		in, err := os.Open(c.Stdin)
		if err != nil {
			return fmt.Errorf("failed to open stdin for %s: %w", c.Name, err)
		}
		defer in.Close()
		cmd.Stdin = in
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w, output: %s", c.Name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
