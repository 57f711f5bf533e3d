package util

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/exec"
)

// DefaultCommandTimeout bounds every external tool invocation except
// those that go through RunUnbounded.
const DefaultCommandTimeout = 5 * time.Minute

// CommandRunner executes external tools on behalf of the installer
// components. Output is combined stdout+stderr so tool diagnostics
// survive into error messages.
type CommandRunner interface {
	Run(ctx context.Context, cmd string) (string, error)
	RunInput(ctx context.Context, input string, cmd string) (string, error)
	RunUnbounded(ctx context.Context, cmd string) (string, error)
}

// Runner runs commands through /bin/sh with a bounded execution time.
type Runner struct {
	execer  exec.Interface
	timeout time.Duration
}

func NewRunner() *Runner {
	return NewRunnerWithTimeout(DefaultCommandTimeout)
}

func NewRunnerWithTimeout(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Runner{execer: exec.New(), timeout: timeout}
}

func (r *Runner) Run(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.run(ctx, "", cmd)
}

// RunInput feeds input to the command's stdin, for tools that insist
// on interactive confirmation.
func (r *Runner) RunInput(ctx context.Context, input string, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.run(ctx, input, cmd)
}

// RunUnbounded runs without the timeout ceiling, for steps whose
// duration scales with the image or package set size.
func (r *Runner) RunUnbounded(ctx context.Context, cmd string) (string, error) {
	return r.run(ctx, "", cmd)
}

func (r *Runner) run(ctx context.Context, input string, cmd string) (string, error) {
	klog.V(4).Infof("Exec command [%s]", cmd)
	c := r.execer.CommandContext(ctx, "/bin/sh", "-c", cmd)
	if input != "" {
		c.SetStdin(strings.NewReader(input))
	}
	output, err := c.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("exec [%s], output: %s, err: %v", cmd, string(output), err)
	}
	result := strings.TrimSuffix(string(output), "\n")
	return result, nil
}
