package testingexec

import (
	"context"
	"sync"
)

// FakeRunner records every command instead of executing it, so tests
// can assert command sequences without touching block devices.
type FakeRunner struct {
	mu       sync.Mutex
	Commands []string
	Inputs   []string

	// Handler supplies output and errors per command. Nil means every
	// command succeeds with empty output.
	Handler func(cmd string) (string, error)
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

func (f *FakeRunner) Run(ctx context.Context, cmd string) (string, error) {
	return f.record(ctx, "", cmd)
}

func (f *FakeRunner) RunInput(ctx context.Context, input string, cmd string) (string, error) {
	return f.record(ctx, input, cmd)
}

func (f *FakeRunner) RunUnbounded(ctx context.Context, cmd string) (string, error) {
	return f.record(ctx, "", cmd)
}

func (f *FakeRunner) record(ctx context.Context, input string, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.Commands = append(f.Commands, cmd)
	f.Inputs = append(f.Inputs, input)
	f.mu.Unlock()
	if f.Handler != nil {
		return f.Handler(cmd)
	}
	return "", nil
}

// CommandCount returns how many commands were recorded.
func (f *FakeRunner) CommandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Commands)
}
