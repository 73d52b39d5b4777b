// Package shell builds and runs shell command lines on the local machine or
// on a remote Starlink host over SSH.
package shell

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	shellquote "github.com/kballard/go-shellquote"
)

// CommandExecutor defines an interface for executing shell commands.
// This abstraction enables unit testing without real shell execution.
type CommandExecutor interface {
	// Run executes the command and returns the combined output (stdout+stderr).
	Run() ([]byte, error)

	// SetStdin sets the stdin for the command.
	SetStdin(stdin []byte)

	// SetEnv adds KEY=value pairs to the inherited environment.
	SetEnv(env []string)
}

// CommandBuilder defines an interface for building shell commands.
type CommandBuilder interface {
	// BuildCommand creates a CommandExecutor for running a program directly.
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor

	// BuildShellCommand creates a CommandExecutor for running shell commands via sh -c.
	BuildShellCommand(ctx context.Context, command string) CommandExecutor
}

// Quote returns s quoted so that sh passes it through as a single word.
func Quote(s string) string {
	return shellquote.Join(s)
}

// Join quotes each word and joins them with spaces.
func Join(words ...string) string {
	return shellquote.Join(words...)
}

// RealCommandExecutor wraps exec.Cmd to implement CommandExecutor.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command and returns combined output.
func (r *RealCommandExecutor) Run() ([]byte, error) {
	return r.cmd.CombinedOutput()
}

// SetStdin sets stdin for the command.
func (r *RealCommandExecutor) SetStdin(stdin []byte) {
	r.cmd.Stdin = bytes.NewReader(stdin)
}

// SetEnv appends env to the current process environment.
func (r *RealCommandExecutor) SetEnv(env []string) {
	if len(env) == 0 {
		return
	}
	r.cmd.Env = append(os.Environ(), env...)
}

// RealCommandBuilder implements CommandBuilder using exec.CommandContext.
type RealCommandBuilder struct{}

// NewRealCommandBuilder creates a new RealCommandBuilder.
func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

// BuildCommand creates a CommandExecutor for the given command and arguments.
func (b *RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.CommandContext(ctx, name, args...)}
}

// BuildShellCommand creates a CommandExecutor for shell commands.
func (b *RealCommandBuilder) BuildShellCommand(ctx context.Context, command string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.CommandContext(ctx, "sh", "-c", command)}
}

// MockCommandExecutor implements CommandExecutor for testing.
type MockCommandExecutor struct {
	// Output is the output to return from Run.
	Output []byte
	// Err is the error to return from Run.
	Err error
	// Stdin holds the stdin data that was set.
	Stdin []byte
	// Env holds the environment additions that were set.
	Env []string
	// RunCalled indicates whether Run was called.
	RunCalled bool
}

// Run returns the configured output and error.
func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	return m.Output, m.Err
}

// SetStdin records the stdin data.
func (m *MockCommandExecutor) SetStdin(stdin []byte) {
	m.Stdin = stdin
}

// SetEnv records the environment additions.
func (m *MockCommandExecutor) SetEnv(env []string) {
	m.Env = append(m.Env, env...)
}

// MockBuiltCommand records details of a built command.
type MockBuiltCommand struct {
	Name     string
	Args     []string
	IsShell  bool
	Executor *MockCommandExecutor
}

// MockCommandBuilder implements CommandBuilder for testing.
type MockCommandBuilder struct {
	// Commands records all commands that were built.
	Commands []MockBuiltCommand
	// ExecutorFactory allows creating executors dynamically based on command.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

// NewMockCommandBuilder creates a new MockCommandBuilder.
func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

// BuildCommand creates a MockCommandExecutor and records the command details.
func (b *MockCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return b.record(name, args, false)
}

// BuildShellCommand creates a MockCommandExecutor for shell commands.
func (b *MockCommandBuilder) BuildShellCommand(ctx context.Context, command string) CommandExecutor {
	return b.record("sh", []string{"-c", command}, true)
}

func (b *MockCommandBuilder) record(name string, args []string, isShell bool) *MockCommandExecutor {
	var executor *MockCommandExecutor
	if b.ExecutorFactory != nil {
		executor = b.ExecutorFactory(name, args)
	}
	if executor == nil {
		executor = &MockCommandExecutor{}
	}
	b.Commands = append(b.Commands, MockBuiltCommand{
		Name:     name,
		Args:     args,
		IsShell:  isShell,
		Executor: executor,
	})
	return executor
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}

// Reset clears all recorded commands.
func (b *MockCommandBuilder) Reset() {
	b.Commands = nil
}
