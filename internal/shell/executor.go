package shell

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/pol2cat/internal/fsutil"
)

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// nopLogger is a no-op logger implementation.
type nopLogger struct{}

func (n nopLogger) Debugf(format string, args ...interface{}) {}

// Executor runs command lines on the local machine or on a remote host.
// Local file work goes through FS so that tests can use an in-memory
// filesystem.
type Executor struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	DryRun        bool
	Logger        Logger
	Builder       CommandBuilder
	FS            fsutil.FileSystem
}

// NewExecutor creates a new command executor.
func NewExecutor(target, sshUser, sshKey, identityAgent string, dryRun bool) *Executor {
	return &Executor{
		Target:        target,
		SSHUser:       sshUser,
		SSHKey:        sshKey,
		IdentityAgent: identityAgent,
		DryRun:        dryRun,
		Logger:        nopLogger{},
		Builder:       NewRealCommandBuilder(),
		FS:            fsutil.OSFileSystem{},
	}
}

// NewLocalExecutor creates an executor for the local machine.
func NewLocalExecutor() *Executor {
	return NewExecutor("", "", "", "", false)
}

// SetLogger sets the debug logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.Logger = logger
	}
}

// IsLocal returns true if target is localhost.
func (e *Executor) IsLocal() bool {
	return e.Target == "localhost" || e.Target == "127.0.0.1" || e.Target == ""
}

// Run executes a shell command line with env added to the environment and
// returns its combined output.
func (e *Executor) Run(ctx context.Context, command string, env []string) (string, error) {
	if e.DryRun {
		return fmt.Sprintf("[DRY-RUN] Would execute: %s", command), nil
	}

	e.Logger.Debugf("Executing: %s (target=%s, local=%v)", command, e.Target, e.IsLocal())

	var cmd CommandExecutor
	if e.IsLocal() {
		cmd = e.Builder.BuildShellCommand(ctx, command)
		cmd.SetEnv(env)
	} else {
		cmd = e.buildSSHCommand(ctx, remoteCommand(command, env))
	}

	output, err := cmd.Run()
	if err != nil {
		e.Logger.Debugf("Command failed: %v, output: %s", err, output)
	}
	return string(output), err
}

// WriteFile writes content to a file on the target.
func (e *Executor) WriteFile(ctx context.Context, path string, data []byte) error {
	if e.DryRun || e.IsLocal() {
		return e.FS.WriteFile(path, data, 0644)
	}

	cmd := e.buildSSHCommand(ctx, "cat > "+Quote(path))
	cmd.SetStdin(data)
	if output, err := cmd.Run(); err != nil {
		return fmt.Errorf("ssh write failed: %w, output: %s", err, output)
	}
	return nil
}

// MakeTempDir creates a uniquely named directory in the target's
// temporary area and returns its path.
func (e *Executor) MakeTempDir(ctx context.Context, prefix string) (string, error) {
	if e.DryRun || e.IsLocal() {
		return e.FS.MkdirTemp("", prefix+"*")
	}

	output, err := e.buildSSHCommand(ctx, Join("mktemp", "-d", "-t", prefix+"XXXXXX")).Run()
	if err != nil {
		return "", fmt.Errorf("remote mktemp failed: %w, output: %s", err, output)
	}
	dir := strings.TrimSpace(string(output))
	if dir == "" || !filepath.IsAbs(dir) {
		return "", fmt.Errorf("remote mktemp returned unexpected path %q", dir)
	}
	return dir, nil
}

// RemoveAll deletes path and everything below it on the target.
func (e *Executor) RemoveAll(ctx context.Context, path string) error {
	if e.DryRun || e.IsLocal() {
		return e.FS.RemoveAll(path)
	}

	if output, err := e.buildSSHCommand(ctx, Join("rm", "-rf", path)).Run(); err != nil {
		return fmt.Errorf("remote remove failed: %w, output: %s", err, output)
	}
	return nil
}

// remoteCommand prefixes command with the environment it needs, since ssh
// does not forward the local environment.
func remoteCommand(command string, env []string) string {
	if len(env) == 0 {
		return command
	}
	words := append([]string{"env"}, env...)
	words = append(words, "sh", "-c", command)
	return Join(words...)
}

func (e *Executor) sshArgs() []string {
	args := []string{}

	if e.SSHKey != "" {
		args = append(args, "-i", e.SSHKey)
	}

	if e.IdentityAgent != "" {
		args = append(args, "-o", fmt.Sprintf("IdentityAgent=%s", e.IdentityAgent))
	}

	// BatchMode makes ssh fail instead of prompting, which would hang the
	// pipeline behind a password request.
	args = append(args, "-o", "BatchMode=yes")
	args = append(args, "-o", "LogLevel=ERROR")

	target := e.Target
	if e.SSHUser != "" && !strings.Contains(target, "@") {
		target = fmt.Sprintf("%s@%s", e.SSHUser, target)
	}

	return append(args, target)
}

func (e *Executor) buildSSHCommand(ctx context.Context, command string) CommandExecutor {
	args := append(e.sshArgs(), command)
	return e.Builder.BuildCommand(ctx, "ssh", args...)
}
