package starlink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/pol2cat/internal/timeutil"
)

// Runner runs one shell command line and returns its combined output.
// *shell.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, command string, env []string) (string, error)
}

// Recorder is told about every completed invocation.
type Recorder interface {
	RecordInvocation(command, output string, elapsed time.Duration, err error)
}

// Logger receives the ">>>" command echo and tool output.
// *monitoring.Reporter satisfies it.
type Logger interface {
	Ataskf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Ataskf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// MsgFilters are the accepted MSG_FILTER values.
var MsgFilters = []string{"NONE", "QUIET", "NORMAL", "VERBOSE", "DEBUG"}

// Invoker runs Starlink tasks with a private ADAM parameter directory.
type Invoker struct {
	Runner    Runner
	Logger    Logger
	Recorder  Recorder
	ADAMUser  string
	MsgFilter string
	ToolEnv   []string
	// Clock times each invocation for the Recorder.
	Clock timeutil.Clock
}

// NewInvoker creates an Invoker that runs commands through r.
func NewInvoker(r Runner, logger Logger) *Invoker {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Invoker{Runner: r, Logger: logger, MsgFilter: "NORMAL", Clock: timeutil.RealClock{}}
}

// Env returns the variables added to each task's environment.
func (inv *Invoker) Env() []string {
	env := make([]string, 0, 2+len(inv.ToolEnv))
	if inv.ADAMUser != "" {
		env = append(env, "ADAM_USER="+inv.ADAMUser)
	}
	if inv.MsgFilter != "" {
		env = append(env, "MSG_FILTER="+strings.ToUpper(inv.MsgFilter))
	}
	return append(env, inv.ToolEnv...)
}

// Invoke formats a command line, runs it and returns the tool output. A
// non-zero exit status or a "!!" error report in the output yields an
// *Error of kind KindAtask.
func (inv *Invoker) Invoke(ctx context.Context, format string, args ...interface{}) (string, error) {
	command := fmt.Sprintf(format, args...)
	inv.Logger.Ataskf(">>> %s", command)

	clock := inv.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()
	output, runErr := inv.Runner.Run(ctx, command, inv.Env())
	elapsed := clock.Since(start)

	output = strings.TrimRight(output, "\n")
	if output != "" {
		inv.Logger.Ataskf("%s", output)
	}

	var err error
	switch {
	case ctx.Err() != nil:
		err = &Error{Kind: KindAtask, Msg: "interrupted", Command: command, Output: output, Err: ctx.Err()}
	case runErr != nil:
		err = &Error{Kind: KindAtask, Msg: runErr.Error(), Command: command, Output: output, Err: runErr}
	case HasErrorReport(output):
		err = &Error{Kind: KindAtask, Msg: "error reported", Command: command, Output: output}
	}

	if inv.Recorder != nil {
		inv.Recorder.RecordInvocation(command, output, elapsed, err)
	}
	if err != nil {
		inv.Logger.Debugf("invocation failed after %s: %v", elapsed, err)
		return output, err
	}
	return output, nil
}
