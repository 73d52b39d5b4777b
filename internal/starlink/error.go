// Package starlink runs Starlink application tasks (atasks) and reports
// their failures.
package starlink

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Kind classifies a pol2cat failure.
type Kind int

const (
	// KindAtask is a Starlink task that exited non-zero or reported "!!".
	KindAtask Kind = iota
	// KindParameter is a missing or invalid parameter value.
	KindParameter
	// KindWorkspace is a failure to create or populate temporary files.
	KindWorkspace
)

func (k Kind) String() string {
	switch k {
	case KindAtask:
		return "atask"
	case KindParameter:
		return "parameter"
	case KindWorkspace:
		return "workspace"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the one error category the command reports to the user without
// a trace.
type Error struct {
	Kind    Kind
	Msg     string
	Command string
	Output  string
	Err     error
}

// Errorf creates an Error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and a message to err.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Kind == KindAtask && e.Command != "" {
		msg = fmt.Sprintf("%s failed", toolName(e.Command))
		if report := errorReport(e.Output); report != "" {
			msg += ":\n" + report
		} else if e.Msg != "" {
			msg += ": " + e.Msg
		}
		return msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Trace returns the failing command line and the complete tool output,
// for display when POL2CAT_TRACE is set.
func (e *Error) Trace() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pol2cat %s error\n", e.Kind)
	if e.Command != "" {
		fmt.Fprintf(&b, "command: %s\n", e.Command)
	}
	if e.Output != "" {
		fmt.Fprintf(&b, "output:\n%s\n", strings.TrimRight(e.Output, "\n"))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, "cause: %v\n", e.Err)
	}
	return b.String()
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}

// toolName is the base name of the first word in a command line, for
// example "wcsframe" for "$KAPPA_DIR/wcsframe cube POLANAL".
func toolName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "command"
	}
	return path.Base(fields[0])
}

// errorReport collects the Starlink error lines from tool output. Error
// reports start with "!!" and continue with lines starting with "!".
func errorReport(output string) string {
	var lines []string
	inReport := false
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "!!"):
			inReport = true
			lines = append(lines, trimmed)
		case inReport && strings.HasPrefix(trimmed, "!"):
			lines = append(lines, trimmed)
		default:
			inReport = false
		}
	}
	return strings.Join(lines, "\n")
}

// HasErrorReport reports whether output holds a Starlink "!!" error line.
func HasErrorReport(output string) bool {
	return errorReport(output) != ""
}
