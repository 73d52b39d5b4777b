package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level orders how much detail is reported.
type Level int

const (
	None Level = iota
	Critical
	Progress
	Atask
	Debug
)

var levelNames = []string{"NONE", "CRITICAL", "PROGRESS", "ATASK", "DEBUG"}

func (l Level) String() string {
	if l < None || l > Debug {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return None, fmt.Errorf("unknown message level %q (want one of %s)", s, strings.Join(levelNames, ", "))
}

var criticalColor = color.New(color.FgRed, color.Bold)

// Reporter writes script messages to the screen, filtered by the screen
// level, and to an optional log file, filtered by the file level.
type Reporter struct {
	mu       sync.Mutex
	ilevel   Level
	glevel   Level
	screen   io.Writer
	file     *log.Logger
	closer   io.Closer
	colorize bool
}

// NewReporter creates a Reporter writing to screen. Call OpenLog to attach
// a log file.
func NewReporter(screen io.Writer, ilevel, glevel Level) *Reporter {
	r := &Reporter{ilevel: ilevel, glevel: glevel, screen: screen}
	if f, ok := screen.(*os.File); ok && f == os.Stdout {
		r.colorize = !color.NoColor
	}
	return r
}

// OpenLog creates (truncating) the log file. It does nothing when the file
// level is None.
func (r *Reporter) OpenLog(path string) error {
	if r.glevel <= None {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	r.AttachLog(f)
	return nil
}

// AttachLog directs file output to w. If w is an io.Closer it is closed by
// Close.
func (r *Reporter) AttachLog(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file = log.New(w, "", log.LstdFlags)
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
}

// Close closes the log file, if any.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	r.file = nil
	return err
}

// Enabled reports whether a message at l reaches either destination.
func (r *Reporter) Enabled(l Level) bool {
	return l <= r.ilevel || (r.file != nil && l <= r.glevel)
}

// Report writes a message at level l.
func (r *Reporter) Report(l Level, format string, args ...interface{}) {
	if l <= None {
		return
	}
	msg := fmt.Sprintf(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if l <= r.ilevel && r.screen != nil {
		if l == Critical && r.colorize {
			criticalColor.Fprintln(r.screen, msg)
		} else {
			fmt.Fprintln(r.screen, msg)
		}
	}
	if r.file != nil && l <= r.glevel {
		r.file.Print(msg)
	}
}

// Criticalf reports warnings and errors.
func (r *Reporter) Criticalf(format string, args ...interface{}) {
	r.Report(Critical, format, args...)
}

// Progressf reports script progress.
func (r *Reporter) Progressf(format string, args ...interface{}) {
	r.Report(Progress, format, args...)
}

// Ataskf reports tool invocations and their output.
func (r *Reporter) Ataskf(format string, args ...interface{}) {
	r.Report(Atask, format, args...)
}

// Debugf reports debugging detail.
func (r *Reporter) Debugf(format string, args ...interface{}) {
	r.Report(Debug, format, args...)
}
