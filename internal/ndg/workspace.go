// Package ndg manages the temporary workspace of a pol2cat run and the
// groups of intermediate images passed between Starlink tasks.
package ndg

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/pol2cat/internal/starlink"
)

// Host is where the workspace lives. *shell.Executor satisfies it, so the
// workspace follows the Starlink tasks onto a remote host.
type Host interface {
	MakeTempDir(ctx context.Context, prefix string) (string, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	RemoveAll(ctx context.Context, path string) error
}

// Logger receives workspace progress messages.
type Logger interface {
	Progressf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Progressf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{})    {}

// Workspace owns the directory of intermediate images and the private
// ADAM parameter directory for one run. Close it with defer as soon as
// Open succeeds.
type Workspace struct {
	// Dir holds every intermediate image and list file.
	Dir string
	// ADAMDir is used as ADAM_USER for every task.
	ADAMDir string
	// Retain keeps Dir after Close.
	Retain bool

	host   Host
	logger Logger
	seq    int
	closed bool
}

// Open creates the workspace directories on host.
func Open(ctx context.Context, host Host, retain bool, logger Logger) (*Workspace, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	dir, err := host.MakeTempDir(ctx, "pol2cat-")
	if err != nil {
		return nil, starlink.Wrap(starlink.KindWorkspace, err, "cannot create temporary directory")
	}
	adam, err := host.MakeTempDir(ctx, "pol2cat-adam-")
	if err != nil {
		_ = host.RemoveAll(context.Background(), dir)
		return nil, starlink.Wrap(starlink.KindWorkspace, err, "cannot create ADAM directory")
	}
	logger.Debugf("workspace %s, ADAM_USER %s", dir, adam)
	return &Workspace{Dir: dir, ADAMDir: adam, Retain: retain, host: host, logger: logger}, nil
}

// Close deletes the intermediate files unless Retain is set, in which case
// their location is reported. The ADAM directory is always removed.
// Close is safe to call more than once.
func (w *Workspace) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// The run context may already be cancelled; cleanup must still happen.
	ctx := context.Background()
	var errs []error
	if w.Retain {
		w.logger.Progressf("Retaining temporary files in %s", w.Dir)
	} else if err := w.host.RemoveAll(ctx, w.Dir); err != nil {
		errs = append(errs, fmt.Errorf("remove %s: %w", w.Dir, err))
	}
	if err := w.host.RemoveAll(ctx, w.ADAMDir); err != nil {
		errs = append(errs, fmt.Errorf("remove %s: %w", w.ADAMDir, err))
	}
	if len(errs) > 0 {
		return starlink.Wrap(starlink.KindWorkspace, errors.Join(errs...), "workspace cleanup failed")
	}
	return nil
}

func (w *Workspace) next() int {
	w.seq++
	return w.seq
}
