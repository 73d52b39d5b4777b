// Command pol2cat converts POL-2 time series into a FITS catalogue of
// polarisation vectors by running the Starlink SMURF, KAPPA, POLPACK and
// CURSA tasks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soniakeys/exit"

	"github.com/banshee-data/pol2cat/internal/config"
	"github.com/banshee-data/pol2cat/internal/history"
	"github.com/banshee-data/pol2cat/internal/monitoring"
	"github.com/banshee-data/pol2cat/internal/params"
	"github.com/banshee-data/pol2cat/internal/pipeline"
	"github.com/banshee-data/pol2cat/internal/security"
	"github.com/banshee-data/pol2cat/internal/shell"
	"github.com/banshee-data/pol2cat/internal/starlink"
	"github.com/banshee-data/pol2cat/internal/version"
)

const defaultHistory = "pol2cat-history.db"

func main() {
	defer exit.Handler()
	log.SetFlags(0)

	var err error
	if len(os.Args) > 1 && os.Args[1] == "history" {
		err = handleHistory(os.Args[2:], os.Stdout)
	} else {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err = run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		exit.Log(errorText(err, os.Getenv("POL2CAT_TRACE") != ""))
	}
}

// errorText is the message printed for a failed run. Domain errors are
// shown without detail unless trace is set.
func errorText(err error, trace bool) string {
	se, ok := starlink.AsError(err)
	if !ok {
		return err.Error()
	}
	if trace {
		return se.Error() + "\n\n" + se.Trace()
	}
	return se.Error()
}

type options struct {
	configFile string
	history    string
	png        string
	report     string
	target     string
	sshUser    string
	sshKey     string
	dryRun     bool
	version    bool
}

func newFlagSet(out io.Writer, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("pol2cat", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.configFile, "config-file", "", "Pipeline configuration JSON file")
	fs.StringVar(&o.history, "history", "", "Record the run in this SQLite history database")
	fs.StringVar(&o.png, "png", "", "Write a vector plot of the selected vectors to this PNG file")
	fs.StringVar(&o.report, "report", "", "Write an HTML report of the selected vectors to this file")
	fs.StringVar(&o.target, "target", "", "Run the Starlink tasks on this host over SSH")
	fs.StringVar(&o.sshUser, "ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	fs.StringVar(&o.sshKey, "ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Print the task commands without running them")
	fs.BoolVar(&o.version, "version", false, "Print the version and exit")
	fs.Usage = func() {
		fmt.Fprintln(out, "pol2cat - Convert POL-2 time series to a vector catalogue")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  pol2cat [flags] [PARAM=value ...] [IN [CAT [IREF [PI ...]]]]")
		fmt.Fprintln(out, "  pol2cat history [-history db] [-n N]")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Flags:")
		fs.PrintDefaults()
		fmt.Fprintln(out)
		params.Usage(out)
	}
	return fs
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var o options
	fs := newFlagSet(stderr, &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.version {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	for _, out := range []string{o.png, o.report} {
		if out == "" {
			continue
		}
		if err := security.ValidateOutputPath(out); err != nil {
			return err
		}
	}

	raw, err := params.Parse(fs.Args())
	if err != nil {
		return err
	}
	vals, err := params.Resolve(raw, params.TerminalPrompter())
	if err != nil {
		return err
	}

	cfg := config.EmptyPipelineConfig()
	if o.configFile != "" {
		if cfg, err = config.LoadPipelineConfig(o.configFile); err != nil {
			return err
		}
	}

	reporter := monitoring.NewReporter(stdout, vals.ILevel, vals.GLevel)
	if err := reporter.OpenLog(vals.LogFile); err != nil {
		return err
	}
	defer reporter.Close()
	monitoring.SetLogger(reporter.Debugf)
	defer monitoring.SetLogger(log.Printf)

	host, err := newHost(o)
	if err != nil {
		return err
	}
	host.SetLogger(reporter)

	inv := starlink.NewInvoker(host, reporter)
	inv.MsgFilter = vals.MsgFilter
	inv.ToolEnv = cfg.ToolEnv()

	var rec *history.Run
	if o.history != "" {
		store, err := history.Open(o.history)
		if err != nil {
			return err
		}
		defer store.Close()
		if rec, err = store.BeginRun(vals.In, vals.Cat, host.Target); err != nil {
			return err
		}
		inv.Recorder = rec
	}

	d := &pipeline.Driver{
		Params:  vals,
		Config:  cfg,
		Invoker: inv,
		Host:    host,
		Log:     reporter,
		DryRun:  o.dryRun,
	}

	start := time.Now()
	res, err := d.Run(ctx)
	outcome := history.Outcome{Err: err}
	if err == nil {
		outcome.Subarrays = res.Subarrays
		reporter.Debugf("pipeline finished in %s", time.Since(start).Round(time.Millisecond))
		if host.IsLocal() && !o.dryRun {
			products := pipeline.Products{PNG: o.png, Report: o.report}
			if rec != nil {
				products.Store = rec
			}
			outcome.Summary, err = d.WriteProducts(res, products)
			outcome.Err = err
		} else if o.png != "" || o.report != "" {
			reporter.Criticalf("WARNING: -png and -report need a local run; skipped")
		}
	}
	if rec != nil {
		if ferr := rec.Finish(outcome); ferr != nil {
			reporter.Criticalf("WARNING: %v", ferr)
		}
	}
	return err
}

// newHost returns the executor for the Starlink tasks, resolving a remote
// target through ~/.ssh/config.
func newHost(o options) (*shell.Executor, error) {
	host := shell.NewExecutor(o.target, o.sshUser, o.sshKey, "", o.dryRun)
	if host.IsLocal() {
		return host, nil
	}
	t, err := shell.ResolveTarget(o.target, o.sshUser, o.sshKey)
	if err != nil {
		return nil, err
	}
	if t.User == "" {
		t.User = os.Getenv("USER")
	}
	return shell.NewExecutor(t.Host, t.User, t.KeyPath, t.IdentityAgent, o.dryRun), nil
}

func handleHistory(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stdout)
	path := fs.String("history", defaultHistory, "SQLite history database")
	n := fs.Int("n", 20, "Number of runs to list (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*path); err != nil {
		return fmt.Errorf("no history database at %s: %w", *path, err)
	}
	store, err := history.Open(*path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(*n)
	if err != nil {
		return err
	}
	return history.WriteRuns(stdout, runs, time.Now())
}
