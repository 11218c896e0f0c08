package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olegkotsar/dupesweep/checkpoint"
	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/deleter"
	"github.com/olegkotsar/dupesweep/logger"
	"github.com/olegkotsar/dupesweep/processor"
	"github.com/olegkotsar/dupesweep/remote"
)

var version = "dev"

// Exit codes
const (
	exitOK         = 0
	exitFatal      = 1 // invalid configuration or a run that could not continue
	exitIncomplete = 2 // failed or pending paths remain
)

// exitError carries the process exit code of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// flagBindings maps command-line flags to configuration keys
var flagBindings = map[string]string{
	"provider":          "storage.type",
	"root":              "scan.root",
	"category":          "scan.category",
	"include":           "scan.include",
	"exclude":           "scan.exclude",
	"ext":               "scan.extensions",
	"min-size":          "scan.min_size_bytes",
	"delete-scope":      "scan.delete_scope",
	"batch-size":        "delete.batch_size",
	"inter-batch-delay": "delete.inter_batch_delay",
	"post-error-delay":  "delete.post_error_delay",
	"max-retries":       "delete.max_retries",
	"checkpoint-type":   "checkpoint.type",
	"checkpoint-dir":    "checkpoint.file.dir",
	"scan-state":        "scan.state_file",
	"log-level":         "logger.level",
}

// app holds what every subcommand shares once flags are parsed
type app struct {
	configFile string
	cfg        *config.AppConfig
	log        logger.Logger
}

func main() {
	a := &app{}
	root := newRootCmd(a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()

	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dupesweep",
		Short: "Find and delete duplicate files in remote storage",
		Long: `dupesweep scans a Dropbox, S3 or FTP tree, groups files by content
fingerprint, keeps one copy per group and deletes the rest through the
provider's batch API. Deletion progress is checkpointed and can be resumed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Path to a YAML config file (env: DUPESWEEP_*)")
	pf.String("provider", "", "Storage provider: dropbox, s3, ftp")
	pf.String("root", "", "Remote folder to scan")
	pf.String("category", "", "File category preset: all, photos, models, ebooks")
	pf.StringSlice("include", nil, "Only scan paths matching these globs")
	pf.StringSlice("exclude", nil, "Skip paths matching these globs")
	pf.StringSlice("ext", nil, "File extensions to scan, overrides the category preset")
	pf.Int64("min-size", 0, "Skip files smaller than this many bytes")
	pf.StringSlice("delete-scope", nil, "Only delete duplicates matching these globs")
	pf.Int("batch-size", 0, "Paths per delete batch (max 1000)")
	pf.Duration("inter-batch-delay", 0, "Pause between delete batches")
	pf.Duration("post-error-delay", 0, "Minimum pause after a throttled or failed call")
	pf.Int("max-retries", 0, "Retries of a throttled or failed batch")
	pf.String("checkpoint-type", "", "Checkpoint store: file, bbolt")
	pf.String("checkpoint-dir", "", "Directory of the file checkpoint store")
	pf.String("scan-state", "", "File holding the state of an unfinished scan (empty disables it)")
	pf.String("log-level", "", "Log level: silent, error, info, debug, verbose")

	root.AddCommand(
		newScanCmd(a),
		newDeleteCmd(a),
		newResumeCmd(a),
		newInspectCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	bindings := make(map[string]string, len(flagBindings)+2)
	for k, v := range flagBindings {
		bindings[k] = v
	}
	if cmd.Flags().Lookup("plan-out") != nil {
		bindings["plan-out"] = "scan.plan_file"
	}
	if cmd.Flags().Lookup("resume") != nil {
		bindings["resume"] = "scan.resume"
	}

	cfg, err := config.Load(a.configFile, cmd.Flags(), bindings)
	if err != nil {
		return &exitError{code: exitFatal, err: err}
	}
	a.cfg = cfg
	a.log = logger.NewLogger(&cfg.Logger)
	return nil
}

// storeOnly opens the checkpoint store without touching the provider.
func (a *app) storeOnly() (checkpoint.Store, error) {
	if err := a.cfg.Checkpoint.Validate(); err != nil {
		return nil, &exitError{code: exitFatal, err: fmt.Errorf("checkpoint config error: %w", err)}
	}
	store, err := checkpoint.CreateStore(&a.cfg.Checkpoint)
	if err != nil {
		return nil, &exitError{code: exitFatal, err: err}
	}
	return store, nil
}

// runner validates the whole configuration and wires provider, store and processor.
// The returned func releases both.
func (a *app) runner() (*processor.Runner, func(), error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, &exitError{code: exitFatal, err: fmt.Errorf("configuration validation error: %w", err)}
	}

	provider, err := remote.CreateStorage(&a.cfg.Storage)
	if err != nil {
		return nil, nil, &exitError{code: exitFatal, err: err}
	}
	a.log.Info("Storage initialized: type=%s", provider.Name())

	store, err := a.storeOnly()
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	a.log.Debug("Checkpoint store initialized: type=%s", a.cfg.Checkpoint.CheckpointType)

	closeAll := func() {
		if err := store.Close(); err != nil {
			a.log.Error("Error closing checkpoint store: %v", err)
		}
		if err := provider.Close(); err != nil {
			a.log.Error("Error closing storage: %v", err)
		}
	}
	return processor.NewRunner(provider, store, a.cfg, a.log), closeAll, nil
}

// reportError turns the outcome of a deletion run into the exit status.
func reportError(rep *deleter.Report, err error) error {
	switch {
	case errors.Is(err, context.Canceled) && rep != nil:
		return &exitError{code: exitIncomplete, err: fmt.Errorf("interrupted, continue with: dupesweep resume %s", rep.PlanID)}
	case err != nil:
		return &exitError{code: exitFatal, err: err}
	case rep != nil && !rep.Clean():
		return &exitError{code: exitIncomplete, err: fmt.Errorf("%d paths failed, %d pending", len(rep.Failed), rep.Pending)}
	}
	return nil
}
