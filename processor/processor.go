package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olegkotsar/dupesweep/catalog"
	"github.com/olegkotsar/dupesweep/checkpoint"
	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/dedupe"
	"github.com/olegkotsar/dupesweep/deleter"
	"github.com/olegkotsar/dupesweep/logger"
	"github.com/olegkotsar/dupesweep/model"
	"github.com/olegkotsar/dupesweep/remote"
)

// ErrAmbiguousResume is returned when no plan ID is given and several checkpoints are open.
var ErrAmbiguousResume = errors.New("several open checkpoints, pass a plan id")

type Runner struct {
	provider    remote.StorageProvider
	store       checkpoint.Store
	cfg         *config.AppConfig
	logger      logger.Logger
	builderOpts []catalog.Option
	engineOpts  []deleter.Option
	rpsInterval time.Duration
}

type Option func(*Runner)

// WithBuilderOptions passes options to the catalog builder of every scan.
func WithBuilderOptions(opts ...catalog.Option) Option {
	return func(r *Runner) { r.builderOpts = append(r.builderOpts, opts...) }
}

// WithEngineOptions passes options to the deletion engine of every run.
func WithEngineOptions(opts ...deleter.Option) Option {
	return func(r *Runner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// NewRunner creates a new Runner with the provided dependencies
func NewRunner(provider remote.StorageProvider, store checkpoint.Store, cfg *config.AppConfig, log logger.Logger, opts ...Option) *Runner {
	// Use NoOpLogger if none provided
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	r := &Runner{
		provider:    provider,
		store:       store,
		cfg:         cfg,
		logger:      log,
		rpsInterval: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ScanResult holds the plan of one scan and the statistics of both phases
type ScanResult struct {
	Plan  *model.DeletionPlan
	Scan  catalog.ScanStats
	Group dedupe.GroupStats
}

func (s *ScanResult) String() string {
	return fmt.Sprintf("Summary: scanned=%d, groups=%d, planned_deletions=%d, protected=%d, reclaimable=%d bytes (%.2f MB), plan=%s",
		s.Scan.Emitted, s.Plan.Groups, len(s.Plan.Candidates), s.Plan.Protected, s.Plan.ReclaimableBytes,
		float64(s.Plan.ReclaimableBytes)/(1024*1024), s.Plan.ID)
}

// ================== SCAN ==================

// Scan builds the inventory of the configured root, groups it and derives the
// deletion plan. The plan artifact is written when a plan file is configured.
// A scan that ends early yields an error and no plan; with a scan state file
// configured its progress is kept for a later run with Resume.
func (r *Runner) Scan(ctx context.Context) (*ScanResult, error) {
	root := r.cfg.Scan.Root
	r.logger.Info("Scanning %s on %s", displayRoot(root), r.provider.Name())

	grouper := dedupe.NewGrouper(r.provider.Name(), r.cfg.Scan.DeleteScope, r.logger)
	tracker, stateOpts, err := r.newScanTracker(grouper)
	if err != nil {
		return nil, err
	}

	opts := append(append([]catalog.Option{}, r.builderOpts...), stateOpts...)
	builder := catalog.NewBuilder(r.provider, catalog.NewFilter(&r.cfg.Scan), r.logger, opts...)

	stopRPS := r.logRPS(ctx, "listing")
	defer stopRPS()

	filesCh, errCh := builder.Stream(ctx, root)
	for entry := range filesCh {
		// malformed entries are counted and logged by the grouper
		_ = grouper.Add(entry)
		if err := tracker.added(ctx); err != nil {
			r.logger.Warn("Could not save scan state: %v", err)
		}
	}
	if err := <-errCh; err != nil {
		r.logger.Error("Scan aborted after %d entries: %v", builder.Stats().Emitted, err)
		tracker.interrupted(ctx)
		return nil, fmt.Errorf("scan incomplete, no plan produced: %w", err)
	}
	if err := tracker.finished(); err != nil {
		r.logger.Warn("Could not remove scan state: %v", err)
	}

	scanStats := builder.Stats()
	r.logger.Info(scanStats.String())

	plan := grouper.Plan(root)
	groupStats := grouper.Stats()
	r.logger.Info(groupStats.String())

	if path := r.cfg.Scan.PlanFile; path != "" {
		if err := dedupe.WritePlan(ctx, path, plan); err != nil {
			return nil, err
		}
		r.logger.Info("Plan %s written to %s", plan.ID, path)
	}

	return &ScanResult{Plan: plan, Scan: scanStats, Group: groupStats}, nil
}

func displayRoot(root string) string {
	if root == "" {
		return "/"
	}
	return root
}

// ================== DELETE ==================

// Delete executes plan, resuming its checkpoint when one is open.
func (r *Runner) Delete(ctx context.Context, plan *model.DeletionPlan) (*deleter.Report, error) {
	if plan.Provider != "" && plan.Provider != r.provider.Name() {
		return nil, fmt.Errorf("plan %s was made for provider %q, configured provider is %q", plan.ID, plan.Provider, r.provider.Name())
	}
	if len(plan.Candidates) == 0 {
		r.logger.Info("Plan %s has nothing to delete", plan.ID)
		return &deleter.Report{PlanID: plan.ID}, nil
	}

	stopRPS := r.logRPS(ctx, "delete")
	defer stopRPS()

	rep, err := r.engine().Run(ctx, plan)
	r.logReport(rep, err)
	return rep, err
}

// ScanAndDelete runs a scan and deletes the resulting plan.
func (r *Runner) ScanAndDelete(ctx context.Context) (*ScanResult, *deleter.Report, error) {
	res, err := r.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	r.logger.Info(res.String())

	rep, err := r.Delete(ctx, res.Plan)
	return res, rep, err
}

// Resume continues the checkpoint of planID. With an empty planID the only
// open checkpoint is used.
func (r *Runner) Resume(ctx context.Context, planID string) (*deleter.Report, error) {
	if planID == "" {
		id, err := r.onlyOpenCheckpoint(ctx)
		if err != nil {
			return nil, err
		}
		planID = id
	}

	stopRPS := r.logRPS(ctx, "delete")
	defer stopRPS()

	rep, err := r.engine().Resume(ctx, planID)
	r.logReport(rep, err)
	return rep, err
}

func (r *Runner) onlyOpenCheckpoint(ctx context.Context) (string, error) {
	open, err := r.store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("listing checkpoints: %w", err)
	}
	switch len(open) {
	case 0:
		return "", deleter.ErrNoCheckpoint
	case 1:
		return open[0].PlanID, nil
	default:
		ids := make([]string, len(open))
		for i, cp := range open {
			ids[i] = cp.PlanID
		}
		return "", fmt.Errorf("%w: %s", ErrAmbiguousResume, strings.Join(ids, ", "))
	}
}

// Checkpoints lists the open checkpoints, most recently updated first.
func (r *Runner) Checkpoints(ctx context.Context) ([]*model.Checkpoint, error) {
	return r.store.List(ctx)
}

// Checkpoint loads one open checkpoint.
func (r *Runner) Checkpoint(ctx context.Context, planID string) (*model.Checkpoint, error) {
	return r.store.Load(ctx, planID)
}

func (r *Runner) engine() *deleter.Engine {
	cfg := deleter.ConfigFrom(&r.cfg.Delete, r.cfg.Checkpoint.Archive)
	return deleter.NewEngine(r.provider, r.store, cfg, r.logger, r.engineOpts...)
}

func (r *Runner) logReport(rep *deleter.Report, err error) {
	if rep != nil {
		r.logger.Info(rep.String())
		for _, f := range rep.Failed {
			r.logger.Warn("Not deleted: %s (%s)", f.Path, f.Reason)
		}
	}
	if err != nil {
		r.logger.Error("Deletion stopped: %v", err)
	}
}

// logRPS periodically logs the provider request rate until the returned func is called.
func (r *Runner) logRPS(ctx context.Context, phase string) func() {
	reporter, ok := r.provider.(remote.RateReporter)
	if !ok {
		return func() {}
	}

	rpsCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(r.rpsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rpsCtx.Done():
				return
			case <-ticker.C:
				if rps := reporter.CurrentRPS(); rps > 0 {
					r.logger.Info("%s %s: current RPS = %d req/s", r.provider.Name(), phase, rps)
				}
			}
		}
	}()
	return cancel
}
