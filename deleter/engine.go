package deleter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/olegkotsar/dupesweep/checkpoint"
	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/logger"
	"github.com/olegkotsar/dupesweep/model"
	"github.com/olegkotsar/dupesweep/remote"
)

var (
	// ErrFatal stops a run; the checkpoint holds everything settled so far.
	ErrFatal = errors.New("fatal deletion error")
	// ErrRetriesExhausted reports a transient failure that outlasted max_retries.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrNoCheckpoint is returned by Resume when the plan has no open checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint for plan")
)

// Config paces the engine. See config.DeleteConfig for the defaults.
type Config struct {
	BatchSize       int
	InterBatchDelay time.Duration
	PostErrorDelay  time.Duration
	PollInterval    time.Duration
	MaxRetries      int
	CallTimeout     time.Duration
	Archive         bool // keep the finished checkpoint in the archive
}

// ConfigFrom converts the loaded configuration.
func ConfigFrom(dc *config.DeleteConfig, archive bool) Config {
	return Config{
		BatchSize:       dc.BatchSize,
		InterBatchDelay: dc.InterBatchDelay,
		PostErrorDelay:  dc.PostErrorDelay,
		PollInterval:    dc.PollInterval,
		MaxRetries:      dc.MaxRetries,
		CallTimeout:     dc.CallTimeout,
		Archive:         archive,
	}
}

// Report summarizes the state of a plan after a run.
type Report struct {
	PlanID         string
	RunID          string
	Deleted        int // settled as deleted, including paths already gone
	Absent         int // of Deleted, paths the provider no longer had
	Failed         []model.FailedPath
	Pending        int
	BytesReclaimed int64
	Batches        int // batches submitted by this run
	Retries        int // resubmissions and re-polls by this run
}

// Clean reports whether every planned path was deleted.
func (r *Report) Clean() bool {
	return len(r.Failed) == 0 && r.Pending == 0
}

func (r *Report) String() string {
	return fmt.Sprintf("Delete: plan=%s, deleted=%d (absent=%d), failed=%d, pending=%d, reclaimed=%d bytes, batches=%d, retries=%d",
		r.PlanID, r.Deleted, r.Absent, len(r.Failed), r.Pending, r.BytesReclaimed, r.Batches, r.Retries)
}

// Engine deletes the candidates of a plan in batches, one call at a time,
// saving the checkpoint after every batch outcome.
type Engine struct {
	provider remote.StorageProvider
	store    checkpoint.Store
	cfg      Config
	logger   logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	newRunID func() string

	batches int
	retries int
}

type Option func(*Engine)

// WithSleep replaces every wait of the engine; tests use it to skip real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. The batch size is clamped to the provider maximum.
func NewEngine(provider remote.StorageProvider, store checkpoint.Store, cfg Config, log logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if limit := provider.MaxBatchSize(); cfg.BatchSize <= 0 || (limit > 0 && cfg.BatchSize > limit) {
		cfg.BatchSize = limit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.ProviderMaxBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	e := &Engine{
		provider: provider,
		store:    store,
		cfg:      cfg,
		logger:   log.With("component", "deleter"),
		sleep:    sleepCtx,
		now:      time.Now,
		newRunID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run deletes the candidates of plan. An open checkpoint for the same plan
// is resumed; otherwise a new one is saved before the first batch.
func (e *Engine) Run(ctx context.Context, plan *model.DeletionPlan) (*Report, error) {
	cp, err := e.store.Load(ctx, plan.ID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		cp = model.NewCheckpoint(*plan, e.newRunID(), e.now().UTC())
		if err := e.save(ctx, cp); err != nil {
			return nil, err
		}
		e.logger.Info("Starting plan %s: %d paths, %d bytes", plan.ID, len(plan.Candidates), plan.ReclaimableBytes)
	case err != nil:
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	default:
		cp.RunID = e.newRunID()
		e.logger.Info("Resuming plan %s from checkpoint: %d completed, %d failed", cp.PlanID, len(cp.Completed), len(cp.Failed))
	}
	return e.execute(ctx, cp)
}

// Resume continues the plan stored in an existing checkpoint.
func (e *Engine) Resume(ctx context.Context, planID string) (*Report, error) {
	cp, err := e.store.Load(ctx, planID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w %s", ErrNoCheckpoint, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	cp.RunID = e.newRunID()
	e.logger.Info("Resuming plan %s: %d completed, %d failed, %d pending", cp.PlanID, len(cp.Completed), len(cp.Failed), len(cp.Pending()))
	return e.execute(ctx, cp)
}

func (e *Engine) execute(ctx context.Context, cp *model.Checkpoint) (*Report, error) {
	e.batches, e.retries = 0, 0
	log := e.logger.With("plan", cp.PlanID)

	if cp.InFlight != nil {
		if err := e.recoverInFlight(ctx, cp, log); err != nil {
			return e.report(cp), e.stop(ctx, cp, err)
		}
	}

	for {
		pending := cp.Pending()
		if len(pending) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return e.report(cp), e.stop(ctx, cp, err)
		}

		if e.batches > 0 {
			if err := e.sleep(ctx, e.cfg.InterBatchDelay); err != nil {
				return e.report(cp), e.stop(ctx, cp, err)
			}
		}

		n := e.cfg.BatchSize
		if n > len(pending) {
			n = len(pending)
		}
		paths := make([]string, n)
		for i := range paths {
			paths[i] = pending[i].Path
		}

		e.batches++
		if err := e.deleteBatch(ctx, cp, paths, log.With("batch", e.batches)); err != nil {
			return e.report(cp), e.stop(ctx, cp, err)
		}
	}

	rep := e.report(cp)
	if rep.Clean() {
		if err := e.store.Finalize(ctx, cp.PlanID, e.cfg.Archive); err != nil {
			return rep, fmt.Errorf("finalizing checkpoint: %w", err)
		}
		log.Info("Plan completed, checkpoint finalized")
	} else {
		log.Warn("Plan finished with %d failed paths, checkpoint kept for review", len(rep.Failed))
	}
	return rep, nil
}

// stop saves the checkpoint on the way out of a failed or cancelled run.
func (e *Engine) stop(ctx context.Context, cp *model.Checkpoint, cause error) error {
	if err := e.save(ctx, cp); err != nil {
		return fmt.Errorf("%w (after: %v)", err, cause)
	}
	return cause
}

// save persists the checkpoint even when ctx is already cancelled.
func (e *Engine) save(ctx context.Context, cp *model.Checkpoint) error {
	cp.UpdatedAt = e.now().UTC()
	if err := e.store.Save(context.WithoutCancel(ctx), cp); err != nil {
		return fmt.Errorf("%w: saving checkpoint: %w", ErrFatal, err)
	}
	return nil
}

func (e *Engine) report(cp *model.Checkpoint) *Report {
	return &Report{
		PlanID:         cp.PlanID,
		RunID:          cp.RunID,
		Deleted:        len(cp.Completed),
		Absent:         len(cp.Absent),
		Failed:         append([]model.FailedPath(nil), cp.Failed...),
		Pending:        len(cp.Pending()),
		BytesReclaimed: cp.BytesReclaimed(),
		Batches:        e.batches,
		Retries:        e.retries,
	}
}

// recoverInFlight settles a job submitted by an interrupted run. Paths the
// provider cannot account for stay pending and are resubmitted in plan order.
func (e *Engine) recoverInFlight(ctx context.Context, cp *model.Checkpoint, log logger.Logger) error {
	inf := cp.InFlight
	log.Info("Re-checking in-flight job %s (%d paths, submitted %s)", inf.JobID, len(inf.Paths), inf.SubmittedAt.Format(time.RFC3339))

	outcomes, err := e.poll(ctx, inf, log)
	if errors.Is(err, remote.ErrInvalidCredential) {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	if err != nil {
		return err
	}
	cp.InFlight = nil
	// unsettled paths stay pending and go out again in plan order
	e.apply(cp, outcomes, log)
	return e.save(ctx, cp)
}

// deleteBatch drives one batch until every path is settled or the run must stop.
func (e *Engine) deleteBatch(ctx context.Context, cp *model.Checkpoint, paths []string, log logger.Logger) error {
	remaining := paths
	attempt := 0

	for len(remaining) > 0 {
		outcomes, err := e.submit(ctx, cp, remaining, log)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, ErrRetriesExhausted), errors.Is(err, ErrFatal):
				return err
			case errors.Is(err, remote.ErrInvalidCredential):
				return fmt.Errorf("%w: %w", ErrFatal, err)
			case errors.Is(err, remote.ErrNotFound):
				for _, p := range remaining {
					cp.MarkAbsent(p)
				}
				log.Info("Batch of %d paths already gone: %v", len(remaining), err)
				return e.save(ctx, cp)
			case remote.Retryable(err):
				if attempt >= e.cfg.MaxRetries {
					if errors.Is(err, remote.ErrRateLimited) {
						reason := fmt.Sprintf("rate limited after %d retries", attempt)
						for _, p := range remaining {
							cp.MarkFailed(p, reason)
						}
						log.Warn("Giving up on %d paths: %s", len(remaining), reason)
						return e.save(ctx, cp)
					}
					return fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, attempt, err)
				}
				attempt++
				e.retries++
				wait := e.retryDelay(err)
				log.Warn("Batch of %d paths: %v, retrying in %s (%d/%d)", len(remaining), err, wait, attempt, e.cfg.MaxRetries)
				if err := e.sleep(ctx, wait); err != nil {
					return err
				}
				continue
			default:
				for _, p := range remaining {
					cp.MarkFailed(p, err.Error())
				}
				log.Error("Batch of %d paths failed: %v", len(remaining), err)
				return e.save(ctx, cp)
			}
		}

		retry := e.apply(cp, outcomes, log)
		if err := e.save(ctx, cp); err != nil {
			return err
		}
		if len(retry) == 0 {
			return nil
		}

		if attempt >= e.cfg.MaxRetries {
			for _, o := range retry {
				cp.MarkFailed(o.Path, fmt.Sprintf("%s after %d retries", o.Reason, attempt))
			}
			log.Warn("Giving up on %d unsettled paths after %d retries", len(retry), attempt)
			return e.save(ctx, cp)
		}
		attempt++
		e.retries++
		log.Info("%d paths not settled, retrying in %s (%d/%d)", len(retry), e.cfg.PostErrorDelay, attempt, e.cfg.MaxRetries)
		if err := e.sleep(ctx, e.cfg.PostErrorDelay); err != nil {
			return err
		}
		remaining = make([]string, 0, len(retry))
		for _, o := range retry {
			remaining = append(remaining, o.Path)
		}
	}
	return nil
}

// retryDelay honours a server-requested wait when it is longer than post_error_delay.
func (e *Engine) retryDelay(err error) time.Duration {
	wait := e.cfg.PostErrorDelay
	if ra := remote.RetryAfter(err); ra > wait {
		wait = ra
	}
	return wait
}

// callContext bounds one provider call by CallTimeout; zero leaves it unbounded.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

// submit sends one delete call and returns an outcome for every path, in order.
// An asynchronous job is recorded as in flight before it is polled.
func (e *Engine) submit(ctx context.Context, cp *model.Checkpoint, paths []string, log logger.Logger) ([]model.PathOutcome, error) {
	callCtx, cancel := e.callContext(ctx)
	sub, err := e.provider.DeleteBatch(callCtx, paths)
	cancel()
	if err != nil {
		return nil, remote.Classify("delete_batch", err)
	}
	if sub.JobID == "" {
		return align(paths, sub.Outcomes), nil
	}

	cp.InFlight = &model.InFlightBatch{JobID: sub.JobID, Paths: paths, SubmittedAt: e.now().UTC()}
	if err := e.save(ctx, cp); err != nil {
		return nil, err
	}
	log.Debug("Submitted job %s for %d paths", sub.JobID, len(paths))

	outcomes, err := e.poll(ctx, cp.InFlight, log)
	if err != nil {
		return nil, err
	}
	cp.InFlight = nil
	return outcomes, nil
}

// poll waits for an asynchronous job. An unknown job, or one the provider
// rejects outright, leaves its paths to be resubmitted.
func (e *Engine) poll(ctx context.Context, inf *model.InFlightBatch, log logger.Logger) ([]model.PathOutcome, error) {
	retries := 0
	for {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return nil, err
		}

		callCtx, cancel := e.callContext(ctx)
		st, err := e.provider.CheckJob(callCtx, inf.JobID)
		cancel()

		if err != nil {
			err = remote.Classify("check_job", err)
			switch {
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, remote.ErrNotFound), errors.Is(err, remote.ErrPermanent):
				log.Warn("Job %s cannot be checked (%v), its paths will be resubmitted", inf.JobID, err)
				return uniform(inf.Paths, model.OutcomeRetry, "job result unavailable"), nil
			case remote.Retryable(err):
				if retries >= e.cfg.MaxRetries {
					return nil, fmt.Errorf("%w after %d retries polling job %s: %w", ErrRetriesExhausted, retries, inf.JobID, err)
				}
				retries++
				e.retries++
				if err := e.sleep(ctx, e.retryDelay(err)); err != nil {
					return nil, err
				}
				continue
			default:
				return nil, err
			}
		}

		if !st.Done {
			log.Verbose("Job %s still in progress", inf.JobID)
			continue
		}
		if st.FailureReason != "" {
			if st.RateLimited {
				return uniform(inf.Paths, model.OutcomeRetry, st.FailureReason), nil
			}
			return uniform(inf.Paths, model.OutcomeFailed, st.FailureReason), nil
		}
		return align(inf.Paths, st.Outcomes), nil
	}
}

// apply records settled outcomes in the checkpoint and returns the ones to retry.
func (e *Engine) apply(cp *model.Checkpoint, outcomes []model.PathOutcome, log logger.Logger) []model.PathOutcome {
	var deleted, absent, failed int
	var retry []model.PathOutcome
	for _, o := range outcomes {
		log.Verbose("%s: %s %s", o.Path, o.Status, o.Reason)
		switch o.Status {
		case model.OutcomeDeleted:
			cp.MarkCompleted(o.Path)
			deleted++
		case model.OutcomeAbsent:
			cp.MarkAbsent(o.Path)
			absent++
		case model.OutcomeFailed:
			cp.MarkFailed(o.Path, o.Reason)
			failed++
		default:
			if o.Reason == "" {
				o.Reason = "not settled"
			}
			retry = append(retry, o)
		}
	}
	log.Info("Batch outcome: deleted=%d, absent=%d, failed=%d, retry=%d", deleted, absent, failed, len(retry))
	return retry
}

// align matches provider outcomes to the submitted paths. Outcomes without a
// path are positional. A path the provider did not report is retried.
func align(paths []string, outcomes []model.PathOutcome) []model.PathOutcome {
	byPath := make(map[string]model.PathOutcome, len(outcomes))
	for i, o := range outcomes {
		if o.Path == "" {
			if i >= len(paths) {
				continue
			}
			o.Path = paths[i]
		}
		byPath[o.Path] = o
	}

	out := make([]model.PathOutcome, len(paths))
	for i, p := range paths {
		o, ok := byPath[p]
		if !ok {
			o = model.PathOutcome{Path: p, Status: model.OutcomeRetry, Reason: "not reported"}
		}
		out[i] = o
	}
	return out
}

func uniform(paths []string, status model.OutcomeStatus, reason string) []model.PathOutcome {
	out := make([]model.PathOutcome, len(paths))
	for i, p := range paths {
		out[i] = model.PathOutcome{Path: p, Status: status, Reason: reason}
	}
	return out
}
