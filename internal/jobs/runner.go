package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tetherhq/tether-api/internal/classify"
	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/platform/metrics"
	"github.com/tetherhq/tether-api/internal/store"
)

// errorRecorder is the slice of the error tracker the runner needs.
// Recording never fails; tracker-internal faults are logged and swallowed
// on the tracker side.
type errorRecorder interface {
	RecordJob(ctx context.Context, ownerID, jobID uuid.UUID, rawErr error, classifyCtx classify.Context) *domain.ErrorRecord
}

// RunnerConfig holds the runner's tunable policy.
type RunnerConfig struct {
	// DefaultMaxJobs caps a run when the caller supplies no ceiling.
	DefaultMaxJobs int

	// StuckThreshold is how long a job may sit in processing before it
	// counts as stuck.
	StuckThreshold time.Duration

	// DispatchRatePerSecond throttles handler dispatch. Zero disables the
	// limiter.
	DispatchRatePerSecond float64
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		DefaultMaxJobs: 25,
		StuckThreshold: 10 * time.Minute,
	}
}

// RunOptions narrows one runner invocation.
type RunOptions struct {
	// JobIDs restricts the run to the named jobs. The retry orchestrator
	// uses this to drive exactly the jobs it just requeued instead of
	// whatever else is waiting in the owner's queue.
	JobIDs []uuid.UUID

	// Kinds restricts the run to the given job kinds. Empty means all.
	Kinds []domain.JobKind

	// BatchID restricts the run to one enqueue batch.
	BatchID string

	// MaxJobs caps how many jobs this run may claim. Zero falls back to
	// the configured default. This is the admission control keeping one
	// manual trigger from monopolizing rate-limited downstream APIs.
	MaxJobs int

	// IncludeRetrying widens the eligible set to jobs parked in retrying.
	IncludeRetrying bool

	// SkipStuckJobs leaves stuck jobs alone. Setting it to false is the
	// explicit operator opt-in that resets them to queued first.
	SkipStuckJobs bool
}

// JobError captures one per-job failure for the aggregate result.
type JobError struct {
	JobID       uuid.UUID            `json:"job_id"`
	Kind        domain.JobKind       `json:"kind"`
	Message     string               `json:"message"`
	Category    domain.ErrorCategory `json:"category"`
	UserMessage string               `json:"user_message"`
}

// JobOutcome reports the final state of one claimed job.
type JobOutcome struct {
	JobID    uuid.UUID        `json:"job_id"`
	Kind     domain.JobKind   `json:"kind"`
	Status   domain.JobStatus `json:"status"`
	Attempts int              `json:"attempts"`
}

// RunResult is the aggregate outcome of one runner invocation. Per-job
// failures never escape as errors; they are tallied here.
type RunResult struct {
	Processed       int          `json:"processed"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	Skipped         int          `json:"skipped"`
	Jobs            []JobOutcome `json:"jobs"`
	Errors          []JobError   `json:"errors"`
	Recommendations []string     `json:"recommendations"`
}

// Runner claims eligible jobs and dispatches them to kind-specific
// handlers. Multiple runners may execute concurrently for the same owner;
// the store's compare-and-set claim guarantees each job runs at most once.
type Runner struct {
	jobStore store.JobStore
	recorder errorRecorder
	registry *Registry
	limiter  *rate.Limiter
	metrics  *metrics.JobMetrics
	config   RunnerConfig
	logger   *slog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(
	jobStore store.JobStore,
	recorder errorRecorder,
	registry *Registry,
	jobMetrics *metrics.JobMetrics,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if jobStore == nil || recorder == nil || registry == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("job store, recorder, and registry cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if config.DefaultMaxJobs <= 0 {
		config.DefaultMaxJobs = DefaultRunnerConfig().DefaultMaxJobs
	}
	if config.StuckThreshold <= 0 {
		config.StuckThreshold = DefaultRunnerConfig().StuckThreshold
	}

	var limiter *rate.Limiter
	if config.DispatchRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.DispatchRatePerSecond), 1)
	}

	return &Runner{
		jobStore: jobStore,
		recorder: recorder,
		registry: registry,
		limiter:  limiter,
		metrics:  jobMetrics,
		config:   config,
		logger:   logger.With(slog.String("component", "job_runner")),
	}
}

// Run claims up to MaxJobs eligible jobs for the owner, oldest first, and
// executes each to completion before claiming the next. Jobs lost to a
// concurrent runner's claim are silently skipped. Only infrastructure
// failures (the job store being unreachable) return an error; every
// handler failure is classified, recorded, and reported in the aggregate.
func (r *Runner) Run(ctx context.Context, ownerID uuid.UUID, opts RunOptions) (*RunResult, error) {
	log := logger.FromContextOrDefault(ctx, r.logger)
	started := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RunDuration.Observe(time.Since(started).Seconds())
		}
	}()

	if !opts.SkipStuckJobs {
		reset, err := r.jobStore.ResetStuck(ctx, ownerID, r.config.StuckThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to reset stuck jobs: %w", err)
		}
		if reset > 0 {
			log.Info("reset stuck jobs before run", slog.Int64("count", reset))
		}
	}

	maxJobs := opts.MaxJobs
	if maxJobs <= 0 {
		maxJobs = r.config.DefaultMaxJobs
	}

	eligible, err := r.jobStore.ListEligible(ctx, ownerID, store.ListJobsOptions{
		JobIDs:          opts.JobIDs,
		Kinds:           opts.Kinds,
		BatchID:         opts.BatchID,
		IncludeRetrying: opts.IncludeRetrying,
		Limit:           maxJobs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible jobs: %w", err)
	}

	result := &RunResult{}
	categoriesSeen := make(map[domain.ErrorCategory]bool)

	for _, candidate := range eligible {
		job, err := r.jobStore.Claim(ctx, candidate.ID, candidate.Status)
		if err != nil {
			if store.IsClaimConflict(err) {
				// Another runner won the race; not a failure.
				result.Skipped++
				if r.metrics != nil {
					r.metrics.JobsProcessed.WithLabelValues(string(candidate.Kind), metrics.OutcomeSkipped).Inc()
				}
				continue
			}
			return nil, fmt.Errorf("failed to claim job %s: %w", candidate.ID, err)
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				// Context cancelled while throttled; release the claim as a
				// failure so the job is visible for retry.
				r.failJob(ctx, job, err, result, categoriesSeen)
				result.Processed++
				break
			}
		}

		result.Processed++

		if handlerErr := r.dispatch(ctx, job); handlerErr != nil {
			r.failJob(ctx, job, handlerErr, result, categoriesSeen)
			continue
		}

		if err := r.jobStore.MarkDone(ctx, job.ID); err != nil {
			// The handler's work is done but the row never left
			// processing; reporting success here would hide a job that
			// will resurface as stuck.
			log.Error("failed to mark job done",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
			r.failJob(ctx, job, fmt.Errorf("job completed but could not be marked done: %w", err), result, categoriesSeen)
			continue
		}

		result.Succeeded++
		result.Jobs = append(result.Jobs, JobOutcome{
			JobID:    job.ID,
			Kind:     job.Kind,
			Status:   domain.JobStatusDone,
			Attempts: job.Attempts,
		})
		if r.metrics != nil {
			r.metrics.JobsProcessed.WithLabelValues(string(job.Kind), metrics.OutcomeSucceeded).Inc()
		}

		log.Debug("job completed",
			slog.String("job_id", job.ID.String()),
			slog.String("kind", string(job.Kind)))
	}

	result.Recommendations = runRecommendations(categoriesSeen, result)

	log.Info("run finished",
		slog.String("owner_id", ownerID.String()),
		slog.Int("processed", result.Processed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped))

	return result, nil
}

// dispatch resolves and executes the handler for the job. A handler panic
// is converted into an ordinary error so per-job faults can never take
// down the runner.
func (r *Runner) dispatch(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s handler: %v", job.Kind, p)
		}
	}()

	handler, err := r.registry.Resolve(job.Kind)
	if err != nil {
		return err
	}

	return handler.Handle(ctx, job)
}

// failJob routes one handler failure through classification and the error
// tracker, marks the job failed, and folds it into the aggregate result.
func (r *Runner) failJob(
	ctx context.Context,
	job *domain.Job,
	handlerErr error,
	result *RunResult,
	categoriesSeen map[domain.ErrorCategory]bool,
) {
	log := logger.FromContextOrDefault(ctx, r.logger)

	record := r.recorder.RecordJob(ctx, job.OwnerID, job.ID, handlerErr, classifyContextFor(job.Kind))
	categoriesSeen[record.Classification.Category] = true

	if err := r.jobStore.MarkError(ctx, job.ID, handlerErr.Error()); err != nil {
		log.Error("failed to mark job errored",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}

	result.Failed++
	result.Jobs = append(result.Jobs, JobOutcome{
		JobID:    job.ID,
		Kind:     job.Kind,
		Status:   domain.JobStatusError,
		Attempts: job.Attempts,
	})
	result.Errors = append(result.Errors, JobError{
		JobID:       job.ID,
		Kind:        job.Kind,
		Message:     handlerErr.Error(),
		Category:    record.Classification.Category,
		UserMessage: record.Classification.UserMessage,
	})

	if r.metrics != nil {
		r.metrics.JobsProcessed.WithLabelValues(string(job.Kind), metrics.OutcomeFailed).Inc()
		r.metrics.ErrorsRecorded.WithLabelValues(string(record.Classification.Category)).Inc()
	}

	log.Warn("job failed",
		slog.String("job_id", job.ID.String()),
		slog.String("kind", string(job.Kind)),
		slog.String("category", string(record.Classification.Category)),
		slog.String("error", handlerErr.Error()))
}

// runRecommendations turns the failure composition of one run into
// operator guidance, most important first.
func runRecommendations(categories map[domain.ErrorCategory]bool, result *RunResult) []string {
	var recs []string

	if categories[domain.ErrorCategoryAuthentication] {
		recs = append(recs, "Reconnect the affected account; authentication failures will not resolve on their own.")
	}
	if categories[domain.ErrorCategoryPermission] {
		recs = append(recs, "Re-grant the requested permissions before retrying.")
	}
	if categories[domain.ErrorCategoryConfiguration] {
		recs = append(recs, "Fix the sync settings before retrying; these jobs will keep failing unchanged.")
	}
	if categories[domain.ErrorCategoryQuota] {
		recs = append(recs, "Provider rate limits were hit; retry later with a smaller batch.")
	}
	if categories[domain.ErrorCategoryNetwork] {
		recs = append(recs, "Transient connectivity failures; an immediate retry will likely succeed.")
	}
	if result.Skipped > 0 && result.Processed == 0 {
		recs = append(recs, "All eligible jobs were claimed by another runner; nothing to do here.")
	}

	return recs
}
