// Package retry turns recorded failures back into runnable work. The
// orchestrator resolves a selection of error records to their failed
// jobs, requeues them according to a strategy, and for the immediate
// strategy drives them through the runner synchronously.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/jobs"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/store"
)

// Strategy selects how requeued jobs are scheduled.
type Strategy string

// Supported retry strategies
const (
	// StrategyImmediate requeues and runs the jobs before returning.
	StrategyImmediate Strategy = "immediate"

	// StrategyDelayed parks the jobs in retrying with a fixed delay.
	StrategyDelayed Strategy = "delayed"

	// StrategySmart scales the delay with the job's attempt count and
	// refreshes credentials first for authentication failures.
	StrategySmart Strategy = "smart"
)

// ErrUnknownStrategy is returned for a strategy outside the supported set.
var ErrUnknownStrategy = errors.New("unknown retry strategy")

// CredentialRefresher re-establishes provider credentials before an
// authentication failure is retried. The token exchange itself is opaque
// to this package.
type CredentialRefresher interface {
	Refresh(ctx context.Context, ownerID uuid.UUID, provider string) error
}

// jobRunner is the slice of the runner the immediate strategy needs.
type jobRunner interface {
	Run(ctx context.Context, ownerID uuid.UUID, opts jobs.RunOptions) (*jobs.RunResult, error)
}

// Selection names which recorded failures to retry. Either ErrorIDs or
// RetryAll must be set; Provider and Category narrow a RetryAll further.
type Selection struct {
	ErrorIDs []uuid.UUID
	RetryAll bool
	Provider string
	Category domain.ErrorCategory
}

// Options tunes one Retry invocation.
type Options struct {
	// MaxRetries bounds how often a record may be retried through
	// RetryAll. Zero falls back to the configured default. An
	// explicitly selected record is honored once even past the bound.
	MaxRetries int

	// Strategy defaults to StrategySmart when empty.
	Strategy Strategy

	// DelayMinutes is the fixed delay for StrategyDelayed. Zero falls
	// back to the configured base interval.
	DelayMinutes int

	// IncludeAuthRefresh lets StrategySmart refresh credentials before
	// retrying authentication failures.
	IncludeAuthRefresh bool
}

// Detail reports the outcome for one selected record.
type Detail struct {
	ErrorID uuid.UUID `json:"error_id"`
	JobID   uuid.UUID `json:"job_id,omitempty"`
	Outcome string    `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
}

// Outcome values for Detail.
const (
	OutcomeScheduled = "scheduled"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Result aggregates one Retry invocation.
type Result struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Details   []Detail `json:"details"`
}

// Config holds the orchestrator's tunable policy.
type Config struct {
	// DefaultMaxRetries bounds RetryAll selections when the caller
	// supplies no ceiling.
	DefaultMaxRetries int

	// BaseInterval is the unit of delay for the delayed and smart
	// strategies.
	BaseInterval time.Duration

	// SmartDelayCap caps the attempts multiplier of the smart strategy.
	SmartDelayCap int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxRetries: 5,
		BaseInterval:      5 * time.Minute,
		SmartDelayCap:     6,
	}
}

// Orchestrator coordinates error-driven retries.
type Orchestrator struct {
	jobStore   store.JobStore
	errorStore store.ErrorStore
	runner     jobRunner
	refresher  CredentialRefresher
	config     Config
	logger     *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. The refresher may be nil
// when credential refresh is unavailable; smart retries of authentication
// failures then proceed without it.
func NewOrchestrator(
	jobStore store.JobStore,
	errorStore store.ErrorStore,
	runner jobRunner,
	refresher CredentialRefresher,
	config Config,
	logger *slog.Logger,
) *Orchestrator {
	if jobStore == nil || errorStore == nil || runner == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("job store, error store, and runner cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if config.DefaultMaxRetries <= 0 {
		config.DefaultMaxRetries = defaults.DefaultMaxRetries
	}
	if config.BaseInterval <= 0 {
		config.BaseInterval = defaults.BaseInterval
	}
	if config.SmartDelayCap <= 0 {
		config.SmartDelayCap = defaults.SmartDelayCap
	}

	return &Orchestrator{
		jobStore:   jobStore,
		errorStore: errorStore,
		runner:     runner,
		refresher:  refresher,
		config:     config,
		logger:     logger.With(slog.String("component", "retry_orchestrator")),
	}
}

// Retry resolves the selection to failed jobs and requeues each one per
// the strategy. Per-record problems (missing job, refresh failure) are
// folded into the result; only selection resolution and runner
// infrastructure failures return an error. Repeating the same invocation
// is safe: already-requeued or completed jobs count as skipped.
func (o *Orchestrator) Retry(
	ctx context.Context,
	ownerID uuid.UUID,
	sel Selection,
	opts Options,
) (*Result, error) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategySmart
	}
	switch strategy {
	case StrategyImmediate, StrategyDelayed, StrategySmart:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	if !sel.RetryAll && len(sel.ErrorIDs) == 0 {
		return nil, errors.New("selection names no error records")
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = o.config.DefaultMaxRetries
	}

	records, err := o.resolveSelection(ctx, ownerID, sel, maxRetries)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, record := range records {
		detail := o.retryOne(ctx, ownerID, record, strategy, opts)
		result.Details = append(result.Details, detail)

		switch detail.Outcome {
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Attempted++
			result.Failed++
		default:
			result.Attempted++
			result.Succeeded++
		}
	}

	// The immediate strategy drives the requeued jobs through the runner
	// before returning; scheduling outcomes are replaced by real ones. The
	// run is pinned to the requeued job IDs so unrelated queued work cannot
	// consume the budget.
	if strategy == StrategyImmediate {
		requeued := make([]uuid.UUID, 0, len(result.Details))
		for _, detail := range result.Details {
			if detail.Outcome == OutcomeScheduled {
				requeued = append(requeued, detail.JobID)
			}
		}
		if len(requeued) > 0 {
			runResult, err := o.runner.Run(ctx, ownerID, jobs.RunOptions{
				JobIDs:        requeued,
				MaxJobs:       len(requeued),
				SkipStuckJobs: true,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to run retried jobs: %w", err)
			}
			o.reconcile(ctx, ownerID, result, runResult)
		}
	}

	log.Info("retry completed",
		slog.String("owner_id", ownerID.String()),
		slog.String("strategy", string(strategy)),
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped))

	return result, nil
}

// resolveSelection loads the error records the selection names. RetryAll
// excludes resolved records and records at or over the retry bound;
// explicitly named records are loaded regardless.
func (o *Orchestrator) resolveSelection(
	ctx context.Context,
	ownerID uuid.UUID,
	sel Selection,
	maxRetries int,
) ([]*domain.ErrorRecord, error) {
	if sel.RetryAll {
		all, err := o.errorStore.List(ctx, ownerID, store.ErrorRecordFilter{
			Provider:      sel.Provider,
			Category:      sel.Category,
			OnlyRetryable: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list error records: %w", err)
		}

		eligible := make([]*domain.ErrorRecord, 0, len(all))
		for _, record := range all {
			if record.RetryCount >= maxRetries {
				continue
			}
			eligible = append(eligible, record)
		}
		return eligible, nil
	}

	records := make([]*domain.ErrorRecord, 0, len(sel.ErrorIDs))
	for _, id := range sel.ErrorIDs {
		record, err := o.errorStore.GetByID(ctx, ownerID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load error record %s: %w", id, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// retryOne requeues the job behind one error record. All skip and
// failure reasons stay inside the returned Detail.
func (o *Orchestrator) retryOne(
	ctx context.Context,
	ownerID uuid.UUID,
	record *domain.ErrorRecord,
	strategy Strategy,
	opts Options,
) Detail {
	log := logger.FromContextOrDefault(ctx, o.logger)
	detail := Detail{ErrorID: record.ID}

	if record.IsResolved() {
		detail.Outcome = OutcomeSkipped
		detail.Reason = "already resolved"
		return detail
	}

	if record.JobID == nil {
		detail.Outcome = OutcomeSkipped
		detail.Reason = "no job linked to this error"
		return detail
	}
	detail.JobID = *record.JobID

	job, err := o.jobStore.GetByID(ctx, ownerID, *record.JobID)
	if err != nil {
		detail.Outcome = OutcomeSkipped
		detail.Reason = fmt.Sprintf("job lookup failed: %v", err)
		return detail
	}

	switch job.Status {
	case domain.JobStatusDone:
		detail.Outcome = OutcomeSkipped
		detail.Reason = "job already completed"
		return detail
	case domain.JobStatusQueued, domain.JobStatusProcessing:
		detail.Outcome = OutcomeSkipped
		detail.Reason = "job already queued or running"
		return detail
	}

	if strategy == StrategySmart &&
		record.Classification.Category == domain.ErrorCategoryAuthentication &&
		opts.IncludeAuthRefresh && o.refresher != nil {
		if err := o.refresher.Refresh(ctx, ownerID, record.Provider); err != nil {
			detail.Outcome = OutcomeFailed
			detail.Reason = fmt.Sprintf("credential refresh failed: %v", err)
			return detail
		}
	}

	to, notBefore := o.schedule(strategy, job, opts)
	if err := o.jobStore.Requeue(ctx, job.ID, to, notBefore); err != nil {
		detail.Outcome = OutcomeFailed
		detail.Reason = fmt.Sprintf("requeue failed: %v", err)
		return detail
	}

	if err := o.errorStore.IncrementRetryCount(ctx, ownerID, record.ID); err != nil {
		log.Warn("failed to bump retry count",
			slog.String("record_id", record.ID.String()),
			slog.String("error", err.Error()))
	}

	detail.Outcome = OutcomeScheduled
	return detail
}

// schedule maps a strategy to a target status and gate time for one job.
func (o *Orchestrator) schedule(strategy Strategy, job *domain.Job, opts Options) (domain.JobStatus, *time.Time) {
	switch strategy {
	case StrategyImmediate:
		return domain.JobStatusQueued, nil

	case StrategyDelayed:
		delay := time.Duration(opts.DelayMinutes) * time.Minute
		if delay <= 0 {
			delay = o.config.BaseInterval
		}
		at := time.Now().UTC().Add(delay)
		return domain.JobStatusRetrying, &at

	default: // StrategySmart
		multiplier := job.Attempts
		if multiplier < 1 {
			multiplier = 1
		}
		if multiplier > o.config.SmartDelayCap {
			multiplier = o.config.SmartDelayCap
		}
		at := time.Now().UTC().Add(time.Duration(multiplier) * o.config.BaseInterval)
		return domain.JobStatusRetrying, &at
	}
}

// reconcile folds a synchronous run's outcome into the retry result. Only
// jobs the run actually completed count as succeeded; a job the run never
// reached keeps its scheduled outcome and stays queued for the next run.
// Records behind succeeded jobs are resolved: the condition that produced
// them no longer applies.
func (o *Orchestrator) reconcile(
	ctx context.Context,
	ownerID uuid.UUID,
	result *Result,
	runResult *jobs.RunResult,
) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	failedJobs := make(map[uuid.UUID]string, len(runResult.Errors))
	for _, jobErr := range runResult.Errors {
		failedJobs[jobErr.JobID] = jobErr.Message
	}
	succeededJobs := make(map[uuid.UUID]bool, len(runResult.Jobs))
	for _, outcome := range runResult.Jobs {
		if outcome.Status == domain.JobStatusDone {
			succeededJobs[outcome.JobID] = true
		}
	}

	result.Succeeded = 0
	result.Failed = 0
	for i := range result.Details {
		detail := &result.Details[i]
		if detail.Outcome == OutcomeSkipped {
			continue
		}
		if detail.Outcome == OutcomeFailed {
			// Failed before the run (refresh or requeue); the run never
			// saw this job.
			result.Failed++
			continue
		}

		if succeededJobs[detail.JobID] {
			detail.Outcome = OutcomeSucceeded
			detail.Reason = ""
			result.Succeeded++
			if err := o.errorStore.MarkResolved(ctx, ownerID, detail.ErrorID, time.Now().UTC()); err != nil {
				log.Warn("failed to resolve record after successful retry",
					slog.String("record_id", detail.ErrorID.String()),
					slog.String("error", err.Error()))
			}
			continue
		}
		if msg, failed := failedJobs[detail.JobID]; failed {
			detail.Outcome = OutcomeFailed
			detail.Reason = msg
			result.Failed++
			continue
		}
		detail.Reason = "not reached in this run"
	}
}
