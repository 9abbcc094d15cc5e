package retry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/errtrack"
	"github.com/tetherhq/tether-api/internal/jobs"
	"github.com/tetherhq/tether-api/internal/mocks"
	"github.com/tetherhq/tether-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// passHandler succeeds for every job of its kind.
type passHandler struct{ kind domain.JobKind }

func (h *passHandler) Kind() domain.JobKind { return h.kind }

func (h *passHandler) Handle(context.Context, *domain.Job) error { return nil }

// failHandler fails for every job of its kind.
type failHandler struct {
	kind domain.JobKind
	err  error
}

func (h *failHandler) Kind() domain.JobKind { return h.kind }
func (h *failHandler) Handle(context.Context, *domain.Job) error {
	return h.err
}

type fakeRefresher struct {
	calls []string
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ uuid.UUID, provider string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, provider)
	return nil
}

type fixture struct {
	jobStore     *mocks.MemoryJobStore
	errorStore   *mocks.MemoryErrorStore
	refresher    *fakeRefresher
	orchestrator *Orchestrator
}

func newFixture(t *testing.T, handlers ...jobs.Handler) *fixture {
	t.Helper()

	jobStore := mocks.NewMemoryJobStore()
	errorStore := mocks.NewMemoryErrorStore()
	tracker := errtrack.NewTracker(errorStore, testLogger())
	runner := jobs.NewRunner(jobStore, tracker, jobs.NewRegistry(handlers...), nil,
		jobs.DefaultRunnerConfig(), testLogger())
	refresher := &fakeRefresher{}

	orchestrator := NewOrchestrator(jobStore, errorStore, runner, refresher, Config{
		DefaultMaxRetries: 5,
		BaseInterval:      2 * time.Minute,
		SmartDelayCap:     6,
	}, testLogger())

	return &fixture{
		jobStore:     jobStore,
		errorStore:   errorStore,
		refresher:    refresher,
		orchestrator: orchestrator,
	}
}

// failedJob seeds an errored job plus its linked error record.
func (f *fixture) failedJob(
	t *testing.T,
	ownerID uuid.UUID,
	kind domain.JobKind,
	category domain.ErrorCategory,
	attempts int,
	retryCount int,
) (*domain.Job, *domain.ErrorRecord) {
	t.Helper()

	job, err := domain.NewJob(ownerID, kind, json.RawMessage(`{}`), "")
	require.NoError(t, err)
	job.Status = domain.JobStatusError
	job.Attempts = attempts
	job.LastError = "seeded failure"
	f.jobStore.Put(job)

	record, err := domain.NewErrorRecord(ownerID, "gmail", domain.ErrorStageIngestion, "seeded failure",
		domain.Classification{
			Category:  category,
			Severity:  domain.ErrorSeverityMedium,
			Retryable: true,
		})
	require.NoError(t, err)
	jobID := job.ID
	record.JobID = &jobID
	record.RetryCount = retryCount
	f.errorStore.Put(record)

	return job, record
}

func TestImmediateRetryRunsJobsSynchronously(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t, &passHandler{kind: domain.JobKindSyncGmail})
	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyImmediate})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Details, 1)
	assert.Equal(t, OutcomeSucceeded, result.Details[0].Outcome)

	stored, ok := f.jobStore.Snapshot(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusDone, stored.Status)
}

func TestImmediateRetryReportsHandlerFailure(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t, &failHandler{kind: domain.JobKindSyncGmail, err: errors.New("still timing out")})
	_, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyImmediate})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Details, 1)
	assert.Equal(t, OutcomeFailed, result.Details[0].Outcome)
	assert.Contains(t, result.Details[0].Reason, "timing out")
}

func TestImmediateRetryTargetsOnlySelectedJobs(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t,
		&passHandler{kind: domain.JobKindSyncGmail},
		&passHandler{kind: domain.JobKindNormalize},
	)

	// An older queued job that has nothing to do with the retry must not
	// consume the run's budget.
	bystander, err := domain.NewJob(ownerID, domain.JobKindNormalize, json.RawMessage(`{}`), "")
	require.NoError(t, err)
	bystander.CreatedAt = time.Now().UTC().Add(-time.Hour)
	f.jobStore.Put(bystander)

	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyImmediate})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Details, 1)
	assert.Equal(t, OutcomeSucceeded, result.Details[0].Outcome)

	retried, ok := f.jobStore.Snapshot(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusDone, retried.Status, "the retried job itself ran")

	untouched, ok := f.jobStore.Snapshot(bystander.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusQueued, untouched.Status, "unrelated queued work stays queued")
}

func TestImmediateRetryNeverRunJobStaysScheduled(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t, &passHandler{kind: domain.JobKindSyncGmail})
	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)

	// The run claims nothing, as when a concurrent runner drains the queue
	// first.
	f.jobStore.ListFn = func(context.Context, uuid.UUID, store.ListJobsOptions) ([]*domain.Job, error) {
		return nil, nil
	}

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyImmediate})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 0, result.Succeeded, "a job the run never reached is not a success")
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Details, 1)
	assert.Equal(t, OutcomeScheduled, result.Details[0].Outcome)

	stored, ok := f.jobStore.Snapshot(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusQueued, stored.Status, "the job stays queued for the next run")

	rec, err := f.errorStore.GetByID(context.Background(), ownerID, record.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.ResolvedAt)
}

func TestImmediateRetrySuccessResolvesRecord(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t, &passHandler{kind: domain.JobKindSyncGmail})
	_, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyImmediate})
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)

	rec, err := f.errorStore.GetByID(context.Background(), ownerID, record.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.ResolvedAt, "the condition no longer applies once the retry succeeded")

	// The resolved record drops out of retry-all selection.
	again, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{RetryAll: true},
		Options{Strategy: StrategyImmediate})
	require.NoError(t, err)
	assert.Empty(t, again.Details)
}

func TestDelayedRetryParksJobWithGate(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryQuota, 1, 0)

	before := time.Now().UTC()
	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyDelayed, DelayMinutes: 30})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Details, 1)
	assert.Equal(t, OutcomeScheduled, result.Details[0].Outcome)

	stored, ok := f.jobStore.Snapshot(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusRetrying, stored.Status)
	require.NotNil(t, stored.NotBefore)
	gap := stored.NotBefore.Sub(before)
	assert.InDelta(t, 30*time.Minute, gap, float64(time.Minute))
}

func TestSmartRetryScalesDelayWithAttempts(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 3, 0)

	before := time.Now().UTC()
	_, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategySmart})
	require.NoError(t, err)

	stored, ok := f.jobStore.Snapshot(job.ID)
	require.True(t, ok)
	require.NotNil(t, stored.NotBefore)
	// 3 attempts x 2 minute base interval
	gap := stored.NotBefore.Sub(before)
	assert.InDelta(t, 6*time.Minute, gap, float64(time.Minute))
}

func TestSmartRetryCapsTheMultiplier(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 40, 0)

	before := time.Now().UTC()
	_, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategySmart})
	require.NoError(t, err)

	stored, ok := f.jobStore.Snapshot(job.ID)
	require.True(t, ok)
	require.NotNil(t, stored.NotBefore)
	// capped at 6 x 2 minutes despite 40 attempts
	gap := stored.NotBefore.Sub(before)
	assert.InDelta(t, 12*time.Minute, gap, float64(time.Minute))
}

func TestSmartRetryRefreshesCredentialsForAuthFailures(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	_, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryAuthentication, 1, 0)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategySmart, IncludeAuthRefresh: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, []string{"gmail"}, f.refresher.calls)
}

func TestSmartRetryRefreshFailureCountsAsFailed(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	f.refresher.err = errors.New("consent revoked")
	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryAuthentication, 1, 0)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategySmart, IncludeAuthRefresh: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)

	stored, ok := f.jobStore.Snapshot(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusError, stored.Status, "job is not requeued when refresh fails")
}

func TestRetryAllExcludesRecordsAtRetryBound(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	_, fresh := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)
	exhaustedJob, _ := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 5, 5)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{RetryAll: true},
		Options{Strategy: StrategyDelayed, MaxRetries: 5})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempted, "only the record under the bound is selected")
	require.Len(t, result.Details, 1)
	assert.Equal(t, fresh.ID, result.Details[0].ErrorID)

	stored, ok := f.jobStore.Snapshot(exhaustedJob.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusError, stored.Status)
}

func TestExplicitRetryHonoredPastBound(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 5, 9)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyDelayed, MaxRetries: 5})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempted)

	stored, ok := f.jobStore.Snapshot(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusRetrying, stored.Status)
}

func TestRetryAllFiltersByProviderAndCategory(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	_, quotaRecord := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryQuota, 1, 0)
	f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{RetryAll: true, Provider: "gmail", Category: domain.ErrorCategoryQuota},
		Options{Strategy: StrategyDelayed})
	require.NoError(t, err)

	require.Len(t, result.Details, 1)
	assert.Equal(t, quotaRecord.ID, result.Details[0].ErrorID)
}

func TestRetryingDoneJobIsSkipped(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	job, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)

	job.Status = domain.JobStatusDone
	f.jobStore.Put(job)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyImmediate})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Attempted)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Details, 1)
	assert.Equal(t, OutcomeSkipped, result.Details[0].Outcome)
}

func TestResolvedRecordIsSkipped(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	_, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 0)
	require.NoError(t, record.Resolve(time.Now()))
	f.errorStore.Put(record)

	result, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyDelayed})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
}

func TestRetryBumpsRetryCount(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)
	_, record := f.failedJob(t, ownerID, domain.JobKindSyncGmail, domain.ErrorCategoryNetwork, 1, 2)

	_, err := f.orchestrator.Retry(context.Background(), ownerID,
		Selection{ErrorIDs: []uuid.UUID{record.ID}},
		Options{Strategy: StrategyDelayed})
	require.NoError(t, err)

	stored, err := f.errorStore.GetByID(context.Background(), ownerID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.RetryCount)
}

func TestRetryValidatesInput(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	f := newFixture(t)

	_, err := f.orchestrator.Retry(context.Background(), ownerID, Selection{}, Options{})
	assert.Error(t, err, "empty selection is rejected")

	_, err = f.orchestrator.Retry(context.Background(), ownerID,
		Selection{RetryAll: true}, Options{Strategy: Strategy("aggressive")})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
