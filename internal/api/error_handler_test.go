package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/errtrack"
	"github.com/tetherhq/tether-api/internal/retry"
	"github.com/tetherhq/tether-api/internal/store"
)

// fakeTracker lets tests script the tracker slice the handler uses.
type fakeTracker struct {
	summary     *errtrack.Summary
	summaryErr  error
	summaryOpts errtrack.SummaryOptions
	resolveErr  error
	resolvedIDs []uuid.UUID
}

func (f *fakeTracker) Summary(
	ctx context.Context,
	ownerID uuid.UUID,
	opts errtrack.SummaryOptions,
) (*errtrack.Summary, error) {
	f.summaryOpts = opts
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	if f.summary != nil {
		return f.summary, nil
	}
	return &errtrack.Summary{TimeRangeHours: opts.TimeRangeHours}, nil
}

func (f *fakeTracker) Resolve(ctx context.Context, ownerID, recordID uuid.UUID) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolvedIDs = append(f.resolvedIDs, recordID)
	return nil
}

// fakeOrchestrator captures the selection and options passed to Retry.
type fakeOrchestrator struct {
	result  *retry.Result
	err     error
	ownerID uuid.UUID
	sel     retry.Selection
	opts    retry.Options
	calls   int
}

func (f *fakeOrchestrator) Retry(
	ctx context.Context,
	ownerID uuid.UUID,
	sel retry.Selection,
	opts retry.Options,
) (*retry.Result, error) {
	f.calls++
	f.ownerID = ownerID
	f.sel = sel
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &retry.Result{}, nil
}

func newErrorHandlerFixture(t *testing.T) (*ErrorHandler, *fakeTracker, *fakeOrchestrator) {
	t.Helper()

	tracker := &fakeTracker{}
	orchestrator := &fakeOrchestrator{}
	handler := NewErrorHandler(tracker, orchestrator, testLogger())
	return handler, tracker, orchestrator
}

func TestGetErrorSummaryUsesDefaults(t *testing.T) {
	t.Parallel()

	handler, tracker, _ := newErrorHandlerFixture(t)

	req := requestWithOwner(t, uuid.New(), http.MethodGet, "/errors/summary", nil)
	rec := httptest.NewRecorder()
	handler.GetErrorSummary(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 24, tracker.summaryOpts.TimeRangeHours)
	assert.False(t, tracker.summaryOpts.IncludeResolved)
	assert.False(t, tracker.summaryOpts.IncludeDetails)

	var resp errtrack.Summary
	decodeResponse(t, rec, &resp)
	assert.Equal(t, 24, resp.TimeRangeHours)
}

func TestGetErrorSummaryHonorsQueryParams(t *testing.T) {
	t.Parallel()

	handler, tracker, _ := newErrorHandlerFixture(t)

	req := requestWithOwner(t, uuid.New(), http.MethodGet,
		"/errors/summary?hours=48&provider=gmail&stage=ingestion&severity=critical&include_resolved=true&details=true", nil)
	rec := httptest.NewRecorder()
	handler.GetErrorSummary(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 48, tracker.summaryOpts.TimeRangeHours)
	assert.Equal(t, "gmail", tracker.summaryOpts.Provider)
	assert.Equal(t, domain.ErrorStageIngestion, tracker.summaryOpts.Stage)
	assert.Equal(t, domain.ErrorSeverityCritical, tracker.summaryOpts.SeverityFilter)
	assert.True(t, tracker.summaryOpts.IncludeResolved)
	assert.True(t, tracker.summaryOpts.IncludeDetails)
}

func TestGetErrorSummaryRejectsBadHours(t *testing.T) {
	t.Parallel()

	handler, _, _ := newErrorHandlerFixture(t)

	for _, hours := range []string{"abc", "0", "-5"} {
		req := requestWithOwner(t, uuid.New(), http.MethodGet, "/errors/summary?hours="+hours, nil)
		rec := httptest.NewRecorder()
		handler.GetErrorSummary(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "hours=%s", hours)
	}
}

func TestGetErrorSummaryRequiresOwner(t *testing.T) {
	t.Parallel()

	handler, _, _ := newErrorHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/errors/summary", nil)
	rec := httptest.NewRecorder()
	handler.GetErrorSummary(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRetryErrorsRequiresSelection(t *testing.T) {
	t.Parallel()

	handler, _, orchestrator := newErrorHandlerFixture(t)

	req := requestWithOwner(t, uuid.New(), http.MethodPost, "/errors/retry", RetryErrorsRequest{})
	rec := httptest.NewRecorder()
	handler.RetryErrors(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, orchestrator.calls)
}

func TestRetryErrorsPassesSelectionThrough(t *testing.T) {
	t.Parallel()

	handler, _, orchestrator := newErrorHandlerFixture(t)
	ownerID := uuid.New()
	orchestrator.result = &retry.Result{Attempted: 3, Succeeded: 2, Failed: 1}

	req := requestWithOwner(t, ownerID, http.MethodPost, "/errors/retry", RetryErrorsRequest{
		RetryAll:           true,
		Provider:           "gmail",
		Category:           string(domain.ErrorCategoryAuthentication),
		Strategy:           "smart",
		MaxRetries:         3,
		IncludeAuthRefresh: true,
	})
	rec := httptest.NewRecorder()
	handler.RetryErrors(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ownerID, orchestrator.ownerID)
	assert.True(t, orchestrator.sel.RetryAll)
	assert.Equal(t, "gmail", orchestrator.sel.Provider)
	assert.Equal(t, domain.ErrorCategoryAuthentication, orchestrator.sel.Category)
	assert.Equal(t, retry.StrategySmart, orchestrator.opts.Strategy)
	assert.Equal(t, 3, orchestrator.opts.MaxRetries)
	assert.True(t, orchestrator.opts.IncludeAuthRefresh)

	var resp retry.Result
	decodeResponse(t, rec, &resp)
	assert.Equal(t, 3, resp.Attempted)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
}

func TestRetryErrorsExplicitIDs(t *testing.T) {
	t.Parallel()

	handler, _, orchestrator := newErrorHandlerFixture(t)
	errorIDs := []uuid.UUID{uuid.New(), uuid.New()}

	req := requestWithOwner(t, uuid.New(), http.MethodPost, "/errors/retry", RetryErrorsRequest{
		ErrorIDs: errorIDs,
		Strategy: "delayed",
	})
	rec := httptest.NewRecorder()
	handler.RetryErrors(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, errorIDs, orchestrator.sel.ErrorIDs)
	assert.Equal(t, retry.StrategyDelayed, orchestrator.opts.Strategy)
}

func TestRetryErrorsRejectsUnknownStrategy(t *testing.T) {
	t.Parallel()

	handler, _, orchestrator := newErrorHandlerFixture(t)

	req := requestWithOwner(t, uuid.New(), http.MethodPost, "/errors/retry", RetryErrorsRequest{
		RetryAll: true,
		Strategy: "yolo",
	})
	rec := httptest.NewRecorder()
	handler.RetryErrors(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, orchestrator.calls)
}

func TestResolveErrorMarksRecordResolved(t *testing.T) {
	t.Parallel()

	handler, tracker, _ := newErrorHandlerFixture(t)
	recordID := uuid.New()

	router := chi.NewRouter()
	router.Post("/errors/{id}/resolve", handler.ResolveError)

	req := requestWithOwner(t, uuid.New(), http.MethodPost,
		"/errors/"+recordID.String()+"/resolve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{recordID}, tracker.resolvedIDs)

	var resp ResolveErrorResponse
	decodeResponse(t, rec, &resp)
	assert.Equal(t, recordID, resp.ErrorID)
	assert.True(t, resp.Resolved)
}

func TestResolveErrorUnknownRecordIsNotFound(t *testing.T) {
	t.Parallel()

	handler, tracker, _ := newErrorHandlerFixture(t)
	tracker.resolveErr = store.ErrErrorRecordNotFound

	router := chi.NewRouter()
	router.Post("/errors/{id}/resolve", handler.ResolveError)

	req := requestWithOwner(t, uuid.New(), http.MethodPost,
		"/errors/"+uuid.New().String()+"/resolve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error record not found")
}
