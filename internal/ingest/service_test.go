package ingest

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
	"github.com/tetherhq/tether-api/internal/mocks"
)

type capturedEnqueue struct {
	ownerID uuid.UUID
	kind    domain.JobKind
	payload json.RawMessage
	batchID string
}

type fakeEnqueuer struct {
	calls []capturedEnqueue
	err   error
}

func (f *fakeEnqueuer) Enqueue(
	_ context.Context,
	ownerID uuid.UUID,
	kind domain.JobKind,
	payload json.RawMessage,
	batchID string,
) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.calls = append(f.calls, capturedEnqueue{ownerID: ownerID, kind: kind, payload: payload, batchID: batchID})
	return uuid.New(), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func emailFields(title string) domain.IngestionFields {
	return domain.IngestionFields{
		Kind:       "email",
		Title:      title,
		Body:       "body",
		OccurredAt: time.Now().UTC(),
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	ingestionStore := mocks.NewMemoryIngestionStore()
	svc := NewService(ingestionStore, nil, testLogger())

	firstID, err := svc.Upsert(context.Background(), ownerID, "gmail", "msg-1", emailFields("hello"))
	require.NoError(t, err)

	// Same external identity again, updated content.
	secondID, err := svc.Upsert(context.Background(), ownerID, "gmail", "msg-1", emailFields("hello (edited)"))
	require.NoError(t, err)

	assert.Equal(t, firstID, secondID, "repeated ingestion must return the stable record ID")
	assert.Equal(t, 1, ingestionStore.Count(), "no duplicate rows for the same external item")

	stored, err := ingestionStore.GetBySourceID(context.Background(), ownerID, "gmail", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "hello (edited)", stored.Title)
}

func TestUpsertPreservesContactAssociation(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	contactID := uuid.New()
	ingestionStore := mocks.NewMemoryIngestionStore()
	svc := NewService(ingestionStore, nil, testLogger())

	recordID, err := svc.Upsert(context.Background(), ownerID, "gmail", "msg-1", emailFields("hello"))
	require.NoError(t, err)

	require.NoError(t, svc.LinkContact(context.Background(), ownerID, recordID, contactID))

	// A later sync run re-ingests the same message.
	_, err = svc.Upsert(context.Background(), ownerID, "gmail", "msg-1", emailFields("hello again"))
	require.NoError(t, err)

	stored, err := ingestionStore.GetByID(context.Background(), ownerID, recordID)
	require.NoError(t, err)
	require.NotNil(t, stored.ContactID)
	assert.Equal(t, contactID, *stored.ContactID)
	assert.Equal(t, "hello again", stored.Title)
}

func TestUpsertRejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	svc := NewService(mocks.NewMemoryIngestionStore(), nil, testLogger())

	_, err := svc.Upsert(context.Background(), uuid.New(), "gmail", "", emailFields("x"))
	assert.ErrorIs(t, err, domain.ErrEmptyIngestionSourceID)

	_, err = svc.Upsert(context.Background(), uuid.New(), "", "msg-1", emailFields("x"))
	assert.ErrorIs(t, err, domain.ErrEmptyIngestionSource)
}

func TestIngestBatchEnqueuesFollowUpJob(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	ingestionStore := mocks.NewMemoryIngestionStore()
	enq := &fakeEnqueuer{}
	svc := NewService(ingestionStore, enq, testLogger())

	items := []Item{
		{SourceID: "msg-1", Fields: emailFields("one")},
		{SourceID: "msg-2", Fields: emailFields("two")},
	}

	result, err := svc.IngestBatch(context.Background(), ownerID, "gmail", items, "sync-2026-01")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Upserted)
	assert.Equal(t, 0, result.Failed)
	assert.NotEqual(t, uuid.Nil, result.JobID)

	require.Len(t, enq.calls, 1)
	call := enq.calls[0]
	assert.Equal(t, domain.JobKindIngestionBatch, call.kind)
	assert.Equal(t, "sync-2026-01", call.batchID)

	var payload BatchPayload
	require.NoError(t, json.Unmarshal(call.payload, &payload))
	assert.Equal(t, "gmail", payload.Source)
	assert.Len(t, payload.RecordIDs, 2)
}

func TestIngestBatchContinuesPastItemFailures(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	ingestionStore := mocks.NewMemoryIngestionStore()
	enq := &fakeEnqueuer{}
	svc := NewService(ingestionStore, enq, testLogger())

	items := []Item{
		{SourceID: "", Fields: emailFields("broken")},
		{SourceID: "msg-2", Fields: emailFields("fine")},
	}

	result, err := svc.IngestBatch(context.Background(), ownerID, "gmail", items, "sync-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Upserted)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "", result.Errors[0].SourceID)
	require.Len(t, enq.calls, 1, "surviving items still get a follow-up job")
}

func TestIngestBatchSkipsJobWhenNothingUpserted(t *testing.T) {
	t.Parallel()

	enq := &fakeEnqueuer{}
	svc := NewService(mocks.NewMemoryIngestionStore(), enq, testLogger())

	result, err := svc.IngestBatch(context.Background(), uuid.New(), "gmail", nil, "sync-1")
	require.NoError(t, err)

	assert.Equal(t, 0, result.Upserted)
	assert.Equal(t, uuid.Nil, result.JobID)
	assert.Empty(t, enq.calls)
}

func TestIngestBatchPropagatesEnqueueFailure(t *testing.T) {
	t.Parallel()

	enq := &fakeEnqueuer{err: errors.New("queue unavailable")}
	svc := NewService(mocks.NewMemoryIngestionStore(), enq, testLogger())

	_, err := svc.IngestBatch(context.Background(), uuid.New(), "gmail",
		[]Item{{SourceID: "msg-1", Fields: emailFields("x")}}, "sync-1")
	assert.Error(t, err)
}
