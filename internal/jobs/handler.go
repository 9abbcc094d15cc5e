// Package jobs manages background job queuing, claiming, and dispatch.
// Jobs are persisted rows with an explicit status state machine; mutual
// exclusion between concurrent runners rests entirely on the store's
// atomic compare-and-set transitions, so the package needs no locks of
// its own.
package jobs

import (
	"context"
	"fmt"

	"github.com/tetherhq/tether-api/internal/classify"
	"github.com/tetherhq/tether-api/internal/domain"
)

// Handler executes one kind of job. Implementations run synchronously
// within the claiming worker and are never invoked concurrently for the
// same job ID.
type Handler interface {
	// Kind returns the job kind this handler serves.
	Kind() domain.JobKind

	// Handle executes the job. A nil return marks the job done; an error
	// routes through classification and marks the job failed.
	Handle(ctx context.Context, job *domain.Job) error
}

// Registry maps job kinds to their handlers. It is populated once at
// startup and read-only afterwards, so lookups need no synchronization.
type Registry struct {
	handlers map[domain.JobKind]Handler
}

// NewRegistry creates a registry from the given handlers.
// Registering two handlers for the same kind is a wiring bug and panics.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{
		handlers: make(map[domain.JobKind]Handler, len(handlers)),
	}

	for _, h := range handlers {
		if _, exists := r.handlers[h.Kind()]; exists {
			// ALLOW-PANIC: Constructor enforcing startup invariant
			panic(fmt.Sprintf("duplicate handler registered for kind %q", h.Kind()))
		}
		r.handlers[h.Kind()] = h
	}

	return r
}

// Resolve returns the handler for the given kind, or an error when no
// handler is registered.
func (r *Registry) Resolve(kind domain.JobKind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job kind %q", kind)
	}
	return h, nil
}

// Kinds returns the registered kinds, for diagnostics.
func (r *Registry) Kinds() []domain.JobKind {
	kinds := make([]domain.JobKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// classifyContextFor derives the classification context from the job's
// kind: which origin system the failure concerns and which pipeline stage
// it happened in.
func classifyContextFor(kind domain.JobKind) classify.Context {
	switch kind {
	case domain.JobKindSyncGmail:
		return classify.Context{Provider: "gmail", Stage: domain.ErrorStageIngestion}
	case domain.JobKindSyncCalendar:
		return classify.Context{Provider: "calendar", Stage: domain.ErrorStageIngestion}
	case domain.JobKindIngestionBatch:
		return classify.Context{Stage: domain.ErrorStageIngestion}
	case domain.JobKindNormalize:
		return classify.Context{Stage: domain.ErrorStageNormalization}
	default:
		return classify.Context{Stage: domain.ErrorStageProcessing}
	}
}
