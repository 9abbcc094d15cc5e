// Package mocks provides centralized mock implementations for testing.
//
// This package contains in-memory implementations of the store interfaces
// used throughout the application, facilitating consistent and DRY testing
// across the codebase. Instead of defining inline mocks in individual test
// files, these standardized implementations can be reused.
//
// The in-memory stores honor the same contracts as their PostgreSQL
// counterparts (compare-and-set claims, upsert convergence, filters) so
// tests exercise real state transitions, and each method can be overridden
// through a corresponding Fn field for error injection:
//
//	jobStore := mocks.NewMemoryJobStore()
//	jobStore.ClaimFn = func(ctx context.Context, id uuid.UUID, expected domain.JobStatus) (*domain.Job, error) {
//	    return nil, errors.New("boom")
//	}
package mocks
