package errtrack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tetherhq/tether-api/internal/domain"
	"github.com/tetherhq/tether-api/internal/platform/logger"
	"github.com/tetherhq/tether-api/internal/store"
)

// SummaryOptions controls which records a summary is computed over.
type SummaryOptions struct {
	// TimeRangeHours is the window width; values below one are treated
	// as one hour.
	TimeRangeHours int

	// IncludeResolved keeps records whose condition no longer applies.
	IncludeResolved bool

	// Provider narrows the summary to one origin system.
	Provider string

	// Stage narrows the summary to one pipeline stage.
	Stage domain.ErrorStage

	// SeverityFilter narrows the summary to one classification severity.
	SeverityFilter domain.ErrorSeverity

	// IncludeDetails embeds full record samples instead of counts only.
	IncludeDetails bool
}

// Summary aggregates an owner's recent classified failures.
type Summary struct {
	Total          int                          `json:"total"`
	ByCategory     map[domain.ErrorCategory]int `json:"by_category"`
	BySeverity     map[domain.ErrorSeverity]int `json:"by_severity"`
	CriticalCount  int                          `json:"critical_count"`
	RetryableCount int                          `json:"retryable_count"`
	TimeRangeHours int                          `json:"time_range_hours"`

	// Critical and Retryable are record subsets; Recent is a capped sample
	// of the newest records. All three are populated only when
	// IncludeDetails is set.
	Critical  []*domain.ErrorRecord `json:"critical,omitempty"`
	Retryable []*domain.ErrorRecord `json:"retryable,omitempty"`
	Recent    []*domain.ErrorRecord `json:"recent,omitempty"`

	Urgency         Assessment `json:"urgency"`
	Recommendations []string   `json:"recommendations"`
	NextSteps       []string   `json:"next_steps"`
}

// Summary computes a read-only aggregate over the owner's error records.
// It tolerates partial data: records without a classification count under
// the "unknown" category rather than failing the whole summary.
func (t *Tracker) Summary(ctx context.Context, ownerID uuid.UUID, opts SummaryOptions) (*Summary, error) {
	log := logger.FromContextOrDefault(ctx, t.logger)

	hours := opts.TimeRangeHours
	if hours < 1 {
		hours = 1
	}

	records, err := t.store.List(ctx, ownerID, store.ErrorRecordFilter{
		Since:           time.Now().UTC().Add(-time.Duration(hours) * time.Hour),
		Provider:        opts.Provider,
		Stage:           opts.Stage,
		Severity:        opts.SeverityFilter,
		IncludeResolved: opts.IncludeResolved,
	})
	if err != nil {
		log.Error("failed to list error records for summary",
			slog.String("owner_id", ownerID.String()),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to load error records: %w", err)
	}

	summary := &Summary{
		Total:          len(records),
		ByCategory:     make(map[domain.ErrorCategory]int),
		BySeverity:     make(map[domain.ErrorSeverity]int),
		TimeRangeHours: hours,
	}

	for _, record := range records {
		category := record.Classification.Category
		if category == "" {
			category = domain.ErrorCategoryUnknown
		}
		summary.ByCategory[category]++

		severity := record.Classification.Severity
		if severity == "" {
			severity = domain.ErrorSeverityLow
		}
		summary.BySeverity[severity]++

		if severity == domain.ErrorSeverityCritical {
			summary.CriticalCount++
			if opts.IncludeDetails {
				summary.Critical = append(summary.Critical, record)
			}
		}

		if record.Classification.Retryable {
			summary.RetryableCount++
			if opts.IncludeDetails {
				summary.Retryable = append(summary.Retryable, record)
			}
		}
	}

	if opts.IncludeDetails {
		sample := records
		if len(sample) > recentSampleCap {
			sample = sample[:recentSampleCap]
		}
		summary.Recent = sample
	}

	summary.Urgency = Score(ScoreInput{
		TotalErrors:    summary.Total,
		CriticalErrors: summary.CriticalCount,
		TimeRangeHours: hours,
		Categories:     summary.ByCategory,
	})

	summary.Recommendations = buildRecommendations(summary)
	summary.NextSteps = buildNextSteps(summary)

	return summary, nil
}

// buildRecommendations derives operator-facing guidance from the error
// composition. Ordered most to least important.
func buildRecommendations(s *Summary) []string {
	var recs []string

	if s.ByCategory[domain.ErrorCategoryAuthentication] > 0 {
		recs = append(recs, "Reconnect the affected accounts: authentication failures block all downstream syncing.")
	}
	if s.ByCategory[domain.ErrorCategoryPermission] > 0 {
		recs = append(recs, "Review granted permissions; some operations were denied.")
	}
	if s.ByCategory[domain.ErrorCategoryConfiguration] > 0 {
		recs = append(recs, "Check sync settings; some are invalid and will keep failing until changed.")
	}
	if s.ByCategory[domain.ErrorCategoryQuota] > 0 {
		recs = append(recs, "Provider rate limits were hit; consider reducing sync frequency.")
	}
	if s.ByCategory[domain.ErrorCategoryNetwork] > 0 {
		recs = append(recs, "Transient connectivity problems occurred; retry the failed jobs.")
	}
	if s.Urgency.FailureRatePerHour > 5 {
		recs = append(recs, fmt.Sprintf("Failure rate is elevated (%.1f/hour); investigate before enqueueing more work.", s.Urgency.FailureRatePerHour))
	}
	if len(recs) == 0 && s.Total > 0 {
		recs = append(recs, "Retry the failed jobs; no systemic cause detected.")
	}
	if s.Total == 0 {
		recs = append(recs, "No recent errors.")
	}

	return recs
}

// buildNextSteps surfaces the preferred recovery action of the most severe
// open records, de-duplicated, so the calling layer can render buttons
// without interpreting classifications itself.
func buildNextSteps(s *Summary) []string {
	var steps []string
	seen := make(map[string]bool)

	addFrom := func(records []*domain.ErrorRecord) {
		for _, record := range records {
			if len(record.Classification.RecoveryStrategies) == 0 {
				continue
			}
			first := record.Classification.RecoveryStrategies[0]
			if seen[first.Action] {
				continue
			}
			seen[first.Action] = true
			steps = append(steps, first.Label)
		}
	}

	addFrom(s.Critical)
	addFrom(s.Recent)

	if len(steps) == 0 {
		if s.RetryableCount > 0 {
			steps = append(steps, "Retry failed syncs")
		} else if s.Total == 0 {
			steps = append(steps, "Nothing to do")
		}
	}

	return steps
}
