package errtrack

import "github.com/tetherhq/tether-api/internal/domain"

// UrgencyLevel buckets an urgency score for display.
type UrgencyLevel string

// Possible urgency levels
const (
	UrgencyLevelLow      UrgencyLevel = "low"
	UrgencyLevelMedium   UrgencyLevel = "medium"
	UrgencyLevelHigh     UrgencyLevel = "high"
	UrgencyLevelCritical UrgencyLevel = "critical"
)

// ScoreInput is the error composition the scorer works from. Missing
// fields contribute zero; the scorer never fails.
type ScoreInput struct {
	// TotalErrors is the number of errors in the observed window.
	TotalErrors int

	// CriticalErrors is how many of them carry critical severity.
	CriticalErrors int

	// TimeRangeHours is the width of the observed window.
	TimeRangeHours int

	// Categories holds per-category counts for the window.
	Categories map[domain.ErrorCategory]int
}

// Assessment is the derived 0-100 health signal.
type Assessment struct {
	Score                   int          `json:"score"`
	Level                   UrgencyLevel `json:"level"`
	RequiresImmediateAction bool         `json:"requires_immediate_action"`
	FailureRatePerHour      float64      `json:"failure_rate_per_hour"`
}

// urgencyWeights centralizes the scoring constants. They are tunable
// policy, not a contract; the shape of the computation is what matters.
var urgencyWeights = struct {
	perCritical    int
	criticalCap    int
	highRate       float64
	highRateBonus  int
	modRate        float64
	modRateBonus   int
	authBonus      int
	quotaBonus     int
	networkBonus   int
	volumeLarge    int
	volumeLargeAdd int
	volumeMid      int
	volumeMidAdd   int
	volumeSmall    int
	volumeSmallAdd int
	maxScore       int
}{
	perCritical:    25,
	criticalCap:    50,
	highRate:       5,
	highRateBonus:  20,
	modRate:        2,
	modRateBonus:   10,
	authBonus:      20,
	quotaBonus:     15,
	networkBonus:   10,
	volumeLarge:    50,
	volumeLargeAdd: 15,
	volumeMid:      20,
	volumeMidAdd:   10,
	volumeSmall:    10,
	volumeSmallAdd: 5,
	maxScore:       100,
}

// Score derives an urgency assessment from recent error composition.
// It is pure and total: no input combination panics, and the score is
// always clamped to [0, 100]. Adding critical errors while holding
// everything else constant never lowers the score.
func Score(input ScoreInput) Assessment {
	w := urgencyWeights
	score := 0

	// Critical volume dominates, capped so it cannot saturate the scale
	// on its own.
	critical := input.CriticalErrors * w.perCritical
	if critical > w.criticalCap {
		critical = w.criticalCap
	}
	if critical > 0 {
		score += critical
	}

	// Failure rate over the window. The window floor keeps a zero or
	// negative range from dividing by zero.
	hours := input.TimeRangeHours
	if hours < 1 {
		hours = 1
	}
	rate := float64(input.TotalErrors) / float64(hours)
	switch {
	case rate > w.highRate:
		score += w.highRateBonus
	case rate > w.modRate:
		score += w.modRateBonus
	}

	// Category presence bonuses.
	if input.Categories[domain.ErrorCategoryAuthentication] > 0 {
		score += w.authBonus
	}
	if input.Categories[domain.ErrorCategoryQuota] > 0 {
		score += w.quotaBonus
	}
	if input.Categories[domain.ErrorCategoryNetwork] > 0 {
		score += w.networkBonus
	}

	// Raw volume bonuses.
	switch {
	case input.TotalErrors > w.volumeLarge:
		score += w.volumeLargeAdd
	case input.TotalErrors > w.volumeMid:
		score += w.volumeMidAdd
	case input.TotalErrors > w.volumeSmall:
		score += w.volumeSmallAdd
	}

	if score > w.maxScore {
		score = w.maxScore
	}
	if score < 0 {
		score = 0
	}

	return Assessment{
		Score:                   score,
		Level:                   levelFor(score),
		RequiresImmediateAction: score >= 80,
		FailureRatePerHour:      rate,
	}
}

// levelFor buckets a score into a display level.
func levelFor(score int) UrgencyLevel {
	switch {
	case score >= 80:
		return UrgencyLevelCritical
	case score >= 60:
		return UrgencyLevelHigh
	case score >= 30:
		return UrgencyLevelMedium
	default:
		return UrgencyLevelLow
	}
}
