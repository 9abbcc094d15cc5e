package errtrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tetherhq/tether-api/internal/domain"
)

func TestScore_ZeroInput(t *testing.T) {
	t.Parallel()

	a := Score(ScoreInput{})

	assert.Equal(t, 0, a.Score)
	assert.Equal(t, UrgencyLevelLow, a.Level)
	assert.False(t, a.RequiresImmediateAction)
}

func TestScore_CriticalVolumeCapped(t *testing.T) {
	t.Parallel()

	one := Score(ScoreInput{CriticalErrors: 1, TotalErrors: 1, TimeRangeHours: 24})
	assert.Equal(t, 25, one.Score)

	two := Score(ScoreInput{CriticalErrors: 2, TotalErrors: 2, TimeRangeHours: 24})
	assert.Equal(t, 50, two.Score)

	// Contribution from critical volume caps at 50.
	ten := Score(ScoreInput{CriticalErrors: 10, TotalErrors: 10, TimeRangeHours: 24})
	assert.Equal(t, 50, ten.Score)
}

func TestScore_Monotonic(t *testing.T) {
	t.Parallel()

	// Increasing critical errors while holding all else constant never
	// decreases the score.
	prev := -1
	for critical := 0; critical <= 20; critical++ {
		a := Score(ScoreInput{
			TotalErrors:    30,
			CriticalErrors: critical,
			TimeRangeHours: 24,
			Categories: map[domain.ErrorCategory]int{
				domain.ErrorCategoryNetwork: 5,
			},
		})
		assert.GreaterOrEqual(t, a.Score, prev, "critical=%d", critical)
		prev = a.Score
	}
}

func TestScore_Clamped(t *testing.T) {
	t.Parallel()

	a := Score(ScoreInput{
		TotalErrors:    500,
		CriticalErrors: 100,
		TimeRangeHours: 1,
		Categories: map[domain.ErrorCategory]int{
			domain.ErrorCategoryAuthentication: 10,
			domain.ErrorCategoryQuota:          10,
			domain.ErrorCategoryNetwork:        10,
		},
	})

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, UrgencyLevelCritical, a.Level)
	assert.True(t, a.RequiresImmediateAction)
}

func TestScore_FailureRateThresholds(t *testing.T) {
	t.Parallel()

	// 6 errors over 1 hour: rate > 5 adds 20 plus small-volume bonus 0.
	high := Score(ScoreInput{TotalErrors: 6, TimeRangeHours: 1})
	assert.Equal(t, 20, high.Score)

	// 3 errors over 1 hour: rate > 2 adds 10.
	moderate := Score(ScoreInput{TotalErrors: 3, TimeRangeHours: 1})
	assert.Equal(t, 10, moderate.Score)

	// 3 errors over 24 hours: rate 0.125 adds nothing.
	low := Score(ScoreInput{TotalErrors: 3, TimeRangeHours: 24})
	assert.Equal(t, 0, low.Score)
}

func TestScore_CategoryBonuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		category domain.ErrorCategory
		want     int
	}{
		{"authentication", domain.ErrorCategoryAuthentication, 20},
		{"quota", domain.ErrorCategoryQuota, 15},
		{"network", domain.ErrorCategoryNetwork, 10},
		{"data_format has no bonus", domain.ErrorCategoryDataFormat, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Score(ScoreInput{
				TotalErrors:    1,
				TimeRangeHours: 24,
				Categories:     map[domain.ErrorCategory]int{tt.category: 1},
			})
			assert.Equal(t, tt.want, a.Score)
		})
	}
}

func TestScore_VolumeBonuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total int
		want  int
	}{
		{5, 0},
		{11, 5},
		{21, 10},
		{51, 15},
	}

	for _, tt := range tests {
		a := Score(ScoreInput{TotalErrors: tt.total, TimeRangeHours: 48})
		assert.Equal(t, tt.want, a.Score, "total=%d", tt.total)
	}
}

func TestLevelFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, UrgencyLevelLow, levelFor(0))
	assert.Equal(t, UrgencyLevelLow, levelFor(29))
	assert.Equal(t, UrgencyLevelMedium, levelFor(30))
	assert.Equal(t, UrgencyLevelMedium, levelFor(59))
	assert.Equal(t, UrgencyLevelHigh, levelFor(60))
	assert.Equal(t, UrgencyLevelHigh, levelFor(79))
	assert.Equal(t, UrgencyLevelCritical, levelFor(80))
	assert.Equal(t, UrgencyLevelCritical, levelFor(100))
}
