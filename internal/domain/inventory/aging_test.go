package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAging_Boundaries(t *testing.T) {
	ref := time.Date(2024, 6, 30, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		daysAgo  int
		expected AgingBucket
	}{
		{"same day", 0, AgingBucket0To30},
		{"exactly 30 days", 30, AgingBucket0To30},
		{"31 days", 31, AgingBucket31To60},
		{"60 days", 60, AgingBucket31To60},
		{"61 days", 61, AgingBucket61To90},
		{"exactly 90 days", 90, AgingBucket61To90},
		{"91 days", 91, AgingBucketOver90},
		{"a year", 365, AgingBucketOver90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := ref.AddDate(0, 0, -tt.daysAgo)
			assert.Equal(t, tt.expected, ClassifyAging(last, ref))
		})
	}
}

func TestClassifyAging_UsesCalendarDays(t *testing.T) {
	// 23:59 on day 0 to 00:01 on day 31 is 31 calendar days.
	last := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	ref := time.Date(2024, 2, 1, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 31, DaysBetween(last, ref))
	assert.Equal(t, AgingBucket31To60, ClassifyAging(last, ref))
}

func TestClassifyAging_FutureReceiptCountsAsFresh(t *testing.T) {
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysBetween(ref.AddDate(0, 0, 5), ref))
	assert.Equal(t, AgingBucket0To30, ClassifyAging(ref.AddDate(0, 0, 5), ref))
}

func TestAgingFor(t *testing.T) {
	ref := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, AgingFor(nil, ref))

	last := ref.AddDate(0, 0, -45)
	b := AgingFor(&last, ref)
	require.NotNil(t, b)
	assert.Equal(t, AgingBucket31To60, *b)
}

func TestAgingBucket_IsValid(t *testing.T) {
	for _, b := range AllAgingBuckets() {
		assert.True(t, b.IsValid(), b.String())
	}
	assert.False(t, AgingBucket("120+").IsValid())
}

func TestIsHistorical(t *testing.T) {
	now := time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC)

	assert.False(t, IsHistorical(now, now))
	assert.False(t, IsHistorical(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), now))
	assert.True(t, IsHistorical(time.Date(2024, 6, 29, 23, 59, 0, 0, time.UTC), now))
	assert.False(t, IsHistorical(now.AddDate(0, 0, 1), now))
}

func TestEndOfDay(t *testing.T) {
	eod := EndOfDay(time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 6, 30, 23, 59, 59, 999999999, time.UTC), eod)
}
