package inventory

import (
	"slices"
	"time"
)

// AgingBucket classifies how long stock has sat since its last receipt
type AgingBucket string

const (
	AgingBucket0To30  AgingBucket = "0-30"
	AgingBucket31To60 AgingBucket = "31-60"
	AgingBucket61To90 AgingBucket = "61-90"
	AgingBucketOver90 AgingBucket = "90+"
)

// String returns the string representation of AgingBucket
func (b AgingBucket) String() string {
	return string(b)
}

// IsValid returns true if the bucket is one of the four known buckets
func (b AgingBucket) IsValid() bool {
	return slices.Contains(AllAgingBuckets(), b)
}

// AllAgingBuckets returns the buckets from freshest to oldest
func AllAgingBuckets() []AgingBucket {
	return []AgingBucket{AgingBucket0To30, AgingBucket31To60, AgingBucket61To90, AgingBucketOver90}
}

// ClassifyAging buckets the whole days elapsed from lastReceipt to reference.
// Aging follows the last receipt only; consumption never resets it.
func ClassifyAging(lastReceipt, reference time.Time) AgingBucket {
	days := DaysBetween(lastReceipt, reference)
	switch {
	case days <= 30:
		return AgingBucket0To30
	case days <= 60:
		return AgingBucket31To60
	case days <= 90:
		return AgingBucket61To90
	default:
		return AgingBucketOver90
	}
}

// AgingFor returns nil for a product that never received stock
func AgingFor(lastReceipt *time.Time, reference time.Time) *AgingBucket {
	if lastReceipt == nil {
		return nil
	}
	b := ClassifyAging(*lastReceipt, reference)
	return &b
}

// DaysBetween counts calendar days from from to to, using to's location.
// A from later than to counts as zero days.
func DaysBetween(from, to time.Time) int {
	days := int(calendarDay(to).Sub(calendarDay(from.In(to.Location()))) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

// IsHistorical reports whether reference falls on a calendar day before now's day
func IsHistorical(reference, now time.Time) bool {
	return calendarDay(reference.In(now.Location())).Before(calendarDay(now))
}

// EndOfDay returns the last instant of t's calendar day in t's location
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
