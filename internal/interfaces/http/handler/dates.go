package handler

import (
	"time"

	"github.com/erp/costing/internal/domain/inventory"
)

const dateLayout = "2006-01-02"

// parseDateTime parses an RFC3339 timestamp or a YYYY-MM-DD date. A bare
// date is midnight in loc.
func parseDateTime(s string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, true, nil
	}
	t, err = time.Parse(time.RFC3339, s)
	return t, false, err
}

// parseCutoff parses a query cutoff. A bare date means the end of that day.
func parseCutoff(s string, loc *time.Location) (time.Time, error) {
	t, dateOnly, err := parseDateTime(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	if dateOnly {
		return inventory.EndOfDay(t), nil
	}
	return t, nil
}
